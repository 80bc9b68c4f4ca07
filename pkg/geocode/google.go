package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// googleResponse is the subset of the Geocoding API JSON body that is read.
type googleResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
			LocationType string `json:"location_type"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode implements Client.
func (g *geocoder) Geocode(ctx context.Context, address string) (*Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.requestURL(address), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, eris.Errorf("geocode: provider returned status %d", resp.StatusCode)
	}

	var body googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, eris.Wrap(err, "geocode: parse response")
	}
	return body.toResult(), nil
}

func (g *geocoder) requestURL(address string) string {
	q := url.Values{}
	q.Set("address", address)
	q.Set("key", g.apiKey)
	return g.baseURL + "?" + q.Encode()
}

// toResult keeps the first candidate. Any status other than OK, or an OK
// with no candidates, is an unmatched result.
func (r *googleResponse) toResult() *Result {
	if r.Status != StatusOK || len(r.Results) == 0 {
		return &Result{Status: r.Status}
	}
	best := r.Results[0]
	return &Result{
		Latitude:         best.Geometry.Location.Lat,
		Longitude:        best.Geometry.Location.Lng,
		Status:           r.Status,
		Quality:          qualityFromLocationType(best.Geometry.LocationType),
		FormattedAddress: best.FormattedAddress,
		Matched:          true,
	}
}

func qualityFromLocationType(locType string) Quality {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return QualityRooftop
	case "RANGE_INTERPOLATED":
		return QualityRange
	case "GEOMETRIC_CENTER":
		return QualityCentroid
	default:
		return QualityApproximate
	}
}
