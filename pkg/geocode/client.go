// Package geocode resolves one-line street addresses to coordinates via the
// Google Geocoding API.
package geocode

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DefaultURL is the Google Geocoding API JSON endpoint.
const DefaultURL = "https://maps.googleapis.com/maps/api/geocode/json"

// StatusOK is the provider status for a successful lookup.
const StatusOK = "OK"

// Client geocodes addresses.
type Client interface {
	// Geocode geocodes a single one-line address. A provider status other
	// than OK yields an unmatched Result and a nil error; transport, HTTP, and
	// decode failures return an error.
	Geocode(ctx context.Context, address string) (*Result, error)
}

// Quality grades how precisely a match pins the address.
type Quality string

const (
	QualityRooftop     Quality = "rooftop"
	QualityRange       Quality = "range"
	QualityCentroid    Quality = "centroid"
	QualityApproximate Quality = "approximate"
)

// Result holds the geocoding output for an address.
type Result struct {
	Latitude         float64
	Longitude        float64
	Status           string // provider status, e.g. "OK", "ZERO_RESULTS", "REQUEST_DENIED"
	Quality          Quality
	FormattedAddress string
	Matched          bool
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithAPIKey sets the API key sent with every request.
func WithAPIKey(key string) Option {
	return func(g *geocoder) {
		g.apiKey = key
	}
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(u string) Option {
	return func(g *geocoder) {
		if u != "" {
			g.baseURL = u
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(g *geocoder) {
		if d > 0 {
			g.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithRateLimit caps requests per second. A value <= 0 leaves requests unlimited.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		if rps <= 0 {
			g.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type geocoder struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
}

// NewClient creates a new geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultURL,
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}
