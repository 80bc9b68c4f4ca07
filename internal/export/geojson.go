package export

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/preschool-etl/internal/model"
)

// BuildGeoJSON returns one Point feature per geocoded preschool. The
// collection carries a bounding box when it is non-empty.
func BuildGeoJSON(preschools []model.Preschool) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	bounds := geom.NewBounds(geom.XY)

	for _, p := range preschools {
		if !p.Geocoded() {
			continue
		}
		pt := geom.NewPointFlat(geom.XY, []float64{*p.Longitude, *p.Latitude})
		bounds.Extend(pt)

		props := map[string]any{
			"name":         p.Name,
			"city":         p.City,
			"full_address": p.FullAddress,
		}
		if p.LicenseNumber != "" {
			props["license_number"] = p.LicenseNumber
		}
		if p.Capacity != nil {
			props["capacity"] = *p.Capacity
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         p.ID,
			Geometry:   pt,
			Properties: props,
		})
	}

	if !bounds.IsEmpty() {
		fc.BBox = bounds
	}
	return fc
}
