// Package model defines the records that flow between pipeline stages and the store.
package model

// DateLayout is the calendar-date format used for extraction and geocoding dates.
const DateLayout = "2006-01-02"

// Preschool is one program listing as stored in the preschools table.
type Preschool struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Address        string   `json:"address"`
	City           string   `json:"city"`
	ZipCode        string   `json:"zip_code"`
	County         string   `json:"county"`
	Phone          string   `json:"phone"`
	LicenseNumber  string   `json:"license_number"`
	Capacity       *int     `json:"capacity"`
	ProgramType    string   `json:"program_type"`
	FullAddress    string   `json:"full_address,omitempty"`
	DataSource     string   `json:"data_source"`
	ExtractionDate string   `json:"extraction_date"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
}

// Geocoded reports whether both coordinates are present.
func (p Preschool) Geocoded() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// GeocodeTarget is a preschool selected for geocoding.
type GeocodeTarget struct {
	ID          string
	FullAddress string
}

// Location is a single geocoding outcome. A nil coordinate pair records an
// attempt that produced no match.
type Location struct {
	PreschoolID   string   `json:"preschool_id"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	GeocodingDate string   `json:"geocoding_date"`
}

// Matched reports whether the attempt produced coordinates.
func (l Location) Matched() bool {
	return l.Latitude != nil && l.Longitude != nil
}
