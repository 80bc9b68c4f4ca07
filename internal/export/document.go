package export

import (
	"fmt"
	"time"

	"github.com/sells-group/preschool-etl/internal/model"
)

// GeneratedDateLayout formats metadata.generated_date.
const GeneratedDateLayout = "2006-01-02 15:04:05"

// SourceName is the publisher credited in the export metadata.
const SourceName = "California Student Aid Commission"

// Fixed values for fields the source spreadsheet does not carry.
const (
	placeholderState      = "CA"
	placeholderAgeRange   = "2-5 years"
	placeholderCurriculum = "California State Preschool Program"
	placeholderTuition    = "Subsidized"
	placeholderHours      = "Varies"
)

var (
	placeholderImages = []string{
		"https://example.com/images/generic_preschool1.jpg",
		"https://example.com/images/generic_preschool2.jpg",
	}
	placeholderFeatures = []string{"California State Preschool Program", "State-funded"}
)

// Document is the client-facing export.
type Document struct {
	Metadata   Metadata `json:"metadata"`
	Preschools []Record `json:"preschools"`
}

// Metadata describes an export.
type Metadata struct {
	GeneratedDate string `json:"generated_date"`
	Source        string `json:"source"`
	Count         int    `json:"count"`
}

// Review is a client review. Exports always carry an empty list.
type Review struct {
	Author string `json:"author"`
	Rating int    `json:"rating"`
	Text   string `json:"text"`
}

// Record is one preschool in the client schema. Text columns that are NULL
// in the store are emitted as null.
type Record struct {
	ID            string   `json:"id"`
	Name          *string  `json:"name"`
	Description   string   `json:"description"`
	Address       *string  `json:"address"`
	City          *string  `json:"city"`
	State         string   `json:"state"`
	ZipCode       *string  `json:"zip_code"`
	County        *string  `json:"county"`
	Phone         *string  `json:"phone"`
	Website       string   `json:"website"`
	Rating        float64  `json:"rating"`
	ReviewCount   int      `json:"reviewCount"`
	LicenseNumber *string  `json:"license_number"`
	Capacity      *int     `json:"capacity"`
	ProgramType   *string  `json:"program_type"`
	FullAddress   *string  `json:"full_address"`
	AgeRange      string   `json:"ageRange"`
	Curriculum    string   `json:"curriculum"`
	Tuition       string   `json:"tuition"`
	Hours         string   `json:"hours"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	DataSource    *string  `json:"data_source"`
	Images        []string `json:"images"`
	Features      []string `json:"features"`
	Reviews       []Review `json:"reviews"`
}

// Build reshapes geocoded preschools into an export document. Rows without
// both coordinates are skipped.
func Build(preschools []model.Preschool, now time.Time) *Document {
	records := make([]Record, 0, len(preschools))
	for _, p := range preschools {
		if !p.Geocoded() {
			continue
		}
		records = append(records, toRecord(p))
	}
	return &Document{
		Metadata: Metadata{
			GeneratedDate: now.Format(GeneratedDateLayout),
			Source:        SourceName,
			Count:         len(records),
		},
		Preschools: records,
	}
}

func toRecord(p model.Preschool) Record {
	return Record{
		ID:            p.ID,
		Name:          nullable(p.Name),
		Description:   fmt.Sprintf("A California State Preschool Program located in %s. License number: %s", p.City, p.LicenseNumber),
		Address:       nullable(p.Address),
		City:          nullable(p.City),
		State:         placeholderState,
		ZipCode:       nullable(p.ZipCode),
		County:        nullable(p.County),
		Phone:         nullable(p.Phone),
		Website:       "",
		Rating:        0,
		ReviewCount:   0,
		LicenseNumber: nullable(p.LicenseNumber),
		Capacity:      p.Capacity,
		ProgramType:   nullable(p.ProgramType),
		FullAddress:   nullable(p.FullAddress),
		AgeRange:      placeholderAgeRange,
		Curriculum:    placeholderCurriculum,
		Tuition:       placeholderTuition,
		Hours:         placeholderHours,
		Latitude:      *p.Latitude,
		Longitude:     *p.Longitude,
		DataSource:    nullable(p.DataSource),
		Images:        append([]string(nil), placeholderImages...),
		Features:      append([]string(nil), placeholderFeatures...),
		Reviews:       []Review{},
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
