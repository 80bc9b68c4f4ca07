// Package store persists preschools, geocoding outcomes, and the extraction
// audit log.
package store

import (
	"context"

	"github.com/sells-group/preschool-etl/internal/model"
)

// Store defines the persistence interface for the ETL stages.
type Store interface {
	// Preschools

	// AppendPreschools inserts rows whose id is not yet present. Existing rows
	// are left untouched. Returns the number of rows inserted.
	AppendPreschools(ctx context.Context, rows []model.Preschool) (int, error)
	// UngeocodedPreschools returns up to limit preschools that have a
	// full_address and no locations row, ordered by id.
	UngeocodedPreschools(ctx context.Context, limit int) ([]model.GeocodeTarget, error)
	// SaveLocations inserts one locations row per outcome and copies matched
	// coordinates onto the preschools table, atomically.
	SaveLocations(ctx context.Context, locs []model.Location) error
	// GeocodedPreschools returns every preschool with both coordinates set, ordered by id.
	GeocodedPreschools(ctx context.Context) ([]model.Preschool, error)

	// Audit log
	RecordDataSource(ctx context.Context, ds model.DataSource) (int64, error)
	ListDataSources(ctx context.Context, limit int) ([]model.DataSource, error)

	// Stats summarizes row counts and the most recent extraction.
	Stats(ctx context.Context) (*model.Stats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// preschoolColumns is the insert column order shared by both backends.
var preschoolColumns = []string{
	"id", "name", "address", "city", "zip_code", "county", "phone",
	"license_number", "capacity", "program_type", "full_address",
	"data_source", "extraction_date",
}

// LocationColumns is the column order of the locations table.
var LocationColumns = []string{"preschool_id", "latitude", "longitude", "geocoding_date"}

func preschoolArgs(p model.Preschool) []any {
	var capacity any
	if p.Capacity != nil {
		capacity = *p.Capacity
	}
	return []any{
		p.ID,
		nullIfEmpty(p.Name),
		nullIfEmpty(p.Address),
		nullIfEmpty(p.City),
		nullIfEmpty(p.ZipCode),
		nullIfEmpty(p.County),
		nullIfEmpty(p.Phone),
		nullIfEmpty(p.LicenseNumber),
		capacity,
		nullIfEmpty(p.ProgramType),
		nullIfEmpty(p.FullAddress),
		nullIfEmpty(p.DataSource),
		nullIfEmpty(p.ExtractionDate),
	}
}

func locationArgs(l model.Location) []any {
	var lat, lng any
	if l.Matched() {
		lat, lng = *l.Latitude, *l.Longitude
	}
	return []any{l.PreschoolID, lat, lng, l.GeocodingDate}
}

// nullIfEmpty returns nil for empty strings, allowing NULL storage.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type scannable interface {
	Scan(dest ...any) error
}

// scanPreschool reads the columns selected by geocodedSelect.
func scanPreschool(row scannable) (model.Preschool, error) {
	var (
		p                                                                       model.Preschool
		name, address, city, zip, county, phone, license, program, full, source *string
		extracted                                                               *string
		capacity                                                                *int64
		lat, lng                                                                *float64
	)
	err := row.Scan(&p.ID, &name, &address, &city, &zip, &county, &phone, &license,
		&capacity, &program, &full, &source, &extracted, &lat, &lng)
	if err != nil {
		return p, err
	}
	p.Name = derefString(name)
	p.Address = derefString(address)
	p.City = derefString(city)
	p.ZipCode = derefString(zip)
	p.County = derefString(county)
	p.Phone = derefString(phone)
	p.LicenseNumber = derefString(license)
	p.ProgramType = derefString(program)
	p.FullAddress = derefString(full)
	p.DataSource = derefString(source)
	p.ExtractionDate = derefString(extracted)
	if capacity != nil {
		c := int(*capacity)
		p.Capacity = &c
	}
	p.Latitude, p.Longitude = lat, lng
	return p, nil
}

func scanDataSource(row scannable) (model.DataSource, error) {
	var (
		ds                   model.DataSource
		name, url, extracted *string
		count                *int64
		status               *string
	)
	if err := row.Scan(&ds.ID, &name, &url, &extracted, &count, &status); err != nil {
		return ds, err
	}
	ds.SourceName = derefString(name)
	ds.SourceURL = derefString(url)
	ds.ExtractionDate = derefString(extracted)
	if count != nil {
		ds.RecordCount = int(*count)
	}
	ds.Status = model.DataSourceStatus(derefString(status))
	return ds, nil
}
