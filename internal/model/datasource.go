package model

// DataSourceStatus is the outcome recorded for an extraction run.
type DataSourceStatus string

const (
	DataSourceCompleted DataSourceStatus = "Completed"
	DataSourceFailed    DataSourceStatus = "Failed"
)

// DataSource is one row of the append-only data_sources audit log.
type DataSource struct {
	ID             int64            `json:"id"`
	SourceName     string           `json:"source_name"`
	SourceURL      string           `json:"source_url"`
	ExtractionDate string           `json:"extraction_date"`
	RecordCount    int              `json:"record_count"`
	Status         DataSourceStatus `json:"status"`
}

// Stats summarizes the warehouse contents.
type Stats struct {
	Preschools  int         `json:"preschools"`
	Addressable int         `json:"addressable"`
	Geocoded    int         `json:"geocoded"`
	Failed      int         `json:"failed"`
	Pending     int         `json:"pending"`
	LastRun     *DataSource `json:"last_run,omitempty"`
}
