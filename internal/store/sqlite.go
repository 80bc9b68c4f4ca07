package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/preschool-etl/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if isFileDSN(dsn) {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, eris.Wrap(err, "sqlite: create database dir")
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per-connection; one connection keeps them in force.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// isFileDSN reports whether dsn is a plain file path rather than an
// in-memory database or a file: URI.
func isFileDSN(dsn string) bool {
	return dsn != "" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS preschools (
	id              TEXT PRIMARY KEY,
	name            TEXT,
	address         TEXT,
	city            TEXT,
	zip_code        TEXT,
	county          TEXT,
	phone           TEXT,
	license_number  TEXT,
	capacity        INTEGER,
	program_type    TEXT,
	full_address    TEXT,
	data_source     TEXT,
	extraction_date TEXT,
	latitude        REAL,
	longitude       REAL
);

CREATE TABLE IF NOT EXISTS locations (
	preschool_id   TEXT PRIMARY KEY REFERENCES preschools(id),
	latitude       REAL,
	longitude      REAL,
	geocoding_date TEXT
);

CREATE TABLE IF NOT EXISTS data_sources (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	source_name     TEXT,
	source_url      TEXT,
	extraction_date TEXT,
	record_count    INTEGER,
	status          TEXT
);

CREATE INDEX IF NOT EXISTS idx_preschools_geocoded ON preschools(latitude, longitude);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var sqliteInsertPreschool = fmt.Sprintf(
	`INSERT INTO preschools (%s) VALUES (%s) ON CONFLICT(id) DO NOTHING`,
	strings.Join(preschoolColumns, ", "),
	strings.TrimSuffix(strings.Repeat("?, ", len(preschoolColumns)), ", "),
)

func (s *SQLiteStore) AppendPreschools(ctx context.Context, rows []model.Preschool) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin append")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteInsertPreschool)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert preschool")
	}
	defer stmt.Close() //nolint:errcheck

	inserted := 0
	for _, p := range rows {
		res, err := stmt.ExecContext(ctx, preschoolArgs(p)...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert preschool %s", p.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit append")
	}
	return inserted, nil
}

func (s *SQLiteStore) UngeocodedPreschools(ctx context.Context, limit int) ([]model.GeocodeTarget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.full_address
		FROM preschools p
		LEFT JOIN locations l ON p.id = l.preschool_id
		WHERE l.preschool_id IS NULL AND p.full_address IS NOT NULL
		ORDER BY p.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select ungeocoded")
	}
	defer rows.Close() //nolint:errcheck

	var targets []model.GeocodeTarget
	for rows.Next() {
		var t model.GeocodeTarget
		if err := rows.Scan(&t.ID, &t.FullAddress); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ungeocoded")
		}
		targets = append(targets, t)
	}
	return targets, eris.Wrap(rows.Err(), "sqlite: iterate ungeocoded")
}

func (s *SQLiteStore) SaveLocations(ctx context.Context, locs []model.Location) error {
	if len(locs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save locations")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, l := range locs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO locations (preschool_id, latitude, longitude, geocoding_date) VALUES (?, ?, ?, ?)`,
			locationArgs(l)...,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert location %s", l.PreschoolID)
		}
		if !l.Matched() {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE preschools SET latitude = ?, longitude = ? WHERE id = ?`,
			*l.Latitude, *l.Longitude, l.PreschoolID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update preschool %s", l.PreschoolID)
		}
		if err := checkRowsAffected(res, "preschool", l.PreschoolID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit save locations")
	}
	return nil
}

const geocodedSelect = `
	SELECT id, name, address, city, zip_code, county, phone, license_number,
		capacity, program_type, full_address, data_source, extraction_date,
		latitude, longitude
	FROM preschools
	WHERE latitude IS NOT NULL AND longitude IS NOT NULL
	ORDER BY id`

func (s *SQLiteStore) GeocodedPreschools(ctx context.Context) ([]model.Preschool, error) {
	rows, err := s.db.QueryContext(ctx, geocodedSelect)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select geocoded")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Preschool
	for rows.Next() {
		p, err := scanPreschool(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan preschool")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate geocoded")
}

func (s *SQLiteStore) RecordDataSource(ctx context.Context, ds model.DataSource) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO data_sources (source_name, source_url, extraction_date, record_count, status) VALUES (?, ?, ?, ?, ?)`,
		ds.SourceName, ds.SourceURL, ds.ExtractionDate, ds.RecordCount, string(ds.Status),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert data source")
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: last insert id")
}

func (s *SQLiteStore) ListDataSources(ctx context.Context, limit int) ([]model.DataSource, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_name, source_url, extraction_date, record_count, status
		FROM data_sources ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list data sources")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan data source")
		}
		out = append(out, ds)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate data sources")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	err := s.db.QueryRowContext(ctx, statsQuery).Scan(
		&st.Preschools, &st.Addressable, &st.Geocoded, &st.Failed, &st.Pending,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}

	last, err := s.ListDataSources(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(last) > 0 {
		st.LastRun = &last[0]
	}
	return &st, nil
}

const statsQuery = `
	SELECT
		(SELECT COUNT(*) FROM preschools),
		(SELECT COUNT(*) FROM preschools WHERE full_address IS NOT NULL),
		(SELECT COUNT(*) FROM preschools WHERE latitude IS NOT NULL AND longitude IS NOT NULL),
		(SELECT COUNT(*) FROM locations WHERE latitude IS NULL OR longitude IS NULL),
		(SELECT COUNT(*) FROM preschools p LEFT JOIN locations l ON p.id = l.preschool_id
			WHERE l.preschool_id IS NULL AND p.full_address IS NOT NULL)`

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
