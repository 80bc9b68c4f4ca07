package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/preschool-etl/internal/db"
	"github.com/sells-group/preschool-etl/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// The pipeline is sequential; a small pool is plenty.
	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS preschools (
	id              TEXT PRIMARY KEY,
	name            TEXT,
	address         TEXT,
	city            TEXT,
	zip_code        TEXT,
	county          TEXT,
	phone           TEXT,
	license_number  TEXT,
	capacity        BIGINT,
	program_type    TEXT,
	full_address    TEXT,
	data_source     TEXT,
	extraction_date TEXT,
	latitude        DOUBLE PRECISION,
	longitude       DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS locations (
	preschool_id   TEXT PRIMARY KEY REFERENCES preschools(id),
	latitude       DOUBLE PRECISION,
	longitude      DOUBLE PRECISION,
	geocoding_date TEXT
);

CREATE TABLE IF NOT EXISTS data_sources (
	id              BIGSERIAL PRIMARY KEY,
	source_name     TEXT,
	source_url      TEXT,
	extraction_date TEXT,
	record_count    BIGINT,
	status          TEXT
);

CREATE INDEX IF NOT EXISTS idx_preschools_geocoded ON preschools(latitude, longitude);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var postgresInsertPreschool = func() string {
	ph := make([]string, len(preschoolColumns))
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(`INSERT INTO preschools (%s) VALUES (%s) ON CONFLICT (id) DO NOTHING`,
		strings.Join(preschoolColumns, ", "), strings.Join(ph, ", "))
}()

func (s *PostgresStore) AppendPreschools(ctx context.Context, rows []model.Preschool) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin append")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	inserted := 0
	for _, p := range rows {
		tag, err := tx.Exec(ctx, postgresInsertPreschool, preschoolArgs(p)...)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: insert preschool %s", p.ID)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit append")
	}
	return inserted, nil
}

func (s *PostgresStore) UngeocodedPreschools(ctx context.Context, limit int) ([]model.GeocodeTarget, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.full_address
		FROM preschools p
		LEFT JOIN locations l ON p.id = l.preschool_id
		WHERE l.preschool_id IS NULL AND p.full_address IS NOT NULL
		ORDER BY p.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select ungeocoded")
	}
	defer rows.Close()

	var targets []model.GeocodeTarget
	for rows.Next() {
		var t model.GeocodeTarget
		if err := rows.Scan(&t.ID, &t.FullAddress); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ungeocoded")
		}
		targets = append(targets, t)
	}
	return targets, eris.Wrap(rows.Err(), "postgres: iterate ungeocoded")
}

// SaveLocations bulk-loads the locations rows with COPY and then updates the
// matched preschools, all inside one transaction.
func (s *PostgresStore) SaveLocations(ctx context.Context, locs []model.Location) error {
	if len(locs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save locations")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows := make([][]any, len(locs))
	for i, l := range locs {
		rows[i] = locationArgs(l)
	}
	if _, err := db.CopyFrom(ctx, tx, "locations", LocationColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: copy locations")
	}

	for _, l := range locs {
		if !l.Matched() {
			continue
		}
		tag, err := tx.Exec(ctx,
			`UPDATE preschools SET latitude = $1, longitude = $2 WHERE id = $3`,
			*l.Latitude, *l.Longitude, l.PreschoolID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update preschool %s", l.PreschoolID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Errorf("preschool not found: %s", l.PreschoolID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit save locations")
	}
	return nil
}

func (s *PostgresStore) GeocodedPreschools(ctx context.Context) ([]model.Preschool, error) {
	rows, err := s.pool.Query(ctx, geocodedSelect)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select geocoded")
	}
	defer rows.Close()

	var out []model.Preschool
	for rows.Next() {
		p, err := scanPreschool(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan preschool")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate geocoded")
}

func (s *PostgresStore) RecordDataSource(ctx context.Context, ds model.DataSource) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO data_sources (source_name, source_url, extraction_date, record_count, status)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		ds.SourceName, ds.SourceURL, ds.ExtractionDate, ds.RecordCount, string(ds.Status),
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert data source")
	}
	return id, nil
}

func (s *PostgresStore) ListDataSources(ctx context.Context, limit int) ([]model.DataSource, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_name, source_url, extraction_date, record_count, status
		FROM data_sources ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list data sources")
	}
	defer rows.Close()

	var out []model.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan data source")
		}
		out = append(out, ds)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate data sources")
}

func (s *PostgresStore) Stats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	var preschools, addressable, geocoded, failed, pending int64
	err := s.pool.QueryRow(ctx, statsQuery).Scan(&preschools, &addressable, &geocoded, &failed, &pending)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	st.Preschools = int(preschools)
	st.Addressable = int(addressable)
	st.Geocoded = int(geocoded)
	st.Failed = int(failed)
	st.Pending = int(pending)

	last, err := s.ListDataSources(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(last) > 0 {
		st.LastRun = &last[0]
	}
	return &st, nil
}
