package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/smogview/smogview/internal/airquality"
)

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore is a PostgreSQL implementation of Store. Keys are primary
// keys and inserts use ON CONFLICT DO NOTHING, so the first write wins.
type PostgresStore struct {
	db     DB
	loc    *time.Location
	logger zerolog.Logger
}

// NewPostgresStore creates a new PostgreSQL store. Loaded timestamps are
// returned in loc (default: UTC).
func NewPostgresStore(db DB, loc *time.Location, logger zerolog.Logger) *PostgresStore {
	if loc == nil {
		loc = time.UTC
	}
	return &PostgresStore{db: db, loc: loc, logger: logger}
}

const schema = `
	CREATE TABLE IF NOT EXISTS stations (
		id           INTEGER PRIMARY KEY,
		station_name TEXT NOT NULL,
		seq          BIGSERIAL
	);

	CREATE TABLE IF NOT EXISTS sensors (
		station_id INTEGER NOT NULL,
		id         INTEGER NOT NULL,
		param_name TEXT NOT NULL,
		seq        BIGSERIAL,
		PRIMARY KEY (station_id, id)
	);

	CREATE TABLE IF NOT EXISTS measurements (
		station_id  INTEGER NOT NULL,
		sensor_id   INTEGER NOT NULL,
		measured_at TIMESTAMPTZ NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		seq         BIGSERIAL,
		PRIMARY KEY (station_id, sensor_id, measured_at)
	);
`

// EnsureSchema creates the cache tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create cache schema: %w", err)
	}
	return nil
}

// MergeStations adds stations whose id is not yet stored.
func (s *PostgresStore) MergeStations(ctx context.Context, stations []airquality.Station) {
	batch := &pgx.Batch{}
	for _, st := range stations {
		batch.Queue(`
			INSERT INTO stations (id, station_name)
			VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING
		`, st.ID, st.Name)
	}
	s.send(ctx, batch, "stations")
}

// MergeSensors adds sensors of a station whose id is not yet stored.
func (s *PostgresStore) MergeSensors(ctx context.Context, stationID int, sensors []airquality.Sensor) {
	batch := &pgx.Batch{}
	for _, sn := range sensors {
		batch.Queue(`
			INSERT INTO sensors (station_id, id, param_name)
			VALUES ($1, $2, $3)
			ON CONFLICT (station_id, id) DO NOTHING
		`, stationID, sn.ID, sn.ParamName)
	}
	s.send(ctx, batch, "sensors")
}

// MergeMeasurements adds points whose timestamp is not yet stored.
func (s *PostgresStore) MergeMeasurements(ctx context.Context, stationID, sensorID int, points []airquality.MeasurementPoint) {
	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO measurements (station_id, sensor_id, measured_at, value)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (station_id, sensor_id, measured_at) DO NOTHING
		`, stationID, sensorID, p.Timestamp.Truncate(time.Second), p.Value)
	}
	s.send(ctx, batch, "measurements")
}

// send runs the queued inserts in order. Statements are executed one after
// another, so a key repeated within a batch keeps its first value.
func (s *PostgresStore) send(ctx context.Context, batch *pgx.Batch, unit string) {
	if batch.Len() == 0 {
		return
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	added := int64(0)
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			s.logger.Warn().Err(err).Str("unit", unit).Msg("failed to merge into cache")
			return
		}
		added += tag.RowsAffected()
	}
	s.logger.Debug().Str("unit", unit).Int64("added", added).Msg("merged into cache")
}

// LoadStations returns all stored stations in insertion order.
func (s *PostgresStore) LoadStations(ctx context.Context) []airquality.Station {
	rows, err := s.db.Query(ctx, `SELECT id, station_name FROM stations ORDER BY seq`)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load stations")
		return nil
	}
	defer rows.Close()

	var stations []airquality.Station
	for rows.Next() {
		var st airquality.Station
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			s.logger.Warn().Err(err).Msg("failed to scan station")
			return nil
		}
		stations = append(stations, st)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to load stations")
		return nil
	}
	return stations
}

// LoadSensors returns the stored sensors of a station in insertion order.
func (s *PostgresStore) LoadSensors(ctx context.Context, stationID int) []airquality.Sensor {
	rows, err := s.db.Query(ctx, `
		SELECT id, param_name
		FROM sensors
		WHERE station_id = $1
		ORDER BY seq
	`, stationID)
	if err != nil {
		s.logger.Warn().Err(err).Int("station_id", stationID).Msg("failed to load sensors")
		return nil
	}
	defer rows.Close()

	var sensors []airquality.Sensor
	for rows.Next() {
		sn := airquality.Sensor{StationID: stationID}
		if err := rows.Scan(&sn.ID, &sn.ParamName); err != nil {
			s.logger.Warn().Err(err).Msg("failed to scan sensor")
			return nil
		}
		sensors = append(sensors, sn)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn().Err(err).Int("station_id", stationID).Msg("failed to load sensors")
		return nil
	}
	return sensors
}

// LoadMeasurements returns the stored series in insertion order.
func (s *PostgresStore) LoadMeasurements(ctx context.Context, stationID, sensorID int) []airquality.MeasurementPoint {
	rows, err := s.db.Query(ctx, `
		SELECT measured_at, value
		FROM measurements
		WHERE station_id = $1 AND sensor_id = $2
		ORDER BY seq
	`, stationID, sensorID)
	if err != nil {
		s.logger.Warn().Err(err).
			Int("station_id", stationID).
			Int("sensor_id", sensorID).
			Msg("failed to load measurements")
		return nil
	}
	defer rows.Close()

	var points []airquality.MeasurementPoint
	for rows.Next() {
		var p airquality.MeasurementPoint
		if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
			s.logger.Warn().Err(err).Msg("failed to scan measurement")
			return nil
		}
		p.Timestamp = p.Timestamp.In(s.loc)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to load measurements")
		return nil
	}
	return points
}
