package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// DB is satisfied by *pgx.Conn, *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const createEventsTable = `CREATE TABLE IF NOT EXISTS gas_station_events (
	id          UUID PRIMARY KEY,
	station_id  TEXT        NOT NULL,
	seq         BIGINT      NOT NULL,
	kind        TEXT        NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	payload     JSONB       NOT NULL,
	UNIQUE (station_id, seq)
)`

// A retry of the same event is a no-op. A different event reusing a
// (station_id, seq) pair violates the unique constraint and fails.
const insertEvent = `INSERT INTO gas_station_events (id, station_id, seq, kind, occurred_at, payload)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`

const selectLastSeq = `SELECT COALESCE(MAX(seq), 0) FROM gas_station_events WHERE station_id = $1`

// PostgresSink persists events to the gas_station_events table.
type PostgresSink struct {
	db DB
}

func NewPostgresSink(db DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// EnsureSchema creates the events table if it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createEventsTable); err != nil {
		return errors.Wrap(err, "failed to create gas_station_events table")
	}
	return nil
}

// LastSeq returns the highest persisted sequence number for stationID, or 0.
// A restarted station passes it to StartAfter so numbering continues.
func (s *PostgresSink) LastSeq(ctx context.Context, stationID string) (uint64, error) {
	var last int64
	if err := s.db.QueryRow(ctx, selectLastSeq, stationID).Scan(&last); err != nil {
		return 0, errors.Wrapf(err, "failed to read last event of station %s", stationID)
	}
	return uint64(last), nil
}

func (s *PostgresSink) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Payload())
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s event", e.Kind)
	}

	if _, err := s.db.Exec(ctx, insertEvent, e.ID, e.StationID, int64(e.Seq), string(e.Kind), e.At, payload); err != nil {
		return errors.Wrapf(err, "failed to insert event %d", e.Seq)
	}
	return nil
}
