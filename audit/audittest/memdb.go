// Package audittest provides an in-memory stand-in for the Postgres events
// table, with the same uniqueness rules.
package audittest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Row is one stored event.
type Row struct {
	ID        uuid.UUID
	StationID string
	Seq       int64
	Kind      string
	At        time.Time
	Payload   []byte
}

// MemoryDB implements audit.DB for the statements PostgresSink issues.
type MemoryDB struct {
	mu   sync.Mutex
	rows []Row
}

func (db *MemoryDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := ctx.Err(); err != nil {
		return pgconn.CommandTag{}, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	switch {
	case strings.HasPrefix(sql, "CREATE TABLE"):
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	case strings.HasPrefix(sql, "INSERT INTO gas_station_events"):
		r := Row{
			ID:        args[0].(uuid.UUID),
			StationID: args[1].(string),
			Seq:       args[2].(int64),
			Kind:      args[3].(string),
			At:        args[4].(time.Time),
			Payload:   args[5].([]byte),
		}
		for _, existing := range db.rows {
			if existing.ID == r.ID {
				return pgconn.NewCommandTag("INSERT 0 0"), nil
			}
		}
		for _, existing := range db.rows {
			if existing.StationID == r.StationID && existing.Seq == r.Seq {
				return pgconn.CommandTag{}, &pgconn.PgError{
					Code:           "23505",
					Message:        "duplicate key value violates unique constraint",
					ConstraintName: "gas_station_events_station_id_seq_key",
				}
			}
		}
		db.rows = append(db.rows, r)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("unsupported statement %q", sql)
}

func (db *MemoryDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := ctx.Err(); err != nil {
		return row{err: err}
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if strings.HasPrefix(sql, "SELECT COALESCE(MAX(seq), 0)") {
		var last int64
		for _, r := range db.rows {
			if r.StationID == args[0].(string) && r.Seq > last {
				last = r.Seq
			}
		}
		return row{vals: []any{last}}
	}
	return row{err: fmt.Errorf("unsupported query %q", sql)}
}

// Rows returns the stored events of stationID in insertion order.
func (db *MemoryDB) Rows(stationID string) []Row {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]Row, 0)
	for _, r := range db.rows {
		if r.StationID == stationID {
			out = append(out, r)
		}
	}
	return out
}

type row struct {
	vals []any
	err  error
}

func (r row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(r.vals))
	}
	for i, d := range dest {
		p, ok := d.(*int64)
		if !ok {
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
		*p = r.vals[i].(int64)
	}
	return nil
}
