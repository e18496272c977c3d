// Package history persists bridge measurements and teleportations in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/qbridge/internal/quantum"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	logs "github.com/danmuck/qbridge/internal/logging"
)

const (
	KindMeasurement   = "measurement"
	KindTeleportation = "teleportation"

	recordTimeout = 5 * time.Second
)

var ErrEmptyDSN = errors.New("history: empty dsn")

type measurementRow struct {
	bun.BaseModel `bun:"table:measurements"`

	ID           int64     `bun:"id,pk,autoincrement"`
	Node         string    `bun:"node,notnull"`
	Entanglement string    `bun:"entanglement"`
	Result       int       `bun:"result,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

type teleportationRow struct {
	bun.BaseModel `bun:"table:teleportations"`

	ID            int64     `bun:"id,pk,autoincrement"`
	Source        string    `bun:"source,notnull"`
	Destination   string    `bun:"destination,notnull"`
	State         string    `bun:"state"`
	ClassicalBits string    `bun:"classical_bits"`
	Entanglement  string    `bun:"entanglement"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

// Entry is one persisted record of either kind.
type Entry struct {
	Kind          string    `json:"kind"`
	ID            int64     `json:"id"`
	Node          string    `json:"node,omitempty"`
	Result        *int      `json:"result,omitempty"`
	Source        string    `json:"source,omitempty"`
	Destination   string    `json:"destination,omitempty"`
	State         string    `json:"state,omitempty"`
	ClassicalBits string    `json:"classical_bits,omitempty"`
	Entanglement  string    `json:"entanglement,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store is a quantum.Recorder backed by bun over SQLite.
type Store struct {
	db  *bun.DB
	dsn string
}

var _ quantum.Recorder = (*Store)(nil)

// Open connects to dsn and creates tables if missing.
func Open(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrEmptyDSN
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", dsn, err)
	}
	// SQLite serializes writers, and ":memory:" is per connection.
	sqlDB.SetMaxOpenConns(1)

	db := bun.NewDB(sqlDB, sqlitedialect.New())
	s := &Store{db: db, dsn: dsn}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logs.Infof("history.Open ready dsn=%q", dsn)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	models := []any{(*measurementRow)(nil), (*teleportationRow)(nil)}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("history: create table: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordMeasurement(m quantum.Measurement) error {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	row := &measurementRow{
		Node:         m.Node,
		Entanglement: m.Entanglement,
		Result:       m.Result,
		CreatedAt:    m.Timestamp.UTC(),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("history: insert measurement: %w", err)
	}
	return nil
}

func (s *Store) RecordTeleportation(t quantum.Teleportation) error {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	row := &teleportationRow{
		Source:        t.Source,
		Destination:   t.Destination,
		State:         t.State,
		ClassicalBits: t.ClassicalBits,
		Entanglement:  t.Entanglement,
		CreatedAt:     t.Timestamp.UTC(),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("history: insert teleportation: %w", err)
	}
	return nil
}

// Recent merges both tables newest first. limit <= 0 means 50.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var ms []measurementRow
	if err := s.db.NewSelect().Model(&ms).OrderExpr("id DESC").Limit(limit).Scan(ctx); err != nil {
		return nil, fmt.Errorf("history: select measurements: %w", err)
	}
	var ts []teleportationRow
	if err := s.db.NewSelect().Model(&ts).OrderExpr("id DESC").Limit(limit).Scan(ctx); err != nil {
		return nil, fmt.Errorf("history: select teleportations: %w", err)
	}

	out := make([]Entry, 0, len(ms)+len(ts))
	for _, r := range ms {
		result := r.Result
		out = append(out, Entry{
			Kind:         KindMeasurement,
			ID:           r.ID,
			Node:         r.Node,
			Result:       &result,
			Entanglement: r.Entanglement,
			CreatedAt:    r.CreatedAt,
		})
	}
	for _, r := range ts {
		out = append(out, Entry{
			Kind:          KindTeleportation,
			ID:            r.ID,
			Source:        r.Source,
			Destination:   r.Destination,
			State:         r.State,
			ClassicalBits: r.ClassicalBits,
			Entanglement:  r.Entanglement,
			CreatedAt:     r.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Counts returns the total rows per table.
func (s *Store) Counts(ctx context.Context) (measurements int, teleportations int, err error) {
	measurements, err = s.db.NewSelect().Model((*measurementRow)(nil)).Count(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("history: count measurements: %w", err)
	}
	teleportations, err = s.db.NewSelect().Model((*teleportationRow)(nil)).Count(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("history: count teleportations: %w", err)
	}
	return measurements, teleportations, nil
}
