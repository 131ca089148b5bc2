// Package history keeps every rendered decision in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Tutortoise/produce-detector/models"
	"github.com/Tutortoise/produce-detector/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Record is one stored decision.
type Record struct {
	ID         string    `json:"id"`
	CycleID    string    `json:"cycle_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Category   int       `json:"category"`
	Label      string    `json:"label"`
	Price      string    `json:"price,omitempty"`
	Score      float32   `json:"score"`
	Detected   bool      `json:"detected"`
}

// Store is the decision database.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens (or creates) the database at path and applies pending
// migrations. ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure history db: %w", err)
	}

	s := &Store{db: db, clock: timeutil.RealClock{}}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetClock replaces the clock used for timestamps.
func (s *Store) SetClock(c timeutil.Clock) {
	s.clock = c
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// m is not closed: closing it would close the shared *sql.DB.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version.
func (s *Store) Version() (uint, error) {
	var v uint
	err := s.db.QueryRow("SELECT version FROM schema_migrations LIMIT 1").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Insert stores one decision and returns its generated ID.
func (s *Store) Insert(ctx context.Context, cycleID string, d models.Decision, table models.LabelTable) (Record, error) {
	c, _ := table.At(d.Index)
	rec := Record{
		ID:         uuid.NewString(),
		CycleID:    cycleID,
		RecordedAt: s.clock.Now().UTC(),
		Category:   d.Index,
		Label:      c.Label,
		Price:      c.Price,
		Score:      d.Score,
		Detected:   d.Detected && d.Index != table.Background,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, cycle_id, recorded_at, category, label, price, score, detected)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CycleID, rec.RecordedAt.UnixNano(), rec.Category, rec.Label, rec.Price, rec.Score, rec.Detected)
	if err != nil {
		return Record{}, fmt.Errorf("insert decision: %w", err)
	}
	return rec, nil
}

// Recent returns up to limit decisions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cycle_id, recorded_at, category, label, price, score, detected
		 FROM decisions ORDER BY recorded_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec Record
			ts  int64
		)
		if err := rows.Scan(&rec.ID, &rec.CycleID, &ts, &rec.Category, &rec.Label, &rec.Price, &rec.Score, &rec.Detected); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec.RecordedAt = time.Unix(0, ts).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored decisions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM decisions").Scan(&n); err != nil {
		return 0, fmt.Errorf("count decisions: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}
