// Package runstore keeps a SQLite history of training runs and their
// per-epoch evaluation results.
package runstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one training invocation.
type Run struct {
	ID         string
	ConfigJSON string
	StartedAt  time.Time
}

// Epoch is the evaluation summary recorded when an epoch ends. NaN
// values are stored as NULL and read back as NaN.
type Epoch struct {
	RunID        string
	Epoch        int
	Step         int
	MeanIoU      float64
	Accuracy     float64
	LearningRate float64
	TrainLoss    float64
	IoU          []float64
	CreatedAt    time.Time
}

// Store wraps the history database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies all pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version and dirty state; 0 when no
// migration has run.
func (s *Store) Version() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// StartRun inserts a run with a fresh UUID and returns it.
func (s *Store) StartRun(ctx context.Context, config any) (*Run, error) {
	cfg, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("encode run config: %w", err)
	}
	run := &Run{
		ID:         uuid.NewString(),
		ConfigJSON: string(cfg),
		StartedAt:  time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, config_json, started_at) VALUES (?, ?, ?)`,
		run.ID, run.ConfigJSON, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// GetRun looks up a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, config_json, started_at FROM runs WHERE run_id = ?`, id).
		Scan(&run.ID, &run.ConfigJSON, &run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// RecordEpoch stores e, replacing an earlier row for the same epoch of
// the run.
func (s *Store) RecordEpoch(ctx context.Context, e Epoch) error {
	iou, err := json.Marshal(nullable(e.IoU))
	if err != nil {
		return fmt.Errorf("encode iou: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO epochs
			(run_id, epoch, step, mean_iou, accuracy, learning_rate, train_loss, iou_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Epoch, e.Step, nullFloat(e.MeanIoU), nullFloat(e.Accuracy),
		nullFloat(e.LearningRate), nullFloat(e.TrainLoss), string(iou), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert epoch %d of run %s: %w", e.Epoch, e.RunID, err)
	}
	return nil
}

// Epochs lists the recorded epochs of a run in epoch order.
func (s *Store) Epochs(ctx context.Context, runID string) ([]Epoch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, epoch, step, mean_iou, accuracy, learning_rate, train_loss, iou_json, created_at
		FROM epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, fmt.Errorf("query epochs: %w", err)
	}
	defer rows.Close()

	var out []Epoch
	for rows.Next() {
		var (
			e                   Epoch
			miou, acc, lr, loss sql.NullFloat64
			iou                 sql.NullString
		)
		if err := rows.Scan(&e.RunID, &e.Epoch, &e.Step, &miou, &acc, &lr, &loss, &iou, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		e.MeanIoU, e.Accuracy, e.LearningRate, e.TrainLoss = orNaN(miou), orNaN(acc), orNaN(lr), orNaN(loss)
		if iou.Valid {
			var vals []*float64
			if err := json.Unmarshal([]byte(iou.String), &vals); err != nil {
				return nil, fmt.Errorf("decode iou of epoch %d: %w", e.Epoch, err)
			}
			e.IoU = make([]float64, len(vals))
			for i, v := range vals {
				e.IoU[i] = math.NaN()
				if v != nil {
					e.IoU[i] = *v
				}
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// nullable maps non-finite values to JSON null.
func nullable(vals []float64) []*float64 {
	out := make([]*float64, len(vals))
	for i := range vals {
		if !math.IsNaN(vals[i]) && !math.IsInf(vals[i], 0) {
			out[i] = &vals[i]
		}
	}
	return out
}
