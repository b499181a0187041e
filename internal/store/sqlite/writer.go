// Package sqlite is the local bar cache. Bars are keyed by (symbol,
// timeframe, open time); the store doubles as a model.Provider over the
// cached bars and as the BarStore behind provider.Cached.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"chart-snapshot-analyzer/internal/model"
)

const (
	defaultBatchSize  = 16
	defaultFlushDelay = 200 * time.Millisecond
)

// Config configures the store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/bars.db"
}

// Store is a SQLite bar cache. Writes go through a single connection in
// batched transactions.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	zap.L().Info("sqlite: opened bar cache", zap.String("path", cfg.DBPath))
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol    TEXT    NOT NULL,
			timeframe TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL    NOT NULL,
			PRIMARY KEY (symbol, timeframe, ts)
		);
	`)
	return err
}

// SaveBars upserts every bar of the series in one transaction.
func (s *Store) SaveBars(ctx context.Context, series *model.Series) error {
	return s.insertBatch(ctx, []*model.Series{series})
}

// Run reads series from ch and writes them in batched transactions. It
// flushes every defaultBatchSize series or every defaultFlushDelay,
// whichever comes first, and blocks until ctx is cancelled or ch closes.
func (s *Store) Run(ctx context.Context, ch <-chan *model.Series) {
	batch := make([]*model.Series, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.insertBatch(context.Background(), batch); err != nil {
			zap.L().Error("sqlite: batch insert failed", zap.Error(err))
		} else {
			zap.L().Debug("sqlite: committed series", zap.Int("series", len(batch)), zap.Duration("took", time.Since(start)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case series, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, series)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (s *Store) insertBatch(ctx context.Context, batch []*model.Series) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, timeframe, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, series := range batch {
		for _, b := range series.Bars() {
			_, err := stmt.ExecContext(ctx, series.Symbol(), series.Timeframe(), b.Time.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume)
			if err != nil {
				tx.Rollback()
				return err
			}
		}
	}

	return tx.Commit()
}

// Prune deletes bars older than before for every symbol.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bars WHERE ts < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
