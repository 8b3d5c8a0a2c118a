// Package aggregator persists periodic snapshots of aggregated query
// statistics to PostgreSQL.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/postgres"
)

// StatsSource is what Run snapshots; *analytics.Aggregator satisfies it.
type StatsSource interface {
	Stats() analytics.AggregatedStats
}

// Store reads and writes the query_stats_snapshots table created by
// postgres.Schema.
type Store struct {
	db     *postgres.Client
	now    func() time.Time
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		now:    time.Now,
		logger: slog.Default().With("component", "snapshot-store"),
	}
}

// Save writes stats as a new snapshot and returns it with its row id.
func (s *Store) Save(ctx context.Context, stats analytics.AggregatedStats) (*analytics.Snapshot, error) {
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	snap := &analytics.Snapshot{CapturedAt: s.now().UTC(), Stats: stats}
	err = s.db.DB.QueryRowContext(ctx,
		`INSERT INTO query_stats_snapshots (data, captured_at) VALUES ($1, $2) RETURNING id`,
		data, snap.CapturedAt,
	).Scan(&snap.ID)
	if err != nil {
		return nil, fmt.Errorf("inserting snapshot: %w", err)
	}
	s.logger.Debug("snapshot saved", "id", snap.ID, "total_queries", stats.TotalQueries)
	return snap, nil
}

// Latest returns the newest snapshot, or nil when none was saved yet.
func (s *Store) Latest(ctx context.Context) (*analytics.Snapshot, error) {
	snaps, err := s.ListSnapshots(ctx, 1)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return &snaps[0], nil
}

// Get loads one snapshot by id; sql.ErrNoRows is returned for unknown ids.
func (s *Store) Get(ctx context.Context, id int64) (*analytics.Snapshot, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT id, captured_at, data FROM query_stats_snapshots WHERE id = $1`, id)
	snap, err := scanSnapshot(row)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %d: %w", id, err)
	}
	return snap, nil
}

// ListSnapshots returns up to limit snapshots, newest first. Rows whose
// payload no longer decodes are skipped.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.Snapshot, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, captured_at, data FROM query_stats_snapshots
		 ORDER BY captured_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []analytics.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if errors.Is(err, errCorrupt) {
			s.logger.Warn("skipping undecodable snapshot", "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// Prune deletes snapshots captured before now minus retention.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM query_stats_snapshots WHERE captured_at < $1`,
		s.now().Add(-retention).UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning snapshots: %w", err)
	}
	return res.RowsAffected()
}

// Run saves a snapshot of src every interval and prunes past retention
// until ctx is done, then saves one last snapshot.
func (s *Store) Run(ctx context.Context, src StatsSource, interval, retention time.Duration) {
	s.logger.Info("snapshotting query stats", "interval", interval, "retention", retention)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.Save(ctx, src.Stats()); err != nil {
				s.logger.Error("snapshot failed", "error", err)
				continue
			}
			if n, err := s.Prune(ctx, retention); err != nil {
				s.logger.Error("snapshot prune failed", "error", err)
			} else if n > 0 {
				s.logger.Info("pruned snapshots", "count", n)
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if _, err := s.Save(final, src.Stats()); err != nil {
				s.logger.Error("final snapshot failed", "error", err)
			}
			cancel()
			return
		}
	}
}

var errCorrupt = errors.New("corrupt snapshot payload")

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*analytics.Snapshot, error) {
	var (
		snap analytics.Snapshot
		data []byte
	)
	if err := row.Scan(&snap.ID, &snap.CapturedAt, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap.Stats); err != nil {
		return nil, fmt.Errorf("%w %d: %v", errCorrupt, snap.ID, err)
	}
	return &snap, nil
}
