package indexer

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/metrics"
)

// Reloader keeps a Holder on the latest stored build of a corpus. It is
// how processes that do not build indexes themselves pick up new ones.
type Reloader struct {
	cache   *artifact.Cache
	corpus  string
	holder  *Holder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewReloader(cache *artifact.Cache, corpus string, holder *Holder) *Reloader {
	return &Reloader{
		cache:  cache,
		corpus: corpus,
		holder: holder,
		logger: slog.Default().With("component", "index-reloader", "corpus", corpus),
	}
}

func (r *Reloader) WithMetrics(m *metrics.Metrics) *Reloader {
	r.metrics = m
	return r
}

// Reload installs the latest stored build unless it is already current.
// It reports whether the current index changed. On error the current index
// is kept.
func (r *Reloader) Reload(ctx context.Context) (bool, error) {
	man, err := ReadManifest(ctx, r.cache, r.corpus)
	if err != nil {
		return false, err
	}
	if cur := r.holder.Current(); cur != nil && cur.BuildID == man.BuildID {
		return false, nil
	}
	ix, err := OpenManifest(ctx, r.cache, man)
	if err != nil {
		return false, err
	}
	prev := r.holder.Swap(ix)
	if r.metrics != nil {
		ix.Observe(r.metrics)
	}
	attrs := []any{"build_id", ix.BuildID, "documents", ix.SMK.Stats().Documents, "shards", len(ix.Forest.Shards)}
	if prev != nil {
		attrs = append(attrs, "previous_build_id", prev.BuildID)
	}
	r.logger.Info("index loaded", attrs...)
	return true, nil
}

// Poll calls Reload every interval until ctx is cancelled.
func (r *Reloader) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reload(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("index reload failed", "error", err)
			}
		}
	}
}
