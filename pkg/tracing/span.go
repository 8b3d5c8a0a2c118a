// Package tracing times the stages of a build or query as a tree of spans
// carried in the context. A finished tree is logged through slog and
// flattened into per-stage durations for the metrics.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type spanKey struct{}

// Span is one timed stage. It is safe for concurrent use; children started
// from parallel workers attach to the same parent.
type Span struct {
	name    string
	traceID string
	start   time.Time

	mu       sync.Mutex
	duration time.Duration
	ended    bool
	attrs    []slog.Attr
	children []*Span
}

// StartSpan opens a root span in a new trace; an empty traceID gets a
// fresh UUID.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	s := &Span{name: name, traceID: traceID, start: time.Now()}
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartChildSpan opens a span under the one in ctx. Without a parent the
// span is detached: it still times, but nothing logs it.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{name: name, start: time.Now()}
	if parent := SpanFromContext(ctx); parent != nil {
		s.traceID = parent.traceID
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

func (s *Span) Name() string    { return s.name }
func (s *Span) TraceID() string { return s.traceID }

// End stops the clock and returns the span's duration. Only the first call
// counts.
func (s *Span) End() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.duration = time.Since(s.start)
		s.ended = true
	}
	return s.duration
}

// Duration is the elapsed time, still running if End was not called.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return s.duration
	}
	return time.Since(s.start)
}

// SetAttr attaches a value that is logged with the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// Durations flattens the tree into stage name -> total duration; parallel
// stages with the same name are summed.
func (s *Span) Durations() map[string]time.Duration {
	out := make(map[string]time.Duration)
	s.walk(0, func(sp *Span, _ int) { out[sp.name] += sp.Duration() })
	return out
}

// Log writes one debug record per span, depth-first, to logger or the
// default logger when nil.
func (s *Span) Log(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx := context.Background()
	s.walk(0, func(sp *Span, depth int) {
		sp.mu.Lock()
		attrs := append([]slog.Attr{
			slog.String("trace_id", sp.traceID),
			slog.String("span", sp.name),
			slog.Int("depth", depth),
			slog.Int64("duration_ms", sp.durationLocked().Milliseconds()),
		}, sp.attrs...)
		sp.mu.Unlock()
		logger.LogAttrs(ctx, slog.LevelDebug, "span", attrs...)
	})
}

func (s *Span) durationLocked() time.Duration {
	if s.ended {
		return s.duration
	}
	return time.Since(s.start)
}

func (s *Span) walk(depth int, visit func(*Span, int)) {
	visit(s, depth)
	s.mu.Lock()
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()
	for _, c := range children {
		c.walk(depth+1, visit)
	}
}
