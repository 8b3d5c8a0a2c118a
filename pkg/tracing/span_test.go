package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "corpus.build", "")
	require.NotEmpty(t, root.TraceID())
	assert.Same(t, root, SpanFromContext(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, child := StartChildSpan(ctx, "forest.build")
			time.Sleep(time.Millisecond)
			child.End()
		}()
	}
	wg.Wait()
	_, load := StartChildSpan(ctx, "corpus.load")
	load.SetAttr("documents", 12)
	load.End()
	total := root.End()

	d := root.Durations()
	assert.Len(t, d, 3)
	assert.GreaterOrEqual(t, d["forest.build"], 4*time.Millisecond)
	assert.Equal(t, total, d["corpus.build"])
	assert.Equal(t, total, root.End(), "End is idempotent")
	assert.Equal(t, root.TraceID(), load.TraceID())
}

func TestDetachedSpan(t *testing.T) {
	_, s := StartChildSpan(context.Background(), "query")
	assert.Empty(t, s.TraceID())
	assert.Equal(t, "query", s.Name())
	assert.GreaterOrEqual(t, s.End(), time.Duration(0))
}

func TestLogWritesEverySpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, root := StartSpan(context.Background(), "query", "trace-1")
	_, child := StartChildSpan(ctx, "smk.score")
	child.SetAttr("error", "boom")
	child.End()
	root.End()
	root.Log(logger)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "span=query")
	assert.Contains(t, lines[1], "depth=1")
	assert.Contains(t, lines[1], "error=boom")
	assert.Contains(t, lines[1], "trace_id=trace-1")
}
