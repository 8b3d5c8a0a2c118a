package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level     string
		debugOn   bool
		warnOn    bool
		infoShown bool
	}{
		{"debug", true, true, true},
		{"WARN", false, true, false},
		{"", false, true, true},
		{"verbose", false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l := New(&bytes.Buffer{}, tt.level, "text")
			ctx := context.Background()
			assert.Equal(t, tt.debugOn, l.Enabled(ctx, -4))
			assert.Equal(t, tt.infoShown, l.Enabled(ctx, 0))
			assert.Equal(t, tt.warnOn, l.Enabled(ctx, 4))
		})
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "JSON").Info("built", "documents", 3)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "built", line["msg"])
	assert.Equal(t, 3.0, line["documents"])
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.NotNil(t, FromContext(ctx))
}
