package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
)

func TestBuildKey(t *testing.T) {
	req := executor.Request{Descriptors: []vocab.Descriptor{{1, 2, 3}}, Limit: 10, K: 4}

	a, err := buildKey("b1", req)
	require.NoError(t, err)
	b, err := buildKey("b1", req)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Regexp(t, `^query:b1:[0-9a-f]{32}$`, a)

	other, err := buildKey("b2", req)
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	req.Limit = 11
	limited, err := buildKey("b1", req)
	require.NoError(t, err)
	assert.NotEqual(t, a, limited)

	id := smk.DocumentID(7)
	byDoc, err := buildKey("b1", executor.Request{DocumentID: &id, Limit: 10, K: 4})
	require.NoError(t, err)
	assert.NotEqual(t, a, byDoc)
}
