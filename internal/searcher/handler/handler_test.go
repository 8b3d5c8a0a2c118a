package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/forest"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/kafka"
)

type fakeExecutor struct {
	result *executor.Result
	err    error
	got    executor.Request
}

func (f *fakeExecutor) Execute(_ context.Context, req executor.Request) (*executor.Result, error) {
	f.got = req
	return f.result, f.err
}

func (f *fakeExecutor) Normalize(req executor.Request) executor.Request {
	if req.Limit == 0 {
		req.Limit = 10
	}
	return req
}

func (f *fakeExecutor) BuildID() string { return "b1" }

func serve(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Mount(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestQuery(t *testing.T) {
	exec := &fakeExecutor{result: &executor.Result{
		BuildID: "b1",
		Usable:  true,
		Scores:  []smk.ScoredDoc{{DocID: 3, Score: 0.5}},
	}}
	h := New(exec, &indexer.Holder{}, nil)

	rec := serve(h, http.MethodPost, "/api/v1/query", `{"descriptors":[[1,2,3,4]],"exclude_ids":[9]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, 10, exec.got.Limit)
	assert.Equal(t, []smk.DocumentID{9}, exec.got.ExcludeIDs)

	var res executor.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "b1", res.BuildID)
	assert.Equal(t, smk.DocumentID(3), res.Scores[0].DocID)
}

type recordingLog struct{ events []kafka.QueryExecuted }

func (l *recordingLog) Track(ev kafka.QueryExecuted) { l.events = append(l.events, ev) }

func TestQueryTracksAnsweredQueries(t *testing.T) {
	exec := &fakeExecutor{result: &executor.Result{BuildID: "b1", Corpus: "zebra", TotalHits: 2, TookMS: 4}}
	qlog := &recordingLog{}
	h := New(exec, &indexer.Holder{}, nil).WithQueryLog(qlog)

	rec := serve(h, http.MethodPost, "/api/v1/query", `{"document_id":17}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, qlog.events, 1)
	ev := qlog.events[0]
	assert.Equal(t, "zebra", ev.Corpus)
	assert.Equal(t, 2, ev.TotalHits)
	require.NotNil(t, ev.DocumentID)
	assert.Equal(t, int64(17), *ev.DocumentID)
	assert.False(t, ev.CacheHit)

	exec.err = apperrors.ErrInvalidInput
	rec = serve(h, http.MethodPost, "/api/v1/query", `{"document_id":17}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, qlog.events, 1, "rejected queries are not logged")
}

func TestQueryErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		msg    string
	}{
		{"malformed body", `{"descriptors":`, nil, http.StatusBadRequest, "invalid request body"},
		{"unknown field", `{"image":"x.jpg"}`, nil, http.StatusBadRequest, "invalid request body"},
		{"invalid input", `{}`, fmt.Errorf("%w: query has no descriptors", apperrors.ErrInvalidInput), http.StatusBadRequest, "no descriptors"},
		{"not ready", `{}`, apperrors.ErrIndexNotReady, http.StatusServiceUnavailable, "not ready"},
		{"internal", `{}`, fmt.Errorf("shard 3: %w", apperrors.ErrInternal), http.StatusInternalServerError, "query failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(&fakeExecutor{err: tt.err}, &indexer.Holder{}, nil)
			rec := serve(h, http.MethodPost, "/api/v1/query", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body["error"], tt.msg)
		})
	}
}

func TestIndex(t *testing.T) {
	holder := &indexer.Holder{}
	h := New(&fakeExecutor{}, holder, nil)

	rec := serve(h, http.MethodGet, "/api/v1/index", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	v, err := vocab.New([][]float32{{0, 0}, {1, 1}})
	require.NoError(t, err)
	holder.Swap(&indexer.Index{
		BuildID:    "b7",
		Corpus:     "zebra",
		Vocabulary: v,
		SMK:        &smk.InvertedIndex{Params: smk.DefaultParams, Documents: []smk.DocumentID{1, 2}},
		Forest: &forest.MultiIndex{Shards: []*forest.Shard{
			{ID: 0, Kind: forest.KindForest, Documents: []smk.DocumentID{1, 2}},
		}},
		BuiltAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	})

	rec = serve(h, http.MethodGet, "/api/v1/index", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info IndexInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "b7", info.BuildID)
	assert.Equal(t, v.ID(), info.Vocabulary)
	assert.Equal(t, 2, info.Stats.Documents)
	assert.Empty(t, info.Fingerprint)
	require.Len(t, info.Shards, 1)
	assert.Equal(t, forest.KindForest, info.Shards[0].Kind)
	assert.Equal(t, "2024-03-01T08:00:00Z", info.BuiltAt)
}

func TestCacheEndpointsWithoutCache(t *testing.T) {
	h := New(&fakeExecutor{}, &indexer.Holder{}, nil)

	rec := serve(h, http.MethodGet, "/api/v1/cache/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "disabled")

	rec = serve(h, http.MethodPost, "/api/v1/cache/invalidate", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
