package kafka

import "time"

// CorpusChanged announces that documents of a corpus were added, updated or
// removed in the descriptor source. An empty DocumentIDs means "unknown,
// rebuild everything".
type CorpusChanged struct {
	Corpus      string    `json:"corpus"`
	DocumentIDs []int64   `json:"document_ids,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ChangedAt   time.Time `json:"changed_at"`
}

// IndexBuilt is published after the indexer has built or reloaded the index
// of a corpus.
type IndexBuilt struct {
	BuildID     string    `json:"build_id"`
	Corpus      string    `json:"corpus"`
	Fingerprint string    `json:"fingerprint"`
	Documents   int       `json:"documents"`
	Descriptors int       `json:"descriptors"`
	Words       int       `json:"words"`
	Shards      int       `json:"shards"`
	CacheHit    bool      `json:"cache_hit"`
	DurationMS  int64     `json:"duration_ms"`
	BuiltAt     time.Time `json:"built_at"`
}

// QueryExecuted records one answered query for offline analysis.
type QueryExecuted struct {
	RequestID   string    `json:"request_id,omitempty"`
	BuildID     string    `json:"build_id"`
	Corpus      string    `json:"corpus"`
	DocumentID  *int64    `json:"document_id,omitempty"`
	Descriptors int       `json:"descriptors"`
	Usable      bool      `json:"usable"`
	TotalHits   int       `json:"total_hits"`
	Candidates  int       `json:"candidates"`
	TookMS      int64     `json:"took_ms"`
	CacheHit    bool      `json:"cache_hit"`
	ExecutedAt  time.Time `json:"executed_at"`
}
