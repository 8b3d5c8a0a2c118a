package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
)

// Record is one stored document.
type Record struct {
	ID          smk.DocumentID     `msgpack:"id"`
	Corpus      string             `msgpack:"corpus"`
	Label       string             `msgpack:"label"`
	CapturedAt  time.Time          `msgpack:"captured_at"`
	Descriptors []vocab.Descriptor `msgpack:"descriptors"`
	Keypoints   []Keypoint         `msgpack:"keypoints"`
}

// Memory is an in-process Corpus.
type Memory struct {
	mu      sync.RWMutex
	records map[smk.DocumentID]*Record
	vocabs  map[string][][]float32
}

var _ Corpus = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		records: make(map[smk.DocumentID]*Record),
		vocabs:  make(map[string][][]float32),
	}
}

// Put stores or replaces a record.
func (m *Memory) Put(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = &r
}

// Delete removes a record and reports whether it existed.
func (m *Memory) Delete(id smk.DocumentID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[id]
	delete(m.records, id)
	return ok
}

func (m *Memory) PutVocabulary(name string, centroids [][]float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vocabs[name] = centroids
}

func (m *Memory) DocumentIDs(_ context.Context, corpus string) ([]smk.DocumentID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []smk.DocumentID
	for id, r := range m.records {
		if r.Corpus == corpus {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *Memory) lookup(ids []smk.DocumentID) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, len(ids))
	for i, id := range ids {
		r, ok := m.records[id]
		if !ok {
			return nil, fmt.Errorf("document %d: %w", id, apperrors.ErrNotFound)
		}
		out[i] = r
	}
	return out, nil
}

func (m *Memory) VectorsFor(_ context.Context, ids []smk.DocumentID) ([][]vocab.Descriptor, error) {
	recs, err := m.lookup(ids)
	if err != nil {
		return nil, err
	}
	out := make([][]vocab.Descriptor, len(recs))
	for i, r := range recs {
		out[i] = r.Descriptors
	}
	return out, nil
}

func (m *Memory) KeypointsFor(_ context.Context, ids []smk.DocumentID) ([][]Keypoint, error) {
	recs, err := m.lookup(ids)
	if err != nil {
		return nil, err
	}
	out := make([][]Keypoint, len(recs))
	for i, r := range recs {
		out[i] = r.Keypoints
	}
	return out, nil
}

func (m *Memory) LabelsFor(_ context.Context, ids []smk.DocumentID) ([]string, error) {
	recs, err := m.lookup(ids)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Label
	}
	return out, nil
}

func (m *Memory) TimesFor(_ context.Context, ids []smk.DocumentID) ([]time.Time, error) {
	recs, err := m.lookup(ids)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(recs))
	for i, r := range recs {
		out[i] = r.CapturedAt
	}
	return out, nil
}

func (m *Memory) Vocabulary(_ context.Context, name string) (*vocab.Vocabulary, error) {
	m.mu.RLock()
	centroids, ok := m.vocabs[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("vocabulary %q: %w", name, apperrors.ErrNotFound)
	}
	return vocab.New(centroids)
}

// Writer persists documents and vocabularies.
type Writer interface {
	PutDocument(ctx context.Context, r Record) error
	PutVocabulary(ctx context.Context, name string, v *vocab.Vocabulary) error
}

// CopyTo writes every vocabulary and record of m to w, records in id
// order, and returns the number of records written.
func (m *Memory) CopyTo(ctx context.Context, w Writer) (int, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.vocabs))
	for name := range m.vocabs {
		names = append(names, name)
	}
	records := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, *r)
	}
	m.mu.RUnlock()
	slices.Sort(names)
	slices.SortFunc(records, func(a, b Record) int { return cmp.Compare(a.ID, b.ID) })

	for _, name := range names {
		v, err := m.Vocabulary(ctx, name)
		if err != nil {
			return 0, err
		}
		if err := w.PutVocabulary(ctx, name, v); err != nil {
			return 0, fmt.Errorf("writing vocabulary %q: %w", name, err)
		}
	}
	for i, r := range records {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := w.PutDocument(ctx, r); err != nil {
			return i, fmt.Errorf("writing document %d: %w", r.ID, err)
		}
	}
	return len(records), nil
}
