package store

import (
	"fmt"
	"os"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
)

// corpusFile is the on-disk form of a Memory corpus, used by the command
// line tools.
type corpusFile struct {
	Vocabularies map[string][][]float32 `msgpack:"vocabularies"`
	Records      []Record               `msgpack:"records"`
}

// ReadFile loads a msgpack corpus file into a new Memory.
func ReadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus file: %w", err)
	}
	var f corpusFile
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding corpus file %s: %w", path, err)
	}
	m := NewMemory()
	for name, c := range f.Vocabularies {
		m.PutVocabulary(name, c)
	}
	for _, r := range f.Records {
		m.Put(r)
	}
	return m, nil
}

// WriteFile saves m as a msgpack corpus file, records ordered by id.
func (m *Memory) WriteFile(path string) error {
	m.mu.RLock()
	f := corpusFile{Vocabularies: m.vocabs}
	ids := make([]smk.DocumentID, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		f.Records = append(f.Records, *m.records[id])
	}
	data, err := msgpack.Marshal(&f)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding corpus file: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing corpus file: %w", err)
	}
	return os.Rename(tmp, path)
}
