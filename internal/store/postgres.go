package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/postgres"
)

// Postgres is a Corpus over the tables in postgres.Schema. Vectors are
// stored as little-endian float32 bytea.
type Postgres struct {
	db     *postgres.Client
	logger *slog.Logger
}

var (
	_ Corpus = (*Postgres)(nil)
	_ Writer = (*Postgres)(nil)
)

func NewPostgres(db *postgres.Client) *Postgres {
	return &Postgres{
		db:     db,
		logger: slog.Default().With("component", "postgres-source"),
	}
}

func (p *Postgres) DocumentIDs(ctx context.Context, corpus string) ([]smk.DocumentID, error) {
	rows, err := p.db.DB.QueryContext(ctx,
		`SELECT id FROM documents WHERE corpus = $1 ORDER BY id`, corpus)
	if err != nil {
		return nil, fmt.Errorf("listing documents of %q: %w", corpus, err)
	}
	defer rows.Close()
	var ids []smk.DocumentID
	for rows.Next() {
		var id smk.DocumentID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// index maps each id to its position in ids.
func index(ids []smk.DocumentID) map[smk.DocumentID]int {
	pos := make(map[smk.DocumentID]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	return pos
}

// documentRows fetches one row per id from documents and fails when any id
// is missing.
func (p *Postgres) documentRows(ctx context.Context, ids []smk.DocumentID, scan func(i int, label sql.NullString, captured sql.NullTime)) error {
	pos := index(ids)
	rows, err := p.db.DB.QueryContext(ctx,
		`SELECT id, label, captured_at FROM documents WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()
	found := 0
	for rows.Next() {
		var (
			id       smk.DocumentID
			label    sql.NullString
			captured sql.NullTime
		)
		if err := rows.Scan(&id, &label, &captured); err != nil {
			return fmt.Errorf("scanning document: %w", err)
		}
		scan(pos[id], label, captured)
		found++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if found != len(pos) {
		return fmt.Errorf("%d of %d documents: %w", len(pos)-found, len(pos), apperrors.ErrNotFound)
	}
	return nil
}

func (p *Postgres) LabelsFor(ctx context.Context, ids []smk.DocumentID) ([]string, error) {
	out := make([]string, len(ids))
	err := p.documentRows(ctx, ids, func(i int, label sql.NullString, _ sql.NullTime) {
		out[i] = label.String
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) TimesFor(ctx context.Context, ids []smk.DocumentID) ([]time.Time, error) {
	out := make([]time.Time, len(ids))
	err := p.documentRows(ctx, ids, func(i int, _ sql.NullString, captured sql.NullTime) {
		if captured.Valid {
			out[i] = captured.Time
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// descriptorRows streams descriptor rows of ids ordered by document and
// feature index. Documents are checked for existence first.
func (p *Postgres) descriptorRows(ctx context.Context, ids []smk.DocumentID, scan func(i, fx int, vec []byte, kp Keypoint) error) error {
	if err := p.documentRows(ctx, ids, func(int, sql.NullString, sql.NullTime) {}); err != nil {
		return err
	}
	pos := index(ids)
	rows, err := p.db.DB.QueryContext(ctx,
		`SELECT document_id, fx, vector, kp_x, kp_y, kp_scale, kp_ori
		 FROM descriptors WHERE document_id = ANY($1) ORDER BY document_id, fx`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("querying descriptors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  smk.DocumentID
			fx  int
			vec []byte
			kp  Keypoint
		)
		if err := rows.Scan(&id, &fx, &vec, &kp.X, &kp.Y, &kp.Scale, &kp.Orientation); err != nil {
			return fmt.Errorf("scanning descriptor: %w", err)
		}
		if err := scan(pos[id], fx, vec, kp); err != nil {
			return fmt.Errorf("document %d descriptor %d: %w", id, fx, err)
		}
	}
	return rows.Err()
}

func (p *Postgres) VectorsFor(ctx context.Context, ids []smk.DocumentID) ([][]vocab.Descriptor, error) {
	out := make([][]vocab.Descriptor, len(ids))
	total := 0
	err := p.descriptorRows(ctx, ids, func(i, fx int, raw []byte, _ Keypoint) error {
		if fx != len(out[i]) {
			return fmt.Errorf("feature index gap, expected %d", len(out[i]))
		}
		vec, err := DecodeVector(raw)
		if err != nil {
			return err
		}
		out[i] = append(out[i], vec)
		total++
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.Debug("descriptors loaded", "documents", len(ids), "descriptors", total)
	return out, nil
}

func (p *Postgres) KeypointsFor(ctx context.Context, ids []smk.DocumentID) ([][]Keypoint, error) {
	out := make([][]Keypoint, len(ids))
	err := p.descriptorRows(ctx, ids, func(i, _ int, _ []byte, kp Keypoint) error {
		out[i] = append(out[i], kp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) Vocabulary(ctx context.Context, name string) (*vocab.Vocabulary, error) {
	var (
		dim int
		raw []byte
	)
	err := p.db.DB.QueryRowContext(ctx,
		`SELECT dimension, centroids FROM vocabularies WHERE name = $1`, name,
	).Scan(&dim, &raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("vocabulary %q: %w", name, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading vocabulary %q: %w", name, err)
	}
	flat, err := DecodeVector(raw)
	if err != nil {
		return nil, err
	}
	if dim <= 0 || len(flat)%dim != 0 {
		return nil, fmt.Errorf("vocabulary %q: %d values do not split into dimension %d", name, len(flat), dim)
	}
	centroids := make([][]float32, len(flat)/dim)
	for w := range centroids {
		centroids[w] = flat[w*dim : (w+1)*dim : (w+1)*dim]
	}
	return vocab.New(centroids)
}

// PutDocument inserts or replaces a record and its descriptors.
func (p *Postgres) PutDocument(ctx context.Context, r Record) error {
	return p.db.InTx(ctx, func(tx *sql.Tx) error {
		var label sql.NullString
		if r.Label != "" {
			label = sql.NullString{String: r.Label, Valid: true}
		}
		var captured sql.NullTime
		if !r.CapturedAt.IsZero() {
			captured = sql.NullTime{Time: r.CapturedAt, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, corpus, label, captured_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET corpus = $2, label = $3, captured_at = $4`,
			r.ID, r.Corpus, label, captured); err != nil {
			return fmt.Errorf("upserting document %d: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM descriptors WHERE document_id = $1`, r.ID); err != nil {
			return fmt.Errorf("clearing descriptors of %d: %w", r.ID, err)
		}
		for fx, d := range r.Descriptors {
			var kp Keypoint
			if fx < len(r.Keypoints) {
				kp = r.Keypoints[fx]
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO descriptors (document_id, fx, vector, kp_x, kp_y, kp_scale, kp_ori)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				r.ID, fx, EncodeVector(d), kp.X, kp.Y, kp.Scale, kp.Orientation); err != nil {
				return fmt.Errorf("inserting descriptor %d of %d: %w", fx, r.ID, err)
			}
		}
		return nil
	})
}

// PutVocabulary inserts or replaces a vocabulary.
func (p *Postgres) PutVocabulary(ctx context.Context, name string, v *vocab.Vocabulary) error {
	flat := make([]float32, 0, v.Len()*v.Dimension())
	for _, c := range v.Centroids {
		flat = append(flat, c...)
	}
	_, err := p.db.DB.ExecContext(ctx,
		`INSERT INTO vocabularies (name, dimension, centroids) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET dimension = $2, centroids = $3`,
		name, v.Dimension(), EncodeVector(flat))
	if err != nil {
		return fmt.Errorf("saving vocabulary %q: %w", name, err)
	}
	return nil
}

// EncodeVector packs v as little-endian float32.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob of %d bytes is not a float32 array", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
