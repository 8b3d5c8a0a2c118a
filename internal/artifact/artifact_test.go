package artifact

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/resilience"
)

type payload struct {
	Name    string              `msgpack:"name"`
	Vectors [][]float32         `msgpack:"vectors"`
	Labels  map[int64]string    `msgpack:"labels"`
	Weights map[int64][]float64 `msgpack:"weights"`
}

func samplePayload() payload {
	vecs := make([][]float32, 64)
	for i := range vecs {
		vecs[i] = make([]float32, 32)
		for j := range vecs[i] {
			vecs[i][j] = float32((i*7+j*3)%11) / 11
		}
	}
	return payload{
		Name:    "forest",
		Vectors: vecs,
		Labels:  map[int64]string{1: "a", 2: "b"},
		Weights: map[int64][]float64{1: {0.25, 0.75}},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			codec := NewCodec(c)
			want := samplePayload()
			data, err := codec.Encode(want)
			require.NoError(t, err)

			var got payload
			require.NoError(t, NewCodec(CompressionNone).Decode(data, &got))
			assert.Equal(t, want, got)

			again, err := codec.Encode(got)
			require.NoError(t, err)
			assert.Equal(t, data, again)
		})
	}
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "lz4": CompressionLZ4, "zstd": CompressionZSTD} {
		got, err := ParseCompression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("gzip")
	assert.Error(t, err)
}

func TestCodecRejectsCorruptFrames(t *testing.T) {
	codec := NewCodec(CompressionZSTD)
	data, err := codec.Encode(samplePayload())
	require.NoError(t, err)

	flipped := bytes.Clone(data)
	flipped[len(flipped)-1] ^= 0xff
	badMagic := bytes.Clone(data)
	badMagic[0] = 'X'
	badVersion := bytes.Clone(data)
	badVersion[4] = 9

	tests := []struct {
		name string
		data []byte
	}{
		{"payload bit flip", flipped},
		{"bad magic", badMagic},
		{"bad version", badVersion},
		{"truncated", data[:len(data)-3]},
		{"shorter than header", data[:HeaderSize-1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got payload
			assert.ErrorIs(t, codec.Decode(tt.data, &got), ErrCorrupt)
		})
	}
}

// withRawSize rewrites the raw size field; reseal also fixes the checksum.
func withRawSize(data []byte, size uint64, reseal bool) []byte {
	out := bytes.Clone(data)
	binary.LittleEndian.PutUint64(out[16:24], size)
	if reseal {
		binary.LittleEndian.PutUint32(out[12:16], frameChecksum(out))
	}
	return out
}

func TestCodecRejectsCorruptHeaders(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			codec := NewCodec(c)
			data, err := codec.Encode(samplePayload())
			require.NoError(t, err)
			stored := uint64(len(data) - HeaderSize)

			tests := []struct {
				name string
				data []byte
			}{
				{"raw size flipped", withRawSize(data, 1<<62, false)},
				{"huge raw size", withRawSize(data, 1<<62, true)},
				{"raw size over bound", withRawSize(data, MaxRawSize+1, true)},
				{"implausible ratio", withRawSize(data, stored*1000, true)},
				{"raw size off by one", withRawSize(data, binary.LittleEndian.Uint64(data[16:24])+1, true)},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					var got payload
					assert.NotPanics(t, func() {
						assert.ErrorIs(t, codec.Decode(tt.data, &got), ErrCorrupt)
					})
				})
			}

			compFlipped := bytes.Clone(data)
			compFlipped[8] ^= 3
			var got payload
			assert.ErrorIs(t, codec.Decode(compFlipped, &got), ErrCorrupt)
		})
	}
}

func docs(label string, shift float32) []smk.Document {
	return []smk.Document{
		{ID: 2, Label: label, Descriptors: [][]float32{{1, 2}, {3, 4 + shift}}},
		{ID: 1, Label: "x", Descriptors: [][]float32{{5, 6}}},
	}
}

func TestFingerprint(t *testing.T) {
	base := FingerprintOf(docs("a", 0))
	assert.Equal(t, 2, base.Documents)

	reordered := docs("a", 0)
	reordered[0], reordered[1] = reordered[1], reordered[0]
	assert.Equal(t, base, FingerprintOf(reordered))

	relabeled := FingerprintOf(docs("b", 0))
	assert.Equal(t, base.IDs, relabeled.IDs)
	assert.NotEqual(t, base.Content, relabeled.Content)

	moved := FingerprintOf(docs("a", 0.5))
	assert.NotEqual(t, base.Content, moved.Content)

	params := smk.DefaultParams
	k1 := Key("smk", base, VocabPart("v1"), params.String())
	params.Alpha = 4
	k2 := Key("smk", base, VocabPart("v1"), params.String())
	assert.NotEqual(t, k1, k2)
	assert.Contains(t, k1, "_daids((2)")
	assert.Contains(t, k1, "_vocab(v1)")
}

func TestDiskStore(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := Key("smk", FingerprintOf(docs("a", 0)), VocabPart("v1"))

	_, err = d.Get(ctx, key)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, d.Put(ctx, key, []byte("blob")))
	got, err := d.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)

	files, err := d.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Regexp(t, `^smk_[0-9a-f]{32}\.vsa$`, files[0])

	require.NoError(t, d.Delete(ctx, key))
	require.NoError(t, d.Delete(ctx, key))
	_, err = d.Get(ctx, key)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetOrBuildSingleBuilder(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	cache := NewCache(d, NewCodec(CompressionLZ4)).WithMetrics(m)

	var builds atomic.Int32
	release := make(chan struct{})
	build := func(context.Context) (payload, error) {
		builds.Add(1)
		<-release
		return samplePayload(), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]payload, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = GetOrBuild(context.Background(), cache, "k1", build)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, samplePayload(), results[i])
	}

	got, hit, err := GetOrBuild(context.Background(), cache, "k1", build)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, samplePayload(), got)
	assert.Equal(t, int32(1), builds.Load())

	_, _, nbuilds := cache.Stats()
	assert.Equal(t, int64(1), nbuilds)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArtifactCacheTotal.WithLabelValues("build")))
}

func TestGetOrBuildRebuildsCorruptArtifact(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	require.NoError(t, err)
	cache := NewCache(d, NewCodec(CompressionNone))
	ctx := context.Background()
	require.NoError(t, d.Put(ctx, "k", []byte("garbage")))

	built := 0
	got, hit, err := GetOrBuild(ctx, cache, "k", func(context.Context) (payload, error) {
		built++
		return payload{Name: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, built)
	assert.Equal(t, "fresh", got.Name)

	var stored payload
	assert.True(t, cache.Load(ctx, "k", &stored))
	assert.Equal(t, "fresh", stored.Name)
}

func TestGetOrBuildPropagatesBuildErrors(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	require.NoError(t, err)
	cache := NewCache(d, NewCodec(CompressionNone))
	boom := errors.New("boom")

	_, _, err = GetOrBuild(context.Background(), cache, "k", func(context.Context) (payload, error) {
		return payload{}, boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = d.Get(context.Background(), "k")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	s := NewS3(fake, "bucket", "visualsearch")
	ctx := context.Background()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, s.Put(ctx, "k", []byte("blob")))
	assert.Contains(t, fake.objects, "bucket/visualsearch/k")
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

type flakyStore struct {
	failures atomic.Int32
	calls    atomic.Int32
	data     []byte
}

func (f *flakyStore) Name() string { return "flaky" }

func (f *flakyStore) Get(_ context.Context, key string) ([]byte, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("connection reset")
	}
	if f.data == nil {
		return nil, notFound(key)
	}
	return f.data, nil
}

func (f *flakyStore) Put(_ context.Context, _ string, data []byte) error {
	f.data = data
	return nil
}

func (f *flakyStore) Delete(context.Context, string) error { return nil }

func fastResilience(attempts, threshold int) ResilientConfig {
	return ResilientConfig{
		Retry:   resilience.RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Breaker: resilience.CircuitBreakerConfig{FailureThreshold: threshold, ResetTimeout: time.Hour},
	}
}

func TestResilientRetriesTransientFailures(t *testing.T) {
	inner := &flakyStore{data: []byte("blob")}
	inner.failures.Store(2)
	r := NewResilient(inner, fastResilience(3, 5))

	got, err := r.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestResilientDoesNotRetryMisses(t *testing.T) {
	inner := &flakyStore{}
	r := NewResilient(inner, fastResilience(3, 1))

	for i := 0; i < 3; i++ {
		_, err := r.Get(context.Background(), "k")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	}
	assert.Equal(t, int32(3), inner.calls.Load())
	assert.Equal(t, resilience.StateClosed, r.State())
}

func TestResilientOpensCircuit(t *testing.T) {
	inner := &flakyStore{}
	inner.failures.Store(100)
	var opened atomic.Bool
	cfg := fastResilience(1, 2)
	cfg.OnStateChange = func(_ string, _, to resilience.State) {
		if to == resilience.StateOpen {
			opened.Store(true)
		}
	}
	r := NewResilient(inner, cfg)

	for i := 0; i < 2; i++ {
		_, err := r.Get(context.Background(), "k")
		require.Error(t, err)
	}
	assert.True(t, opened.Load())

	_, err := r.Get(context.Background(), "k")
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), inner.calls.Load())

	// An unavailable store degrades the cache to rebuilding.
	cache := NewCache(r, NewCodec(CompressionNone))
	got, hit, err := GetOrBuild(context.Background(), cache, "k", func(context.Context) (payload, error) {
		return payload{Name: "rebuilt"}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "rebuilt", got.Name)
}

func TestOpenCache(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.Compression = "lz4"
	ctx := context.Background()

	c, err := OpenCache(ctx, *cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "disk", c.Store().Name())
	require.NoError(t, c.Save(ctx, "k", payload{Name: "x"}))
	var got payload
	assert.True(t, c.Load(ctx, "k", &got))
	assert.Equal(t, "x", got.Name)

	cfg.Storage.Compression = "brotli"
	_, err = OpenCache(ctx, *cfg, nil)
	assert.Error(t, err)

	cfg.Storage.Compression = "none"
	cfg.Storage.Backend = "tape"
	_, err = OpenCache(ctx, *cfg, nil)
	assert.Error(t, err)
}
