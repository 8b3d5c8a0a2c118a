package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
corpus:
  name: zebra
  vocabulary: zebra-64k
  groupUnlabeled: true
smk:
  nAssign: 4
  idfMeasure: label
forest:
  numForests: 3
  exhaustive: true
storage:
  backend: minio
  compression: lz4
search:
  timeout: 2s
`), 0o644))
	t.Setenv("VS_CORPUS_NAME", "giraffe")
	t.Setenv("VS_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "giraffe", cfg.Corpus.Name)
	assert.Equal(t, "zebra-64k", cfg.Corpus.Vocabulary)
	assert.True(t, cfg.Corpus.GroupUnlabeled)
	assert.Equal(t, 4, cfg.SMK.NAssign)
	assert.Equal(t, 1, cfg.SMK.CorpusNAssign)
	assert.Equal(t, "label", cfg.SMK.IDFMeasure)
	assert.Equal(t, 3, cfg.Forest.NumForests)
	assert.Equal(t, "minio", cfg.Storage.Backend)
	assert.Equal(t, 2*time.Second, cfg.Search.Timeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"nAssign", func(c *Config) { c.SMK.NAssign = 0 }},
		{"corpusNAssign", func(c *Config) { c.SMK.CorpusNAssign = 0 }},
		{"sigma", func(c *Config) { c.SMK.MassignSigma = 0 }},
		{"idf", func(c *Config) { c.SMK.IDFMeasure = "bm25" }},
		{"forests", func(c *Config) { c.Forest.NumForests = 0 }},
		{"k", func(c *Config) { c.Forest.K = 0 }},
		{"knorm", func(c *Config) { c.Forest.Knorm = -1 }},
		{"limits", func(c *Config) { c.Search.DefaultLimit = 500 }},
		{"workers", func(c *Config) { c.Build.Workers = 0 }},
		{"backend", func(c *Config) { c.Storage.Backend = "ftp" }},
		{"compression", func(c *Config) { c.Storage.Compression = "gzip" }},
		{"grouping", func(c *Config) { c.Grouping.Algorithm = "kmeans" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := Default().Postgres.DSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=visualsearch")
	assert.Contains(t, dsn, "sslmode=disable")
}
