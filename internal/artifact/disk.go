package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Disk stores one file per key under a directory. Writes go to a .tmp file
// that is synced and renamed into place.
type Disk struct {
	dataDir string
}

func NewDisk(dataDir string) (*Disk, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	return &Disk{dataDir: dataDir}, nil
}

func (d *Disk) Name() string { return "disk" }

// path keeps a readable key prefix and disambiguates with a hash, since keys
// can exceed file name limits.
func (d *Disk) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	prefix := key
	if i := strings.IndexAny(prefix, "_("); i > 0 {
		prefix = prefix[:i]
	}
	prefix = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '-'
	}, prefix)
	if len(prefix) > 32 {
		prefix = prefix[:32]
	}
	return filepath.Join(d.dataDir, prefix+"_"+hex.EncodeToString(sum[:16])+".vsa")
}

func (d *Disk) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading artifact file: %w", err)
	}
	return data, nil
}

func (d *Disk) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	finalPath := d.path(key)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp artifact file: %w", err)
	}
	defer os.Remove(tmpPath)
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing artifact file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing artifact file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming artifact file: %w", err)
	}
	return nil
}

func (d *Disk) Delete(_ context.Context, key string) error {
	err := os.Remove(d.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting artifact file: %w", err)
	}
	return nil
}

// Files lists the artifact files in the directory, for inspection.
func (d *Disk) Files() ([]string, error) {
	entries, err := os.ReadDir(d.dataDir)
	if err != nil {
		return nil, fmt.Errorf("listing artifact directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".vsa") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
