// Package apikey issues and validates the API keys that guard the query
// API. Only the SHA-256 digest of a key is stored; the raw key is shown
// once, when it is created.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/postgres"
)

// Prefix starts every raw key so that leaked keys are easy to recognise.
const Prefix = "vsk_"

var (
	ErrInvalidKey = fmt.Errorf("%w: invalid api key", apperrors.ErrUnauthorized)
	ErrExpiredKey = fmt.Errorf("%w: api key expired", apperrors.ErrUnauthorized)
)

// KeyInfo describes an active key. QueriesPerMinute of zero means the key
// is not rate limited.
type KeyInfo struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	QueriesPerMinute int        `json:"queries_per_minute"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

// Keys manages the api_keys table.
type Keys struct {
	db     *postgres.Client
	now    func() time.Time
	logger *slog.Logger
}

func New(db *postgres.Client) *Keys {
	return &Keys{
		db:     db,
		now:    time.Now,
		logger: slog.Default().With("component", "api-keys"),
	}
}

// Validate returns the active key whose digest matches raw.
func (k *Keys) Validate(ctx context.Context, raw string) (*KeyInfo, error) {
	var (
		info      KeyInfo
		expiresAt sql.NullTime
	)
	err := k.db.DB.QueryRowContext(ctx,
		`SELECT id, name, queries_per_minute, created_at, expires_at
		 FROM api_keys WHERE key_hash = $1 AND is_active`,
		HashKey(raw),
	).Scan(&info.ID, &info.Name, &info.QueriesPerMinute, &info.CreatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	if expiresAt.Valid {
		if !expiresAt.Time.After(k.now()) {
			return nil, ErrExpiredKey
		}
		info.ExpiresAt = &expiresAt.Time
	}
	return &info, nil
}

// Create stores a new key and returns its raw form with its metadata.
func (k *Keys) Create(ctx context.Context, name string, queriesPerMinute int, expiresAt *time.Time) (string, *KeyInfo, error) {
	if name == "" {
		return "", nil, fmt.Errorf("%w: key name is required", apperrors.ErrInvalidInput)
	}
	if queriesPerMinute < 0 {
		return "", nil, fmt.Errorf("%w: queries per minute must be >= 0", apperrors.ErrInvalidInput)
	}
	raw, err := GenerateKey()
	if err != nil {
		return "", nil, err
	}

	info := KeyInfo{Name: name, QueriesPerMinute: queriesPerMinute, ExpiresAt: expiresAt}
	var expiry sql.NullTime
	if expiresAt != nil {
		expiry = sql.NullTime{Time: *expiresAt, Valid: true}
	}
	err = k.db.DB.QueryRowContext(ctx,
		`INSERT INTO api_keys (key_hash, name, queries_per_minute, expires_at)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		HashKey(raw), name, queriesPerMinute, expiry,
	).Scan(&info.ID, &info.CreatedAt)
	if err != nil {
		return "", nil, fmt.Errorf("creating api key: %w", err)
	}

	k.logger.Info("api key created", "id", info.ID, "name", name, "queries_per_minute", queriesPerMinute)
	return raw, &info, nil
}

// Revoke deactivates the key with the given id.
func (k *Keys) Revoke(ctx context.Context, id int64) error {
	result, err := k.db.DB.ExecContext(ctx,
		`UPDATE api_keys SET is_active = false WHERE id = $1 AND is_active`, id)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: active api key %d", apperrors.ErrNotFound, id)
	}
	k.logger.Info("api key revoked", "id", id)
	return nil
}

// List returns the active keys, newest first.
func (k *Keys) List(ctx context.Context) ([]KeyInfo, error) {
	rows, err := k.db.DB.QueryContext(ctx,
		`SELECT id, name, queries_per_minute, created_at, expires_at
		 FROM api_keys WHERE is_active ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	keys := []KeyInfo{}
	for rows.Next() {
		var (
			info      KeyInfo
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&info.ID, &info.Name, &info.QueriesPerMinute, &info.CreatedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		if expiresAt.Valid {
			info.ExpiresAt = &expiresAt.Time
		}
		keys = append(keys, info)
	}
	return keys, rows.Err()
}

// HashKey returns the hex SHA-256 digest stored for raw.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns Prefix followed by 32 random bytes in hex.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return Prefix + hex.EncodeToString(b), nil
}
