package apikey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
)

func TestHashKey(t *testing.T) {
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", HashKey("hello"))
	assert.NotEqual(t, HashKey("a"), HashKey("b"))
}

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, Prefix))
	assert.Len(t, a, len(Prefix)+64)
	assert.NotEqual(t, a, b)
}

func TestErrorsAreUnauthorized(t *testing.T) {
	assert.ErrorIs(t, ErrInvalidKey, apperrors.ErrUnauthorized)
	assert.ErrorIs(t, ErrExpiredKey, apperrors.ErrUnauthorized)
	assert.Equal(t, 401, apperrors.HTTPStatusCode(ErrExpiredKey))
}
