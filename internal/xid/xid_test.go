package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsPrefixedUUID(t *testing.T) {
	id := New("sale")
	require.True(t, strings.HasPrefix(id, "sale-"))
	_, err := uuid.Parse(strings.TrimPrefix(id, "sale-"))
	assert.NoError(t, err)
	assert.NotEqual(t, id, New("sale"))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("sale-123_abc"))
	assert.False(t, Valid(""))
	assert.False(t, Valid("sale 1"))
	assert.False(t, Valid(strings.Repeat("a", 129)))
}
