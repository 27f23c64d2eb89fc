package seals

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameIsStable(t *testing.T) {
	id := uuid.MustParse("447abe9b-0d3c-4e4f-9a55-0123456789ab")
	name := Name(id)
	assert.Equal(t, name, Name(id))

	parts := strings.Split(name, "-")
	require.Len(t, parts, 5)
	assert.Equal(t, "447abe9b", parts[4])

	short, ok := ShortHash(name)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(id.String(), short))
}

func TestShortHash(t *testing.T) {
	_, ok := ShortHash("main")
	assert.False(t, ok)
	_, ok = ShortHash("feature-branch")
	assert.False(t, ok)
	_, ok = ShortHash("swift-eagle-flies-high-zzzzzzzz")
	assert.False(t, ok)
	short, ok := ShortHash("swift-eagle-flies-high-447abe9b")
	assert.True(t, ok)
	assert.Equal(t, "447abe9b", short)
}
