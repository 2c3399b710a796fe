package token

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLinkToken(t *testing.T) {
	a, err := NewLinkToken()
	require.NoError(t, err)
	b, err := NewLinkToken()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), a)
	assert.NotEqual(t, a, b)
}

func TestNewCode(t *testing.T) {
	for range 50 {
		code, err := NewCode()
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), code)
	}
}

func TestIsLinkToken(t *testing.T) {
	link, err := NewLinkToken()
	require.NoError(t, err)
	assert.True(t, IsLinkToken(link))

	code, err := NewCode()
	require.NoError(t, err)
	assert.False(t, IsLinkToken(code))
	assert.False(t, IsLinkToken(""))
	assert.False(t, IsLinkToken(link[:63]+"G"))
}
