package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTokenGeneratorIssuesPortalTokens(t *testing.T) {
	token, hash, err := DefaultTokenGenerator{}.New()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, RefreshTokenPrefix))
	assert.Len(t, token, len(RefreshTokenPrefix)+43)

	again, err := HashRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	other, _, err := DefaultTokenGenerator{}.New()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestHashRefreshTokenRejectsForeignTokens(t *testing.T) {
	for _, token := range []string{
		"",
		"prt_",
		"refresh-1",
		"prt_has space",
		"prt_semi;colon",
		"prt_" + strings.Repeat("a", maxRefreshTokenLen),
	} {
		_, err := HashRefreshToken(token)
		assert.ErrorIs(t, err, ErrMalformedRefreshToken, token)
	}
}
