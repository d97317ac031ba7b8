package security

import (
	"testing"
	"time"

	"github.com/AfshinJalili/regportal/libs/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAccessTokenCarriesProfile(t *testing.T) {
	secret := []byte("secret")
	now := time.Now()
	token, err := NewAccessToken(Subject{
		UserID:     "00000000-0000-0000-0000-000000000002",
		Roles:      []string{auth.RoleEntityAdmin},
		Entities:   []string{"ent-1"},
		Name:       "Anna Nowak",
		Email:      "admin@bank-example.pl",
		Phone:      "+48 600 000 000",
		NationalID: "85010112345",
	}, secret, time.Minute, now, "portal-auth")
	require.NoError(t, err)

	claims, err := auth.ParseJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-0000-0000-000000000002", claims.Subject)
	assert.Equal(t, "portal-auth", claims.Issuer)
	assert.Equal(t, []string{"ent-1"}, claims.Entities)
	assert.Equal(t, "*******2345", claims.NationalIDMasked)
	assert.False(t, claims.IsInternal())
}

func TestMaskNationalID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"123", "***"},
		{"85010112345", "*******2345"},
		{" 12345 ", "*******2345"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, MaskNationalID(tc.in), tc.in)
	}
}
