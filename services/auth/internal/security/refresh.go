package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// RefreshTokenPrefix marks portal refresh tokens so they are recognisable in
// logs and secret scanners.
const RefreshTokenPrefix = "prt_"

const maxRefreshTokenLen = 128

var ErrMalformedRefreshToken = errors.New("malformed refresh token")

type TokenGenerator interface {
	New() (token string, hash string, err error)
}

type DefaultTokenGenerator struct{}

func (DefaultTokenGenerator) New() (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	token := RefreshTokenPrefix + base64.RawURLEncoding.EncodeToString(buf)
	hash, err := HashRefreshToken(token)
	if err != nil {
		return "", "", err
	}
	return token, hash, nil
}

// HashRefreshToken returns the digest stored for a refresh token. Anything
// that could not have been issued by the portal is rejected before it reaches
// the database.
func HashRefreshToken(token string) (string, error) {
	body, ok := strings.CutPrefix(token, RefreshTokenPrefix)
	if !ok || body == "" || len(token) > maxRefreshTokenLen {
		return "", ErrMalformedRefreshToken
	}
	for _, r := range body {
		if !isURLSafe(r) {
			return "", ErrMalformedRefreshToken
		}
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:]), nil
}

func isURLSafe(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_'
}
