package security

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AfshinJalili/regportal/libs/auth"
	"github.com/golang-jwt/jwt/v5"
)

// Subject is everything an access token says about its holder.
type Subject struct {
	UserID     string
	Roles      []string
	Entities   []string
	Name       string
	Email      string
	Phone      string
	NationalID string
}

func NewAccessToken(subject Subject, secret []byte, ttl time.Duration, now time.Time, issuer string) (string, error) {
	claims := auth.Claims{
		Roles:            subject.Roles,
		Entities:         subject.Entities,
		Name:             subject.Name,
		Email:            subject.Email,
		Phone:            subject.Phone,
		NationalIDMasked: MaskNationalID(subject.NationalID),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:  issuer,
			Subject: subject.UserID,
		},
	}
	return auth.NewToken(claims, secret, ttl, now)
}

// MaskNationalID keeps the last four characters of a national id number.
func MaskNationalID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	n := utf8.RuneCountInString(id)
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	runes := []rune(id)
	return strings.Repeat("*", 7) + string(runes[n-4:])
}
