package testutil

import (
	"time"

	"github.com/AfshinJalili/regportal/libs/auth"
	"github.com/golang-jwt/jwt/v5"
)

// Identities created by cmd/seed.
const (
	SupervisorUserID  = "00000000-0000-0000-0000-000000000001"
	EntityAdminUserID = "00000000-0000-0000-0000-000000000002"
	RequesterUserID   = "00000000-0000-0000-0000-000000000003"

	SupervisorEmail  = "supervisor@uknf.gov.pl"
	EntityAdminEmail = "admin@bank-example.pl"
	RequesterEmail   = "jan.kowalski@bank-example.pl"
	SeedPassword     = "Portal!Passw0rd"
)

// TestActor describes the subject of a generated token.
type TestActor struct {
	ID       string
	Name     string
	Email    string
	Roles    []string
	Entities []string
}

func GenerateJWT(actor TestActor, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	roles := actor.Roles
	if len(roles) == 0 {
		roles = []string{auth.RoleSubmitter}
	}
	claims := auth.Claims{
		Roles:    roles,
		Entities: actor.Entities,
		Name:     actor.Name,
		Email:    actor.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:  "portal-auth",
			Subject: actor.ID,
		},
	}
	return auth.NewToken(claims, secret, ttl, now)
}
