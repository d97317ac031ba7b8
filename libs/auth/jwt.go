package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	RoleSystemAdmin          = "system_admin"
	RoleSupervisor           = "supervisor"
	RoleAnalyst              = "analyst"
	RoleCommunicationOfficer = "communication_officer"
	RoleAuditor              = "auditor"
	RoleEntityAdmin          = "entity_admin"
	RoleSubmitter            = "submitter"
	RoleRepresentative       = "representative"
	RoleReadOnly             = "read_only"
)

var internalRoles = map[string]struct{}{
	RoleSystemAdmin:          {},
	RoleSupervisor:           {},
	RoleAnalyst:              {},
	RoleCommunicationOfficer: {},
	RoleAuditor:              {},
}

// IsInternalRole reports whether role belongs to regulator staff.
func IsInternalRole(role string) bool {
	_, ok := internalRoles[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

// Claims is shared by the auth service (issuer) and every resource service.
// Entities lists the regulated entities the subject administers.
type Claims struct {
	Roles            []string `json:"roles"`
	Entities         []string `json:"entities,omitempty"`
	Name             string   `json:"name,omitempty"`
	Email            string   `json:"email,omitempty"`
	Phone            string   `json:"phone,omitempty"`
	NationalIDMasked string   `json:"national_id_masked,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) IsInternal() bool {
	for _, role := range c.Roles {
		if IsInternalRole(role) {
			return true
		}
	}
	return false
}

func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func NewToken(claims Claims, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func ExtractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
