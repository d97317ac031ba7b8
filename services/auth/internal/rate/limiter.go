package rate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Policy bounds login attempts inside one fixed window. PerIP counts every
// attempt from a client address. PerAccount counts attempts against one
// e-mail address from anywhere, so a spread-out guessing run still stops.
type Policy struct {
	PerIP      int
	PerAccount int
	Window     time.Duration
}

// Attempt is one login try as the limiter sees it.
type Attempt struct {
	IP    string
	Email string
}

type counter struct {
	key   string
	limit int
}

// counters lists the buckets an attempt is charged to. The e-mail is hashed
// so the counter store never holds addresses in clear text.
func (p Policy) counters(a Attempt) []counter {
	out := []counter{{key: "ip:" + a.IP, limit: p.PerIP}}
	if key := accountKey(a.Email); key != "" {
		out = append(out, counter{key: key, limit: p.PerAccount})
	}
	return out
}

func accountKey(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email))
	return "account:" + hex.EncodeToString(sum[:16])
}

// Limiter decides whether a login attempt may proceed. A false result carries
// the time left until the tightest exhausted window resets.
type Limiter interface {
	Allow(ctx context.Context, a Attempt, now time.Time) (bool, time.Duration, error)
	// Forgive clears the account counter after a successful login. The IP
	// counter keeps running.
	Forgive(ctx context.Context, a Attempt) error
}
