package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params are the argon2id settings used for new portal hashes.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Memory: 64 * 1024, Iterations: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

// Passwords hashes and checks portal user passwords with one set of argon2id
// parameters. Hashes made with other parameters still verify and are reported
// stale so login can upgrade them.
type Passwords struct {
	params Argon2Params

	decoyOnce sync.Once
	decoy     string
}

func NewPasswords(params Argon2Params) *Passwords {
	return &Passwords{params: params}
}

func (p *Passwords) Hash(password string) (string, error) {
	salt := make([]byte, p.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.params.Iterations, p.params.Memory, p.params.Parallelism, p.params.KeyLength)
	return encodeHash(p.params, salt, key), nil
}

// Verify reports whether password matches encoded and whether encoded should
// be replaced by a hash with the current parameters.
func (p *Passwords) Verify(password, encoded string) (match, stale bool, err error) {
	stored, salt, key, err := decodeHash(encoded)
	if err != nil {
		return false, false, err
	}
	computed := argon2.IDKey([]byte(password), salt, stored.Iterations, stored.Memory, stored.Parallelism, uint32(len(key)))
	if subtle.ConstantTimeCompare(key, computed) != 1 {
		return false, false, nil
	}
	stale = stored.Memory != p.params.Memory ||
		stored.Iterations != p.params.Iterations ||
		stored.Parallelism != p.params.Parallelism ||
		uint32(len(key)) != p.params.KeyLength ||
		uint32(len(salt)) != p.params.SaltLength
	return true, stale, nil
}

// VerifyUnknown does the work of a failed Verify for an e-mail with no
// account, so response time does not reveal which addresses are registered.
func (p *Passwords) VerifyUnknown(password string) {
	p.decoyOnce.Do(func() {
		decoy, err := p.Hash("portal-decoy")
		if err == nil {
			p.decoy = decoy
		}
	})
	if p.decoy != "" {
		_, _, _ = p.Verify(password, p.decoy)
	}
}

func encodeHash(params Argon2Params, salt, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.Memory, params.Iterations, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
}

func decodeHash(encoded string) (Argon2Params, []byte, []byte, error) {
	var params Argon2Params
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, fmt.Errorf("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return params, nil, nil, fmt.Errorf("unsupported argon2 version %q", parts[2])
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return params, nil, nil, fmt.Errorf("parse params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, fmt.Errorf("decode salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, fmt.Errorf("decode hash: %w", err)
	}
	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))
	return params, salt, key, nil
}
