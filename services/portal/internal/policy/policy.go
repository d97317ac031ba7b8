package policy

import (
	"fmt"
	"sync"
	"unicode"
	"unicode/utf8"
)

type PasswordPolicy struct {
	MinLength        int  `json:"min_length"`
	RequireUppercase bool `json:"require_uppercase"`
	RequireLowercase bool `json:"require_lowercase"`
	RequireDigit     bool `json:"require_digit"`
	RequireSpecial   bool `json:"require_special"`
	RotationDays     int  `json:"rotation_days"`
	HistoryCount     int  `json:"history_count"`
}

func Default() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        12,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
		RequireSpecial:   true,
		RotationDays:     90,
		HistoryCount:     12,
	}
}

// Normalize clamps values into their allowed ranges.
func (p PasswordPolicy) Normalize() PasswordPolicy {
	if p.MinLength < 1 {
		p.MinLength = 1
	}
	if p.RotationDays < 0 {
		p.RotationDays = 0
	}
	if p.HistoryCount < 0 {
		p.HistoryCount = 0
	}
	return p
}

// Check lists the rules password breaks. An empty result means it passes.
func (p PasswordPolicy) Check(password string) []string {
	var violations []string
	if utf8.RuneCountInString(password) < p.MinLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", p.MinLength))
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			special = true
		}
	}
	if p.RequireUppercase && !upper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if p.RequireLowercase && !lower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if p.RequireDigit && !digit {
		violations = append(violations, "must contain a digit")
	}
	if p.RequireSpecial && !special {
		violations = append(violations, "must contain a special character")
	}
	return violations
}

// Store holds the single active policy.
type Store struct {
	mu     sync.RWMutex
	policy PasswordPolicy
}

func NewStore(initial PasswordPolicy) *Store {
	return &Store{policy: initial.Normalize()}
}

func (s *Store) Get() PasswordPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

func (s *Store) Update(next PasswordPolicy) PasswordPolicy {
	next = next.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = next
	return next
}
