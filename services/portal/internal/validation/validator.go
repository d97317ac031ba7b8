package validation

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/AfshinJalili/regportal/services/portal/internal/storage"
	"github.com/go-playground/validator/v10"
)

const MinJustificationLength = 10

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	return "invalid request"
}

var validate = validator.New()

// LineInput is one requested grant as submitted by the requester.
type LineInput struct {
	EntityID        string   `json:"entity_id"`
	ContactEmail    string   `json:"contact_email"`
	PermissionCodes []string `json:"permission_codes"`
}

// EntityLookup resolves an entity id from the directory.
type EntityLookup func(id string) (*storage.Entity, bool)

func NormalizeJustification(justification string) string {
	return strings.TrimSpace(justification)
}

func ValidateJustification(justification string) ValidationErrors {
	var errs ValidationErrors
	trimmed := NormalizeJustification(justification)
	if trimmed == "" {
		errs = append(errs, FieldError{Field: "justification", Message: "justification is required"})
	} else if utf8.RuneCountInString(trimmed) < MinJustificationLength {
		errs = append(errs, FieldError{
			Field:   "justification",
			Message: fmt.Sprintf("justification must be at least %d characters", MinJustificationLength),
		})
	}
	return errs
}

// NormalizeCodes lower-cases, trims, de-duplicates and sorts permission codes.
func NormalizeCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.ToLower(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func ValidEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}

// ValidateLines normalizes the requested lines and reports problems keyed by
// line index. The contact e-mail defaults to the entity's e-mail when empty.
func ValidateLines(lines []LineInput, lookup EntityLookup) ([]LineInput, ValidationErrors) {
	var errs ValidationErrors
	if len(lines) == 0 {
		errs = append(errs, FieldError{Field: "lines", Message: "at least one line is required"})
		return nil, errs
	}

	out := make([]LineInput, len(lines))
	seen := make(map[string]int, len(lines))
	for i, line := range lines {
		prefix := fmt.Sprintf("lines[%d]", i)
		normalized := LineInput{
			EntityID:        strings.TrimSpace(line.EntityID),
			ContactEmail:    strings.TrimSpace(line.ContactEmail),
			PermissionCodes: NormalizeCodes(line.PermissionCodes),
		}

		switch {
		case normalized.EntityID == "":
			errs = append(errs, FieldError{Field: prefix + ".entity_id", Message: "entity_id is required"})
		default:
			if first, dup := seen[normalized.EntityID]; dup {
				errs = append(errs, FieldError{
					Field:   prefix + ".entity_id",
					Message: fmt.Sprintf("duplicate entity, already requested in lines[%d]", first),
				})
			} else {
				seen[normalized.EntityID] = i
			}
			entity, ok := lookup(normalized.EntityID)
			if !ok {
				errs = append(errs, FieldError{Field: prefix + ".entity_id", Message: "unknown entity"})
			} else if normalized.ContactEmail == "" {
				normalized.ContactEmail = entity.ContactEmail
			}
		}

		if normalized.ContactEmail != "" && !ValidEmail(normalized.ContactEmail) {
			errs = append(errs, FieldError{Field: prefix + ".contact_email", Message: "contact_email must be a valid e-mail address"})
		}

		if len(normalized.PermissionCodes) == 0 {
			errs = append(errs, FieldError{Field: prefix + ".permission_codes", Message: "at least one permission code is required"})
		}
		for _, code := range normalized.PermissionCodes {
			if !storage.IsPermissionCode(code) {
				errs = append(errs, FieldError{
					Field:   prefix + ".permission_codes",
					Message: fmt.Sprintf("unknown permission code %q", code),
				})
			}
		}

		out[i] = normalized
	}
	return out, errs
}

// SameCodes reports whether two normalized code sets are equal.
func SameCodes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
