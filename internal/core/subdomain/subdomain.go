// Package subdomain provides pure validation for user-chosen subdomain labels.
package subdomain

import (
	"errors"
	"regexp"
	"strings"
)

// MaxLength is the longest DNS label allowed.
const MaxLength = 63

var (
	ErrEmpty         = errors.New("subdomain is required")
	ErrTooLong       = errors.New("subdomain must be at most 63 characters")
	ErrInvalidFormat = errors.New("subdomain may contain only letters, digits and inner hyphens")
	ErrReserved      = errors.New("subdomain is reserved")
)

var labelRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

var reserved = map[string]struct{}{
	"www":       {},
	"mail":      {},
	"ftp":       {},
	"localhost": {},
	"admin":     {},
	"api":       {},
	"app":       {},
	"dev":       {},
	"staging":   {},
	"test":      {},
}

// Normalize lower-cases and trims a subdomain.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidateSyntax checks a subdomain label. Input is normalized first so
// matching is case-insensitive.
func ValidateSyntax(name string) error {
	name = Normalize(name)
	if name == "" {
		return ErrEmpty
	}
	if len(name) > MaxLength {
		return ErrTooLong
	}
	if !labelRegex.MatchString(name) {
		return ErrInvalidFormat
	}
	if IsReserved(name) {
		return ErrReserved
	}
	return nil
}

// IsReserved reports whether the label is kept back for platform use.
func IsReserved(name string) bool {
	_, ok := reserved[Normalize(name)]
	return ok
}

// ReservedNames returns the reserved labels.
func ReservedNames() []string {
	names := make([]string, 0, len(reserved))
	for n := range reserved {
		names = append(names, n)
	}
	return names
}
