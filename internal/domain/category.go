package domain

import (
	"strings"
	"time"
)

// Category is a maintenance type. Its Code is embedded in control numbers.
type Category struct {
	ID        string
	Name      string
	Code      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeCategoryCode upper-cases code and reports whether it is a
// non-empty run of ASCII letters.
func NormalizeCategoryCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", false
		}
	}
	return code, true
}
