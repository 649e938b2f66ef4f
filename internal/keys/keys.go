// Package keys canonicalizes user-typed lookup values (identity document
// numbers and vehicle registrations) into the normalized keys stored next to
// every entry and used by search.
package keys

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Field selects which normalized key column a lookup targets.
type Field int

const (
	// FieldAny means no usable hint: registration is tried first, then identity.
	FieldAny Field = iota
	// FieldRegistration targets the vehicle registration key.
	FieldRegistration
	// FieldIdentity targets the identity document key.
	FieldIdentity
)

// String returns the canonical hint name.
func (f Field) String() string {
	switch f {
	case FieldRegistration:
		return "REG"
	case FieldIdentity:
		return "DOC"
	default:
		return "ANY"
	}
}

// Normalize uppercases raw and drops every rune outside [A-Z0-9].
// Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	s := cases.Upper(language.Und).String(raw)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// ParseField maps a request hint to a Field. Unknown or empty hints yield
// FieldAny.
func ParseField(hint string) Field {
	switch strings.ToUpper(strings.TrimSpace(hint)) {
	case "REG", "REGISTRATION", "VEHICLE", "PLATE":
		return FieldRegistration
	case "DOC", "ID", "IDENTITY", "NAME":
		return FieldIdentity
	default:
		return FieldAny
	}
}

// Upper trims and uppercases a subject field for storage.
func Upper(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// Casers are stateful; build one per call.
	return cases.Upper(language.Und).String(s)
}
