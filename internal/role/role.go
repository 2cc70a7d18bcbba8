// Package role extracts and compares marketplace roles.
//
// Auth responses do not agree on where the role lives, so Resolve searches a
// fixed list of locations. It is meant to run once, where raw responses are
// turned into domain.User values; everything downstream reads User.Role.
package role

import (
	"fmt"
	"strings"

	"skilllink/internal/domain"
)

// searchPath lists the nested objects inspected after the record's own
// "role" attribute, in order.
var searchPath = []string{"user", "data", "userData"}

// Resolve returns the first non-empty role found in record, or RoleNone.
func Resolve(record map[string]any) domain.Role {
	if record == nil {
		return domain.RoleNone
	}
	if r, ok := stringAt(record, "role"); ok {
		return domain.Role(r)
	}
	for _, key := range searchPath {
		nested, ok := record[key].(map[string]any)
		if !ok {
			continue
		}
		if r, ok := stringAt(nested, "role"); ok {
			return domain.Role(r)
		}
	}
	return domain.RoleNone
}

// HasRole reports whether the role resolved from record equals candidate
// exactly. There is no case folding and no role hierarchy.
func HasRole(record map[string]any, candidate domain.Role) bool {
	r := Resolve(record)
	return r != domain.RoleNone && r == candidate
}

// Allowed reports whether r is a member of allowed.
func Allowed(r domain.Role, allowed []domain.Role) bool {
	for _, a := range allowed {
		if a == r {
			return true
		}
	}
	return false
}

// Parse validates s as a known role.
func Parse(s string) (domain.Role, error) {
	r := domain.Role(strings.TrimSpace(s))
	if !r.Valid() {
		return domain.RoleNone, fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// ParseList parses every entry of in, failing on the first unknown role.
func ParseList(in []string) ([]domain.Role, error) {
	out := make([]domain.Role, 0, len(in))
	for _, s := range in {
		r, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func stringAt(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
