// Package filename derives a save name from a response's Content-Disposition header.
package filename

import "strings"

const token = "filename="

// EmptyPolicy decides what an explicit but empty filename= value resolves to.
type EmptyPolicy string

const (
	// KeepEmpty returns the empty value as-is.
	KeepEmpty EmptyPolicy = "keep"
	// UseDefault replaces an empty value with the default name.
	UseDefault EmptyPolicy = "default"
)

// ParsePolicy maps a config value onto a policy, defaulting to KeepEmpty.
func ParsePolicy(raw string) EmptyPolicy {
	if EmptyPolicy(strings.ToLower(strings.TrimSpace(raw))) == UseDefault {
		return UseDefault
	}
	return KeepEmpty
}

// Resolver extracts filename hints. The zero value uses KeepEmpty.
type Resolver struct {
	Empty EmptyPolicy
}

// Resolve applies the KeepEmpty policy.
func Resolve(header, defaultName string) string {
	return Resolver{}.Resolve(header, defaultName)
}

// Resolve returns the value following the first filename= token, up to the next ';',
// with surrounding whitespace and one pair of wrapping quotes removed. A missing header
// or token yields defaultName.
func (r Resolver) Resolve(header, defaultName string) string {
	idx := strings.Index(header, token)
	if idx < 0 {
		return defaultName
	}

	value := header[idx+len(token):]
	if end := strings.IndexByte(value, ';'); end >= 0 {
		value = value[:end]
	}
	value = unquote(strings.TrimSpace(value))

	if value == "" && r.Empty == UseDefault {
		return defaultName
	}
	return value
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
