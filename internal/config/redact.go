package config

import (
	"net/url"
	"sort"
	"strings"
)

// Redactor replaces known secret values with [REDACTED:NAME] placeholders.
// Driver errors and SQL error text can echo connection details, so anything
// printed or recorded from a run passes through one of these.
type Redactor struct {
	values       []string // longest first so overlapping secrets redact whole
	replacements map[string]string
}

// NewRedactor builds a Redactor from the secrets held in c. Both raw and
// URL-encoded variants of each value are covered.
func NewRedactor(c Config) *Redactor {
	r := &Redactor{replacements: make(map[string]string)}
	r.add("SUPABASE_DB_PASSWORD", c.DBPassword)
	r.add("SUPABASE_SERVICE_ROLE_KEY", c.ServiceRoleKey)
	if u, err := url.Parse(c.DatabaseURL); err == nil && u.User != nil {
		if pw, ok := u.User.Password(); ok {
			r.add("DATABASE_URL", pw)
		}
	}

	for v := range r.replacements {
		r.values = append(r.values, v)
	}
	sort.Slice(r.values, func(i, j int) bool { return len(r.values[i]) > len(r.values[j]) })
	return r
}

func (r *Redactor) add(name, value string) {
	if value == "" {
		return
	}
	r.replacements[value] = "[REDACTED:" + name + "]"
	if encoded := url.QueryEscape(value); encoded != value {
		r.replacements[encoded] = "[REDACTED:" + name + ":urlencoded]"
	}
}

// Redact returns input with every known secret replaced. A nil Redactor or
// one built from a config without secrets passes input through.
func (r *Redactor) Redact(input string) string {
	if r == nil || len(r.values) == 0 {
		return input
	}
	for _, v := range r.values {
		input = strings.ReplaceAll(input, v, r.replacements[v])
	}
	return input
}
