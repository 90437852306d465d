// Package redact decides whether a transcript echoes stored credentials and
// must not be shown on screen.
package redact

import "strings"

// Replacement is what the display shows instead of a sensitive transcript.
const Replacement = "***"

var defaultMarkers = []string{
	"password",
	"api_key",
	"api_id",
	"account",
	"device_id",
	"hide",
}

// Filter matches transcripts against a marker list. The zero value is not
// usable; construct with NewFilter.
type Filter struct {
	markers []string
}

// NewFilter builds a filter with the default credential markers plus any
// extras the caller wants screened.
func NewFilter(extra ...string) *Filter {
	markers := append([]string(nil), defaultMarkers...)
	for _, m := range extra {
		m = strings.TrimSpace(m)
		if m != "" {
			markers = append(markers, m)
		}
	}
	return &Filter{markers: markers}
}

// Sensitive reports whether text contains any marker, case-insensitively.
func (f *Filter) Sensitive(text string) bool {
	lowered := strings.ToLower(text)
	for _, m := range f.markers {
		if strings.Contains(lowered, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// Apply returns the text to display and whether it was redacted.
func (f *Filter) Apply(text string) (string, bool) {
	if f.Sensitive(text) {
		return Replacement, true
	}
	return text, false
}
