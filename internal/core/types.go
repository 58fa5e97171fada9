package core

import "time"

// LanguageNotSpecified is the language code used when a redirect applies to
// every language.
const LanguageNotSpecified = "und"

// FloodEvent is a single recorded flood control event.
type FloodEvent struct {
	ID         int64  `json:"fid,omitempty"`
	Event      string `json:"event"`
	Identifier string `json:"identifier"`
	Timestamp  int64  `json:"timestamp"`
	Expiration int64  `json:"expiration"`
}

// Active reports whether the event counts toward a threshold measured over
// window at now.
func (e FloodEvent) Active(now time.Time, window time.Duration) bool {
	return e.Timestamp > now.Add(-window).Unix()
}

// Expired reports whether garbage collection may remove the event.
func (e FloodEvent) Expired(now time.Time) bool {
	return e.Expiration < now.Unix()
}

// Redirect maps a source path (plus optional query and language) to a
// destination URI.
type Redirect struct {
	ID          int64          `json:"rid" yaml:"rid,omitempty"`
	Hash        string         `json:"hash" yaml:"-"`
	SourcePath  string         `json:"source_path" yaml:"source"`
	SourceQuery map[string]any `json:"source_query,omitempty" yaml:"query,omitempty"`
	Language    string         `json:"language" yaml:"language,omitempty"`
	Destination string         `json:"destination" yaml:"destination"`
	StatusCode  int            `json:"status_code" yaml:"status_code,omitempty"`
	Enabled     bool           `json:"enabled" yaml:"enabled"`
	Created     time.Time      `json:"created" yaml:"-"`
}
