package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/floodgate/floodgate/internal/core"
	"github.com/floodgate/floodgate/internal/core/redirect"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func sampleEvents() []core.FloodEvent {
	recorded := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC).Unix()
	return []core.FloodEvent{
		{ID: 1, Event: "user.failed_login_ip", Identifier: "10.0.0.1", Timestamp: recorded, Expiration: recorded + 3600},
		{ID: 2, Event: "contact", Identifier: "7-10.0.0.2", Timestamp: recorded, Expiration: recorded + 3600},
	}
}

func sampleRedirects() []core.Redirect {
	return []core.Redirect{
		{ID: 4, SourcePath: "old", Language: "und", Destination: "internal:/new", StatusCode: 301, Enabled: true},
		{ID: 5, SourcePath: "search", SourceQuery: map[string]any{"q": "go"}, Language: "de", Destination: "https://example.com", StatusCode: 302},
	}
}

func TestTableFormatter(t *testing.T) {
	f := NewFormatter(FormatTable)

	rendered, err := f.FormatFloodEvents(sampleEvents())
	require.NoError(t, err)
	require.Contains(t, rendered, "user.failed_login_ip")
	require.Contains(t, rendered, "2025-02-01T10:00:00Z")
	require.Contains(t, rendered, "2025-02-01T11:00:00Z")

	rendered, err = f.FormatRedirects(sampleRedirects())
	require.NoError(t, err)
	require.Contains(t, rendered, "/old")
	require.Contains(t, rendered, "/search?q=go")
	require.Contains(t, rendered, "internal:/new")

	rendered, err = f.FormatDecision(core.FloodDecision{Event: "contact", Identifier: "a", Threshold: 5, WindowSeconds: 3600})
	require.NoError(t, err)
	require.Contains(t, rendered, "blocked")
	require.Contains(t, rendered, "1h0m0s")
}

func TestMarkdownFormatter(t *testing.T) {
	f := NewFormatter(FormatMarkdown)

	rendered, err := f.FormatResolution(&redirect.Resolution{
		Chain:      sampleRedirects()[:1],
		Location:   "/new",
		StatusCode: 301,
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(strings.TrimSpace(rendered), "|"), "markdown tables start with a pipe")
	require.Contains(t, rendered, "/old")
	require.Contains(t, rendered, "/new")

	rendered, err = f.FormatResolution(nil)
	require.NoError(t, err)
	require.Empty(t, rendered)
}

func TestJSONFormatter(t *testing.T) {
	f := NewFormatter(FormatJSON)

	rendered, err := f.FormatRedirects(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", rendered)

	rendered, err = f.FormatFloodEvents(sampleEvents())
	require.NoError(t, err)
	var events []core.FloodEvent
	require.NoError(t, json.Unmarshal([]byte(rendered), &events))
	require.Len(t, events, 2)
	require.Equal(t, "7-10.0.0.2", events[1].Identifier)

	rendered, err = f.FormatDecision(core.FloodDecision{Event: "contact", Allowed: true, WindowSeconds: 60})
	require.NoError(t, err)
	require.Contains(t, rendered, `"allowed": true`)
	require.Contains(t, rendered, `"window_seconds": 60`)
}
