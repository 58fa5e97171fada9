package output

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/floodgate/floodgate/internal/core"
	"github.com/floodgate/floodgate/internal/core/redirect"
)

// TableFormatter renders results as rounded ASCII tables, or Markdown tables
// when Markdown is set.
type TableFormatter struct {
	Markdown bool
}

// FormatFloodEvents renders one row per recorded event.
func (f *TableFormatter) FormatFloodEvents(events []core.FloodEvent) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"FID", "Event", "Identifier", "Recorded", "Expires"})
	for _, event := range events {
		t.AppendRow(table.Row{
			event.ID,
			event.Event,
			event.Identifier,
			formatUnix(event.Timestamp),
			formatUnix(event.Expiration),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(events)})
	return f.render(t), nil
}

// FormatDecision renders a single flood check.
func (f *TableFormatter) FormatDecision(decision core.FloodDecision) (string, error) {
	status := "allowed"
	if !decision.Allowed {
		status = "blocked"
	}

	t := f.newWriter()
	t.AppendHeader(table.Row{"Event", "Identifier", "Status", "Threshold", "Window"})
	t.AppendRow(table.Row{
		decision.Event,
		decision.Identifier,
		status,
		decision.Threshold,
		(time.Duration(decision.WindowSeconds) * time.Second).String(),
	})
	return f.render(t), nil
}

// FormatRedirects renders the redirect listing.
func (f *TableFormatter) FormatRedirects(redirects []core.Redirect) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"RID", "Source", "Language", "Destination", "Status", "Enabled"})
	for _, r := range redirects {
		t.AppendRow(table.Row{
			r.ID,
			sourceLabel(r),
			r.Language,
			r.Destination,
			r.StatusCode,
			strconv.FormatBool(r.Enabled),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(redirects)})
	return f.render(t), nil
}

// FormatResolution renders each hop of a resolved chain and the final target.
func (f *TableFormatter) FormatResolution(resolution *redirect.Resolution) (string, error) {
	if resolution == nil {
		return "", nil
	}

	t := f.newWriter()
	t.AppendHeader(table.Row{"Hop", "RID", "Source", "Destination"})
	for i, hop := range resolution.Chain {
		t.AppendRow(table.Row{i + 1, hop.ID, sourceLabel(hop), hop.Destination})
	}
	t.AppendFooter(table.Row{"", strconv.Itoa(resolution.StatusCode), "Location", resolution.Location})
	return f.render(t), nil
}

func (f *TableFormatter) newWriter() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func (f *TableFormatter) render(t table.Writer) string {
	if f.Markdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}

func sourceLabel(r core.Redirect) string {
	source := "/" + strings.TrimLeft(r.SourcePath, "/")
	if len(r.SourceQuery) == 0 {
		return source
	}
	query := redirect.ValuesFromQuery(r.SourceQuery).Encode()
	if query == "" {
		data, err := json.Marshal(r.SourceQuery)
		if err != nil {
			return source
		}
		return source + " " + string(data)
	}
	return fmt.Sprintf("%s?%s", source, query)
}

func formatUnix(ts int64) string {
	if ts <= 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
