package output

import (
	"encoding/json"

	"github.com/floodgate/floodgate/internal/core"
	"github.com/floodgate/floodgate/internal/core/redirect"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatFloodEvents(events []core.FloodEvent) (string, error) {
	if events == nil {
		events = []core.FloodEvent{}
	}
	return f.render(events)
}

func (f *JSONFormatter) FormatDecision(decision core.FloodDecision) (string, error) {
	return f.render(decision)
}

func (f *JSONFormatter) FormatRedirects(redirects []core.Redirect) (string, error) {
	if redirects == nil {
		redirects = []core.Redirect{}
	}
	return f.render(redirects)
}

func (f *JSONFormatter) FormatResolution(resolution *redirect.Resolution) (string, error) {
	if resolution == nil {
		return "", nil
	}
	return f.render(resolution)
}

func (f *JSONFormatter) render(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
