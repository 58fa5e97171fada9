package redirect

import (
	"net/url"
	"strings"
)

const internalScheme = "internal:"

// target is a parsed redirect destination.
type target struct {
	internal bool
	path     string
	query    url.Values
	fragment string
	raw      *url.URL
}

// parseDestination accepts "internal:/path?q", "/path?q" and absolute
// http(s) URLs. Only internal destinations can chain into other redirects.
func parseDestination(destination string) (target, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return target{}, invalidf("destination is required")
	}

	internal := false
	if strings.HasPrefix(destination, internalScheme) {
		internal = true
		destination = strings.TrimPrefix(destination, internalScheme)
		if !strings.HasPrefix(destination, "/") {
			destination = "/" + destination
		}
	} else if strings.HasPrefix(destination, "/") && !strings.HasPrefix(destination, "//") {
		internal = true
	}

	parsed, err := url.Parse(destination)
	if err != nil {
		return target{}, invalidf("destination %q: %v", destination, err)
	}

	if internal {
		return target{
			internal: true,
			path:     strings.TrimLeft(parsed.Path, "/"),
			query:    parsed.Query(),
			fragment: parsed.Fragment,
		}, nil
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return target{}, invalidf("destination %q must be internal or an http(s) URL", destination)
	}
	if parsed.Host == "" {
		return target{}, invalidf("destination %q has no host", destination)
	}
	return target{raw: parsed, query: parsed.Query(), fragment: parsed.Fragment}, nil
}

// location renders the target as a Location header value. requestQuery is
// merged underneath the destination query when non-nil.
func (t target) location(requestQuery url.Values) string {
	query := url.Values{}
	for key, values := range requestQuery {
		query[key] = append([]string(nil), values...)
	}
	for key, values := range t.query {
		query[key] = append([]string(nil), values...)
	}

	if t.internal {
		out := &url.URL{Path: "/" + t.path, RawQuery: query.Encode(), Fragment: t.fragment}
		return out.String()
	}

	out := *t.raw
	out.RawQuery = query.Encode()
	return out.String()
}

// SplitRequestPath separates "path?query" into the path and parsed query.
func SplitRequestPath(raw string) (string, url.Values, error) {
	path, rawQuery, found := strings.Cut(raw, "?")
	if !found || rawQuery == "" {
		return path, nil, nil
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", nil, invalidf("query %q: %v", rawQuery, err)
	}
	return path, query, nil
}
