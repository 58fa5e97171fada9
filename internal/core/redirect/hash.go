// Package redirect resolves request paths to stored redirects, following
// chains and refusing loops.
package redirect

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/floodgate/floodgate/internal/core"
)

// GenerateHash returns the lookup hash for a source path, query and language.
// The path is lowercased and stripped of leading slashes; query values are
// normalized to strings so "2" and 2 hash alike.
func GenerateHash(path string, query map[string]any, language string) string {
	if language == "" {
		language = core.LanguageNotSpecified
	}

	payload := map[string]any{
		"source":   strings.ToLower(strings.TrimLeft(path, "/")),
		"language": language,
	}
	if len(query) > 0 {
		payload["source_query"] = NormalizeQuery(query)
	}

	// encoding/json sorts map keys, which makes the encoding canonical.
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", payload))
	}
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// candidateHashes lists hashes to look up, most specific first.
func candidateHashes(path string, query map[string]any, language string, passthrough bool) []string {
	hashes := []string{GenerateHash(path, query, language)}
	if language != core.LanguageNotSpecified {
		hashes = append(hashes, GenerateHash(path, query, core.LanguageNotSpecified))
	}

	if len(query) > 0 && passthrough {
		hashes = append(hashes, GenerateHash(path, nil, language))
		if language != core.LanguageNotSpecified {
			hashes = append(hashes, GenerateHash(path, nil, core.LanguageNotSpecified))
		}
	}
	return hashes
}

// NormalizeQuery converts query values to strings, lists and nested maps so
// that decoded JSON, YAML and url.Values forms compare equal.
func NormalizeQuery(query map[string]any) map[string]any {
	if len(query) == 0 {
		return nil
	}
	out := make(map[string]any, len(query))
	for key, value := range query {
		out[key] = normalizeValue(value)
	}
	return out
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = item
		}
		return list
	case []any:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = normalizeValue(item)
		}
		return list
	case map[string]any:
		return NormalizeQuery(v)
	default:
		return fmt.Sprint(v)
	}
}

// QueryFromValues converts parsed URL values. Single values become strings,
// repeated keys become lists.
func QueryFromValues(values url.Values) map[string]any {
	if len(values) == 0 {
		return nil
	}
	query := make(map[string]any, len(values))
	for key, list := range values {
		switch len(list) {
		case 0:
			query[key] = ""
		case 1:
			query[key] = list[0]
		default:
			items := make([]any, len(list))
			for i, item := range list {
				items[i] = item
			}
			query[key] = items
		}
	}
	return query
}

// ValuesFromQuery is the inverse of QueryFromValues. Nested maps flatten to
// key[sub] form.
func ValuesFromQuery(query map[string]any) url.Values {
	values := url.Values{}
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		addValue(values, key, query[key])
	}
	return values
}

func addValue(values url.Values, key string, value any) {
	switch v := normalizeValue(value).(type) {
	case string:
		values.Add(key, v)
	case []any:
		for _, item := range v {
			addValue(values, key, item)
		}
	case map[string]any:
		for sub, item := range v {
			addValue(values, key+"["+sub+"]", item)
		}
	}
}
