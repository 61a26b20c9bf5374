package protocol

import (
	"errors"
	"net/url"
	"sort"
	"strings"
)

// ParseURLValues parses the parameters carried by a URL, a "?query", a "#fragment",
// or a bare query string (key=value&...). When both a query and a fragment are
// present, fragment values replace query values of the same key.
//
// Parsing is lenient: malformed pairs are skipped and reported in the returned
// error while every readable pair is still returned.
func ParseURLValues(raw string) (url.Values, error) {
	values := url.Values{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return values, nil
	}

	rest, fragment, hasFragment := strings.Cut(raw, "#")

	query := queryPart(rest)

	var errs []error
	if query != "" {
		q, err := url.ParseQuery(query)
		if err != nil {
			errs = append(errs, err)
		}
		for k, v := range q {
			values[k] = v
		}
	}
	if hasFragment && fragment != "" {
		f, err := url.ParseQuery(fragment)
		if err != nil {
			errs = append(errs, err)
		}
		for k, v := range f {
			values[k] = v
		}
	}
	return values, errors.Join(errs...)
}

// queryPart returns the query of s, which is a URL, a path or a bare query.
// A "?" counts as the query separator only when it precedes the first pair,
// so unencoded URLs inside bare query values (iss=https://...) stay intact.
func queryPart(s string) string {
	if strings.HasPrefix(s, "/") || hasScheme(s) {
		_, q, _ := strings.Cut(s, "?")
		return q
	}
	if i := strings.IndexByte(s, '?'); i >= 0 && !strings.ContainsAny(s[:i], "=&") {
		return s[i+1:]
	}
	return s
}

// hasScheme reports whether s starts with "scheme://" before any key=value pair.
func hasScheme(s string) bool {
	i := strings.Index(s, "://")
	return i > 0 && !strings.ContainsAny(s[:i], "=&?")
}

// ParseURLParams parses a URL or query string into sorted key-value pairs.
// It handles full URLs (with ? or #) and bare query strings (key=value&...).
// Returns nil if the input is empty or carries no parameters.
func ParseURLParams(raw string) []KeyValue {
	values, _ := ParseURLValues(raw)
	return SortedParams(values)
}

// SortedParams flattens values into key-sorted pairs, keeping value order per key.
func SortedParams(values url.Values) []KeyValue {
	if len(values) == 0 {
		return nil
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]KeyValue, 0, len(keys))
	for _, k := range keys {
		for _, v := range values[k] {
			result = append(result, KeyValue{Key: k, Value: v})
		}
	}
	return result
}

// KeyValue represents a parsed URL parameter.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
