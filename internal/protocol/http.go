package protocol

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// CleanGoErrorMessage removes Go HTTP client prefixes like `Post "http://...": `.
func CleanGoErrorMessage(msg string) string {
	for _, method := range []string{"Get", "Post", "Head", "Put", "Delete", "Patch"} {
		prefix := method + " \""
		if strings.HasPrefix(msg, prefix) {
			if idx := strings.Index(msg[len(prefix):], "\": "); idx >= 0 {
				return msg[len(prefix)+idx+3:]
			}
		}
	}
	return msg
}

// FormatHTTPStatusLine formats "HTTP/1.1 200 OK".
func FormatHTTPStatusLine(statusCode int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", statusCode, http.StatusText(statusCode))
}

// FormatHTTPHeaders formats http.Header into raw HTTP header text.
// Header names are sorted for stable output.
func FormatHTTPHeaders(headers http.Header) string {
	var names []string
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		for _, value := range headers[name] {
			b.WriteString(name + ": " + value + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatFormPreview renders a form POST as "POST {url}" followed by the encoded
// body, broken before every "&" so each parameter reads on its own line.
func FormatFormPreview(endpoint string, body url.Values) string {
	encoded := body.Encode()
	if encoded == "" {
		return "POST " + endpoint
	}
	return "POST " + endpoint + "\n" + strings.ReplaceAll(encoded, "&", "\n&")
}

// IsJSONContentType reports whether a Content-Type names a JSON document.
func IsJSONContentType(contentType string) bool {
	ct, _, _ := mime.ParseMediaType(contentType)
	return ct == "application/json" || strings.HasSuffix(ct, "+json")
}
