package protocol

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RandomHex generates a hex-encoded random string of n bytes.
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return HexEncode(b), nil
}

// SHA256 returns the SHA-256 digest of the UTF-8 bytes of s.
func SHA256(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// Base64URLEncode encodes b as unpadded base64url (RFC 4648 section 5).
func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64URLDecode decodes base64url input. Trailing padding is tolerated.
func Base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// HexEncode encodes b as lowercase hex.
func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// SortedKeys returns the sorted keys of a string-keyed map.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PrettyJSON formats a JSON RawMessage with indentation.
// Input that is not valid JSON is returned unchanged.
func PrettyJSON(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(data)
	}
	return string(b)
}

// DisplayLocation is the timezone location configured for display.
// Set from config.Timezone via time.LoadLocation.
var DisplayLocation *time.Location

// TimestampClaims is the set of claim names that contain Unix timestamps.
var TimestampClaims = map[string]bool{
	"auth_time":  true,
	"exp":        true,
	"iat":        true,
	"nbf":        true,
	"updated_at": true,
}

// FormatClaimValue formats a claim value, with special handling for timestamps.
// Preserves raw value and shows UTC + configured timezone if different.
func FormatClaimValue(key string, v any) string {
	raw := FormatValue(v)
	if !TimestampClaims[key] {
		return raw
	}
	var sec int64
	switch n := v.(type) {
	case float64:
		if n != float64(int64(n)) {
			return raw
		}
		sec = int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return raw
		}
		sec = i
	default:
		return raw
	}
	t := time.Unix(sec, 0)
	utcStr := t.UTC().Format("2006-01-02T15:04:05 MST")
	if DisplayLocation != nil && DisplayLocation != time.UTC {
		localStr := t.In(DisplayLocation).Format("2006-01-02T15:04:05 MST")
		return fmt.Sprintf("%s (%s / %s)", raw, utcStr, localStr)
	}
	return fmt.Sprintf("%s (%s)", raw, utcStr)
}

// FormatValue formats a value for display, handling numeric types.
func FormatValue(v any) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%g", n)
	case json.Number:
		return n.String()
	case string:
		return n
	case []any, map[string]any:
		b, err := json.Marshal(n)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}
