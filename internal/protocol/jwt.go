package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedJWT is returned when a token does not decode as a compact JWS.
var ErrMalformedJWT = errors.New("malformed JWT")

// segmentParser decodes JWT segments; signatures are never checked here.
var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// IsJWT returns true if the string has the 3-part JWT structure.
func IsJWT(s string) bool {
	return strings.Count(s, ".") == 2
}

// DecodeJWT decodes a JWT's header, payload, and signature.
// Header and payload are pretty-printed JSON; signature is the raw base64url string.
func DecodeJWT(token string) (header, payload, signature string) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) < 2 {
		return token, "", ""
	}
	header = decodeSegmentPretty(parts[0])
	payload = decodeSegmentPretty(parts[1])
	if len(parts) == 3 {
		signature = parts[2]
	}
	return
}

// DecodeJWTRaw decodes a JWT's header and payload as raw bytes.
func DecodeJWTRaw(token string) (header, payload []byte) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) < 2 {
		return []byte(token), nil
	}
	h, _ := segmentParser.DecodeSegment(parts[0])
	p, _ := segmentParser.DecodeSegment(parts[1])
	return h, p
}

// DecodeJWTPayload strictly decodes the claims segment of a JWT.
// The token must have exactly three segments and the payload must be a JSON object.
// Numbers are kept as json.Number.
func DecodeJWTPayload(token string) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedJWT, len(parts))
	}
	return decodeSegmentObject(parts[1], "payload")
}

// DecodeJWTHeader strictly decodes the JOSE header of a JWT.
func DecodeJWTHeader(token string) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedJWT, len(parts))
	}
	return decodeSegmentObject(parts[0], "header")
}

// ExtractJWTHeaderInfo extracts the algorithm and key ID from a JWT header.
func ExtractJWTHeaderInfo(jwtRaw string) (alg, kid string) {
	headerRaw, _ := DecodeJWTRaw(jwtRaw)
	if headerRaw == nil {
		return
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if json.Unmarshal(headerRaw, &header) == nil {
		alg = header.Alg
		kid = header.Kid
	}
	return
}

func decodeSegmentObject(seg, name string) (map[string]any, error) {
	if seg == "" {
		return nil, fmt.Errorf("%w: empty %s", ErrMalformedJWT, name)
	}
	raw, err := segmentParser.DecodeSegment(seg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not base64url: %v", ErrMalformedJWT, name, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var claims map[string]any
	if err := dec.Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: %s is not a JSON object: %v", ErrMalformedJWT, name, err)
	}
	if claims == nil {
		return nil, fmt.Errorf("%w: %s is null", ErrMalformedJWT, name)
	}
	return claims, nil
}

func decodeSegmentPretty(s string) string {
	b, err := segmentParser.DecodeSegment(s)
	if err != nil {
		return s
	}
	return PrettyJSON(json.RawMessage(b))
}
