package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestIsJWT(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"a.b.c", true},
		{"eyJ.eyJ.sig", true},
		{"not-a-jwt", false},
		{"a.b", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsJWT(tt.input); got != tt.want {
			t.Errorf("IsJWT(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestDecodeJWT(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","kid":"test-key"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"user1","iss":"https://example.com"}`))
	token := header + "." + payload + ".signature"

	h, p, sig := DecodeJWT(token)
	if !strings.Contains(h, "RS256") {
		t.Errorf("header should contain RS256, got: %s", h)
	}
	if !strings.Contains(p, "user1") {
		t.Errorf("payload should contain user1, got: %s", p)
	}
	if sig != "signature" {
		t.Errorf("signature = %q, want signature", sig)
	}
}

func TestDecodeJWTPayload(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"123","iat":1700000000}`))

	t.Run("valid", func(t *testing.T) {
		claims, err := DecodeJWTPayload(header + "." + payload + ".sig")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if claims["sub"] != "123" {
			t.Errorf("sub = %v, want 123", claims["sub"])
		}
		if n, ok := claims["iat"].(json.Number); !ok || n.String() != "1700000000" {
			t.Errorf("iat = %#v, want json.Number 1700000000", claims["iat"])
		}
	})

	t.Run("padded payload", func(t *testing.T) {
		padded := base64.URLEncoding.EncodeToString([]byte(`{"sub":"1"}`))
		claims, err := DecodeJWTPayload(header + "." + padded + ".sig")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if claims["sub"] != "1" {
			t.Errorf("sub = %v, want 1", claims["sub"])
		}
	})

	errCases := []struct {
		name  string
		token string
	}{
		{"two segments", header + "." + payload},
		{"four segments", header + "." + payload + ".sig.extra"},
		{"payload not base64", "not.a.validtoken"},
		{"payload not JSON", header + "." + base64.RawURLEncoding.EncodeToString([]byte("hello")) + ".sig"},
		{"payload JSON array", header + "." + base64.RawURLEncoding.EncodeToString([]byte(`[1,2]`)) + ".sig"},
		{"empty payload", header + "..sig"},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := DecodeJWTPayload(tt.token)
			if err == nil {
				t.Fatalf("expected error, got claims %v", claims)
			}
			if !errors.Is(err, ErrMalformedJWT) {
				t.Errorf("error %v should wrap ErrMalformedJWT", err)
			}
		})
	}
}

func TestDecodeJWTHeader(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	h, err := DecodeJWTHeader(header + ".e30.sig")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h["alg"] != "RS256" {
		t.Errorf("alg = %v, want RS256", h["alg"])
	}
}

func TestExtractJWTHeaderInfo(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","kid":"my-key-id"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"test"}`))
	token := header + "." + payload + ".sig"

	alg, kid := ExtractJWTHeaderInfo(token)
	if alg != "RS256" {
		t.Errorf("alg = %q, want RS256", alg)
	}
	if kid != "my-key-id" {
		t.Errorf("kid = %q, want my-key-id", kid)
	}
}
