package authz

import (
	"context"
	"fmt"

	"github.com/wadahiro/oauthfiddler/internal/protocol"
)

// verifierBytes is the entropy of a generated code_verifier (RFC 7636 section 7.1).
const verifierBytes = 32

// ChallengeStatus describes the derivation state of the PKCE challenge.
type ChallengeStatus int

const (
	// ChallengeEmpty means there is no verifier to derive from.
	ChallengeEmpty ChallengeStatus = iota
	// ChallengePending means a digest is in flight; the challenge reads as empty.
	ChallengePending
	// ChallengeReady means the challenge matches the current verifier and method.
	ChallengeReady
	// ChallengeFailed means derivation failed; the challenge stays empty.
	ChallengeFailed
)

func (s ChallengeStatus) String() string {
	switch s {
	case ChallengeEmpty:
		return "empty"
	case ChallengePending:
		return "pending"
	case ChallengeReady:
		return "ready"
	case ChallengeFailed:
		return "failed"
	}
	return fmt.Sprintf("ChallengeStatus(%d)", int(s))
}

// Deriver computes a code_challenge. It may block; the model runs it off the
// caller's goroutine for S256.
type Deriver func(ctx context.Context, verifier string, method PKCEMethod) (string, error)

// DeriveChallenge computes the code_challenge for verifier.
// PLAIN returns the verifier unchanged; S256 returns the unpadded base64url
// SHA-256 digest of the verifier's UTF-8 bytes. An empty verifier yields "".
func DeriveChallenge(verifier string, method PKCEMethod) (string, error) {
	if verifier == "" {
		return "", nil
	}
	switch method {
	case PKCEMethodPlain:
		return verifier, nil
	case PKCEMethodS256:
		return protocol.Base64URLEncode(protocol.SHA256(verifier)), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPKCEMethod, method)
}

func defaultDeriver(_ context.Context, verifier string, method PKCEMethod) (string, error) {
	return DeriveChallenge(verifier, method)
}

// GenerateVerifier returns a fresh code_verifier: 32 random bytes rendered as 64 hex characters.
func GenerateVerifier() (string, error) {
	v, err := protocol.RandomHex(verifierBytes)
	if err != nil {
		return "", fmt.Errorf("generate PKCE verifier: %w", err)
	}
	return v, nil
}
