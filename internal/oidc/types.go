package oidc

import (
	"encoding/json"

	"github.com/wadahiro/oauthfiddler/internal/authz"
	"github.com/wadahiro/oauthfiddler/internal/callback"
	"github.com/wadahiro/oauthfiddler/internal/discovery"
	"github.com/wadahiro/oauthfiddler/internal/exchange"
	"github.com/wadahiro/oauthfiddler/internal/protocol"
)

// errorResponse is the body of every non-2xx JSON answer.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// authorizeResponse answers a dry-run /authorize.
type authorizeResponse struct {
	AuthorizationURL string                        `json:"authorization_url"`
	Params           []protocol.KeyValue           `json:"params"`
	Parameters       authz.AuthorizationParameters `json:"parameters"`
	ChallengeStatus  string                        `json:"challenge_status"`
	ChallengeError   string                        `json:"challenge_error,omitempty"`
}

// exchangePreview is the token request a callback would send.
type exchangePreview struct {
	Request exchange.Request `json:"request"`
	Preview string           `json:"preview"`
}

// callbackResponse answers GET {callback_path} and POST /decode.
type callbackResponse struct {
	Result       callback.Result     `json:"result"`
	Fields       []callback.Field    `json:"fields"`
	Claims       []protocol.KeyValue `json:"claims,omitempty"`
	IDTokenError string              `json:"id_token_error,omitempty"`
	ParamsError  string              `json:"params_error,omitempty"`
	Note         string              `json:"note,omitempty"`
	Exchange     *exchangePreview    `json:"exchange,omitempty"`
}

// exchangeResponse answers POST /exchange.
type exchangeResponse struct {
	Request exchange.Request `json:"request"`
	Preview string           `json:"preview"`
	Result  *exchange.Result `json:"result"`
}

// discoverResponse answers GET /discover.
type discoverResponse struct {
	Metadata discovery.Metadata `json:"metadata"`
	Raw      json.RawMessage    `json:"raw"`
}
