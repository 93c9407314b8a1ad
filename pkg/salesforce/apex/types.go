package sfapex

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrSession means the org refused to issue a session, or the token
	// endpoint could not be reached or understood.
	ErrSession = errors.New("salesforce session error")

	// ErrUpstreamCall means the Apex call itself failed: transport error,
	// non-2xx status or a body that is not JSON.
	ErrUpstreamCall = errors.New("salesforce apex call failed")

	ErrInvalidMethod = errors.New("unsupported apex method")
)

// Session is an authenticated handle on the org.
type Session struct {
	AccessToken string
	InstanceURL string
	IssuedAt    time.Time

	// Reused is true when the session came out of a cache rather than a
	// fresh token exchange.
	Reused bool
}

// APIError is returned when the Apex endpoint answers with a non-2xx status.
// The body is kept verbatim; it is never interpreted.
type APIError struct {
	Endpoint   string
	Method     string
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apex %s %s returned %d %s", e.Method, e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *APIError) Unwrap() error { return ErrUpstreamCall }

// Unauthorized reports whether the org rejected the session token.
func (e *APIError) Unauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

// AuthResponse represents the OAuth token response
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
	InstanceURL string `json:"instance_url"`
	ID          string `json:"id"`
	TokenType   string `json:"token_type"`
	IssuedAt    string `json:"issued_at"`
}

// AuthErrorResponse is the body of a rejected token request.
type AuthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
