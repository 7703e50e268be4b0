// Package auth implements PipeGate's handshake authentication: a pluggable
// bearer-token Validator plus the WebSocket upgrade gate that uses it. The
// server only ever validates a token presented at connect time; it never
// issues or refreshes one.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Validator decides whether a presented bearer token authorizes a tunnel
// connection. Implementations must not leak timing information about why a
// token was rejected.
type Validator interface {
	Validate(token string) bool
}

// StaticTokenValidator accepts exactly one shared secret, compared in
// constant time.
type StaticTokenValidator struct {
	token []byte
}

// NewStaticTokenValidator returns a Validator that accepts only token.
func NewStaticTokenValidator(token string) *StaticTokenValidator {
	return &StaticTokenValidator{token: []byte(token)}
}

func (v *StaticTokenValidator) Validate(token string) bool {
	if len(token) == 0 || len(v.token) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), v.token) == 1
}

// JWTValidator accepts a token whose HMAC signature verifies against secret
// and whose time claims (such as exp) are valid, so expired tokens are
// rejected. It validates only; token issuance lives outside the tunnel.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator returns a Validator backed by HMAC-signed JWTs.
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

func (v *JWTValidator) Validate(token string) bool {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	return err == nil && parsed.Valid
}

// ExtractToken pulls a bearer token from r: the Authorization header takes
// precedence ("Bearer <token>"), falling back to a "token" query parameter
// for clients that cannot set WebSocket headers during the upgrade.
func ExtractToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(h, prefix) {
			return strings.TrimPrefix(h, prefix), true
		}
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, true
	}
	return "", false
}
