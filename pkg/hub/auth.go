package hub

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a client token and yields the player id claim.
// The token itself is issued by the external login surface.
type Verifier interface {
	Verify(token string) (playerID string, err error)
}

// JWTVerifier verifies HMAC-signed JWTs carrying the player id in the
// "player_id" claim, falling back to the subject.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

// JWTOption customizes verification.
type JWTOption func(*JWTVerifier)

// WithIssuer requires the iss claim to match.
func WithIssuer(iss string) JWTOption {
	return func(v *JWTVerifier) { v.issuer = iss }
}

// WithAudience requires the aud claim to contain the value.
func WithAudience(aud string) JWTOption {
	return func(v *JWTVerifier) { v.audience = aud }
}

// NewJWTVerifier creates a verifier for tokens signed with the given secret.
func NewJWTVerifier(secret string, opts ...JWTOption) *JWTVerifier {
	v := &JWTVerifier{secret: []byte(secret)}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify parses and validates the token and returns the player id.
func (v *JWTVerifier) Verify(token string) (string, error) {
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	if id, ok := claims["player_id"].(string); ok && id != "" {
		return id, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("%w: token carries no player id", ErrUnauthorized)
}

var _ Verifier = (*JWTVerifier)(nil)
