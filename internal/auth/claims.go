package auth

import (
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Claims is the standard projection of a validated token plus the raw
// non-standard claims.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Scope     string

	// Raw holds the token's private claims.
	Raw map[string]interface{}
}

// claimsFromToken projects a verified token into Claims.
func claimsFromToken(tok jwt.Token) *Claims {
	c := &Claims{
		Subject:   tok.Subject(),
		Issuer:    tok.Issuer(),
		Audience:  tok.Audience(),
		ExpiresAt: tok.Expiration(),
		IssuedAt:  tok.IssuedAt(),
		Raw:       tok.PrivateClaims(),
	}

	if scope, ok := c.Raw["scope"].(string); ok {
		c.Scope = scope
	}

	return c
}

// GetClaim returns a private claim by name.
func (c *Claims) GetClaim(name string) (interface{}, bool) {
	v, ok := c.Raw[name]
	return v, ok
}

// HasScope reports whether the space-separated scope claim contains the
// given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range strings.Fields(c.Scope) {
		if s == scope {
			return true
		}
	}
	return false
}
