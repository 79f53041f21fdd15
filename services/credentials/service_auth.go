package credentials

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ServiceAuthenticator decorates the outbound validation request with the
// bridge's own service credential.
type ServiceAuthenticator interface {
	Apply(req *http.Request) error
}

// StaticServiceAuth sends a fixed shared secret in Header.
type StaticServiceAuth struct {
	Header string
	Token  string
}

// Apply implements ServiceAuthenticator
func (a StaticServiceAuth) Apply(req *http.Request) error {
	req.Header.Set(a.Header, a.Token)
	return nil
}

// SignedServiceAuth mints a short-lived HS256 JWT per request and sends it
// as a bearer value in Header.
type SignedServiceAuth struct {
	Header   string
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
	now      func() time.Time
}

// NewSignedServiceAuth creates a SignedServiceAuth with a one minute token lifetime.
func NewSignedServiceAuth(header, secret, issuer, audience string) *SignedServiceAuth {
	return &SignedServiceAuth{
		Header:   header,
		Secret:   []byte(secret),
		Issuer:   issuer,
		Audience: audience,
		TTL:      time.Minute,
		now:      time.Now,
	}
}

// Apply implements ServiceAuthenticator
func (a *SignedServiceAuth) Apply(req *http.Request) error {
	token, err := a.Mint()
	if err != nil {
		return err
	}
	req.Header.Set(a.Header, "Bearer "+token)
	return nil
}

// Mint returns a signed service token.
func (a *SignedServiceAuth) Mint() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.Issuer,
		Subject:   a.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.TTL)),
		ID:        uuid.NewString(),
	}
	if a.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}

// NewServiceAuthenticator picks the signed mode when a secret is configured,
// the static mode when only a token is, and nil otherwise.
func NewServiceAuthenticator(header, token, secret, issuer, audience string) ServiceAuthenticator {
	switch {
	case header == "":
		return nil
	case secret != "":
		return NewSignedServiceAuth(header, secret, issuer, audience)
	case token != "":
		return StaticServiceAuth{Header: header, Token: token}
	default:
		return nil
	}
}
