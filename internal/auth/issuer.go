// Package auth issues and verifies the gateway's access tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Claim names carried beyond the registered set.
const (
	claimClientID = "client_id"
	claimScope    = "scope"
)

var (
	// ErrTokenInvalid indicates a token that failed signature or
	// structural validation.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrTokenExpired indicates a token past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// TokenPair is the response body of a successful token grant.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Claims is the verified identity carried by an access token.
type Claims struct {
	Subject  string
	ClientID string
	Scope    string
	TokenID  string
	IssuedAt time.Time
	Expiry   time.Time
}

// Issuer signs and verifies access tokens with a shared HMAC key.
type Issuer struct {
	issuer    string
	key       []byte
	accessTTL time.Duration
	now       func() time.Time
}

// NewIssuer builds an Issuer. The key must not be empty.
func NewIssuer(issuer string, key []byte, accessTTL time.Duration) (*Issuer, error) {
	if len(key) == 0 {
		return nil, errors.New("auth: signing key is required")
	}
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &Issuer{
		issuer:    issuer,
		key:       key,
		accessTTL: accessTTL,
		now:       time.Now,
	}, nil
}

// Issue creates a signed token pair for a subject acting through a
// client.
func (i *Issuer) Issue(subject, clientID, scope string) (*TokenPair, error) {
	now := i.now()

	builder := jwt.NewBuilder().
		Issuer(i.issuer).
		Subject(subject).
		JwtID(uuid.NewString()).
		IssuedAt(now).
		Expiration(now.Add(i.accessTTL)).
		Claim(claimClientID, clientID)
	if scope != "" {
		builder = builder.Claim(claimScope, scope)
	}

	token, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, i.key))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	refresh, err := i.issueRefresh(subject, clientID, now)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  string(signed),
		TokenType:    "Bearer",
		ExpiresIn:    int64(i.accessTTL.Seconds()),
		RefreshToken: refresh,
		Scope:        scope,
	}, nil
}

// issueRefresh creates the long-lived companion token.
func (i *Issuer) issueRefresh(subject, clientID string, now time.Time) (string, error) {
	token, err := jwt.NewBuilder().
		Issuer(i.issuer).
		Subject(subject).
		JwtID(uuid.NewString()).
		IssuedAt(now).
		Expiration(now.Add(30 * 24 * time.Hour)).
		Claim(claimClientID, clientID).
		Claim("token_use", "refresh").
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build refresh token: %w", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, i.key))
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return string(signed), nil
}

// Verify checks the signature and registered claims of a token and
// returns its identity.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, i.key),
		jwt.WithIssuer(i.issuer),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(i.now)),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims := &Claims{
		Subject:  token.Subject(),
		TokenID:  token.JwtID(),
		IssuedAt: token.IssuedAt(),
		Expiry:   token.Expiration(),
	}
	if v, ok := token.Get(claimClientID); ok {
		claims.ClientID, _ = v.(string)
	}
	if v, ok := token.Get(claimScope); ok {
		claims.Scope, _ = v.(string)
	}
	return claims, nil
}
