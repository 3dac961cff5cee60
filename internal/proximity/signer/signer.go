// Package signer produces and verifies the compact signed form of proximity
// tokens. It is stateless; usage state lives in the token store.
package signer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"venuepass/internal/proximity/models"
	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
)

// TokenType is the "type" claim of check-in tokens.
const TokenType = "qr_checkin"

const subjectPrefix = "venue:"

// Claims is the signed payload of a proximity token.
type Claims struct {
	Type    string `json:"type"`
	Scope   string `json:"scope"`
	VenueID string `json:"venue_id"`
	jwt.RegisteredClaims
}

// Verified is the parsed, checked content of a token.
type Verified struct {
	TokenID   id.TokenID
	VenueID   id.VenueID
	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Signer signs and verifies proximity tokens with an HMAC key.
type Signer struct {
	key      []byte
	issuer   string
	audience string
	method   jwt.SigningMethod
}

// New builds a Signer. algorithm is one of HS256, HS384, HS512.
func New(key, issuer, audience, algorithm string) (*Signer, error) {
	if key == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "signing key cannot be empty")
	}
	var method jwt.SigningMethod
	switch strings.ToUpper(algorithm) {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("unsupported signing algorithm %q", algorithm))
	}
	return &Signer{key: []byte(key), issuer: issuer, audience: audience, method: method}, nil
}

// Issue signs the opaque form of t. The signed expiry mirrors t.ValidUntil.
func (s *Signer) Issue(t *models.ProximityToken) (string, error) {
	claims := Claims{
		Type:    TokenType,
		Scope:   t.Scope,
		VenueID: t.VenueID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   subjectPrefix + t.VenueID.String(),
			ID:        t.ID.String(),
			IssuedAt:  jwt.NewNumericDate(t.ValidFrom),
			ExpiresAt: jwt.NewNumericDate(t.ValidUntil),
		},
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer, audience and expiry at now, then the
// payload shape. Expiry maps to CodeTokenExpired; every other failure to
// CodeInvalidToken.
func (s *Signer) Verify(opaque string, now time.Time) (*Verified, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var claims Claims
	parsed, err := parser.ParseWithClaims(opaque, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeTokenExpired, "token has expired")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidToken, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "invalid token")
	}
	return s.verified(&claims)
}

func (s *Signer) verified(c *Claims) (*Verified, error) {
	if c.Type != TokenType {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "unexpected token type")
	}
	tokenID, err := id.ParseTokenID(c.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidToken, "invalid token id")
	}
	venueID, err := id.ParseVenueID(c.VenueID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidToken, "invalid venue id")
	}
	if c.Subject != subjectPrefix+venueID.String() {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "subject does not match venue")
	}
	v := &Verified{TokenID: tokenID, VenueID: venueID, Scope: c.Scope}
	if c.IssuedAt != nil {
		v.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		v.ExpiresAt = c.ExpiresAt.Time
	}
	return v, nil
}
