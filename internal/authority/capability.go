// Package authority verifies the two credentials that gate registry writes: the
// freeze capability held by the admin authority, and the population pipeline key.
package authority

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "objectmap/pkg/domain-errors"
)

// ScopeFreeze is the only capability scope the registry recognises.
const ScopeFreeze = "registry:freeze"

// CapabilityClaims are the claims of a freeze capability token.
//
// The token is bound to its holder through Subject and to the single issued
// capability through ID (jti). Minting another token with a different jti does
// not produce a second valid capability.
type CapabilityClaims struct {
	Cap string `json:"cap"`
	jwt.RegisteredClaims
}

// Capabilities mints and verifies HS256 freeze capabilities.
type Capabilities struct {
	signingKey   []byte
	issuer       string
	capabilityID string
	now          func() time.Time
}

func NewCapabilities(signingKey, issuer, capabilityID string) *Capabilities {
	return &Capabilities{
		signingKey:   []byte(signingKey),
		issuer:       issuer,
		capabilityID: capabilityID,
		now:          time.Now,
	}
}

// Mint issues the capability to holder. A zero ttl produces a token without expiry.
func (c *Capabilities) Mint(holder string, ttl time.Duration) (string, error) {
	if holder == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "capability holder cannot be empty")
	}
	now := c.now()
	claims := CapabilityClaims{
		Cap: ScopeFreeze,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   c.issuer,
			Subject:  holder,
			ID:       c.capabilityID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey)
}

// Verify checks that capability is the registry's freeze capability and that
// caller is its holder.
func (c *Capabilities) Verify(_ context.Context, capability, caller string) error {
	if capability == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "capability missing")
	}
	if caller == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "caller missing")
	}

	parsed, err := jwt.ParseWithClaims(capability, &CapabilityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return c.signingKey, nil
	}, jwt.WithIssuer(c.issuer), jwt.WithTimeFunc(c.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return dErrors.New(dErrors.CodeUnauthorized, "capability has expired")
		}
		return dErrors.New(dErrors.CodeUnauthorized, "invalid capability")
	}

	claims, ok := parsed.Claims.(*CapabilityClaims)
	if !ok || !parsed.Valid {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid capability claims")
	}
	if claims.Cap != ScopeFreeze {
		return dErrors.New(dErrors.CodeUnauthorized, "capability does not grant freeze")
	}
	if subtle.ConstantTimeCompare([]byte(claims.ID), []byte(c.capabilityID)) != 1 {
		return dErrors.New(dErrors.CodeUnauthorized, "capability is not the issued capability")
	}
	if subtle.ConstantTimeCompare([]byte(claims.Subject), []byte(caller)) != 1 {
		return dErrors.New(dErrors.CodeUnauthorized, "caller does not hold the capability")
	}
	return nil
}

// Holder returns the subject of a capability without verifying it. Used for logging
// rejected calls only.
func Holder(capability string) string {
	claims := &CapabilityClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(capability, claims); err != nil {
		return ""
	}
	return claims.Subject
}
