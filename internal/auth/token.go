// Package auth validates room-access JWTs (§4.2). It is a pure function of
// (token, secret, now); the validator holds no state and shares nothing with
// the rest of the process.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expectedIssuer is the only issuer the core trusts; tokens are minted by
// the meeting API, an external collaborator this package never talks to.
const expectedIssuer = "videocall-meeting-backend"

// Identity is the participant identity extracted from a validated token.
type Identity struct {
	Email       string // JWT "sub"
	Room        string // room this token grants access to
	IsHost      bool
	DisplayName string
	Expiry      time.Time
}

// Reason enumerates why token validation failed, for diagnostics and the
// MEETING/ERROR "UNAUTHORIZED" frame (§7).
type Reason string

const (
	ReasonMalformed    Reason = "malformed"
	ReasonBadSignature Reason = "bad_signature"
	ReasonExpired      Reason = "expired"
	ReasonBadIssuer    Reason = "bad_issuer"
	ReasonNotJoinGrant Reason = "not_join_grant"
	ReasonMissingClaim Reason = "missing_claim"
)

// InvalidTokenError is returned by Validate when any required check fails.
type InvalidTokenError struct {
	Reason Reason
	Detail string
}

func (e *InvalidTokenError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invalid token: %s (%s)", e.Reason, e.Detail)
	}
	return fmt.Sprintf("invalid token: %s", e.Reason)
}

type claims struct {
	Subject     string `json:"sub"`
	Room        string `json:"room"`
	RoomJoin    bool   `json:"room_join"`
	IsHost      bool   `json:"is_host"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// Validate checks the HS256 signature, expiry, issuer, room_join grant and
// required claims, then returns the Identity the token authorizes. now is
// passed explicitly so the function stays pure and deterministic for tests.
func Validate(tokenString string, sharedSecret []byte, now time.Time) (Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var c claims
	_, err := parser.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		return sharedSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, &InvalidTokenError{Reason: ReasonExpired}
		}
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return Identity{}, &InvalidTokenError{Reason: ReasonBadSignature}
		}
		return Identity{}, &InvalidTokenError{Reason: ReasonMalformed, Detail: err.Error()}
	}

	if c.Issuer != expectedIssuer {
		return Identity{}, &InvalidTokenError{Reason: ReasonBadIssuer, Detail: c.Issuer}
	}
	if !c.RoomJoin {
		return Identity{}, &InvalidTokenError{Reason: ReasonNotJoinGrant}
	}
	if c.Subject == "" || c.Room == "" || c.DisplayName == "" {
		return Identity{}, &InvalidTokenError{Reason: ReasonMissingClaim}
	}

	var expiry time.Time
	if c.ExpiresAt != nil {
		expiry = c.ExpiresAt.Time
	}

	return Identity{
		Email:       c.Subject,
		Room:        c.Room,
		IsHost:      c.IsHost,
		DisplayName: c.DisplayName,
		Expiry:      expiry,
	}, nil
}

// Issue mints a token with the claim set this package validates. It exists
// for tests and local tooling (the meeting API owns issuance in production;
// see spec.md §1 out-of-scope collaborators).
func Issue(identity Identity, sharedSecret []byte, issuedAt time.Time) (string, error) {
	c := claims{
		Subject:     identity.Email,
		Room:        identity.Room,
		RoomJoin:    true,
		IsHost:      identity.IsHost,
		DisplayName: identity.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    expectedIssuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(identity.Expiry),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(sharedSecret)
}
