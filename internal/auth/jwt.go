// Package auth validates the signed access tokens issued by the out-of-scope persistence/API service (see spec §4.4).
// The gateway never mints tokens; it only verifies them and extracts the (userId, deviceId) identity pair.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims holds the JWT claims carried by a gateway access token. DeviceID binds the token to a single client
// device: a LOGIN frame presenting a different deviceId than the one embedded at issuance is rejected (spec §4.4).
type AccessClaims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// Identity is the (userId, deviceId) pair extracted from a validated token.
type Identity struct {
	UserID   string
	DeviceID string
}

// NewAccessToken signs a token carrying the given identity. The gateway itself never calls this in production — it is
// provided so tests and local tooling can mint tokens matching the shape the API service issues.
func NewAccessToken(userID, deviceID, secret string, ttl time.Duration, issuer string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt secret must not be empty")
	}

	now := time.Now()
	claims := AccessClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ValidateIdentity parses and validates a JWT access token, enforces HMAC signing, and checks that the token's
// device_id claim matches deviceID from the LOGIN frame. Any failure — bad signature, expiry, unknown subject, or a
// device mismatch — returns ErrInvalidToken or ErrDeviceIDMismatch; callers must not use the distinction to build a
// user-existence oracle, only to pick a close code (spec §4.4, §7 AuthError).
func ValidateIdentity(tokenStr, deviceID, secret, issuer string) (Identity, error) {
	claims := &AccessClaims{}

	var parserOpts []jwt.ParserOption
	if issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, parserOpts...)
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	if claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	if claims.DeviceID != deviceID {
		return Identity{}, ErrDeviceIDMismatch
	}

	return Identity{UserID: claims.Subject, DeviceID: claims.DeviceID}, nil
}
