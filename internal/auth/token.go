package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const StatusTokenTTL = 12 * time.Hour

// Claims is carried by both the device token issued at pairing and the
// operator tokens that unlock the local status API.
type Claims struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

var ErrNotJWT = errors.New("device token is not a JWT")

// DeviceClaims reads the claims of the pairing token without verifying its
// signature. The agent does not hold the collector's key; it only needs the
// user id and expiry to tag points and warn before the token lapses.
func DeviceClaims(token string) (Claims, error) {
	var claims Claims
	if token == "" {
		return claims, ErrNotJWT
	}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Claims{}, errors.Join(ErrNotJWT, err)
	}
	return claims, nil
}

// Expired reports whether the claims carry an expiry that is already behind now.
func (c Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(c.ExpiresAt.Time)
}

func SignToken(secret, userID string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
