package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type DeviceClaims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// Generate mints a device-scoped HS256 bearer token presented to the replica
// store on REST calls and the websocket dial.
func Generate(deviceID string, expiration time.Duration, secret string) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("device id is required")
	}

	now := time.Now()
	claims := DeviceClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign device token: %w", err)
	}

	return signed, nil
}

// Validate parses a device token and returns the device id it was minted for.
func Validate(tokenString, secret string) (string, error) {
	claims := &DeviceClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid device token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid device token")
	}

	return claims.DeviceID, nil
}
