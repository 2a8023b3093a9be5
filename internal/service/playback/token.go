package playback

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// deviceClaims let a client keep its stable key and chosen name across
// reconnects. The connection identity is never taken from a token.
type deviceClaims struct {
	DeviceKey   string `json:"device_key"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

func (s *service) issueDeviceToken(deviceKey, displayName string) (string, error) {
	if s.cfg.Secret == "" {
		return "", nil
	}

	now := s.clock.Now()
	claims := deviceClaims{
		DeviceKey:   deviceKey,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.cfg.DeviceTokenTTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.cfg.DeviceTokenTTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString([]byte(s.cfg.Secret))
}

func (s *service) parseDeviceToken(tokenString string) (*deviceClaims, error) {
	if s.cfg.Secret == "" {
		return nil, ErrDeviceTokenDisabled
	}

	claims := &deviceClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) {
			return []byte(s.cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDeviceToken, err)
	}

	if !token.Valid || claims.DeviceKey == "" {
		return nil, ErrInvalidDeviceToken
	}

	return claims, nil
}
