package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"geogate/internal/support"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin     = "admin"
	tokenLifetime = 24 * time.Hour
	tokenIssuer   = "geogate"
)

var (
	ErrInvalidToken = errors.New("invalid token")

	secretOnce sync.Once
	secret     []byte
)

func jwtSecret() []byte {
	secretOnce.Do(func() {
		if value := support.GetEnv("JWT_SECRET", ""); value != "" {
			secret = []byte(value)
			return
		}

		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("auth: generate jwt secret: %v", err))
		}
		secret = buf
		log.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart or work across nodes",
			"fingerprint", base64.RawStdEncoding.EncodeToString(buf[:4]))
	})
	return secret
}

// GenerateJWT issues a signed token for username with the given role.
func GenerateJWT(username, role string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  username,
		"role": role,
		"iss":  tokenIssuer,
		"iat":  now.Unix(),
		"exp":  now.Add(tokenLifetime).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(jwtSecret())
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ValidateJWT(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return jwtSecret(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
