package utils

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sgsgita/alumni-connect-backend/internal/config"
	"github.com/sgsgita/alumni-connect-backend/pkg/logger"
)

type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// devFallbackSecret is only ever used outside production, and loudly.
const devFallbackSecret = "dev-insecure-secret"

var (
	secretMu     sync.Mutex
	cachedSecret []byte
)

// signingSecret resolves the JWT secret on first use, never at init time.
// Config loading may finish well after package initialization; reading the
// secret eagerly would sign tokens with a stale or empty key and make every
// subsequent verification fail with an invalid-signature error. The value is
// cached only on success so a call made before config load does not poison
// later calls.
func signingSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()

	if cachedSecret != nil {
		return cachedSecret, nil
	}

	if config.AppConfig == nil {
		return nil, errors.New("config not loaded")
	}

	secret := config.AppConfig.JWTSecret
	if secret == "" {
		if config.IsProduction() {
			logger.Fatal().Msg("JWT_SECRET is not set in production")
		}
		logger.Warn().Msg("JWT_SECRET is not set, using insecure development fallback")
		secret = devFallbackSecret
	}

	cachedSecret = []byte(secret)
	return cachedSecret, nil
}

// ResetSecretForTest clears the cached secret so tests can swap configs.
func ResetSecretForTest() {
	secretMu.Lock()
	defer secretMu.Unlock()
	cachedSecret = nil
}

func GenerateToken(userID string) (string, error) {
	secret, err := signingSecret()
	if err != nil {
		return "", err
	}

	expirationTime := time.Now().Add(7 * 24 * time.Hour) // 7 days

	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "alumni-connect-backend",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func ValidateToken(tokenString string) (*Claims, error) {
	secret, err := signingSecret()
	if err != nil {
		return nil, err
	}

	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
