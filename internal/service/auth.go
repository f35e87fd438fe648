package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/model"
)

// AuthService verifies bearer tokens issued by the identity service. The subject is the user id.
type AuthService struct {
	jwtSecret   string
	tokenExpiry time.Duration
	logger      *logrus.Logger
}

func NewAuthService(jwtSecret string, tokenExpiry time.Duration, logger *logrus.Logger) *AuthService {
	return &AuthService{
		jwtSecret:   jwtSecret,
		tokenExpiry: tokenExpiry,
		logger:      logger,
	}
}

// GenerateJWTToken signs a token for userID. Used by operators and tests.
func (s *AuthService) GenerateJWTToken(userID uuid.UUID) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenExpiry)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

// ParseToken validates tokenString and returns the user id it was issued for.
func (s *AuthService) ParseToken(tokenString string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		s.logger.WithError(err).Warn("invalid JWT token")
		return uuid.Nil, fmt.Errorf("%w: invalid token", model.ErrInvalidInput)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		s.logger.WithField("subject", claims.Subject).Warn("token subject is not a user id")
		return uuid.Nil, fmt.Errorf("%w: invalid token subject", model.ErrInvalidInput)
	}

	s.logger.WithField("user_id", userID).Debug("JWT token accepted")
	return userID, nil
}
