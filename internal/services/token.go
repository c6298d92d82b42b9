package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/genoplot/genoplot-backend/internal/logger"
)

// TokenService signs per-sample access tokens. Uploads are anonymous, the
// token returned on upload is the only way to read a sample back.
type TokenService interface {
	IssueSampleToken(sampleID uuid.UUID) (string, error)
	ParseSampleToken(tokenString string) (uuid.UUID, error)
}

type tokenService struct {
	log       *logger.Logger
	secretKey string
	ttl       time.Duration
}

func NewTokenService(log *logger.Logger, secretKey string, ttl time.Duration) TokenService {
	serviceLog := log.With("service", "TokenService")
	return &tokenService{
		log:       serviceLog,
		secretKey: secretKey,
		ttl:       ttl,
	}
}

func (ts *tokenService) IssueSampleToken(sampleID uuid.UUID) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   sampleID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ts.ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(ts.secretKey))
}

func (ts *tokenService) ParseSampleToken(tokenString string) (uuid.UUID, error) {
	parsedToken, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(ts.secretKey), nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := parsedToken.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsedToken.Valid {
		return uuid.Nil, fmt.Errorf("invalid token claims")
	}
	sampleID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid token subject: %w", err)
	}
	return sampleID, nil
}
