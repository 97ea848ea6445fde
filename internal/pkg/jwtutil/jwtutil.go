package jwtutil

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	PurposeAccess      = "access"
	PurposeVerifyEmail = "verify_email"

	issuer = "medscan"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type Claims struct {
	UserID  uint   `json:"uid"`
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// GenerateToken issues an access token.
func GenerateToken(secret string, ttl time.Duration, userID uint, email string) (string, error) {
	return generate(secret, ttl, userID, email, PurposeAccess)
}

// GenerateVerifyToken issues a token that only confirms email ownership.
func GenerateVerifyToken(secret string, ttl time.Duration, userID uint, email string) (string, error) {
	return generate(secret, ttl, userID, email, PurposeVerifyEmail)
}

func generate(secret string, ttl time.Duration, userID uint, email, purpose string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:  userID,
		Email:   email,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token failed: %w", err)
	}
	return token, nil
}

// ParseToken validates an access token.
func ParseToken(secret, token string) (*Claims, error) {
	return parse(secret, token, PurposeAccess)
}

func ParseVerifyToken(secret, token string) (*Claims, error) {
	return parse(secret, token, PurposeVerifyEmail)
}

func parse(secret, token, purpose string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Purpose != purpose || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
