package services

import (
	"errors"
	"time"

	"meetsfu/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthService issues and validates the access tokens clients present when
// opening a signaling connection.
type AuthService interface {
	GenerateToken(identity domain.Identity) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type Claims struct {
	UserID domain.UserID `json:"uid"`
	Name   string        `json:"name,omitempty"`
	Host   bool          `json:"host,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts validated claims into the identity used at join time.
func (c *Claims) Identity() domain.Identity {
	return domain.Identity{
		UserID:      c.UserID,
		DisplayName: c.Name,
		Host:        c.Host,
	}
}

type authService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
}

func NewAuthService(jwtSecret string, accessTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
	}
}

func (s *authService) GenerateToken(identity domain.Identity) (string, error) {
	if identity.UserID == "" {
		return "", domain.ErrInvalidParameters
	}
	now := time.Now()
	claims := &Claims{
		UserID: identity.UserID,
		Name:   identity.DisplayName,
		Host:   identity.Host,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(identity.UserID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
