package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// AccessClaims are carried by browser access tokens.
type AccessClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// ContainerClaims bind a container token to one conversation and its owner.
type ContainerClaims struct {
	ConversationID string `json:"cid"`
	UserID         string `json:"uid"`
	jwt.RegisteredClaims
}

// CreateAccessToken issues a signed access token for a user.
func CreateAccessToken(userID, username string, isAdmin bool, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID:   userID,
		Username: username,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyAccessToken parses and validates an access token.
func VerifyAccessToken(tokenStr, secret string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// CreateContainerToken issues a short-lived token a starting container uses
// to authenticate its WebSocket back to the backend.
func CreateContainerToken(conversationID, userID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ContainerClaims{
		ConversationID: conversationID,
		UserID:         userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   conversationID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyContainerToken parses and validates a container token.
func VerifyContainerToken(tokenStr, secret string) (*ContainerClaims, error) {
	claims := &ContainerClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateRefreshToken creates a new opaque refresh token. The plaintext is
// shown to the client once; only the SHA-256 hash is stored.
func GenerateRefreshToken() (plaintext, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plaintext = base64.RawURLEncoding.EncodeToString(raw)
	return plaintext, HashRefreshToken(plaintext), nil
}

// HashRefreshToken returns the SHA-256 hex digest of a refresh token.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
