// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package auth mints and verifies the bearer tokens guarding the HTTP and
// push surfaces, and owns credential hashing.
package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hashicorp/labrador/labrador/structs"
)

const (
	// DefaultTokenTTL is how long minted tokens stay valid.
	DefaultTokenTTL = 24 * time.Hour

	tokenIssuer = "labrador"
)

// Claims is the payload carried inside a bearer token.
type Claims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity is the authenticated principal attached to a request or push
// session.
type Identity struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

// Authenticator signs and verifies tokens with a shared secret.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

// NewAuthenticator builds an Authenticator around the configured signing
// secret.
func NewAuthenticator(secret string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl}, nil
}

// Mint issues a signed bearer token for the user.
func (a *Authenticator) Mint(user *structs.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify checks signature, expiry and issuer, returning the identity the
// token asserts. User existence is the caller's concern.
func (a *Authenticator) Verify(token string) (*Identity, error) {
	if token == "" {
		return nil, structs.ErrTokenMissing
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, structs.ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, structs.ErrTokenExpired
	default:
		return nil, structs.ErrTokenInvalid
	}

	if claims.UserID <= 0 {
		return nil, structs.ErrTokenInvalid
	}
	return &Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a stored hash against a login attempt.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return fmt.Errorf("%w: invalid credentials", structs.ErrUnauthenticated)
	}
	return nil
}
