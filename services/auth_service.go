package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier turns an opaque credential into a durable user id.
type Verifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// JWTVerifier validates HS256 tokens issued by the account service. The
// token carries the user id in the "id" claim.
type JWTVerifier struct {
	secret []byte
}

type userClaims struct {
	ID      string `json:"id"`
	IsAdmin bool   `json:"isAdmin"`
	jwt.RegisteredClaims
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(ctx context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", fmt.Errorf("%w: no token provided", ErrVerificationFailed)
	}
	if len(v.secret) == 0 {
		return "", fmt.Errorf("%w: verifier is not configured", ErrVerificationFailed)
	}

	var claims userClaims
	_, err := jwt.ParseWithClaims(credential, &claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", mapJWTError(err)
	}

	userID := strings.TrimSpace(claims.ID)
	if userID == "" {
		return "", fmt.Errorf("%w: no user id in token", ErrVerificationFailed)
	}
	return userID, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: token is expired", ErrVerificationFailed)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: token signature is invalid", ErrVerificationFailed)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: token is malformed", ErrVerificationFailed)
	}
	return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
}
