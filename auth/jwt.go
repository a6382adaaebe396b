package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-relay/core"

	"github.com/golang-jwt/jwt/v5"
)

// AppClaims represents the custom claims for the JWT.
type AppClaims struct {
	jwt.RegisteredClaims
	Login string `json:"login,omitempty"`
	Name  string `json:"name,omitempty"`
}

// DisplayName prefers the name claim and falls back to the login.
func (c *AppClaims) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Login
}

// JWTValidator accepts HS256 tokens signed with a shared secret.
type JWTValidator struct {
	secret []byte
	users  core.UserStore
}

func NewJWTValidator(secret string, users core.UserStore) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}
	return &JWTValidator{secret: []byte(secret), users: users}, nil
}

func (v *JWTValidator) Validate(ctx context.Context, credential string) (*core.User, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	claims, err := ParseJWT(v.secret, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return resolve(ctx, v.users, claims.Subject, claims.DisplayName())
}

// IssueToken mints an HS256 token for user valid for ttl.
func IssueToken(secret string, user *core.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Name: user.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseJWT(secret []byte, tokenString string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithExpirationRequired())

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}
