package auth

import (
	"context"
	"testing"
	"time"

	"chat-relay/core"
	"chat-relay/stores/memory"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestJWTValidator_Validate(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	users := memory.NewStore()

	v, err := NewJWTValidator(testSecret, users)
	req.NoError(err)

	token, err := IssueToken(testSecret, &core.User{ID: "alice", Name: "Alice"}, time.Hour)
	req.NoError(err)

	user, err := v.Validate(ctx, token)
	req.NoError(err)
	req.Equal("alice", user.ID)
	req.Equal("Alice", user.Name)

	// the token refreshed the identity store
	stored, err := users.FindUser(ctx, "alice")
	req.NoError(err)
	req.Equal("Alice", stored.Name)
}

func TestJWTValidator_Rejects(t *testing.T) {
	ctx := context.Background()
	users := memory.NewStore()
	v, err := NewJWTValidator(testSecret, users)
	require.NoError(t, err)

	expired, err := IssueToken(testSecret, &core.User{ID: "alice", Name: "Alice"}, -time.Minute)
	require.NoError(t, err)
	foreign, err := IssueToken("other-secret", &core.User{ID: "alice", Name: "Alice"}, time.Hour)
	require.NoError(t, err)
	nameless, err := IssueToken(testSecret, &core.User{ID: "ghost"}, time.Hour)
	require.NoError(t, err)
	noSubject, err := IssueToken(testSecret, &core.User{Name: "Nobody"}, time.Hour)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
		Name:             "Alice",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"empty":      "",
		"garbage":    "not-a-token",
		"expired":    expired,
		"bad secret": foreign,
		"unknown":    nameless,
		"no subject": noSubject,
		"no expiry":  noExpiry,
		"alg none":   none,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			user, err := v.Validate(ctx, token)
			require.ErrorIs(t, err, ErrUnauthenticated)
			require.Nil(t, user)
		})
	}
}

func TestNewJWTValidator_RequiresSecret(t *testing.T) {
	_, err := NewJWTValidator("", memory.NewStore())
	require.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	req := require.New(t)

	tok, ok := BearerToken("Bearer abc.def")
	req.True(ok)
	req.Equal("abc.def", tok)

	tok, ok = BearerToken("bearer   xyz")
	req.True(ok)
	req.Equal("xyz", tok)

	_, ok = BearerToken("Basic abc")
	req.False(ok)
	_, ok = BearerToken("Bearer")
	req.False(ok)
	_, ok = BearerToken("")
	req.False(ok)
}
