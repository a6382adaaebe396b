package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"chat-relay/stores/memory"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://issuer.test"
	testClientID = "chat-relay"
)

type idTokenClaims struct {
	jwt.RegisteredClaims
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
}

func newTestOIDC(t *testing.T) (*OIDCValidator, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	verifier := oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testClientID})
	return NewOIDCValidatorWithVerifier(verifier, memory.NewStore()), key
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims idTokenClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return raw
}

func baseClaims(subject, audience string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Issuer:    testIssuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func TestOIDCValidator_Validate(t *testing.T) {
	req := require.New(t)
	v, key := newTestOIDC(t)

	raw := signIDToken(t, key, idTokenClaims{
		RegisteredClaims:  baseClaims("user-1", testClientID, time.Hour),
		PreferredUsername: "ada",
	})

	user, err := v.Validate(context.Background(), raw)
	req.NoError(err)
	req.Equal("user-1", user.ID)
	req.Equal("ada", user.Name)
}

func TestOIDCValidator_Rejects(t *testing.T) {
	v, key := newTestOIDC(t)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tests := map[string]string{
		"empty":          "",
		"wrong audience": signIDToken(t, key, idTokenClaims{RegisteredClaims: baseClaims("user-1", "someone-else", time.Hour), Name: "A"}),
		"expired":        signIDToken(t, key, idTokenClaims{RegisteredClaims: baseClaims("user-1", testClientID, -time.Hour), Name: "A"}),
		"wrong key":      signIDToken(t, otherKey, idTokenClaims{RegisteredClaims: baseClaims("user-1", testClientID, time.Hour), Name: "A"}),
		"unknown user":   signIDToken(t, key, idTokenClaims{RegisteredClaims: baseClaims("user-2", testClientID, time.Hour)}),
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), raw)
			require.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}
