package auth

import (
	"context"
	"fmt"
	"strings"

	"chat-relay/core"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/sirupsen/logrus"
)

// OIDCClaims represents the claims read from an ID token.
type OIDCClaims struct {
	Sub               string `json:"sub"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
}

func (c OIDCClaims) displayName() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.PreferredUsername != "":
		return c.PreferredUsername
	}
	return c.Email
}

// OIDCValidator accepts ID tokens issued for clientID by an OpenID provider.
type OIDCValidator struct {
	verifier *oidc.IDTokenVerifier
	users    core.UserStore
}

// NewOIDCValidator discovers the provider at issuerURL.
func NewOIDCValidator(ctx context.Context, issuerURL, clientID string, users core.UserStore) (*OIDCValidator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	logrus.WithField("issuer", issuerURL).Info("OIDC provider initialized")

	return NewOIDCValidatorWithVerifier(provider.Verifier(&oidc.Config{ClientID: clientID}), users), nil
}

func NewOIDCValidatorWithVerifier(verifier *oidc.IDTokenVerifier, users core.UserStore) *OIDCValidator {
	return &OIDCValidator{verifier: verifier, users: users}
}

func (v *OIDCValidator) Validate(ctx context.Context, credential string) (*core.User, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	idToken, err := v.verifier.Verify(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	var claims OIDCClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Sub == "" {
		claims.Sub = idToken.Subject
	}
	return resolve(ctx, v.users, claims.Sub, claims.displayName())
}
