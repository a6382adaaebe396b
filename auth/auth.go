// Package auth turns bearer credentials into user identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chat-relay/core"
)

// ErrUnauthenticated is returned for missing, malformed, expired or
// unresolvable credentials.
var ErrUnauthenticated = errors.New("unauthenticated")

// Validator verifies a credential and resolves it to a user.
type Validator interface {
	Validate(ctx context.Context, credential string) (*core.User, error)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// resolve refreshes the display name carried by the credential, if any, and
// loads the user from the identity store.
func resolve(ctx context.Context, users core.UserStore, subject, name string) (*core.User, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	if name != "" {
		if err := users.UpsertUser(ctx, &core.User{ID: subject, Name: name}); err != nil {
			return nil, fmt.Errorf("refresh user %s: %w", subject, err)
		}
	}
	user, err := users.FindUser(ctx, subject)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user %s", ErrUnauthenticated, subject)
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", subject, err)
	}
	return user, nil
}
