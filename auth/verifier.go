package auth

import (
	"fmt"
	"strings"

	"helpdesk/contract"
	"helpdesk/domain"
	"helpdesk/errors"
)

// Verifier turns a bearer credential into the immutable identity snapshot a
// connection carries for its whole lifetime. It fails closed: a bad token,
// an unknown account, or an inactive/blocked one all reject the connection
// before any room access is possible.
type Verifier struct {
	tokens *Tokens
	users  contract.IUserStore
}

func NewVerifier(tokens *Tokens, users contract.IUserStore) *Verifier {
	return &Verifier{tokens: tokens, users: users}
}

func (v *Verifier) Verify(credential string) (domain.Identity, error) {
	credential = strings.TrimPrefix(credential, "Bearer ")
	if credential == "" {
		return domain.Identity{}, errors.ErrUnauthenticated
	}

	claims, err := v.tokens.Validate(credential)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", errors.ErrUnauthenticated, err)
	}

	// The stored account, not the token, is authoritative for role and
	// display name. A role change elsewhere takes effect on reconnect.
	user, err := v.users.Get(claims.UserID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: unknown account", errors.ErrUnauthenticated)
	}
	if !user.Active || user.Blocked {
		return domain.Identity{}, errors.ErrAccountDisabled
	}
	return user.Snapshot(), nil
}
