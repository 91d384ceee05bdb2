package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ryanbastic/go-fieldmap/internal/identity"
)

func currentUser(ctx context.Context) (identity.User, error) {
	u, ok := identity.FromContext(ctx)
	if !ok {
		return identity.User{}, fmt.Errorf("%w: no user", ErrForbidden)
	}
	return u, nil
}

func requireAdmin(ctx context.Context) error {
	u, err := currentUser(ctx)
	if err != nil {
		return err
	}
	if !u.IsAdmin() {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

// canDelete allows the creator of a shape and admins.
func canDelete(u identity.User, creator uuid.UUID) bool {
	return u.IsAdmin() || u.ID == creator
}
