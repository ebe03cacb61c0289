package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"tenderdesk/procurement-backend/internal/approvals"
)

// Resolver implements the engine's RoleResolver against the directory.
// "First holder" of a role is the active holder with the lowest employee
// number (ties broken by user id), which keeps resolution deterministic
// across restarts.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

func (r *Resolver) ResolveApprover(ctx context.Context, role approvals.ApproverRole, requiredUserID *uuid.UUID) (uuid.UUID, error) {
	if requiredUserID != nil {
		user, err := r.repo.GetUserByID(ctx, *requiredUserID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("required approver %s: %w", requiredUserID, err)
		}
		if !user.IsActive {
			return uuid.Nil, fmt.Errorf("required approver %s is inactive", requiredUserID)
		}
		return user.ID, nil
	}

	holders, err := r.repo.ListHolders(ctx, role)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to list holders of %s: %w", role, err)
	}
	if len(holders) == 0 {
		return uuid.Nil, fmt.Errorf("no active holder of role %s", role)
	}
	return holders[0].ID, nil
}

func (r *Resolver) IsHolder(ctx context.Context, userID uuid.UUID, role approvals.ApproverRole) (bool, error) {
	user, err := r.repo.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, assignment := range user.Roles {
		if assignment.Role == role {
			return true, nil
		}
	}
	return false, nil
}

// HashPassword and CheckPassword centralize the bcrypt policy used by the
// auth handler.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
