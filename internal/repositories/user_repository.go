package repositories

import (
	"context"

	"github.com/campuskit/attempt-service/internal/models"
)

// UserRepository exposes the read-only view of users this service needs for
// ownership and role checks.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
}
