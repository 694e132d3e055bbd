package repository

import (
	"context"

	"github.com/michaelodikeme/coop-nest-approvals/internal/apperrors"
	"github.com/michaelodikeme/coop-nest-approvals/internal/database"
)

// UserRepository resolves live role membership. Notification fan-out and the
// in-orchestrator authorization check both query this at transition time
// rather than snapshotting membership at request creation, since role
// holders can change between levels.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UsersWithRole returns the ids of all active users holding the role.
func (r *UserRepository) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	query := `
		SELECT u.id
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		WHERE ur.role = $1 AND u.is_active
		ORDER BY u.id
	`

	rows, err := r.db.Query(ctx, query, role)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to get users with role")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to scan user id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// UserHasRole reports whether the user currently holds the role.
func (r *UserRepository) UserHasRole(ctx context.Context, userID, role string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM user_roles ur
			JOIN users u ON u.id = ur.user_id
			WHERE ur.user_id = $1 AND ur.role = $2 AND u.is_active
		)
	`

	var has bool
	if err := r.db.QueryRow(ctx, query, userID, role).Scan(&has); err != nil {
		return false, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to check user role")
	}
	return has, nil
}
