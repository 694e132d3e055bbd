package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/michaelodikeme/coop-nest-approvals/internal/apperrors"
	"github.com/michaelodikeme/coop-nest-approvals/internal/database"
)

// MemberRepository reads and flips the member flags the completion handlers
// touch. Member CRUD proper belongs to the membership service.
type MemberRepository struct {
	q database.Querier
}

// NewMemberRepository creates a pool-backed MemberRepository.
func NewMemberRepository(db *database.DB) *MemberRepository {
	return &MemberRepository{q: db}
}

func (r *MemberRepository) withTx(tx pgx.Tx) *MemberRepository {
	return &MemberRepository{q: tx}
}

// GetByID retrieves a member.
func (r *MemberRepository) GetByID(ctx context.Context, id string) (*Member, error) {
	query := `
		SELECT id, full_name, email, approved, account_active, created_at, updated_at
		FROM members
		WHERE id = $1
	`

	m := &Member{}
	err := r.q.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.FullName, &m.Email, &m.Approved, &m.AccountActive,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("member", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to get member")
	}
	return m, nil
}

// SetApproved flips the member's biodata approval flag.
func (r *MemberRepository) SetApproved(ctx context.Context, id string, approved bool) error {
	query := `
		UPDATE members
		SET approved   = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.q.QueryRow(ctx, query, id, approved).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("member", id)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to update member approval flag")
	}
	return nil
}

// SetAccountActive flips the member's account-active flag (account closure
// sets it false on final approval).
func (r *MemberRepository) SetAccountActive(ctx context.Context, id string, active bool) error {
	query := `
		UPDATE members
		SET account_active = $2,
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.q.QueryRow(ctx, query, id, active).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("member", id)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to update member account flag")
	}
	return nil
}
