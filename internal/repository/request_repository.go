package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/michaelodikeme/coop-nest-approvals/internal/apperrors"
	"github.com/michaelodikeme/coop-nest-approvals/internal/database"
)

// nonTerminalStatuses is the SQL fragment for requests still in flight.
const nonTerminalStatuses = "('PENDING', 'IN_REVIEW', 'REVIEWED', 'APPROVED')"

// RequestRepository manages approval requests and their step ladders.
// Request + step creation is always done together in a single transaction.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `
	id, type, module, status, content, metadata,
	next_approval_level, version,
	member_id, savings_id, loan_id, personal_savings_id,
	initiator_id, approver_id, notes,
	created_at, updated_at, completed_at
`

// Create inserts a request and its full approval ladder in one transaction.
// The request is never persisted without its steps.
func (r *RequestRepository) Create(ctx context.Context, req *Request) error {
	metadataJSON, err := marshalMetadata(req.Metadata)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeCreationFailed, "failed to marshal request metadata")
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		reqQuery := `
			INSERT INTO approval_requests
			    (type, module, status, content, metadata,
			     next_approval_level, version,
			     member_id, savings_id, loan_id, personal_savings_id,
			     initiator_id, notes)
			VALUES ($1::request_type, $2::request_module, $3::request_status, $4, $5,
			        $6, $7,
			        $8, $9, $10, $11,
			        $12, $13)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, reqQuery,
			req.Type,
			req.Module,
			req.Status,
			req.Content,
			metadataJSON,
			req.NextApprovalLevel,
			req.Version,
			req.MemberID,
			req.SavingsID,
			req.LoanID,
			req.PersonalSavingsID,
			req.InitiatorID,
			req.Notes,
		).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeCreationFailed, "failed to create approval request")
		}

		stepQuery := `
			INSERT INTO approval_steps
			    (request_id, level, status, approver_role, notes)
			VALUES ($1, $2, $3::step_status, $4, $5)
			RETURNING id, created_at, updated_at
		`

		for _, step := range req.Steps {
			step.RequestID = req.ID

			err := tx.QueryRow(ctx, stepQuery,
				step.RequestID,
				step.Level,
				step.Status,
				step.ApproverRole,
				step.Notes,
			).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt)
			if err != nil {
				return apperrors.Wrap(err, apperrors.CodeCreationFailed, "failed to create approval step")
			}
		}

		return nil
	})
}

// GetByID retrieves a request with its full step ladder.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("request", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to get request")
	}

	steps, err := r.getSteps(ctx, r.db, req.ID)
	if err != nil {
		return nil, err
	}
	req.Steps = steps
	return req, nil
}

// List retrieves requests matching the filter, newest first, with a total count.
func (r *RequestRepository) List(ctx context.Context, f RequestFilter) ([]*Request, int64, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM approval_requests WHERE 1=1`

	args := []any{}
	argCount := 1

	addClause := func(clause string, value any) {
		query += fmt.Sprintf(clause, argCount)
		countQuery += fmt.Sprintf(clause, argCount)
		args = append(args, value)
		argCount++
	}

	if f.Type != nil {
		addClause(" AND type = $%d::request_type", *f.Type)
	}
	if f.Module != nil {
		addClause(" AND module = $%d::request_module", *f.Module)
	}
	if f.Status != nil {
		addClause(" AND status = $%d::request_status", *f.Status)
	}
	if f.InitiatorID != nil {
		addClause(" AND initiator_id = $%d", *f.InitiatorID)
	}
	if f.From != nil {
		addClause(" AND created_at >= $%d", *f.From)
	}
	if f.To != nil {
		addClause(" AND created_at <= $%d", *f.To)
	}

	query += " ORDER BY created_at DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(args, limit, f.Offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to count requests")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to list requests")
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to scan request")
		}
		requests = append(requests, req)
	}

	// Attach ladders; list pages are small so per-request loads are fine.
	for _, req := range requests {
		steps, err := r.getSteps(ctx, r.db, req.ID)
		if err != nil {
			return nil, 0, err
		}
		req.Steps = steps
	}

	return requests, total, nil
}

// PendingCountForRole counts in-flight requests whose currently awaited step
// requires the given role.
func (r *RequestRepository) PendingCountForRole(ctx context.Context, role string) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM approval_requests r
		JOIN approval_steps s
		  ON s.request_id = r.id AND s.level = r.next_approval_level
		WHERE r.status IN ` + nonTerminalStatuses + `
		  AND s.status = 'PENDING'
		  AND s.approver_role = $1
	`

	var count int64
	if err := r.db.QueryRow(ctx, query, role).Scan(&count); err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to count pending approvals for role")
	}
	return count, nil
}

// PendingCountForInitiator counts a user's own in-flight requests.
func (r *RequestRepository) PendingCountForInitiator(ctx context.Context, userID string) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM approval_requests
		WHERE initiator_id = $1
		  AND status IN ` + nonTerminalStatuses

	var count int64
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to count pending requests for user")
	}
	return count, nil
}

// Statistics aggregates request counts for the filter.
func (r *RequestRepository) Statistics(ctx context.Context, f RequestFilter) (*Statistics, error) {
	where := " WHERE 1=1"
	args := []any{}
	argCount := 1

	if f.Module != nil {
		where += fmt.Sprintf(" AND module = $%d::request_module", argCount)
		args = append(args, *f.Module)
		argCount++
	}
	if f.InitiatorID != nil {
		where += fmt.Sprintf(" AND initiator_id = $%d", argCount)
		args = append(args, *f.InitiatorID)
		argCount++
	}
	if f.From != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *f.From)
		argCount++
	}
	if f.To != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *f.To)
		argCount++
	}

	stats := &Statistics{
		ByStatus: make(map[Status]int64),
		ByType:   make(map[RequestType]int64),
	}

	rows, err := r.db.Query(ctx, "SELECT status, COUNT(*) FROM approval_requests"+where+" GROUP BY status", args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to aggregate requests by status")
	}
	defer rows.Close()
	for rows.Next() {
		var status Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to scan status aggregate")
		}
		stats.ByStatus[status] = count
		stats.Total += count
		switch status {
		case StatusPending, StatusInReview, StatusReviewed, StatusApproved:
			stats.PendingApproval += count
		}
	}
	rows.Close()

	typeRows, err := r.db.Query(ctx, "SELECT type, COUNT(*) FROM approval_requests"+where+" GROUP BY type", args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to aggregate requests by type")
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var t RequestType
		var count int64
		if err := typeRows.Scan(&t, &count); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to scan type aggregate")
		}
		stats.ByType[t] = count
	}

	monthQuery := "SELECT COUNT(*) FROM approval_requests" + where +
		" AND completed_at >= date_trunc('month', NOW()) AND status = 'COMPLETED'"
	if err := r.db.QueryRow(ctx, monthQuery, args...).Scan(&stats.CompletedThisMonth); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to count completions this month")
	}

	return stats, nil
}

// Advance persists a status transition atomically: the request row is locked
// and version-checked, fn runs its side effects inside the same transaction,
// then the request and the one mutated step are written. Any failure rolls
// the whole unit back. A version mismatch (a concurrent advance won the race)
// surfaces as a CONFLICT error.
func (r *RequestRepository) Advance(
	ctx context.Context,
	req *Request,
	step *ApprovalStep,
	expectedVersion int64,
	fn func(effects EffectStore) error,
) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var current int64
		err := tx.QueryRow(ctx,
			`SELECT version FROM approval_requests WHERE id = $1 FOR UPDATE`,
			req.ID,
		).Scan(&current)
		if err == pgx.ErrNoRows {
			return apperrors.NotFound("request", req.ID)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeFetchError, "failed to lock request")
		}
		if current != expectedVersion {
			return apperrors.New(apperrors.CodeConflict, "request was modified concurrently")
		}

		// Side effects run first; they may back-link created entities or
		// annotate metadata on req before the final write.
		if fn != nil {
			if err := fn(newTxEffects(tx)); err != nil {
				return err
			}
		}

		metadataJSON, err := marshalMetadata(req.Metadata)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal request metadata")
		}

		req.Version = expectedVersion + 1
		updateReq := `
			UPDATE approval_requests
			SET status              = $2::request_status,
			    next_approval_level = $3,
			    approver_id         = $4,
			    metadata            = $5,
			    personal_savings_id = $6,
			    completed_at        = $7,
			    version             = $8,
			    updated_at          = NOW()
			WHERE id = $1
			RETURNING updated_at
		`
		err = tx.QueryRow(ctx, updateReq,
			req.ID,
			req.Status,
			req.NextApprovalLevel,
			req.ApproverID,
			metadataJSON,
			req.PersonalSavingsID,
			req.CompletedAt,
			req.Version,
		).Scan(&req.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to update request")
		}

		updateStep := `
			UPDATE approval_steps
			SET status      = $2::step_status,
			    approver_id = $3,
			    approved_at = $4,
			    notes       = $5,
			    updated_at  = NOW()
			WHERE id = $1
			RETURNING updated_at
		`
		err = tx.QueryRow(ctx, updateStep,
			step.ID,
			step.Status,
			step.ApproverID,
			step.ApprovedAt,
			step.Notes,
		).Scan(&step.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to update approval step")
		}

		return nil
	})
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	req := &Request{}
	var metadataJSON []byte

	err := row.Scan(
		&req.ID,
		&req.Type,
		&req.Module,
		&req.Status,
		&req.Content,
		&metadataJSON,
		&req.NextApprovalLevel,
		&req.Version,
		&req.MemberID,
		&req.SavingsID,
		&req.LoanID,
		&req.PersonalSavingsID,
		&req.InitiatorID,
		&req.ApproverID,
		&req.Notes,
		&req.CreatedAt,
		&req.UpdatedAt,
		&req.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &req.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request metadata: %w", err)
		}
	}
	return req, nil
}

func (r *RequestRepository) getSteps(ctx context.Context, q database.Querier, requestID string) ([]*ApprovalStep, error) {
	query := `
		SELECT id, request_id, level, status, approver_role,
		       notes, approver_id, approved_at, created_at, updated_at
		FROM approval_steps
		WHERE request_id = $1
		ORDER BY level ASC
	`

	rows, err := q.Query(ctx, query, requestID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to get approval steps")
	}
	defer rows.Close()

	var steps []*ApprovalStep
	for rows.Next() {
		s := &ApprovalStep{}
		err := rows.Scan(
			&s.ID,
			&s.RequestID,
			&s.Level,
			&s.Status,
			&s.ApproverRole,
			&s.Notes,
			&s.ApproverID,
			&s.ApprovedAt,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to scan approval step")
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
