package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/michaelodikeme/coop-nest-approvals/internal/apperrors"
	"github.com/michaelodikeme/coop-nest-approvals/internal/database"
)

// SavingsRepository manages personal savings plans, regular savings accounts
// and the ledger postings against them. A repository bound to a transaction
// via withTx joins that transaction for every call.
type SavingsRepository struct {
	q database.Querier
}

// NewSavingsRepository creates a pool-backed SavingsRepository.
func NewSavingsRepository(db *database.DB) *SavingsRepository {
	return &SavingsRepository{q: db}
}

func (r *SavingsRepository) withTx(tx pgx.Tx) *SavingsRepository {
	return &SavingsRepository{q: tx}
}

const planColumns = `
	id, member_id, plan_type, balance, monthly_contribution,
	duration_months, status, request_id, created_at, updated_at
`

// CreatePlan inserts a new personal savings plan.
func (r *SavingsRepository) CreatePlan(ctx context.Context, plan *SavingsPlan) error {
	query := `
		INSERT INTO savings_plans
		    (member_id, plan_type, balance, monthly_contribution,
		     duration_months, status, request_id)
		VALUES ($1, $2, $3, $4, $5, $6::plan_status, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		plan.MemberID,
		plan.PlanType,
		plan.Balance,
		plan.MonthlyContribution,
		plan.DurationMonths,
		plan.Status,
		plan.RequestID,
	).Scan(&plan.ID, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create savings plan")
	}
	return nil
}

// GetPlan retrieves a plan by id.
func (r *SavingsRepository) GetPlan(ctx context.Context, id string) (*SavingsPlan, error) {
	query := `SELECT ` + planColumns + ` FROM savings_plans WHERE id = $1`
	plan, err := scanPlan(r.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("savings_plan", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to get savings plan")
	}
	return plan, nil
}

// GetPlanForUpdate retrieves a plan with a row lock, so balance checks and
// the following debit see a stable value.
func (r *SavingsRepository) GetPlanForUpdate(ctx context.Context, id string) (*SavingsPlan, error) {
	query := `SELECT ` + planColumns + ` FROM savings_plans WHERE id = $1 FOR UPDATE`
	plan, err := scanPlan(r.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("savings_plan", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to lock savings plan")
	}
	return plan, nil
}

// FindActivePlan returns the member's active plan of the given type, or nil.
func (r *SavingsRepository) FindActivePlan(ctx context.Context, memberID, planType string) (*SavingsPlan, error) {
	query := `
		SELECT ` + planColumns + `
		FROM savings_plans
		WHERE member_id = $1 AND plan_type = $2 AND status = 'ACTIVE'
		ORDER BY created_at DESC
		LIMIT 1
	`
	plan, err := scanPlan(r.q.QueryRow(ctx, query, memberID, planType))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to find active savings plan")
	}
	return plan, nil
}

// DebitPlan subtracts amount from a plan balance and returns the new balance.
// The guard in the WHERE clause refuses to take the balance below zero.
func (r *SavingsRepository) DebitPlan(ctx context.Context, id string, amount int64) (int64, error) {
	query := `
		UPDATE savings_plans
		SET balance    = balance - $2,
		    updated_at = NOW()
		WHERE id = $1 AND balance >= $2
		RETURNING balance
	`

	var balance int64
	err := r.q.QueryRow(ctx, query, id, amount).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, apperrors.New(apperrors.CodeConflict, "insufficient plan balance")
	}
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInternal, "failed to debit savings plan")
	}
	return balance, nil
}

// CreditPlan adds amount to a plan balance and returns the new balance.
func (r *SavingsRepository) CreditPlan(ctx context.Context, id string, amount int64) (int64, error) {
	query := `
		UPDATE savings_plans
		SET balance    = balance + $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING balance
	`

	var balance int64
	err := r.q.QueryRow(ctx, query, id, amount).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, apperrors.NotFound("savings_plan", id)
	}
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInternal, "failed to credit savings plan")
	}
	return balance, nil
}

// GetAccountForUpdate retrieves a regular savings account with a row lock.
func (r *SavingsRepository) GetAccountForUpdate(ctx context.Context, id string) (*SavingsAccount, error) {
	query := `
		SELECT id, member_id, balance, status, created_at, updated_at
		FROM savings_accounts
		WHERE id = $1
		FOR UPDATE
	`

	acct := &SavingsAccount{}
	err := r.q.QueryRow(ctx, query, id).Scan(
		&acct.ID, &acct.MemberID, &acct.Balance, &acct.Status,
		&acct.CreatedAt, &acct.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("savings_account", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to lock savings account")
	}
	return acct, nil
}

// DebitAccount subtracts amount from a savings account, refusing overdrafts.
func (r *SavingsRepository) DebitAccount(ctx context.Context, id string, amount int64) (int64, error) {
	query := `
		UPDATE savings_accounts
		SET balance    = balance - $2,
		    updated_at = NOW()
		WHERE id = $1 AND balance >= $2
		RETURNING balance
	`

	var balance int64
	err := r.q.QueryRow(ctx, query, id, amount).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, apperrors.New(apperrors.CodeConflict, "insufficient account balance")
	}
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInternal, "failed to debit savings account")
	}
	return balance, nil
}

// InsertLedger appends one ledger transaction.
func (r *SavingsRepository) InsertLedger(ctx context.Context, entry *LedgerTransaction) error {
	query := `
		INSERT INTO ledger_transactions
		    (member_id, plan_id, savings_id, request_id,
		     kind, amount, balance_after, narration)
		VALUES ($1, $2, $3, $4, $5::ledger_kind, $6, $7, $8)
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query,
		entry.MemberID,
		entry.PlanID,
		entry.SavingsID,
		entry.RequestID,
		entry.Kind,
		entry.Amount,
		entry.BalanceAfter,
		entry.Narration,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to insert ledger transaction")
	}
	return nil
}

// ListLedgerByPlan returns ledger postings for a plan, oldest first.
func (r *SavingsRepository) ListLedgerByPlan(ctx context.Context, planID string) ([]*LedgerTransaction, error) {
	query := `
		SELECT id, member_id, plan_id, savings_id, request_id,
		       kind, amount, balance_after, narration, created_at
		FROM ledger_transactions
		WHERE plan_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.q.Query(ctx, query, planID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to list ledger transactions")
	}
	defer rows.Close()

	var entries []*LedgerTransaction
	for rows.Next() {
		e := &LedgerTransaction{}
		err := rows.Scan(
			&e.ID, &e.MemberID, &e.PlanID, &e.SavingsID, &e.RequestID,
			&e.Kind, &e.Amount, &e.BalanceAfter, &e.Narration, &e.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeFetchError, "failed to scan ledger transaction")
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func scanPlan(row rowScanner) (*SavingsPlan, error) {
	plan := &SavingsPlan{}
	err := row.Scan(
		&plan.ID,
		&plan.MemberID,
		&plan.PlanType,
		&plan.Balance,
		&plan.MonthlyContribution,
		&plan.DurationMonths,
		&plan.Status,
		&plan.RequestID,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return plan, nil
}
