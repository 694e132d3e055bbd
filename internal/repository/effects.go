package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// EffectStore is the persistence surface completion handlers see. Every call
// runs inside the advance transaction, so handler effects commit or roll
// back together with the status and step mutation.
type EffectStore interface {
	// Personal savings plans.
	FindActivePlan(ctx context.Context, memberID, planType string) (*SavingsPlan, error)
	CreatePlan(ctx context.Context, plan *SavingsPlan) error
	GetPlanForUpdate(ctx context.Context, id string) (*SavingsPlan, error)
	DebitPlan(ctx context.Context, id string, amount int64) (int64, error)

	// Regular savings accounts.
	GetAccountForUpdate(ctx context.Context, id string) (*SavingsAccount, error)
	DebitAccount(ctx context.Context, id string, amount int64) (int64, error)

	// Ledger.
	InsertLedger(ctx context.Context, entry *LedgerTransaction) error

	// Membership flags.
	SetMemberApproved(ctx context.Context, memberID string, approved bool) error
	SetMemberAccountActive(ctx context.Context, memberID string, active bool) error
}

// txEffects binds the subject-entity repositories to one transaction.
type txEffects struct {
	savings *SavingsRepository
	members *MemberRepository
}

func newTxEffects(tx pgx.Tx) EffectStore {
	return &txEffects{
		savings: (&SavingsRepository{}).withTx(tx),
		members: (&MemberRepository{}).withTx(tx),
	}
}

func (e *txEffects) FindActivePlan(ctx context.Context, memberID, planType string) (*SavingsPlan, error) {
	return e.savings.FindActivePlan(ctx, memberID, planType)
}

func (e *txEffects) CreatePlan(ctx context.Context, plan *SavingsPlan) error {
	return e.savings.CreatePlan(ctx, plan)
}

func (e *txEffects) GetPlanForUpdate(ctx context.Context, id string) (*SavingsPlan, error) {
	return e.savings.GetPlanForUpdate(ctx, id)
}

func (e *txEffects) DebitPlan(ctx context.Context, id string, amount int64) (int64, error) {
	return e.savings.DebitPlan(ctx, id, amount)
}

func (e *txEffects) GetAccountForUpdate(ctx context.Context, id string) (*SavingsAccount, error) {
	return e.savings.GetAccountForUpdate(ctx, id)
}

func (e *txEffects) DebitAccount(ctx context.Context, id string, amount int64) (int64, error) {
	return e.savings.DebitAccount(ctx, id, amount)
}

func (e *txEffects) InsertLedger(ctx context.Context, entry *LedgerTransaction) error {
	return e.savings.InsertLedger(ctx, entry)
}

func (e *txEffects) SetMemberApproved(ctx context.Context, memberID string, approved bool) error {
	return e.members.SetApproved(ctx, memberID, approved)
}

func (e *txEffects) SetMemberAccountActive(ctx context.Context, memberID string, active bool) error {
	return e.members.SetAccountActive(ctx, memberID, active)
}
