package service

import (
	"context"

	"github.com/michaelodikeme/coop-nest-approvals/internal/repository"
)

// Store is the persistence boundary for the workflow engine. The pgx
// implementation is repository.RequestRepository; tests substitute an
// in-memory fake.
type Store interface {
	// Create persists a request and its full step ladder atomically.
	Create(ctx context.Context, req *repository.Request) error
	// GetByID loads a request with its steps.
	GetByID(ctx context.Context, id string) (*repository.Request, error)
	List(ctx context.Context, f repository.RequestFilter) ([]*repository.Request, int64, error)
	PendingCountForRole(ctx context.Context, role string) (int64, error)
	PendingCountForInitiator(ctx context.Context, userID string) (int64, error)
	Statistics(ctx context.Context, f repository.RequestFilter) (*repository.Statistics, error)

	// Advance applies a transition atomically: request + one step + the
	// side effects fn runs against the EffectStore, all-or-nothing, guarded
	// by a version compare-and-swap against expectedVersion.
	Advance(
		ctx context.Context,
		req *repository.Request,
		step *repository.ApprovalStep,
		expectedVersion int64,
		fn func(effects repository.EffectStore) error,
	) error
}

// Directory resolves live role membership. Queried at transition time, never
// cached, so membership changes between levels are honoured.
type Directory interface {
	UsersWithRole(ctx context.Context, role string) ([]string, error)
	UserHasRole(ctx context.Context, userID, role string) (bool, error)
}

// Members looks up cooperative members referenced by subject links.
type Members interface {
	GetByID(ctx context.Context, id string) (*repository.Member, error)
}

// Savings reads personal savings plans and their ledger.
type Savings interface {
	GetPlan(ctx context.Context, id string) (*repository.SavingsPlan, error)
	ListLedgerByPlan(ctx context.Context, planID string) ([]*repository.LedgerTransaction, error)
}

// Notification kinds published to the emitter.
const (
	KindSubmitted        = "request_submitted"
	KindApprovalRequired = "approval_required"
	KindInReview         = "request_in_review"
	KindReviewed         = "request_reviewed"
	KindApproved         = "request_approved"
	KindRejected         = "request_rejected"
	KindCompleted        = "request_completed"
	KindCancelled        = "request_cancelled"
	KindWithdrawalPaid   = "withdrawal_paid"
	KindWithdrawalFailed = "withdrawal_failed"
	KindPlanCreated      = "plan_created"
)

// Notification is one structured notice for the emitter to deliver.
type Notification struct {
	Kind        string
	RequestID   string
	RequestType repository.RequestType
	ActorID     string
	Recipients  []string
	Title       string
	Message     string
	Metadata    map[string]any
}

// Notifier delivers notifications. Fire-and-forget from the engine's point
// of view; delivery guarantees are the emitter's concern.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// AuditLog records immutable audit entries. Append failures are logged by
// the orchestrator, never propagated.
type AuditLog interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	ListByRequest(ctx context.Context, requestID string) ([]*repository.AuditEntry, error)
}

// statusKind maps a request status to its notification kind.
func statusKind(s repository.Status) string {
	switch s {
	case repository.StatusInReview:
		return KindInReview
	case repository.StatusReviewed:
		return KindReviewed
	case repository.StatusApproved:
		return KindApproved
	case repository.StatusRejected:
		return KindRejected
	case repository.StatusCompleted:
		return KindCompleted
	case repository.StatusCancelled:
		return KindCancelled
	}
	return KindSubmitted
}
