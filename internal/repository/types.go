package repository

import (
	"encoding/json"
	"time"
)

// ── Request enumerations ─────────────────────────────────────────────────────

// RequestType is the closed set of business request types that move through
// the approval workflow.
type RequestType string

const (
	TypeLoanApplication           RequestType = "LOAN_APPLICATION"
	TypeBiodataUpdate             RequestType = "BIODATA_UPDATE"
	TypeAccountUpdate             RequestType = "ACCOUNT_UPDATE"
	TypeSavingsWithdrawal         RequestType = "SAVINGS_WITHDRAWAL"
	TypeAccountCreation           RequestType = "ACCOUNT_CREATION"
	TypeAccountClosure            RequestType = "ACCOUNT_CLOSURE"
	TypeLoanDisbursement          RequestType = "LOAN_DISBURSEMENT"
	TypeBulkUpload                RequestType = "BULK_UPLOAD"
	TypeSystemAdjustment          RequestType = "SYSTEM_ADJUSTMENT"
	TypeAccountVerification       RequestType = "ACCOUNT_VERIFICATION"
	TypePersonalSavingsCreation   RequestType = "PERSONAL_SAVINGS_CREATION"
	TypePersonalSavingsWithdrawal RequestType = "PERSONAL_SAVINGS_WITHDRAWAL"
)

// AllRequestTypes lists every valid request type.
var AllRequestTypes = []RequestType{
	TypeLoanApplication,
	TypeBiodataUpdate,
	TypeAccountUpdate,
	TypeSavingsWithdrawal,
	TypeAccountCreation,
	TypeAccountClosure,
	TypeLoanDisbursement,
	TypeBulkUpload,
	TypeSystemAdjustment,
	TypeAccountVerification,
	TypePersonalSavingsCreation,
	TypePersonalSavingsWithdrawal,
}

// Valid reports whether t is one of the known request types.
func (t RequestType) Valid() bool {
	for _, known := range AllRequestTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Module is the coarse domain tag on a request. Informational only; it never
// drives workflow behaviour.
type Module string

const (
	ModuleLoan    Module = "LOAN"
	ModuleSavings Module = "SAVINGS"
	ModuleAccount Module = "ACCOUNT"
	ModuleSystem  Module = "SYSTEM"
	ModuleShares  Module = "SHARES"
)

// Valid reports whether m is a known module tag.
func (m Module) Valid() bool {
	switch m {
	case ModuleLoan, ModuleSavings, ModuleAccount, ModuleSystem, ModuleShares:
		return true
	}
	return false
}

// Status is the workflow status of a request.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusInReview  Status = "IN_REVIEW"
	StatusReviewed  Status = "REVIEWED"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// StepStatus is the tri-state outcome of a single approval step, distinct
// from the request status.
type StepStatus string

const (
	StepPending  StepStatus = "PENDING"
	StepApproved StepStatus = "APPROVED"
	StepRejected StepStatus = "REJECTED"
)

// ── Core workflow entities ───────────────────────────────────────────────────

// Request is the unit of work moving through the approval workflow.
type Request struct {
	ID     string
	Type   RequestType
	Module Module
	Status Status

	// Content is the type-shaped payload, interpreted only by the matching
	// completion handler. See content.go for the typed forms.
	Content json.RawMessage
	// Metadata is denormalized display/audit context, never interpreted by
	// the state machine.
	Metadata map[string]any

	// NextApprovalLevel is the 1-based level whose approval is currently
	// awaited. Frozen once the request reaches a terminal status.
	NextApprovalLevel int
	// Version supports compare-and-swap on concurrent advances.
	Version int64

	// Subject links; at most one is populated per type.
	MemberID          *string
	SavingsID         *string
	LoanID            *string
	PersonalSavingsID *string

	InitiatorID string
	ApproverID  *string
	Notes       *string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	// Steps is the full approval ladder, ordered by level. Created with the
	// request and never added to or removed from afterward.
	Steps []*ApprovalStep
}

// Terminal reports whether the request can no longer transition.
func (r *Request) Terminal() bool {
	switch r.Status {
	case StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CurrentStep returns the step awaiting action, or nil when the ladder has
// been walked past its end.
func (r *Request) CurrentStep() *ApprovalStep {
	for _, s := range r.Steps {
		if s.Level == r.NextApprovalLevel {
			return s
		}
	}
	return nil
}

// ChainLength returns the number of levels in the ladder.
func (r *Request) ChainLength() int {
	return len(r.Steps)
}

// ApprovalStep is one rung of a request's approval ladder.
type ApprovalStep struct {
	ID        string
	RequestID string
	// Level is 1-based, unique within the request, contiguous.
	Level        int
	Status       StepStatus
	ApproverRole string
	Notes        *string

	ApproverID *string
	ApprovedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ── Subject entities mutated by completion handlers ──────────────────────────

// PlanStatus is the lifecycle state of a personal savings plan.
type PlanStatus string

const (
	PlanActive PlanStatus = "ACTIVE"
	PlanClosed PlanStatus = "CLOSED"
)

// SavingsPlan is a member's personal savings plan.
type SavingsPlan struct {
	ID                  string
	MemberID            string
	PlanType            string
	Balance             int64 // minor currency units
	MonthlyContribution int64
	DurationMonths      int
	Status              PlanStatus
	RequestID           *string // request that created the plan
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SavingsAccount is a member's regular (cooperative) savings account.
type SavingsAccount struct {
	ID        string
	MemberID  string
	Balance   int64
	Status    string // ACTIVE | CLOSED
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LedgerKind classifies a ledger transaction.
type LedgerKind string

const (
	LedgerCredit LedgerKind = "CREDIT"
	LedgerDebit  LedgerKind = "DEBIT"
)

// LedgerTransaction is one immutable ledger posting against a savings plan
// or savings account.
type LedgerTransaction struct {
	ID           string
	MemberID     string
	PlanID       *string
	SavingsID    *string
	RequestID    *string
	Kind         LedgerKind
	Amount       int64
	BalanceAfter int64
	Narration    string
	CreatedAt    time.Time
}

// Member is the cooperative member record, as far as the engine needs it.
type Member struct {
	ID            string
	FullName      string
	Email         string
	Approved      bool // biodata approved
	AccountActive bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ── Audit log ────────────────────────────────────────────────────────────────

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID           string
	RequestID    string
	StepID       *string
	Action       string // submitted | approved | rejected | cancelled | completed
	PerformedBy  string
	PerformedAt  time.Time
	StatusBefore *string
	StatusAfter  *string
	Metadata     map[string]any
}

// ── Query shapes ─────────────────────────────────────────────────────────────

// RequestFilter narrows list queries. Nil fields match everything.
type RequestFilter struct {
	Type        *RequestType
	Module      *Module
	Status      *Status
	InitiatorID *string
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// Statistics summarises requests matching a filter.
type Statistics struct {
	Total              int64
	ByStatus           map[Status]int64
	ByType             map[RequestType]int64
	PendingApproval    int64 // non-terminal requests
	CompletedThisMonth int64
}
