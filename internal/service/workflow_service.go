package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/michaelodikeme/coop-nest-approvals/internal/apperrors"
	"github.com/michaelodikeme/coop-nest-approvals/internal/logger"
	"github.com/michaelodikeme/coop-nest-approvals/internal/repository"
)

// WorkflowService orchestrates the multi-level approval workflow: it creates
// requests with their full approval ladder, advances them through the status
// state machine, fires completion side effects exactly once, and fans
// notifications out to the next responsible role.
type WorkflowService struct {
	store     Store
	directory Directory
	members   Members
	savings   Savings
	notifier  Notifier
	audit     AuditLog
	handlers  *HandlerRegistry
	log       *logger.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	store Store,
	directory Directory,
	members Members,
	savings Savings,
	notifier Notifier,
	audit AuditLog,
	handlers *HandlerRegistry,
	log *logger.Logger,
) *WorkflowService {
	return &WorkflowService{
		store:     store,
		directory: directory,
		members:   members,
		savings:   savings,
		notifier:  notifier,
		audit:     audit,
		handlers:  handlers,
		log:       log,
	}
}

// CreateRequestInput carries everything needed to open a request.
type CreateRequestInput struct {
	Type        repository.RequestType
	Module      repository.Module
	InitiatorID string
	Content     json.RawMessage
	Metadata    map[string]any
	Notes       *string

	// Subject links; at most one should be set, matching the type.
	MemberID          *string
	SavingsID         *string
	LoanID            *string
	PersonalSavingsID *string
}

// ── Creation ──────────────────────────────────────────────────────────────────

// CreateRequest validates the input, resolves the approval chain for the
// type, and persists the request together with its full step ladder as one
// atomic unit. The initiator and every current holder of the level-1 role
// are notified.
func (s *WorkflowService) CreateRequest(ctx context.Context, in CreateRequestInput) (*repository.Request, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	// A dangling member link would only surface at completion time,
	// steps deep into the chain; refuse it up front instead.
	if in.MemberID != nil {
		if _, err := s.members.GetByID(ctx, *in.MemberID); err != nil {
			return nil, err
		}
	}

	chain := ResolveChain(in.Type)
	steps := make([]*repository.ApprovalStep, 0, len(chain))
	for _, lvl := range chain {
		notes := lvl.Notes
		steps = append(steps, &repository.ApprovalStep{
			Level:        lvl.Level,
			Status:       repository.StepPending,
			ApproverRole: lvl.ApproverRole,
			Notes:        &notes,
		})
	}

	req := &repository.Request{
		Type:              in.Type,
		Module:            in.Module,
		Status:            repository.StatusPending,
		Content:           in.Content,
		Metadata:          in.Metadata,
		NextApprovalLevel: 1,
		Version:           1,
		MemberID:          in.MemberID,
		SavingsID:         in.SavingsID,
		LoanID:            in.LoanID,
		PersonalSavingsID: in.PersonalSavingsID,
		InitiatorID:       in.InitiatorID,
		Notes:             in.Notes,
		Steps:             steps,
	}

	if err := s.store.Create(ctx, req); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("type", string(req.Type)).
		Int("chain_length", len(steps)).
		Str("initiator", req.InitiatorID).
		Msg("Approval request created")

	after := string(repository.StatusPending)
	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:   req.ID,
		Action:      "submitted",
		PerformedBy: req.InitiatorID,
		StatusAfter: &after,
		Metadata:    map[string]any{"type": req.Type, "chainLength": len(steps)},
	})

	s.notifier.Notify(ctx, Notification{
		Kind:        KindSubmitted,
		RequestID:   req.ID,
		RequestType: req.Type,
		ActorID:     req.InitiatorID,
		Recipients:  []string{req.InitiatorID},
		Title:       "Request submitted",
		Message:     "Your request has been submitted for approval.",
	})
	s.notifyRole(ctx, req, steps[0].ApproverRole)

	return req, nil
}

func (s *WorkflowService) validateInput(in CreateRequestInput) error {
	fields := map[string]string{}
	if !in.Type.Valid() {
		fields["type"] = "unknown request type"
	}
	if !in.Module.Valid() {
		fields["module"] = "unknown module"
	}
	if in.InitiatorID == "" {
		fields["initiatorId"] = "initiator is required"
	}
	if len(fields) > 0 {
		return apperrors.Validation("invalid request", fields)
	}

	content, err := repository.DecodeContent(in.Type, in.Content)
	if err != nil {
		return apperrors.Validation("invalid request", map[string]string{"content": "malformed payload"})
	}
	if problems := content.Validate(); len(problems) > 0 {
		return apperrors.Validation("invalid request", problems)
	}

	// Subject link required where a completion handler will need it.
	switch in.Type {
	case repository.TypePersonalSavingsCreation, repository.TypeBiodataUpdate, repository.TypeAccountClosure:
		if in.MemberID == nil {
			return apperrors.InvalidInput("memberId", "member link is required for this request type")
		}
	case repository.TypePersonalSavingsWithdrawal:
		if in.PersonalSavingsID == nil {
			return apperrors.InvalidInput("personalSavingsId", "plan link is required for this request type")
		}
	case repository.TypeSavingsWithdrawal:
		if in.SavingsID == nil {
			return apperrors.InvalidInput("savingsId", "savings account link is required for this request type")
		}
	}
	return nil
}

// ── Advancing ─────────────────────────────────────────────────────────────────

// AdvanceStatus moves a request to target. The transition is validated
// against the state machine, the actor's role is checked against the
// currently awaited step, exactly that step is marked, and the type's
// completion handler (if any) runs inside the same transaction as the
// request and step mutation. Two concurrent advances on the same request
// cannot both succeed: the loser observes an invalid transition.
func (s *WorkflowService) AdvanceStatus(
	ctx context.Context,
	requestID string,
	target repository.Status,
	actorID string,
	notes *string,
) (*repository.Request, error) {
	req, err := s.store.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if !TransitionAllowed(req.Status, target) {
		return nil, apperrors.InvalidTransition(string(req.Status), string(target))
	}

	step := req.CurrentStep()
	if step == nil {
		return nil, apperrors.Newf(apperrors.CodeInternal,
			"request %s has no step at level %d", req.ID, req.NextApprovalLevel)
	}

	hasRole, err := s.directory.UserHasRole(ctx, actorID, step.ApproverRole)
	if err != nil {
		return nil, err
	}
	if !hasRole {
		return nil, apperrors.Unauthorized("acting user does not hold the role required at this approval level")
	}

	statusBefore := req.Status
	expectedVersion := req.Version
	now := time.Now()

	// Mark the one step at the awaited level.
	switch target {
	case repository.StatusRejected, repository.StatusCancelled:
		step.Status = repository.StepRejected
	default:
		step.Status = repository.StepApproved
	}
	step.ApproverID = &actorID
	step.ApprovedAt = &now
	step.Notes = notes

	wasLastLevel := req.NextApprovalLevel == req.ChainLength()

	req.Status = target
	req.ApproverID = &actorID

	// The level advances on forward transitions while a higher rung exists;
	// it is held on the last rung and frozen on terminal outcomes.
	switch target {
	case repository.StatusInReview, repository.StatusReviewed, repository.StatusApproved:
		if !wasLastLevel {
			req.NextApprovalLevel++
		}
	}

	switch {
	case target == repository.StatusRejected,
		target == repository.StatusCancelled,
		target == repository.StatusCompleted,
		target == repository.StatusApproved && wasLastLevel:
		req.CompletedAt = &now
	}

	handler := s.handlers.Lookup(req.Type, target)
	var queued []Notification
	hc := &HandlerContext{
		Log:    s.log.Logger,
		Notify: func(n Notification) { queued = append(queued, n) },
	}

	err = s.store.Advance(ctx, req, step, expectedVersion, func(effects repository.EffectStore) error {
		if handler == nil {
			return nil
		}
		hc.Effects = effects
		return handler(ctx, hc, req)
	})
	if err != nil {
		if apperrors.Is(err, apperrors.CodeConflict) {
			// A concurrent advance won the race; from this caller's view the
			// transition is no longer valid.
			return nil, apperrors.InvalidTransition(string(statusBefore), string(target))
		}
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("from", string(statusBefore)).
		Str("to", string(target)).
		Str("actor", actorID).
		Int("next_level", req.NextApprovalLevel).
		Msg("Request advanced")

	before := string(statusBefore)
	after := string(target)
	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:    req.ID,
		StepID:       &step.ID,
		Action:       strings.ToLower(string(target)),
		PerformedBy:  actorID,
		StatusBefore: &before,
		StatusAfter:  &after,
		Metadata:     map[string]any{"level": step.Level},
	})

	// Committed; deliver handler notifications, then the status fan-out.
	for _, n := range queued {
		s.notifier.Notify(ctx, n)
	}
	s.notifier.Notify(ctx, Notification{
		Kind:        statusKind(target),
		RequestID:   req.ID,
		RequestType: req.Type,
		ActorID:     actorID,
		Recipients:  []string{req.InitiatorID},
		Title:       "Request " + strings.ToLower(string(target)),
		Message:     "Your request status is now " + string(target) + ".",
	})

	if !req.Terminal() && req.CompletedAt == nil {
		if next := req.CurrentStep(); next != nil && next.Status == repository.StepPending {
			s.notifyRole(ctx, req, next.ApproverRole)
		}
	}

	return req, nil
}

// Cancel lets the initiator withdraw a request that has not yet entered
// review. Anyone else, or any other status, is refused.
func (s *WorkflowService) Cancel(ctx context.Context, requestID, userID string) (*repository.Request, error) {
	req, err := s.store.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if req.InitiatorID != userID {
		return nil, apperrors.Unauthorized("only the initiator can cancel a request")
	}
	if req.Status != repository.StatusPending {
		return nil, apperrors.InvalidTransition(string(req.Status), string(repository.StatusCancelled))
	}

	step := req.CurrentStep()
	if step == nil {
		return nil, apperrors.Newf(apperrors.CodeInternal,
			"request %s has no step at level %d", req.ID, req.NextApprovalLevel)
	}

	statusBefore := req.Status
	expectedVersion := req.Version
	now := time.Now()

	step.Status = repository.StepRejected
	step.ApproverID = &userID
	step.ApprovedAt = &now

	req.Status = repository.StatusCancelled
	req.ApproverID = &userID
	req.CompletedAt = &now

	if err := s.store.Advance(ctx, req, step, expectedVersion, nil); err != nil {
		if apperrors.Is(err, apperrors.CodeConflict) {
			return nil, apperrors.InvalidTransition(string(statusBefore), string(repository.StatusCancelled))
		}
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("initiator", userID).
		Msg("Request cancelled by initiator")

	before := string(statusBefore)
	after := string(repository.StatusCancelled)
	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:    req.ID,
		StepID:       &step.ID,
		Action:       "cancelled",
		PerformedBy:  userID,
		StatusBefore: &before,
		StatusAfter:  &after,
	})

	s.notifier.Notify(ctx, Notification{
		Kind:        KindCancelled,
		RequestID:   req.ID,
		RequestType: req.Type,
		ActorID:     userID,
		Recipients:  []string{req.InitiatorID},
		Title:       "Request cancelled",
		Message:     "Your request has been cancelled.",
	})

	return req, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetByID returns a request with its full ladder.
func (s *WorkflowService) GetByID(ctx context.Context, id string) (*repository.Request, error) {
	return s.store.GetByID(ctx, id)
}

// List returns requests matching the filter with a total count.
func (s *WorkflowService) List(ctx context.Context, f repository.RequestFilter) ([]*repository.Request, int64, error) {
	return s.store.List(ctx, f)
}

// ListForUser returns the user's own requests matching the filter.
func (s *WorkflowService) ListForUser(ctx context.Context, userID string, f repository.RequestFilter) ([]*repository.Request, int64, error) {
	f.InitiatorID = &userID
	return s.store.List(ctx, f)
}

// PendingCount counts in-flight work: for a role, requests awaiting that
// role's sign-off; for a user, the user's own in-flight requests. At least
// one of the two must be given.
func (s *WorkflowService) PendingCount(ctx context.Context, userID, role string) (int64, error) {
	switch {
	case role != "":
		return s.store.PendingCountForRole(ctx, role)
	case userID != "":
		return s.store.PendingCountForInitiator(ctx, userID)
	}
	return 0, apperrors.InvalidInput("role", "either a role or a user id is required")
}

// Statistics aggregates request counts for the filter.
func (s *WorkflowService) Statistics(ctx context.Context, f repository.RequestFilter) (*repository.Statistics, error) {
	return s.store.Statistics(ctx, f)
}

// AuditTrail returns a request's audit entries, oldest first. The request
// is loaded first so a missing id yields not-found rather than an empty
// trail.
func (s *WorkflowService) AuditTrail(ctx context.Context, requestID string) ([]*repository.AuditEntry, error) {
	if _, err := s.store.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return s.audit.ListByRequest(ctx, requestID)
}

// PlanStatement returns a personal savings plan with its ledger history.
func (s *WorkflowService) PlanStatement(ctx context.Context, planID string) (*repository.SavingsPlan, []*repository.LedgerTransaction, error) {
	plan, err := s.savings.GetPlan(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	ledger, err := s.savings.ListLedgerByPlan(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	return plan, ledger, nil
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// notifyRole fans a review-needed notice out to every current holder of role.
// Membership is queried live, never snapshotted at creation time.
func (s *WorkflowService) notifyRole(ctx context.Context, req *repository.Request, role string) {
	users, err := s.directory.UsersWithRole(ctx, role)
	if err != nil {
		s.log.Warn().Err(err).
			Str("request_id", req.ID).
			Str("role", role).
			Msg("Could not resolve role holders for notification fan-out")
		return
	}
	if len(users) == 0 {
		return
	}

	s.notifier.Notify(ctx, Notification{
		Kind:        KindApprovalRequired,
		RequestID:   req.ID,
		RequestType: req.Type,
		Recipients:  users,
		Title:       "Approval required",
		Message:     "A " + string(req.Type) + " request is awaiting your review.",
		Metadata:    map[string]any{"level": req.NextApprovalLevel, "role": role},
	})
}

// appendAudit writes an audit entry, logging a warning on failure.
func (s *WorkflowService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("request_id", entry.RequestID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
