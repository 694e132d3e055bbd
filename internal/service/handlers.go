package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/michaelodikeme/coop-nest-approvals/internal/apperrors"
	"github.com/michaelodikeme/coop-nest-approvals/internal/repository"
)

// HandlerContext carries what a completion handler needs besides the request
// itself. Effects joins the advance transaction; Notify queues a notification
// that is delivered only after the transaction commits.
type HandlerContext struct {
	Effects repository.EffectStore
	Log     zerolog.Logger
	Notify  func(n Notification)
}

// CompletionHandler performs a request type's real-world effect when the
// request reaches its triggering status. Handlers run inside the advance
// transaction: returning an error rolls the whole transition back.
type CompletionHandler func(ctx context.Context, hc *HandlerContext, req *repository.Request) error

type handlerKey struct {
	Type   repository.RequestType
	Status repository.Status
}

// HandlerRegistry maps (request type, triggering status) to a completion
// handler. Pairs with no registered handler are no-ops.
type HandlerRegistry struct {
	handlers map[handlerKey]CompletionHandler
}

// NewHandlerRegistry returns a registry with the built-in handlers installed.
func NewHandlerRegistry() *HandlerRegistry {
	r := &HandlerRegistry{handlers: make(map[handlerKey]CompletionHandler)}

	r.Register(repository.TypePersonalSavingsCreation, repository.StatusApproved, handlePersonalSavingsCreation)
	r.Register(repository.TypePersonalSavingsWithdrawal, repository.StatusCompleted, handlePersonalSavingsWithdrawal)
	r.Register(repository.TypeSavingsWithdrawal, repository.StatusCompleted, handleSavingsWithdrawal)
	r.Register(repository.TypeBiodataUpdate, repository.StatusApproved, handleBiodataUpdate)
	r.Register(repository.TypeAccountClosure, repository.StatusApproved, handleAccountClosure)

	return r
}

// Register installs (or replaces) the handler for a (type, status) pair.
func (r *HandlerRegistry) Register(t repository.RequestType, s repository.Status, h CompletionHandler) {
	r.handlers[handlerKey{Type: t, Status: s}] = h
}

// Lookup returns the handler for a pair, or nil when the pair is a no-op.
func (r *HandlerRegistry) Lookup(t repository.RequestType, s repository.Status) CompletionHandler {
	return r.handlers[handlerKey{Type: t, Status: s}]
}

// ── Built-in handlers ─────────────────────────────────────────────────────────

// handlePersonalSavingsCreation creates the savings plan a request asked for.
// Guarded by an idempotency check: if the member already has an active plan
// of the same type it is linked instead of duplicated.
func handlePersonalSavingsCreation(ctx context.Context, hc *HandlerContext, req *repository.Request) error {
	if req.MemberID == nil {
		return apperrors.New(apperrors.CodeValidation, "personal savings creation request has no member link")
	}

	content, err := repository.DecodeContent(req.Type, req.Content)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeValidation, "invalid plan content")
	}
	plan := content.(*repository.PersonalSavingsCreationContent)

	existing, err := hc.Effects.FindActivePlan(ctx, *req.MemberID, plan.PlanType)
	if err != nil {
		return err
	}
	if existing != nil {
		hc.Log.Info().
			Str("request_id", req.ID).
			Str("plan_id", existing.ID).
			Msg("active plan of this type already exists; linking instead of creating")
		req.PersonalSavingsID = &existing.ID
		return nil
	}

	created := &repository.SavingsPlan{
		MemberID:            *req.MemberID,
		PlanType:            plan.PlanType,
		Balance:             0,
		MonthlyContribution: plan.MonthlyContribution,
		DurationMonths:      plan.DurationMonths,
		Status:              repository.PlanActive,
		RequestID:           &req.ID,
	}
	if err := hc.Effects.CreatePlan(ctx, created); err != nil {
		return err
	}
	req.PersonalSavingsID = &created.ID

	hc.Notify(Notification{
		Kind:        KindPlanCreated,
		RequestID:   req.ID,
		RequestType: req.Type,
		Recipients:  []string{req.InitiatorID},
		Title:       "Savings plan created",
		Message:     fmt.Sprintf("Your %s savings plan has been created.", plan.PlanType),
		Metadata:    map[string]any{"planId": created.ID},
	})
	return nil
}

// handlePersonalSavingsWithdrawal pays out an approved plan withdrawal. The
// balance is re-read under lock at commit time: it may have moved since the
// request was submitted. An insufficient balance does not fail the
// transition; the request stays COMPLETED, the payout is skipped, and the
// initiator is told the withdrawal failed.
func handlePersonalSavingsWithdrawal(ctx context.Context, hc *HandlerContext, req *repository.Request) error {
	if req.PersonalSavingsID == nil {
		return apperrors.New(apperrors.CodeValidation, "personal savings withdrawal request has no plan link")
	}

	content, err := repository.DecodeContent(req.Type, req.Content)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeValidation, "invalid withdrawal content")
	}
	w := content.(*repository.WithdrawalContent)

	plan, err := hc.Effects.GetPlanForUpdate(ctx, *req.PersonalSavingsID)
	if err != nil {
		return err
	}

	if plan.Balance < w.Amount {
		hc.Log.Warn().
			Str("request_id", req.ID).
			Str("plan_id", plan.ID).
			Int64("balance", plan.Balance).
			Int64("requested", w.Amount).
			Msg("plan balance insufficient at completion; skipping payout")

		if req.Metadata == nil {
			req.Metadata = map[string]any{}
		}
		req.Metadata["withdrawalFailed"] = "insufficient balance at completion"

		hc.Notify(Notification{
			Kind:        KindWithdrawalFailed,
			RequestID:   req.ID,
			RequestType: req.Type,
			Recipients:  []string{req.InitiatorID},
			Title:       "Withdrawal could not be paid",
			Message:     "The plan balance is no longer sufficient for the approved withdrawal.",
			Metadata:    map[string]any{"planId": plan.ID, "balance": plan.Balance, "requested": w.Amount},
		})
		return nil
	}

	balanceAfter, err := hc.Effects.DebitPlan(ctx, plan.ID, w.Amount)
	if err != nil {
		return err
	}

	if err := hc.Effects.InsertLedger(ctx, &repository.LedgerTransaction{
		MemberID:     plan.MemberID,
		PlanID:       &plan.ID,
		RequestID:    &req.ID,
		Kind:         repository.LedgerDebit,
		Amount:       w.Amount,
		BalanceAfter: balanceAfter,
		Narration:    "Personal savings withdrawal",
	}); err != nil {
		return err
	}

	hc.Notify(Notification{
		Kind:        KindWithdrawalPaid,
		RequestID:   req.ID,
		RequestType: req.Type,
		Recipients:  []string{req.InitiatorID},
		Title:       "Withdrawal paid",
		Message:     "Your approved withdrawal has been paid out.",
		Metadata:    map[string]any{"planId": plan.ID, "amount": w.Amount, "balanceAfter": balanceAfter},
	})
	return nil
}

// handleSavingsWithdrawal is the regular-savings sibling of the plan
// withdrawal handler, operating on the member's cooperative savings account.
func handleSavingsWithdrawal(ctx context.Context, hc *HandlerContext, req *repository.Request) error {
	if req.SavingsID == nil {
		return apperrors.New(apperrors.CodeValidation, "savings withdrawal request has no account link")
	}

	content, err := repository.DecodeContent(req.Type, req.Content)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeValidation, "invalid withdrawal content")
	}
	w := content.(*repository.WithdrawalContent)

	acct, err := hc.Effects.GetAccountForUpdate(ctx, *req.SavingsID)
	if err != nil {
		return err
	}

	if acct.Balance < w.Amount {
		hc.Log.Warn().
			Str("request_id", req.ID).
			Str("savings_id", acct.ID).
			Int64("balance", acct.Balance).
			Int64("requested", w.Amount).
			Msg("account balance insufficient at completion; skipping payout")

		if req.Metadata == nil {
			req.Metadata = map[string]any{}
		}
		req.Metadata["withdrawalFailed"] = "insufficient balance at completion"

		hc.Notify(Notification{
			Kind:        KindWithdrawalFailed,
			RequestID:   req.ID,
			RequestType: req.Type,
			Recipients:  []string{req.InitiatorID},
			Title:       "Withdrawal could not be paid",
			Message:     "The account balance is no longer sufficient for the approved withdrawal.",
			Metadata:    map[string]any{"savingsId": acct.ID, "balance": acct.Balance, "requested": w.Amount},
		})
		return nil
	}

	balanceAfter, err := hc.Effects.DebitAccount(ctx, acct.ID, w.Amount)
	if err != nil {
		return err
	}

	if err := hc.Effects.InsertLedger(ctx, &repository.LedgerTransaction{
		MemberID:     acct.MemberID,
		SavingsID:    &acct.ID,
		RequestID:    &req.ID,
		Kind:         repository.LedgerDebit,
		Amount:       w.Amount,
		BalanceAfter: balanceAfter,
		Narration:    "Savings withdrawal",
	}); err != nil {
		return err
	}

	hc.Notify(Notification{
		Kind:        KindWithdrawalPaid,
		RequestID:   req.ID,
		RequestType: req.Type,
		Recipients:  []string{req.InitiatorID},
		Title:       "Withdrawal paid",
		Message:     "Your approved withdrawal has been paid out.",
		Metadata:    map[string]any{"savingsId": acct.ID, "amount": w.Amount, "balanceAfter": balanceAfter},
	})
	return nil
}

// handleBiodataUpdate flips the subject member's approval flag.
func handleBiodataUpdate(ctx context.Context, hc *HandlerContext, req *repository.Request) error {
	if req.MemberID == nil {
		return apperrors.New(apperrors.CodeValidation, "biodata update request has no member link")
	}
	return hc.Effects.SetMemberApproved(ctx, *req.MemberID, true)
}

// handleAccountClosure deactivates the member's account on final approval.
func handleAccountClosure(ctx context.Context, hc *HandlerContext, req *repository.Request) error {
	if req.MemberID == nil {
		return apperrors.New(apperrors.CodeValidation, "account closure request has no member link")
	}
	return hc.Effects.SetMemberAccountActive(ctx, *req.MemberID, false)
}
