package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/michaelodikeme/coop-nest-approvals/internal/apperrors"
	"github.com/michaelodikeme/coop-nest-approvals/internal/logger"
	"github.com/michaelodikeme/coop-nest-approvals/internal/repository"
)

// ── In-memory fakes ──────────────────────────────────────────────────────────

// fakeEffects backs both the EffectStore handlers see inside Advance and the
// Savings read interface.
type fakeEffects struct {
	mu       sync.Mutex
	seq      int
	plans    map[string]*repository.SavingsPlan
	accounts map[string]*repository.SavingsAccount
	members  map[string]*repository.Member
	ledger   []*repository.LedgerTransaction
}

func newFakeEffects() *fakeEffects {
	return &fakeEffects{
		plans:    map[string]*repository.SavingsPlan{},
		accounts: map[string]*repository.SavingsAccount{},
		members:  map[string]*repository.Member{},
	}
}

func (f *fakeEffects) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeEffects) FindActivePlan(_ context.Context, memberID, planType string) (*repository.SavingsPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.plans {
		if p.MemberID == memberID && p.PlanType == planType && p.Status == repository.PlanActive {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeEffects) CreatePlan(_ context.Context, plan *repository.SavingsPlan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	plan.ID = f.nextID("plan")
	cp := *plan
	f.plans[plan.ID] = &cp
	return nil
}

func (f *fakeEffects) GetPlan(_ context.Context, id string) (*repository.SavingsPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[id]
	if !ok {
		return nil, apperrors.NotFound("savings_plan", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeEffects) GetPlanForUpdate(ctx context.Context, id string) (*repository.SavingsPlan, error) {
	return f.GetPlan(ctx, id)
}

func (f *fakeEffects) DebitPlan(_ context.Context, id string, amount int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[id]
	if !ok || p.Balance < amount {
		return 0, apperrors.New(apperrors.CodeConflict, "insufficient plan balance")
	}
	p.Balance -= amount
	return p.Balance, nil
}

func (f *fakeEffects) GetAccountForUpdate(_ context.Context, id string) (*repository.SavingsAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, apperrors.NotFound("savings_account", id)
	}
	cp := *a
	return &cp, nil
}

func (f *fakeEffects) DebitAccount(_ context.Context, id string, amount int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || a.Balance < amount {
		return 0, apperrors.New(apperrors.CodeConflict, "insufficient account balance")
	}
	a.Balance -= amount
	return a.Balance, nil
}

func (f *fakeEffects) InsertLedger(_ context.Context, entry *repository.LedgerTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = f.nextID("txn")
	cp := *entry
	f.ledger = append(f.ledger, &cp)
	return nil
}

func (f *fakeEffects) ListLedgerByPlan(_ context.Context, planID string) ([]*repository.LedgerTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.LedgerTransaction
	for _, e := range f.ledger {
		if e.PlanID != nil && *e.PlanID == planID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeEffects) SetMemberApproved(_ context.Context, memberID string, approved bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[memberID]
	if !ok {
		return apperrors.NotFound("member", memberID)
	}
	m.Approved = approved
	return nil
}

func (f *fakeEffects) SetMemberAccountActive(_ context.Context, memberID string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[memberID]
	if !ok {
		return apperrors.NotFound("member", memberID)
	}
	m.AccountActive = active
	return nil
}

// GetByID satisfies the Members lookup used at request creation.
func (f *fakeEffects) GetByID(_ context.Context, id string) (*repository.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[id]
	if !ok {
		return nil, apperrors.NotFound("member", id)
	}
	cp := *m
	return &cp, nil
}

// fakeStore is an in-memory Store with the same compare-and-swap contract
// as the pgx repository.
type fakeStore struct {
	mu       sync.Mutex
	seq      int
	requests map[string]*repository.Request
	effects  *fakeEffects
}

func newFakeStore(effects *fakeEffects) *fakeStore {
	return &fakeStore{requests: map[string]*repository.Request{}, effects: effects}
}

func cloneRequest(r *repository.Request) *repository.Request {
	cp := *r
	cp.Steps = make([]*repository.ApprovalStep, len(r.Steps))
	for i, s := range r.Steps {
		sc := *s
		cp.Steps[i] = &sc
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (s *fakeStore) Create(_ context.Context, req *repository.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	req.ID = fmt.Sprintf("req-%d", s.seq)
	for i, step := range req.Steps {
		step.ID = fmt.Sprintf("%s-step-%d", req.ID, i+1)
		step.RequestID = req.ID
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*repository.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, apperrors.NotFound("request", id)
	}
	return cloneRequest(r), nil
}

func (s *fakeStore) List(_ context.Context, f repository.RequestFilter) ([]*repository.Request, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.Request
	for _, r := range s.requests {
		if f.InitiatorID != nil && r.InitiatorID != *f.InitiatorID {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		if f.Type != nil && r.Type != *f.Type {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	return out, int64(len(out)), nil
}

func (s *fakeStore) PendingCountForRole(_ context.Context, role string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.requests {
		if r.Terminal() {
			continue
		}
		if step := r.CurrentStep(); step != nil && step.ApproverRole == role && step.Status == repository.StepPending {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) PendingCountForInitiator(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.requests {
		if r.InitiatorID == userID && !r.Terminal() {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Statistics(_ context.Context, _ repository.RequestFilter) (*repository.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &repository.Statistics{
		ByStatus: map[repository.Status]int64{},
		ByType:   map[repository.RequestType]int64{},
	}
	for _, r := range s.requests {
		st.Total++
		st.ByStatus[r.Status]++
		st.ByType[r.Type]++
	}
	return st, nil
}

// Advance mirrors the pgx repository's contract: the step mutation rides in
// via req.Steps, and a version mismatch reports CONFLICT.
func (s *fakeStore) Advance(
	_ context.Context,
	req *repository.Request,
	_ *repository.ApprovalStep,
	expectedVersion int64,
	fn func(effects repository.EffectStore) error,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.requests[req.ID]
	if !ok {
		return apperrors.NotFound("request", req.ID)
	}
	if stored.Version != expectedVersion {
		return apperrors.New(apperrors.CodeConflict, "request was modified concurrently")
	}
	if fn != nil {
		if err := fn(s.effects); err != nil {
			return err
		}
	}
	req.Version = expectedVersion + 1
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

// fakeDirectory resolves roles from a static map.
type fakeDirectory struct {
	roles map[string][]string // user id -> roles
}

func (d *fakeDirectory) UsersWithRole(_ context.Context, role string) ([]string, error) {
	var out []string
	for user, held := range d.roles {
		for _, r := range held {
			if r == role {
				out = append(out, user)
			}
		}
	}
	return out, nil
}

func (d *fakeDirectory) UserHasRole(_ context.Context, userID, role string) (bool, error) {
	for _, r := range d.roles[userID] {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}

// fakeNotifier records every notification it is handed.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *fakeNotifier) Notify(_ context.Context, notif Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notif)
}

func (n *fakeNotifier) byKind(kind string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, s := range n.sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// fakeAudit records audit entries in order.
type fakeAudit struct {
	mu      sync.Mutex
	entries []*repository.AuditEntry
}

func (a *fakeAudit) Append(_ context.Context, entry *repository.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAudit) ListByRequest(_ context.Context, requestID string) ([]*repository.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*repository.AuditEntry
	for _, e := range a.entries {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ── Test environment ─────────────────────────────────────────────────────────

type testEnv struct {
	svc      *WorkflowService
	store    *fakeStore
	effects  *fakeEffects
	notifier *fakeNotifier
	audit    *fakeAudit
}

const (
	initiator = "user-init"
	admin     = "user-admin"
	treasurer = "user-treasurer"
	chairman  = "user-chair"
	memberID  = "member-1"
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	effects := newFakeEffects()
	effects.members[memberID] = &repository.Member{
		ID: memberID, FullName: "Ada Obi", Email: "ada@example.com", AccountActive: true,
	}

	store := newFakeStore(effects)
	notifier := &fakeNotifier{}
	audit := &fakeAudit{}
	directory := &fakeDirectory{roles: map[string][]string{
		admin:     {RoleAdmin},
		treasurer: {RoleTreasurer},
		chairman:  {RoleChairman},
	}}

	svc := NewWorkflowService(store, directory, effects, effects, notifier, audit, NewHandlerRegistry(), logger.Nop())
	return &testEnv{svc: svc, store: store, effects: effects, notifier: notifier, audit: audit}
}

func strptr(s string) *string { return &s }

func (e *testEnv) createPlanCreationRequest(t *testing.T) *repository.Request {
	t.Helper()
	req, err := e.svc.CreateRequest(context.Background(), CreateRequestInput{
		Type:        repository.TypePersonalSavingsCreation,
		Module:      repository.ModuleSavings,
		InitiatorID: initiator,
		MemberID:    strptr(memberID),
		Content:     json.RawMessage(`{"planType":"TARGET","monthlyContribution":5000,"durationMonths":12}`),
	})
	require.NoError(t, err)
	return req
}

func (e *testEnv) advance(t *testing.T, id string, target repository.Status, actor string) *repository.Request {
	t.Helper()
	req, err := e.svc.AdvanceStatus(context.Background(), id, target, actor, nil)
	require.NoError(t, err)
	return req
}

// ── Creation ─────────────────────────────────────────────────────────────────

func TestCreateRequestBuildsFullLadder(t *testing.T) {
	env := newTestEnv(t)
	req := env.createPlanCreationRequest(t)

	require.Equal(t, repository.StatusPending, req.Status)
	require.Equal(t, 1, req.NextApprovalLevel)
	require.EqualValues(t, 1, req.Version)
	require.Len(t, req.Steps, 2)
	require.Equal(t, RoleTreasurer, req.Steps[0].ApproverRole)
	require.Equal(t, RoleChairman, req.Steps[1].ApproverRole)
	for _, s := range req.Steps {
		require.Equal(t, repository.StepPending, s.Status)
	}

	// Initiator is told, and the level-1 role holder is asked to review.
	require.Len(t, env.notifier.byKind(KindSubmitted), 1)
	fanout := env.notifier.byKind(KindApprovalRequired)
	require.Len(t, fanout, 1)
	require.Equal(t, []string{treasurer}, fanout[0].Recipients)
}

func TestCreateRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateRequest(ctx, CreateRequestInput{
		Type:        repository.RequestType("NOT_A_TYPE"),
		Module:      repository.ModuleSavings,
		InitiatorID: initiator,
	})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	// Payload problems surface as field errors.
	_, err = env.svc.CreateRequest(ctx, CreateRequestInput{
		Type:        repository.TypePersonalSavingsCreation,
		Module:      repository.ModuleSavings,
		InitiatorID: initiator,
		MemberID:    strptr(memberID),
		Content:     json.RawMessage(`{"planType":"","monthlyContribution":0,"durationMonths":0}`),
	})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	// Types whose handler needs a subject link refuse to start without one.
	_, err = env.svc.CreateRequest(ctx, CreateRequestInput{
		Type:        repository.TypePersonalSavingsWithdrawal,
		Module:      repository.ModuleSavings,
		InitiatorID: initiator,
		Content:     json.RawMessage(`{"amount":1000,"reason":"school fees"}`),
	})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestCreateRequestRejectsUnknownMember(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.CreateRequest(context.Background(), CreateRequestInput{
		Type:        repository.TypeBiodataUpdate,
		Module:      repository.ModuleAccount,
		InitiatorID: initiator,
		MemberID:    strptr("member-missing"),
		Content:     json.RawMessage(`{"changes":{"phone":"0800"}}`),
	})
	require.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

// ── Plan creation flow ───────────────────────────────────────────────────────

func TestPlanCreationApprovalCreatesPlan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.createPlanCreationRequest(t)

	env.advance(t, req.ID, repository.StatusInReview, treasurer)
	env.advance(t, req.ID, repository.StatusReviewed, chairman)
	final := env.advance(t, req.ID, repository.StatusApproved, chairman)

	require.Equal(t, repository.StatusApproved, final.Status)
	require.NotNil(t, final.CompletedAt)
	require.NotNil(t, final.PersonalSavingsID)

	plan, err := env.effects.GetPlan(ctx, *final.PersonalSavingsID)
	require.NoError(t, err)
	require.Equal(t, memberID, plan.MemberID)
	require.Equal(t, "TARGET", plan.PlanType)
	require.EqualValues(t, 0, plan.Balance)
	require.EqualValues(t, 5000, plan.MonthlyContribution)
	require.Equal(t, repository.PlanActive, plan.Status)

	require.Len(t, env.notifier.byKind(KindPlanCreated), 1)

	// Final approval must not fan out another review notice.
	require.Len(t, env.notifier.byKind(KindApprovalRequired), 2) // creation + after level 1
}

func TestPlanCreationIsIdempotentPerMemberAndType(t *testing.T) {
	env := newTestEnv(t)

	first := env.createPlanCreationRequest(t)
	env.advance(t, first.ID, repository.StatusInReview, treasurer)
	env.advance(t, first.ID, repository.StatusReviewed, chairman)
	firstDone := env.advance(t, first.ID, repository.StatusApproved, chairman)

	second := env.createPlanCreationRequest(t)
	env.advance(t, second.ID, repository.StatusInReview, treasurer)
	env.advance(t, second.ID, repository.StatusReviewed, chairman)
	secondDone := env.advance(t, second.ID, repository.StatusApproved, chairman)

	// The second approval links the existing plan instead of duplicating it.
	require.Equal(t, *firstDone.PersonalSavingsID, *secondDone.PersonalSavingsID)
	require.Len(t, env.effects.plans, 1)
	require.Len(t, env.notifier.byKind(KindPlanCreated), 1)
}

// ── Withdrawal flows ─────────────────────────────────────────────────────────

func (e *testEnv) seedPlan(balance int64) *repository.SavingsPlan {
	p := &repository.SavingsPlan{
		ID: "plan-seed", MemberID: memberID, PlanType: "TARGET",
		Balance: balance, Status: repository.PlanActive,
	}
	e.effects.plans[p.ID] = p
	return p
}

func (e *testEnv) createWithdrawalRequest(t *testing.T, planID string, amount int64) *repository.Request {
	t.Helper()
	req, err := e.svc.CreateRequest(context.Background(), CreateRequestInput{
		Type:              repository.TypePersonalSavingsWithdrawal,
		Module:            repository.ModuleSavings,
		InitiatorID:       initiator,
		PersonalSavingsID: strptr(planID),
		Content:           json.RawMessage(fmt.Sprintf(`{"amount":%d,"reason":"school fees"}`, amount)),
	})
	require.NoError(t, err)
	return req
}

func TestWithdrawalCompletionDebitsPlanAndPostsLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	plan := env.seedPlan(10_000)
	req := env.createWithdrawalRequest(t, plan.ID, 4_000)

	require.Len(t, req.Steps, 3)

	env.advance(t, req.ID, repository.StatusInReview, treasurer)
	env.advance(t, req.ID, repository.StatusReviewed, chairman)
	approved := env.advance(t, req.ID, repository.StatusApproved, treasurer)
	require.NotNil(t, approved.CompletedAt)
	require.Equal(t, 3, approved.NextApprovalLevel)

	done := env.advance(t, req.ID, repository.StatusCompleted, treasurer)
	require.Equal(t, repository.StatusCompleted, done.Status)

	got, err := env.effects.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 6_000, got.Balance)

	ledger, err := env.effects.ListLedgerByPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	require.Equal(t, repository.LedgerDebit, ledger[0].Kind)
	require.EqualValues(t, 4_000, ledger[0].Amount)
	require.EqualValues(t, 6_000, ledger[0].BalanceAfter)
	require.Equal(t, req.ID, *ledger[0].RequestID)

	require.Len(t, env.notifier.byKind(KindWithdrawalPaid), 1)
}

func TestWithdrawalInsufficientBalanceCompletesWithoutPayout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	plan := env.seedPlan(1_000)
	req := env.createWithdrawalRequest(t, plan.ID, 4_000)

	env.advance(t, req.ID, repository.StatusInReview, treasurer)
	env.advance(t, req.ID, repository.StatusReviewed, chairman)
	env.advance(t, req.ID, repository.StatusApproved, treasurer)
	done := env.advance(t, req.ID, repository.StatusCompleted, treasurer)

	// The transition lands; the payout is skipped and flagged.
	require.Equal(t, repository.StatusCompleted, done.Status)
	require.Equal(t, "insufficient balance at completion", done.Metadata["withdrawalFailed"])

	got, err := env.effects.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1_000, got.Balance)

	ledger, err := env.effects.ListLedgerByPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Empty(t, ledger)

	require.Len(t, env.notifier.byKind(KindWithdrawalFailed), 1)
	require.Empty(t, env.notifier.byKind(KindWithdrawalPaid))

	stored, err := env.svc.GetByID(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, "insufficient balance at completion", stored.Metadata["withdrawalFailed"])
}

// ── Member flag flows ────────────────────────────────────────────────────────

func TestBiodataUpdateApprovalFlipsMemberFlag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, err := env.svc.CreateRequest(ctx, CreateRequestInput{
		Type:        repository.TypeBiodataUpdate,
		Module:      repository.ModuleAccount,
		InitiatorID: initiator,
		MemberID:    strptr(memberID),
		Content:     json.RawMessage(`{"changes":{"phone":"0800123"}}`),
	})
	require.NoError(t, err)

	env.advance(t, req.ID, repository.StatusInReview, admin)
	env.advance(t, req.ID, repository.StatusReviewed, chairman)
	env.advance(t, req.ID, repository.StatusApproved, chairman)

	m, err := env.effects.GetByID(ctx, memberID)
	require.NoError(t, err)
	require.True(t, m.Approved)
}

func TestHandlerFailureRollsBackTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, err := env.svc.CreateRequest(ctx, CreateRequestInput{
		Type:        repository.TypeBiodataUpdate,
		Module:      repository.ModuleAccount,
		InitiatorID: initiator,
		MemberID:    strptr(memberID),
		Content:     json.RawMessage(`{"changes":{"phone":"0800123"}}`),
	})
	require.NoError(t, err)

	env.advance(t, req.ID, repository.StatusInReview, admin)
	env.advance(t, req.ID, repository.StatusReviewed, chairman)

	// The member vanishes before final approval; the handler fails and the
	// transition must not land.
	delete(env.effects.members, memberID)
	_, err = env.svc.AdvanceStatus(ctx, req.ID, repository.StatusApproved, chairman, nil)
	require.Error(t, err)

	stored, err := env.svc.GetByID(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusReviewed, stored.Status)
}

// ── State machine and authorization ──────────────────────────────────────────

func TestAdvanceRefusesIllegalTransition(t *testing.T) {
	env := newTestEnv(t)
	req := env.createPlanCreationRequest(t)

	_, err := env.svc.AdvanceStatus(context.Background(), req.ID, repository.StatusCompleted, treasurer, nil)
	require.Equal(t, apperrors.CodeInvalidTransition, apperrors.CodeOf(err))
}

func TestAdvanceRefusesWrongRole(t *testing.T) {
	env := newTestEnv(t)
	req := env.createPlanCreationRequest(t)

	// Level 1 wants a treasurer; the admin may not act on it.
	_, err := env.svc.AdvanceStatus(context.Background(), req.ID, repository.StatusInReview, admin, nil)
	require.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))
}

func TestRejectionFreezesTheLadder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	plan := env.seedPlan(10_000)
	req := env.createWithdrawalRequest(t, plan.ID, 4_000)

	env.advance(t, req.ID, repository.StatusInReview, treasurer)
	rejected, err := env.svc.AdvanceStatus(ctx, req.ID, repository.StatusRejected, chairman, strptr("limits exceeded"))
	require.NoError(t, err)

	require.Equal(t, repository.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.CompletedAt)
	require.Equal(t, 2, rejected.NextApprovalLevel)
	require.Equal(t, repository.StepRejected, rejected.Steps[1].Status)
	require.Equal(t, repository.StepApproved, rejected.Steps[0].Status)

	_, err = env.svc.AdvanceStatus(ctx, req.ID, repository.StatusReviewed, chairman, nil)
	require.Equal(t, apperrors.CodeInvalidTransition, apperrors.CodeOf(err))

	// No payout happened.
	got, err := env.effects.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 10_000, got.Balance)
}

func TestCancelOnlyByInitiatorAndOnlyWhilePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := env.createPlanCreationRequest(t)
	_, err := env.svc.Cancel(ctx, req.ID, treasurer)
	require.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))

	cancelled, err := env.svc.Cancel(ctx, req.ID, initiator)
	require.NoError(t, err)
	require.Equal(t, repository.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)

	other := env.createPlanCreationRequest(t)
	env.advance(t, other.ID, repository.StatusInReview, treasurer)
	_, err = env.svc.Cancel(ctx, other.ID, initiator)
	require.Equal(t, apperrors.CodeInvalidTransition, apperrors.CodeOf(err))
}

func TestConcurrentAdvancesOnlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	req := env.createPlanCreationRequest(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.AdvanceStatus(context.Background(), req.ID, repository.StatusInReview, treasurer, nil)
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperrors.CodeOf(err) == apperrors.CodeInvalidTransition:
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, conflict)

	stored, err := env.svc.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusInReview, stored.Status)
	require.Equal(t, 2, stored.NextApprovalLevel)
	require.EqualValues(t, 2, stored.Version)
}

// ── Queries ──────────────────────────────────────────────────────────────────

func TestPendingCounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := env.createPlanCreationRequest(t)
	plan := env.seedPlan(10_000)
	env.createWithdrawalRequest(t, plan.ID, 1_000)

	n, err := env.svc.PendingCount(ctx, "", RoleTreasurer)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = env.svc.PendingCount(ctx, initiator, "")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	env.advance(t, req.ID, repository.StatusInReview, treasurer)
	n, err = env.svc.PendingCount(ctx, "", RoleTreasurer)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = env.svc.PendingCount(ctx, "", "")
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestAuditTrailRecordsEveryAction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.createPlanCreationRequest(t)

	env.advance(t, req.ID, repository.StatusInReview, treasurer)
	env.advance(t, req.ID, repository.StatusReviewed, chairman)
	env.advance(t, req.ID, repository.StatusApproved, chairman)

	trail, err := env.svc.AuditTrail(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, trail, 4)
	require.Equal(t, "submitted", trail[0].Action)
	require.Equal(t, "in_review", trail[1].Action)
	require.Equal(t, "reviewed", trail[2].Action)
	require.Equal(t, "approved", trail[3].Action)

	_, err = env.svc.AuditTrail(ctx, "req-missing")
	require.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestPlanStatement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	plan := env.seedPlan(10_000)
	req := env.createWithdrawalRequest(t, plan.ID, 4_000)

	env.advance(t, req.ID, repository.StatusInReview, treasurer)
	env.advance(t, req.ID, repository.StatusReviewed, chairman)
	env.advance(t, req.ID, repository.StatusApproved, treasurer)
	env.advance(t, req.ID, repository.StatusCompleted, treasurer)

	got, ledger, err := env.svc.PlanStatement(ctx, plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 6_000, got.Balance)
	require.Len(t, ledger, 1)

	_, _, err = env.svc.PlanStatement(ctx, "plan-missing")
	require.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}
