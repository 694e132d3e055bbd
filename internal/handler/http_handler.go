package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/michaelodikeme/coop-nest-approvals/internal/apperrors"
	"github.com/michaelodikeme/coop-nest-approvals/internal/logger"
	"github.com/michaelodikeme/coop-nest-approvals/internal/repository"
	"github.com/michaelodikeme/coop-nest-approvals/internal/service"
)

// HTTPHandler exposes the workflow service over HTTP.
type HTTPHandler struct {
	workflows *service.WorkflowService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(workflows *service.WorkflowService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		workflows: workflows,
		log:       log,
	}
}

// actorID returns the authenticated user id for the request.
// TODO: read the user id from gateway-verified JWT claims once the API
// gateway forwards them; X-User-ID is the interim contract.
func actorID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// CreateRequest handles POST /api/v1/requests.
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type              repository.RequestType `json:"type"`
		Module            repository.Module      `json:"module"`
		Content           json.RawMessage        `json:"content"`
		Metadata          map[string]any         `json:"metadata"`
		Notes             *string                `json:"notes"`
		MemberID          *string                `json:"memberId"`
		SavingsID         *string                `json:"savingsId"`
		LoanID            *string                `json:"loanId"`
		PersonalSavingsID *string                `json:"personalSavingsId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	req, err := h.workflows.CreateRequest(r.Context(), service.CreateRequestInput{
		Type:              body.Type,
		Module:            body.Module,
		InitiatorID:       actorID(r),
		Content:           body.Content,
		Metadata:          body.Metadata,
		Notes:             body.Notes,
		MemberID:          body.MemberID,
		SavingsID:         body.SavingsID,
		LoanID:            body.LoanID,
		PersonalSavingsID: body.PersonalSavingsID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// GetRequest handles GET /api/v1/requests/get?id=...
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, apperrors.InvalidInput("id", "request id is required"))
		return
	}

	req, err := h.workflows.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListRequests handles GET /api/v1/requests.
func (h *HTTPHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	requests, total, err := h.workflows.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"total":    total,
	})
}

// ListMyRequests handles GET /api/v1/requests/mine.
func (h *HTTPHandler) ListMyRequests(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	requests, total, err := h.workflows.ListForUser(r.Context(), actorID(r), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"total":    total,
	})
}

// AdvanceRequest handles POST /api/v1/requests/advance.
func (h *HTTPHandler) AdvanceRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID     string            `json:"id"`
		Status repository.Status `json:"status"`
		Notes  *string           `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	req, err := h.workflows.AdvanceStatus(r.Context(), body.ID, body.Status, actorID(r), body.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// CancelRequest handles POST /api/v1/requests/cancel.
func (h *HTTPHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	req, err := h.workflows.Cancel(r.Context(), body.ID, actorID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// PendingCount handles GET /api/v1/requests/pending-count?role=...|user=...
func (h *HTTPHandler) PendingCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.workflows.PendingCount(r.Context(),
		r.URL.Query().Get("user"),
		r.URL.Query().Get("role"),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// AuditTrail handles GET /api/v1/requests/audit?id=...
func (h *HTTPHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, apperrors.InvalidInput("id", "request id is required"))
		return
	}

	entries, err := h.workflows.AuditTrail(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// PlanStatement handles GET /api/v1/plans/statement?id=...
func (h *HTTPHandler) PlanStatement(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, apperrors.InvalidInput("id", "plan id is required"))
		return
	}

	plan, ledger, err := h.workflows.PlanStatement(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":   plan,
		"ledger": ledger,
	})
}

// Statistics handles GET /api/v1/requests/statistics.
func (h *HTTPHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	stats, err := h.workflows.Statistics(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func filterFromQuery(r *http.Request) (repository.RequestFilter, error) {
	f := repository.RequestFilter{}
	q := r.URL.Query()

	if v := q.Get("type"); v != "" {
		t := repository.RequestType(v)
		f.Type = &t
	}
	if v := q.Get("module"); v != "" {
		m := repository.Module(v)
		f.Module = &m
	}
	if v := q.Get("status"); v != "" {
		s := repository.Status(v)
		f.Status = &s
	}
	if v := q.Get("initiator"); v != "" {
		f.InitiatorID = &v
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, apperrors.InvalidInput("from", "must be an RFC3339 timestamp")
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, apperrors.InvalidInput("to", "must be an RFC3339 timestamp")
		}
		f.To = &t
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}
	f.Limit = pageSize
	f.Offset = (page - 1) * pageSize

	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.New(apperrors.CodeInternal, "internal server error")
	}

	body := map[string]any{
		"error": map[string]any{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	}
	if len(appErr.Fields) > 0 {
		body["error"].(map[string]any)["fields"] = appErr.Fields
	}
	writeJSON(w, appErr.HTTPStatus(), body)
}
