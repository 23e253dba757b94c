package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"gar"
	"gar/circuit"
	"gar/notify"
	"gar/sweeper"
)

// APIHandler serves the JSON endpoints.
type APIHandler struct {
	engine     *gar.Engine
	sweeper    *sweeper.Worker
	dispatcher *notify.Dispatcher
	breaker    circuit.Breaker
	events     *EventStore
	logger     Logger
}

// APIResponse is the envelope of every response.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeTransactionNotFound = "TRANSACTION_NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeRuleViolation       = "RULE_VIOLATION"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeNotConfigured       = "NOT_CONFIGURED"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response.
func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, APIResponse{Success: true, Data: data})
}

// writeError writes an error JSON response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
	})
}

// writeDomainError maps engine errors to HTTP statuses.
func (h *APIHandler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gar.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, ErrCodeTransactionNotFound, err.Error())
	case errors.Is(err, gar.ErrInvalidTransition),
		errors.Is(err, gar.ErrDuplicateDispute),
		errors.Is(err, gar.ErrNoDispute),
		errors.Is(err, gar.ErrDisputeAlreadyResolved),
		errors.Is(err, gar.ErrVersionConflict):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, gar.ErrUnknownStatus),
		errors.Is(err, gar.ErrInvalidTransactionInput),
		errors.Is(err, gar.ErrDeliveryNotRecorded),
		errors.Is(err, gar.ErrDisputeWindowExpired),
		errors.Is(err, gar.ErrInvalidDecision),
		errors.Is(err, gar.ErrInvalidRefundAmount):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeRuleViolation, err.Error())
	default:
		h.logger.Printf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}

func (h *APIHandler) requireEngine(w http.ResponseWriter) bool {
	if h.engine == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeNotConfigured, "engine not configured")
		return false
	}
	return true
}

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return false
	}
	return true
}

// HandleHealth GET /healthz
func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleListTransactions GET /api/transactions
func (h *APIHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}

	filter, err := parseTransactionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	txs, err := h.engine.Store().Find(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, TransactionListResponse{
		Transactions: summarize(txs),
		Limit:        filter.Limit,
		Offset:       filter.Offset,
	})
}

// parseTransactionFilter parses query parameters into a Filter.
func parseTransactionFilter(r *http.Request) (*gar.Filter, error) {
	q := r.URL.Query()
	filter := gar.NewFilter()

	for _, s := range q["status"] {
		status := gar.Status(s)
		if !status.IsValid() {
			return nil, fmt.Errorf("unknown status %q", s)
		}
		filter.WithStatus(status)
	}
	if userID := q.Get("user_id"); userID != "" {
		filter.WithUserID(userID)
	}
	if q.Get("pending_notification") == "true" {
		filter.WithPendingNotification()
	}

	limit, offset := 50, 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			return nil, fmt.Errorf("invalid limit %q", v)
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid offset %q", v)
		}
		offset = n
	}
	return filter.WithPagination(limit, offset), nil
}

// HandleListUserTransactions GET /api/users/{userID}/transactions
func (h *APIHandler) HandleListUserTransactions(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}

	txs, err := h.engine.ListForUser(r.Context(), r.PathValue("userID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, TransactionListResponse{Transactions: summarize(txs)})
}

// HandleCreateTransaction POST /api/transactions
func (h *APIHandler) HandleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}

	var req CreateRequest
	if !decode(w, r, &req) {
		return
	}

	tx, err := h.engine.Create(r.Context(), gar.CreateParams{
		Amount:   req.Amount,
		Currency: req.Currency,
		UserID:   req.UserID,
		OrderID:  req.OrderID,
		Client:   req.Client,
		Note:     req.Note,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, tx)
}

// HandleGetTransaction GET /api/transactions/{ref}
func (h *APIHandler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}

	tx, err := h.engine.Get(r.Context(), r.PathValue("ref"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, tx)
}

// HandleAdvance POST /api/transactions/{ref}/advance
func (h *APIHandler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}

	var req AdvanceRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "status is required")
		return
	}

	res, err := h.engine.Advance(r.Context(), r.PathValue("ref"), req.Status, gar.AdvanceOptions{
		Note:         req.Note,
		AdminID:      req.AdminID,
		NotifyClient: req.NotifyClient,
		Delivery:     req.Delivery,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, res.Transaction)
}

// HandleOpenDispute POST /api/transactions/{ref}/dispute
func (h *APIHandler) HandleOpenDispute(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}

	var req DisputeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "reason is required")
		return
	}

	res, err := h.engine.OpenDispute(r.Context(), r.PathValue("ref"), gar.DisputeRequest{
		Reason:       req.Reason,
		Description:  req.Description,
		Evidence:     req.Evidence,
		NotifyClient: req.NotifyClient,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, res.Transaction)
}

// HandleResolveDispute POST /api/transactions/{ref}/dispute/resolve
func (h *APIHandler) HandleResolveDispute(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}

	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.engine.ResolveDispute(r.Context(), r.PathValue("ref"), gar.Resolution{
		Decision:     req.Decision,
		Note:         req.Note,
		RefundAmount: req.RefundAmount,
		AdminID:      req.AdminID,
		NotifyClient: req.NotifyClient,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, res.Transaction)
}

// HandleSweep POST /api/sweep
func (h *APIHandler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeNotConfigured, "sweeper not configured")
		return
	}

	report := h.sweeper.ScanOnce(r.Context())
	resp := SweepResponse{
		StartedAt: report.StartedAt,
		Scanned:   report.Scanned,
		Completed: nonNil(report.Completed),
		Skipped:   nonNil(report.Skipped),
		Failures:  make([]SweepFailure, 0, len(report.Failures)),
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, SweepFailure{Reference: f.Reference, Error: f.Err.Error()})
	}
	writeSuccess(w, http.StatusOK, resp)
}

// HandleSweepStats GET /api/sweep/stats
func (h *APIHandler) HandleSweepStats(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeNotConfigured, "sweeper not configured")
		return
	}
	writeSuccess(w, http.StatusOK, h.sweeper.Stats())
}

// HandleRetryNotifications POST /api/notifications/retry
func (h *APIHandler) HandleRetryNotifications(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeNotConfigured, "dispatcher not configured")
		return
	}

	delivered, err := h.dispatcher.RetryPending(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]int{"delivered": delivered})
}

// HandleGetCircuitBreaker GET /api/circuit-breakers/{service}
func (h *APIHandler) HandleGetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	if h.breaker == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeNotConfigured, "circuit breaker not configured")
		return
	}

	service := r.PathValue("service")
	cb := h.breaker.Get(service)
	counts := cb.Counts()
	writeSuccess(w, http.StatusOK, CircuitBreakerInfo{
		Service:              service,
		State:                cb.State().String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	})
}

// HandleResetCircuitBreaker POST /api/circuit-breakers/{service}/reset
func (h *APIHandler) HandleResetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	if h.breaker == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeNotConfigured, "circuit breaker not configured")
		return
	}

	service := r.PathValue("service")
	h.breaker.Get(service).Reset()
	writeSuccess(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("circuit breaker %s reset", service)})
}

// HandleListEvents GET /api/events
func (h *APIHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeNotConfigured, "event store not configured")
		return
	}

	q := r.URL.Query()
	filter := EventFilter{
		Type:      q.Get("type"),
		Reference: q.Get("reference"),
		Limit:     100,
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 && n <= 1000 {
		filter.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		filter.Offset = n
	}

	writeSuccess(w, http.StatusOK, EventsListResponse{
		Events: h.events.List(filter),
		Total:  h.events.Count(filter),
	})
}

func summarize(txs []*gar.Transaction) []TransactionSummary {
	out := make([]TransactionSummary, 0, len(txs))
	for _, tx := range txs {
		out = append(out, TransactionSummary{
			Reference:          tx.Reference,
			Status:             tx.Status,
			Amount:             tx.Amount,
			Currency:           tx.Currency,
			UserID:             tx.UserID,
			Disputed:           tx.Dispute != nil,
			VerificationEndsAt: tx.VerificationEndsAt,
			CreatedAt:          tx.CreatedAt,
			UpdatedAt:          tx.UpdatedAt,
		})
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ============================================================================
// API Request/Response Models
// ============================================================================

// CreateRequest is the body of POST /api/transactions.
type CreateRequest struct {
	Amount   int64              `json:"amount"`
	Currency string             `json:"currency"`
	UserID   string             `json:"user_id"`
	OrderID  string             `json:"order_id"`
	Client   gar.ClientSnapshot `json:"client"`
	Note     string             `json:"note"`
}

// AdvanceRequest is the body of POST /api/transactions/{ref}/advance.
type AdvanceRequest struct {
	Status       gar.Status        `json:"status"`
	Note         string            `json:"note"`
	AdminID      string            `json:"admin_id"`
	NotifyClient bool              `json:"notify_client"`
	Delivery     *gar.DeliveryInfo `json:"delivery,omitempty"`
}

// DisputeRequest is the body of POST /api/transactions/{ref}/dispute.
type DisputeRequest struct {
	Reason       string   `json:"reason"`
	Description  string   `json:"description"`
	Evidence     []string `json:"evidence"`
	NotifyClient bool     `json:"notify_client"`
}

// ResolveRequest is the body of POST /api/transactions/{ref}/dispute/resolve.
type ResolveRequest struct {
	Decision     gar.Decision `json:"decision"`
	Note         string       `json:"note"`
	RefundAmount int64        `json:"refund_amount"`
	AdminID      string       `json:"admin_id"`
	NotifyClient bool         `json:"notify_client"`
}

// TransactionListResponse lists transaction summaries.
type TransactionListResponse struct {
	Transactions []TransactionSummary `json:"transactions"`
	Limit        int                  `json:"limit,omitempty"`
	Offset       int                  `json:"offset,omitempty"`
}

// TransactionSummary is the list view of a transaction.
type TransactionSummary struct {
	Reference          string     `json:"reference"`
	Status             gar.Status `json:"status"`
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
	UserID             string     `json:"user_id,omitempty"`
	Disputed           bool       `json:"disputed"`
	VerificationEndsAt *time.Time `json:"verification_ends_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SweepResponse is the report of a manual sweep.
type SweepResponse struct {
	StartedAt time.Time      `json:"started_at"`
	Scanned   int            `json:"scanned"`
	Completed []string       `json:"completed"`
	Skipped   []string       `json:"skipped"`
	Failures  []SweepFailure `json:"failures"`
}

// SweepFailure is one failed auto-completion.
type SweepFailure struct {
	Reference string `json:"reference"`
	Error     string `json:"error"`
}

// CircuitBreakerInfo describes one circuit breaker.
type CircuitBreakerInfo struct {
	Service              string `json:"service"`
	State                string `json:"state"`
	Requests             int64  `json:"requests"`
	TotalSuccesses       int64  `json:"total_successes"`
	TotalFailures        int64  `json:"total_failures"`
	ConsecutiveSuccesses int64  `json:"consecutive_successes"`
	ConsecutiveFailures  int64  `json:"consecutive_failures"`
}

// EventsListResponse lists stored events.
type EventsListResponse struct {
	Events []StoredEvent `json:"events"`
	Total  int           `json:"total"`
}
