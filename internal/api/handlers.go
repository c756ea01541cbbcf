/**
 * @description
 * This file contains the HTTP handlers for the billing-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fitsched/billing-service/internal/app"
	"github.com/fitsched/billing-service/internal/domain"
	"github.com/fitsched/billing-service/internal/store"
)

// BillingHandlers holds the application service that handlers will use.
type BillingHandlers struct {
	service     *app.Service
	rateLimiter *app.RedisBillingRateLimiter

	creditLimitPerMinute  int
	invoiceLimitPerMinute int
}

// NewBillingHandlers creates a new instance of BillingHandlers. rateLimiter
// may be nil, which disables endpoint rate limiting.
func NewBillingHandlers(service *app.Service, rateLimiter *app.RedisBillingRateLimiter, creditLimit, invoiceLimit int) *BillingHandlers {
	return &BillingHandlers{
		service:               service,
		rateLimiter:           rateLimiter,
		creditLimitPerMinute:  creditLimit,
		invoiceLimitPerMinute: invoiceLimit,
	}
}

type addCreditRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type addCreditResponse struct {
	NewBalance        decimal.Decimal `json:"new_balance"`
	TransactionID     string          `json:"transaction_id"`
	SwitchedToPrepaid bool            `json:"switched_to_prepaid"`
}

type deductionResponse struct {
	Success               bool            `json:"success"`
	AmountDeducted        decimal.Decimal `json:"amount_deducted"`
	NewBalance            decimal.Decimal `json:"new_balance"`
	ShouldGenerateInvoice bool            `json:"should_generate_invoice"`
	GeneratedInvoiceID    *string         `json:"generated_invoice_id,omitempty"`
	AlreadyProcessed      bool            `json:"already_processed"`
	Reason                string          `json:"reason,omitempty"`
}

type generateInvoiceRequest struct {
	TrainerID uuid.UUID `json:"trainer_id"`
}

type invoiceResponse struct {
	InvoiceID string          `json:"invoice_id"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	DueDate   time.Time       `json:"due_date"`
	LineItems int             `json:"line_items"`
}

type voidInvoiceRequest struct {
	NewBillingFrequency string `json:"new_billing_frequency"`
}

type voidInvoiceResponse struct {
	Success             bool            `json:"success"`
	RetainedCredit      decimal.Decimal `json:"retained_credit"`
	NewBillingFrequency string          `json:"new_billing_frequency"`
}

// AddCreditHandler records a prepaid top-up payment against a client's balance.
func (h *BillingHandlers) AddCreditHandler(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.parseUUIDParam(w, r, "clientID")
	if !ok {
		return
	}
	if !h.consumeRateLimit(w, r, "credit", clientID.String(), h.creditLimitPerMinute) {
		return
	}

	var req addCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.AddCredit(r.Context(), clientID, req.Amount, strings.TrimSpace(req.Description))
	if err != nil {
		if errors.Is(err, app.ErrNonPositiveCredit) {
			h.writeError(w, http.StatusBadRequest, "Credit amount must be greater than zero")
			return
		}
		if errors.Is(err, store.ErrClientProfileNotFound) {
			h.writeError(w, http.StatusNotFound, "Client not found")
			return
		}
		log.Printf("level=error component=api endpoint=add_credit client_id=%s err=%v", clientID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to record credit")
		return
	}

	h.writeJSON(w, http.StatusOK, addCreditResponse{
		NewBalance:        result.NewBalance,
		TransactionID:     result.TransactionID.String(),
		SwitchedToPrepaid: result.SwitchedToPrepaid,
	})
}

// DeductSessionHandler deducts a completed appointment from the client's
// prepaid balance. Repeat calls for the same appointment replay the recorded
// outcome instead of deducting twice.
func (h *BillingHandlers) DeductSessionHandler(w http.ResponseWriter, r *http.Request) {
	appointmentID, ok := h.parseUUIDParam(w, r, "appointmentID")
	if !ok {
		return
	}

	result, err := h.service.DeductSession(r.Context(), appointmentID)
	if err != nil {
		if errors.Is(err, store.ErrAppointmentNotFound) {
			h.writeError(w, http.StatusNotFound, "Appointment not found")
			return
		}
		if errors.Is(err, store.ErrClientProfileNotFound) {
			h.writeError(w, http.StatusNotFound, "Client not found")
			return
		}
		log.Printf("level=error component=api endpoint=deduct_session appointment_id=%s err=%v", appointmentID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to process deduction")
		return
	}

	resp := deductionResponse{
		Success:               result.Success,
		AmountDeducted:        result.AmountDeducted,
		NewBalance:            result.NewBalance,
		ShouldGenerateInvoice: result.ShouldGenerateInvoice,
		AlreadyProcessed:      result.AlreadyProcessed,
		Reason:                result.Reason,
	}
	if result.GeneratedInvoiceID != nil {
		id := result.GeneratedInvoiceID.String()
		resp.GeneratedInvoiceID = &id
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GenerateTopUpInvoiceHandler manually triggers top-up invoice generation for
// a prepaid client. Returns 200 with the invoice if one was created or
// already pending, 204 if no invoice is needed.
func (h *BillingHandlers) GenerateTopUpInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.parseUUIDParam(w, r, "clientID")
	if !ok {
		return
	}
	if !h.consumeRateLimit(w, r, "invoice", clientID.String(), h.invoiceLimitPerMinute) {
		return
	}

	var req generateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TrainerID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "trainer_id is required")
		return
	}

	invoice, err := h.service.GenerateTopUpInvoice(r.Context(), clientID, req.TrainerID)
	if err != nil {
		if errors.Is(err, store.ErrClientProfileNotFound) {
			h.writeError(w, http.StatusNotFound, "Client not found")
			return
		}
		log.Printf("level=error component=api endpoint=generate_invoice client_id=%s err=%v", clientID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to generate invoice")
		return
	}
	if invoice == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, invoiceResponse{
		InvoiceID: invoice.ID.String(),
		Status:    string(invoice.Status),
		Amount:    invoice.Amount,
		DueDate:   invoice.DueDate,
		LineItems: len(invoice.LineItems),
	})
}

// VoidInvoiceHandler cancels a pending top-up invoice and switches the client
// off prepaid billing.
func (h *BillingHandlers) VoidInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.parseUUIDParam(w, r, "invoiceID")
	if !ok {
		return
	}
	if !h.consumeRateLimit(w, r, "void", invoiceID.String(), h.invoiceLimitPerMinute) {
		return
	}

	var req voidInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.VoidInvoiceAndSwitchBilling(r.Context(), invoiceID, domain.BillingFrequency(strings.ToUpper(strings.TrimSpace(req.NewBillingFrequency))))
	if err != nil {
		log.Printf("level=error component=api endpoint=void_invoice invoice_id=%s err=%v", invoiceID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to void invoice")
		return
	}
	if !result.Success {
		h.writeError(w, voidFailureStatus(result.Error), result.Error)
		return
	}

	h.writeJSON(w, http.StatusOK, voidInvoiceResponse{
		Success:             true,
		RetainedCredit:      result.RetainedCredit,
		NewBillingFrequency: string(result.NewBillingFrequency),
	})
}

// ListTransactionsHandler returns the client's prepaid ledger, newest first.
func (h *BillingHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.parseUUIDParam(w, r, "clientID")
	if !ok {
		return
	}

	limit := parsePositiveQueryInt(r, "limit", 50)
	offset := parsePositiveQueryInt(r, "offset", 0)

	transactions, err := h.service.GetTransactions(r.Context(), clientID, limit, offset)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_transactions client_id=%s err=%v", clientID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

// PrepaidSummaryHandler returns the trainer's prepaid client dashboard rows.
func (h *BillingHandlers) PrepaidSummaryHandler(w http.ResponseWriter, r *http.Request) {
	trainerID, ok := h.parseUUIDParam(w, r, "trainerID")
	if !ok {
		return
	}

	summaries, err := h.service.GetPrepaidClientsSummary(r.Context(), trainerID)
	if err != nil {
		log.Printf("level=error component=api endpoint=prepaid_summary trainer_id=%s err=%v", trainerID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load prepaid summary")
		return
	}
	h.writeJSON(w, http.StatusOK, summaries)
}

// RetryDraftInvoicesHandler re-runs the draft invoice sweep on demand.
func (h *BillingHandlers) RetryDraftInvoicesHandler(w http.ResponseWriter, r *http.Request) {
	sent, err := h.service.RetryDraftInvoices(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=retry_drafts err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to retry draft invoices")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

func voidFailureStatus(reason string) int {
	switch reason {
	case app.VoidErrInvoiceNotFound, app.VoidErrProfileNotFound:
		return http.StatusNotFound
	case app.VoidErrAlreadyPaid, app.VoidErrAlreadyCancelled:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (h *BillingHandlers) parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}

// consumeRateLimit enforces the per-subject fixed window. Limiter errors fail
// open so Redis outages do not block billing operations.
func (h *BillingHandlers) consumeRateLimit(w http.ResponseWriter, r *http.Request, scope, subject string, limit int) bool {
	if h.rateLimiter == nil || limit <= 0 {
		return true
	}
	count, retryAfter, err := h.rateLimiter.ConsumeRateLimit(r.Context(), scope, subject, limit, time.Minute)
	if err != nil {
		log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" scope=%s err=%v", scope, err)
		return true
	}
	if count > limit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many requests; please retry later")
		return false
	}
	return true
}

func parsePositiveQueryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func (h *BillingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *BillingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
