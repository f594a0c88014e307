package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stablebook/backend/internal/models"
	"github.com/stablebook/backend/internal/services"
)

type InvoiceHandler struct {
	service   *services.InvoiceService
	validator *services.ValidationHelper
	dueDays   int
}

func NewInvoiceHandler(service *services.InvoiceService, defaultDueDays int) *InvoiceHandler {
	return &InvoiceHandler{
		service:   service,
		validator: services.NewValidationHelper(),
		dueDays:   defaultDueDays,
	}
}

type generateInvoiceRequest struct {
	AccountID    string                    `json:"accountId" validate:"required,max=64"`
	PeriodStart  string                    `json:"periodStart" validate:"required,datetime=2006-01-02"`
	PeriodEnd    string                    `json:"periodEnd" validate:"required,datetime=2006-01-02"`
	DueDate      string                    `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
	AutoPopulate bool                      `json:"autoPopulate"`
	ManualItems  []services.ManualLineItem `json:"manualItems"`
}

// GenerateInvoice creates a draft invoice
// @Summary Generate invoice
// @Description Assemble a draft invoice from the period's unbilled ledger entries and/or manual line items
// @Tags invoices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body generateInvoiceRequest true "Invoice parameters"
// @Success 201 {object} models.Invoice
// @Failure 400 {object} services.ErrorResponse
// @Router /invoices [post]
func (h *InvoiceHandler) GenerateInvoice(w http.ResponseWriter, r *http.Request) {
	var req generateInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	start, _ := time.Parse("2006-01-02", req.PeriodStart)
	end, _ := time.Parse("2006-01-02", req.PeriodEnd)
	due := end.AddDate(0, 0, h.dueDays)
	if req.DueDate != "" {
		due, _ = time.Parse("2006-01-02", req.DueDate)
	}

	inv, err := h.service.Generate(services.GenerateInvoiceParams{
		AccountID:    req.AccountID,
		Period:       models.Period{Start: start, End: end},
		DueDate:      due,
		AutoPopulate: req.AutoPopulate,
		ManualItems:  req.ManualItems,
		CreatedBy:    actorID(r),
	})
	if err != nil {
		services.SendCoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"success": true, "invoice": inv})
}

// IssueInvoice issues a draft invoice
// @Summary Issue invoice
// @Description Move a draft to issued, stamping the issue date and freezing content
// @Tags invoices
// @Produce json
// @Security BearerAuth
// @Param invoiceId path int true "Invoice ID"
// @Success 200 {object} models.Invoice
// @Failure 409 {object} services.ErrorResponse
// @Router /invoices/{invoiceId}/issue [post]
func (h *InvoiceHandler) IssueInvoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Issue)
}

// CancelInvoice cancels a pre-paid invoice
// @Summary Cancel invoice
// @Tags invoices
// @Produce json
// @Security BearerAuth
// @Param invoiceId path int true "Invoice ID"
// @Success 200 {object} models.Invoice
// @Failure 409 {object} services.ErrorResponse
// @Router /invoices/{invoiceId}/cancel [post]
func (h *InvoiceHandler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

// PayInvoice marks an issued invoice paid
// @Summary Mark invoice paid
// @Tags invoices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param invoiceId path int true "Invoice ID"
// @Param request body object{paidDate=string} false "Settlement date"
// @Success 200 {object} models.Invoice
// @Failure 409 {object} services.ErrorResponse
// @Router /invoices/{invoiceId}/pay [post]
func (h *InvoiceHandler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}

	// Body is optional; an empty body means "paid today".
	var req struct {
		PaidDate string `json:"paidDate" validate:"omitempty,datetime=2006-01-02"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	var paidDate time.Time
	if req.PaidDate != "" {
		paidDate, _ = time.Parse("2006-01-02", req.PaidDate)
	}

	inv, err := h.service.MarkPaid(id, paidDate)
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	h.respondInvoice(w, inv)
}

// GetInvoice fetches one invoice with line items
// @Summary Get invoice
// @Tags invoices
// @Produce json
// @Security BearerAuth
// @Param invoiceId path int true "Invoice ID"
// @Success 200 {object} models.Invoice
// @Failure 404 {object} services.ErrorResponse
// @Router /invoices/{invoiceId} [get]
func (h *InvoiceHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Get(id)
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	h.respondInvoice(w, inv)
}

// ListInvoices lists an account's invoices
// @Summary List invoices
// @Tags invoices
// @Produce json
// @Security BearerAuth
// @Param accountId query string true "Account holder id"
// @Success 200 {array} models.Invoice
// @Router /invoices [get]
func (h *InvoiceHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		services.SendErrorResponse(w, "accountId is required", http.StatusBadRequest, nil)
		return
	}
	invoices, err := h.service.ListByAccount(accountID)
	if err != nil {
		services.SendCoreError(w, err)
		return
	}

	today := time.Now().UTC()
	overdue := make([]bool, len(invoices))
	for i := range invoices {
		overdue[i] = invoices[i].Overdue(today)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"invoices": invoices,
		"overdue":  overdue,
		"count":    len(invoices),
	})
}

func (h *InvoiceHandler) transition(w http.ResponseWriter, r *http.Request, op func(int64, string) (*models.Invoice, error)) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	inv, err := op(id, actorID(r))
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	h.respondInvoice(w, inv)
}

func (h *InvoiceHandler) respondInvoice(w http.ResponseWriter, inv *models.Invoice) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"invoice": inv,
		"overdue": inv.Overdue(time.Now().UTC()),
	})
}

func (h *InvoiceHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func invoiceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "invoiceId"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid invoice id", http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}

func actorID(r *http.Request) string {
	id, _ := r.Context().Value("userID").(string)
	return id
}
