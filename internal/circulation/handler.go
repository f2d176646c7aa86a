// internal/circulation/handler.go
package circulation

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/apperr"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/auth"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/web"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the transaction endpoints. The caller must already have authenticated the request.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireStaff)
		r.Post("/issue", h.handleIssue)
		r.Post("/return", h.handleReturnByBody)
		r.Post("/{id}/pay-fine", h.handlePayFine)
		r.Post("/{id}/lost", h.handleLost)
		r.Get("/", h.handleList)
		r.Get("/overdue", h.handleOverdue)
		r.Get("/due-soon", h.handleDueSoon)
		r.Get("/stats", h.handleStats)
		r.Get("/{id}/history", h.handleHistory)
	})

	r.Put("/return/{id}", h.handleReturnByID)
	r.Post("/{id}/renew", h.handleRenew)
	r.Get("/mine", h.handleMine)
	r.Get("/{id}", h.handleGet)
}

type issueBody struct {
	BorrowerID uuid.UUID `json:"borrower_id" validate:"required"`
	BookID     uuid.UUID `json:"book_id" validate:"required"`
	Condition  Condition `json:"condition" validate:"omitempty,oneof=excellent good fair poor damaged"`
	Notes      string    `json:"notes" validate:"max=1000"`
}

type returnBody struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Condition     Condition `json:"condition" validate:"omitempty,oneof=excellent good fair poor damaged"`
	Notes         string    `json:"notes" validate:"max=1000"`
}

type payFineBody struct {
	Amount *decimal.Decimal `json:"amount"`
}

type lostBody struct {
	Notes string `json:"notes" validate:"max=1000"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var body issueBody
	if err := web.Decode(r, &body); err != nil {
		web.Error(w, r, err)
		return
	}

	p, _ := auth.FromContext(r.Context())
	tx, err := h.service.Issue(r.Context(), IssueRequest{
		BorrowerID: body.BorrowerID,
		BookID:     body.BookID,
		IssuedBy:   p.UserID,
		Condition:  body.Condition,
		Notes:      body.Notes,
	})
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusCreated, "book issued", tx)
}

func (h *Handler) handleReturnByBody(w http.ResponseWriter, r *http.Request) {
	var body returnBody
	if err := web.Decode(r, &body); err != nil {
		web.Error(w, r, err)
		return
	}
	if body.TransactionID == uuid.Nil {
		web.Error(w, r, apperr.Validation("validation failed", "transaction_id is required"))
		return
	}
	h.doReturn(w, r, body.TransactionID, body)
}

func (h *Handler) handleReturnByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body returnBody
	if err := web.Decode(r, &body); err != nil {
		web.Error(w, r, err)
		return
	}
	h.doReturn(w, r, id, body)
}

func (h *Handler) doReturn(w http.ResponseWriter, r *http.Request, id uuid.UUID, body returnBody) {
	p, _ := auth.FromContext(r.Context())
	tx, err := h.service.Return(r.Context(), ReturnRequest{
		TransactionID: id,
		Condition:     body.Condition,
		Notes:         body.Notes,
		Actor:         p,
	})
	if err != nil {
		web.Error(w, r, err)
		return
	}

	message := "book returned"
	if tx.Fine.Amount.IsPositive() {
		message = "book returned with a fine of " + tx.Fine.Amount.StringFixed(2)
	}
	web.OK(w, http.StatusOK, message, tx)
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, _ := auth.FromContext(r.Context())
	tx, err := h.service.Renew(r.Context(), RenewRequest{TransactionID: id, Actor: p})
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "loan renewed", tx)
}

func (h *Handler) handlePayFine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body payFineBody
	if err := web.Decode(r, &body); err != nil {
		web.Error(w, r, err)
		return
	}
	p, _ := auth.FromContext(r.Context())
	tx, err := h.service.PayFine(r.Context(), PayFineRequest{TransactionID: id, Amount: body.Amount, ReceivedBy: p.UserID})
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "fine paid", tx)
}

func (h *Handler) handleLost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body lostBody
	if err := web.Decode(r, &body); err != nil {
		web.Error(w, r, err)
		return
	}
	p, _ := auth.FromContext(r.Context())
	tx, err := h.service.MarkLost(r.Context(), LostRequest{TransactionID: id, Actor: p, Notes: body.Notes})
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "book marked lost", tx)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Status: Status(r.URL.Query().Get("status"))}
	var err error
	if filter.BorrowerID, err = queryUUID(r, "borrower_id"); err != nil {
		web.Error(w, r, err)
		return
	}
	if filter.BookID, err = queryUUID(r, "book_id"); err != nil {
		web.Error(w, r, err)
		return
	}
	filter.Page, filter.Limit = web.Page(r)
	h.writePage(w, r, func() (*Page, error) { return h.service.List(r.Context(), filter) })
}

func (h *Handler) handleMine(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	filter := ListFilter{Status: Status(r.URL.Query().Get("status")), BorrowerID: p.UserID}
	filter.Page, filter.Limit = web.Page(r)
	h.writePage(w, r, func() (*Page, error) { return h.service.List(r.Context(), filter) })
}

func (h *Handler) handleOverdue(w http.ResponseWriter, r *http.Request) {
	page, limit := web.Page(r)
	h.writePage(w, r, func() (*Page, error) { return h.service.Overdue(r.Context(), page, limit) })
}

func (h *Handler) handleDueSoon(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			web.Error(w, r, apperr.Validation("validation failed", "days must be a positive integer"))
			return
		}
		days = n
	}
	page, limit := web.Page(r)
	h.writePage(w, r, func() (*Page, error) { return h.service.DueSoon(r.Context(), days, page, limit) })
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "", stats)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, _ := auth.FromContext(r.Context())
	tx, err := h.service.Get(r.Context(), id, p)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "", tx)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	events, err := h.service.History(r.Context(), id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "", events)
}

func (h *Handler) writePage(w http.ResponseWriter, r *http.Request, load func() (*Page, error)) {
	page, err := load()
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "", page)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		web.Error(w, r, apperr.Validation("invalid transaction ID", "id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func queryUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validation("validation failed", key+" must be a UUID")
	}
	return id, nil
}
