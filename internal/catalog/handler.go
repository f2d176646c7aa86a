// internal/catalog/handler.go
package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

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

// Routes mounts the book endpoints. Reads are open to any authenticated user.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/search", h.handleSearch)
	r.Get("/{id}", h.handleGet)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireStaff)
		r.Post("/", h.handleAdd)
		r.Patch("/{id}/copies", h.handleUpdateCopies)
		r.Delete("/{id}", h.handleRetire)
	})
}

type copiesBody struct {
	TotalCopies *int `json:"total_copies" validate:"required"`
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	var body NewBook
	if err := web.Decode(r, &body); err != nil {
		web.Error(w, r, err)
		return
	}

	p, _ := auth.FromContext(r.Context())
	body.AddedBy = p.UserID
	book, err := h.service.AddBook(r.Context(), body)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusCreated, "book added", book)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "", book)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, limit := web.Page(r)
	q := r.URL.Query()
	result, err := h.service.ListBooks(r.Context(), BookFilter{
		Query:    q.Get("q"),
		Category: q.Get("category"),
		Status:   q.Get("status"),
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "", result)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "", books)
}

func (h *Handler) handleUpdateCopies(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body copiesBody
	if err := web.Decode(r, &body); err != nil {
		web.Error(w, r, err)
		return
	}

	p, _ := auth.FromContext(r.Context())
	book, err := h.service.UpdateCopies(r.Context(), id, *body.TotalCopies, p.UserID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "book copies updated", book)
}

func (h *Handler) handleRetire(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	p, _ := auth.FromContext(r.Context())
	book, err := h.service.RetireBook(r.Context(), id, p.UserID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "book retired", book)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		web.Error(w, r, apperr.Validation("invalid book ID", "id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
