// internal/membership/handler.go
package membership

import (
	"net/http"
	"strconv"

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

// AuthRoutes mounts the unauthenticated register and login endpoints.
func (h *Handler) AuthRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
}

// Routes mounts the user endpoints. The caller must already have authenticated the request.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/me", h.handleMe)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireStaff)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}/approval", h.handleApproval)
		r.Put("/{id}/status", h.handleStatus)
	})

	r.With(auth.RequireRole(auth.RoleAdmin)).Post("/", h.handleCreate)
}

type loginBody struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

type createBody struct {
	Registration
	Role auth.Role `json:"role" validate:"required,oneof=student staff admin"`
}

type approvalBody struct {
	Approved *bool `json:"approved" validate:"required"`
}

type statusBody struct {
	Status Status `json:"status" validate:"required,oneof=active suspended"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body Registration
	if err := web.Decode(r, &body); err != nil {
		web.Error(w, r, err)
		return
	}

	body.Role = auth.RoleStudent
	user, err := h.service.Register(r.Context(), body)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusCreated, "registration received, awaiting approval", user)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := web.Decode(r, &body); err != nil {
		web.Error(w, r, err)
		return
	}

	user, token, err := h.service.Authenticate(r.Context(), body.Email, body.Password)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "login successful", loginResponse{User: user, Token: token})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := web.Decode(r, &body); err != nil {
		web.Error(w, r, err)
		return
	}

	reg := body.Registration
	reg.Role = body.Role
	user, err := h.service.Register(r.Context(), reg)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusCreated, "user created", user)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	user, err := h.service.GetUser(r.Context(), p.UserID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "", user)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "", user)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, limit := web.Page(r)
	q := r.URL.Query()
	filter := UserFilter{
		Role:   auth.Role(q.Get("role")),
		Status: Status(q.Get("status")),
		Page:   page,
		Limit:  limit,
	}
	if raw := q.Get("approved"); raw != "" {
		approved, err := strconv.ParseBool(raw)
		if err != nil {
			web.Error(w, r, apperr.Validation("invalid approved filter", "approved must be true or false"))
			return
		}
		filter.Approved = &approved
	}

	result, err := h.service.ListUsers(r.Context(), filter)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "", result)
}

func (h *Handler) handleApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body approvalBody
	if err := web.Decode(r, &body); err != nil {
		web.Error(w, r, err)
		return
	}

	p, _ := auth.FromContext(r.Context())
	user, err := h.service.Approve(r.Context(), id, *body.Approved, p.UserID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	msg := "user approved"
	if !user.Approved {
		msg = "user approval revoked"
	}
	web.OK(w, http.StatusOK, msg, user)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body statusBody
	if err := web.Decode(r, &body); err != nil {
		web.Error(w, r, err)
		return
	}

	p, _ := auth.FromContext(r.Context())
	user, err := h.service.SetStatus(r.Context(), id, body.Status, p.UserID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, http.StatusOK, "user status updated", user)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		web.Error(w, r, apperr.Validation("invalid user ID", "id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
