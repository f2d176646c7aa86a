package web

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/apperr"
)

type issueBody struct {
	BorrowerID uuid.UUID `json:"borrower_id" validate:"required"`
	Email      string    `json:"email" validate:"omitempty,email"`
	Copies     int       `json:"copies" validate:"min=0,max=10"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestStatusOf(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindValidation:   http.StatusBadRequest,
		apperr.KindUnauthorized: http.StatusUnauthorized,
		apperr.KindForbidden:    http.StatusForbidden,
		apperr.KindNotFound:     http.StatusNotFound,
		apperr.KindConflict:     http.StatusConflict,
		apperr.KindRateLimited:  http.StatusTooManyRequests,
		apperr.KindInternal:     http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, StatusOf(kind), kind.String())
	}
}

func TestError_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)

	Error(rec, req, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "internal server error", env.Message)
}

func TestError_ConflictKeepsMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/transactions/issue", nil)

	Error(rec, req, apperr.New(apperr.KindConflict, "book is not available"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "book is not available", decodeEnvelope(t, rec).Message)
}

func TestOK_WritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()

	OK(rec, http.StatusCreated, "created", map[string]int{"n": 1})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, "created", env.Message)
}

func TestDecode_ReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"nope","copies":11}`))

	var body issueBody
	err := Decode(req, &body)

	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	fields := apperr.FieldsOf(err)
	assert.Contains(t, fields, "borrower_id is required")
	assert.Contains(t, fields, "email must be a valid email address")
	assert.Contains(t, fields, "copies must be at most 10")
}

func TestDecode_MalformedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"borrower_id":`))

	var body issueBody
	err := Decode(req, &body)

	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestDecode_Valid(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"borrower_id":"`+id.String()+`","copies":2}`))

	var body issueBody
	require.NoError(t, Decode(req, &body))
	assert.Equal(t, id, body.BorrowerID)
}

func TestDecode_IgnoresUnknownFields(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/",
		strings.NewReader(`{"borrower_id":"`+id.String()+`","copies":1,"role":"admin"}`))

	var body issueBody
	require.NoError(t, Decode(req, &body))
	assert.Equal(t, id, body.BorrowerID)
}

func TestPage_Defaults(t *testing.T) {
	page, limit := Page(httptest.NewRequest(http.MethodGet, "/?page=0&limit=500", nil))
	assert.Equal(t, 1, page)
	assert.Equal(t, 20, limit)

	page, limit = Page(httptest.NewRequest(http.MethodGet, "/?page=3&limit=50", nil))
	assert.Equal(t, 3, page)
	assert.Equal(t, 50, limit)
}
