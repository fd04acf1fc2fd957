package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bimzik/backend/internal/dashboard"
	"github.com/bimzik/backend/internal/handlers"
	"github.com/bimzik/backend/internal/jobs"
	"github.com/bimzik/backend/internal/ledger"
	"github.com/bimzik/backend/internal/ledger/ledgertest"
	"github.com/bimzik/backend/internal/models"
	"github.com/bimzik/backend/internal/validation"
)

type staticTokens map[string]uuid.UUID

func (s staticTokens) ValidateToken(_ context.Context, token string) (uuid.UUID, string, error) {
	id, ok := s[token]
	if !ok {
		return uuid.Nil, "", errors.New("bad token")
	}
	return id, "u@example.com", nil
}

// sharedOnly serves one completed project to the public share route.
type sharedOnly struct {
	handlers.ProjectService
	id uuid.UUID
}

func (s sharedOnly) SharedProject(_ context.Context, id uuid.UUID) (*jobs.SharedTrack, error) {
	if id != s.id {
		return nil, jobs.ErrProjectNotFound
	}
	return &jobs.SharedTrack{ID: id, Title: "Night Drive", AudioFiles: []jobs.SharedAudio{}}, nil
}

var sharedID = uuid.New()

func newTestRouter(t *testing.T) (http.Handler, uuid.UUID) {
	t.Helper()
	v, err := validation.NewValidator()
	require.NoError(t, err)
	user := uuid.New()
	l := ledger.NewService(ledgertest.NewStore(&models.Account{ID: user, Balance: 7}), nil)
	h := New(Deps{
		Auth:          staticTokens{"good": user},
		Validator:     v,
		Generation:    &handlers.GenerationHandler{Logger: slog.Default()},
		Projects:      &handlers.ProjectHandler{Projects: sharedOnly{id: sharedID}, Logger: slog.Default()},
		Payments:      &handlers.PaymentHandler{Logger: slog.Default()},
		Notifications: &handlers.NotificationHandler{Logger: slog.Default()},
		Wallet:        dashboard.NewHandler(l, nil),
		Health: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	})
	return h, user
}

func TestRouter_WalletRequiresToken(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"balance":7`)
}

func TestRouter_BodyValidatedBeforeHandler(t *testing.T) {
	h, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", strings.NewReader(`{"project_id":"not-a-uuid"}`))
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRouter_ProjectsRequireToken(t *testing.T) {
	h, _ := newTestRouter(t)

	for _, target := range []string{
		"/api/v1/projects",
		"/api/v1/projects/" + sharedID.String(),
		"/api/v1/projects/" + sharedID.String() + "/audio",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects", strings.NewReader(`{"title":"t","mode":"TEXT"}`))
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "TEXT project without lyrics")
}

func TestRouter_SharePublic(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/share/"+sharedID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"title":"Night Drive"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/share/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/wallet", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_Health(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
