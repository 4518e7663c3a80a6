package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/admin"
	"github.com/dawsonblock/ds-router/internal/budget"
	"github.com/dawsonblock/ds-router/internal/circuitbreaker"
	"github.com/dawsonblock/ds-router/internal/health"
	"github.com/dawsonblock/ds-router/internal/router"
	"github.com/dawsonblock/ds-router/internal/types"
)

func newTestAdminHandler(t *testing.T) (*AdminHandler, *admin.TokenIssuer) {
	t.Helper()
	h := health.New(circuitbreaker.DefaultConfig(), zap.NewNop())
	b := budget.New(budget.DefaultConfig(), zap.NewNop())
	surface := admin.New(admin.Config{
		InitialThresholds: router.DefaultThresholds(),
		InitialDescriptors: map[string]types.ProviderDescriptor{
			"fast-1": {Name: "fast-1", Tier: types.TierFast, MaxOutputTokens: 256},
		},
		Health: h,
		Budget: b,
		Logger: zap.NewNop(),
	})
	issuer := admin.NewTokenIssuer([]byte("test-secret"), time.Hour)
	return NewAdminHandler(surface, issuer.Verify, zap.NewNop()), issuer
}

func TestAdminHandlerRejectsMissingToken(t *testing.T) {
	handler, _ := newTestAdminHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/thresholds", nil)
	rec := httptest.NewRecorder()

	handler.HandleGetThresholds(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandlerRejectsInvalidToken(t *testing.T) {
	handler, _ := newTestAdminHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/thresholds", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()

	handler.HandleGetThresholds(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandlerGetThresholdsWithValidToken(t *testing.T) {
	handler, issuer := newTestAdminHandler(t)
	token, err := issuer.Issue("operator-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/thresholds", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.HandleGetThresholds(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
}

func TestAdminHandlerSetThresholdsRoundTrip(t *testing.T) {
	handler, issuer := newTestAdminHandler(t)
	token, err := issuer.Issue("operator-1")
	require.NoError(t, err)

	body, _ := json.Marshal(AdminThresholdsRequest{
		ConfThreshold:    0.8,
		SupportThreshold: 0.6,
		MaxCoTTokens:     1024,
		ForcedOverride:   "",
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/thresholds", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.HandleSetThresholds(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.8, handler.surface.GetThresholds().ConfThreshold)
}

func TestAdminHandlerReloadProvidersRejectsEmptyTable(t *testing.T) {
	handler, issuer := newTestAdminHandler(t)
	token, err := issuer.Issue("operator-1")
	require.NoError(t, err)

	body, _ := json.Marshal(AdminReloadProvidersRequest{Providers: map[string]types.ProviderDescriptor{}})
	req := httptest.NewRequest(http.MethodPost, "/admin/providers/reload", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.HandleReloadProviders(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandlerResetBudget(t *testing.T) {
	handler, issuer := newTestAdminHandler(t)
	token, err := issuer.Issue("operator-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/budget/reset", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.HandleResetBudget(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminHandlerSetBudgetMode(t *testing.T) {
	handler, issuer := newTestAdminHandler(t)
	token, err := issuer.Issue("operator-1")
	require.NoError(t, err)

	body, _ := json.Marshal(struct {
		Mode string `json:"mode"`
	}{Mode: "warn"})
	req := httptest.NewRequest(http.MethodPost, "/admin/budget/mode", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.HandleSetBudgetMode(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.BudgetModeWarn, handler.surface.GetBudget().Mode)
}

func TestAdminHandlerChangeLogReflectsThresholdUpdates(t *testing.T) {
	handler, issuer := newTestAdminHandler(t)
	token, err := issuer.Issue("operator-1")
	require.NoError(t, err)

	body, _ := json.Marshal(AdminThresholdsRequest{ConfThreshold: 0.7, SupportThreshold: 0.5, MaxCoTTokens: 512})
	req := httptest.NewRequest(http.MethodPost, "/admin/thresholds", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.HandleSetThresholds(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	logReq := httptest.NewRequest(http.MethodGet, "/admin/change_log", nil)
	logReq.Header.Set("Authorization", "Bearer "+token)
	logRec := httptest.NewRecorder()
	handler.HandleChangeLog(logRec, logReq)

	require.Equal(t, http.StatusOK, logRec.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(logRec.Body.Bytes(), &env))
	entries, ok := env.Data.([]any)
	require.True(t, ok)
	assert.Len(t, entries, 1)
}
