package transport

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/admin"
	"github.com/dawsonblock/ds-router/internal/router"
	"github.com/dawsonblock/ds-router/internal/types"
)

// TokenVerifier checks a presented admin token and returns the operator
// identity it names, typically admin.TokenIssuer.Verify.
type TokenVerifier func(token string) (operator string, err error)

// AdminHandler serves the boundary control endpoints over the admin
// Surface, gated behind a bearer token.
type AdminHandler struct {
	surface  *admin.Surface
	verify   TokenVerifier
	logger   *zap.Logger
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(surface *admin.Surface, verify TokenVerifier, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{surface: surface, verify: verify, logger: logger}
}

// requireOperator checks the Authorization: Bearer <token> header and
// returns the operator identity, or writes an error response and
// returns false.
func (h *AdminHandler) requireOperator(w http.ResponseWriter, r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" || token == auth {
		writeError(w, types.NewError(types.ErrValidation, "missing bearer token"), h.logger)
		return "", false
	}
	operator, err := h.verify(token)
	if err != nil {
		writeError(w, types.NewError(types.ErrValidation, "invalid admin token").WithCause(err), h.logger)
		return "", false
	}
	return operator, true
}

// HandleGetThresholds serves GET /admin/thresholds.
func (h *AdminHandler) HandleGetThresholds(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireOperator(w, r); !ok {
		return
	}
	writeSuccess(w, "", h.surface.GetThresholds())
}

// HandleSetThresholds serves POST /admin/thresholds.
func (h *AdminHandler) HandleSetThresholds(w http.ResponseWriter, r *http.Request) {
	operator, ok := h.requireOperator(w, r)
	if !ok {
		return
	}
	var in AdminThresholdsRequest
	if err := decodeJSONBody(w, r, &in, h.logger); err != nil {
		return
	}
	h.surface.SetThresholds(in.toThresholds())
	h.logger.Info("admin set thresholds", zap.String("operator", operator))
	writeSuccess(w, "", h.surface.GetThresholds())
}

// HandleSetForcedOverride serves POST /admin/forced_override.
func (h *AdminHandler) HandleSetForcedOverride(w http.ResponseWriter, r *http.Request) {
	operator, ok := h.requireOperator(w, r)
	if !ok {
		return
	}
	var in struct {
		Provider string `json:"provider"`
	}
	if err := decodeJSONBody(w, r, &in, h.logger); err != nil {
		return
	}
	h.surface.SetForcedOverride(in.Provider)
	h.logger.Info("admin set forced override", zap.String("operator", operator), zap.String("provider", in.Provider))
	writeSuccess(w, "", h.surface.GetThresholds())
}

// HandleReloadProviders serves POST /admin/providers/reload.
func (h *AdminHandler) HandleReloadProviders(w http.ResponseWriter, r *http.Request) {
	operator, ok := h.requireOperator(w, r)
	if !ok {
		return
	}
	var in AdminReloadProvidersRequest
	if err := decodeJSONBody(w, r, &in, h.logger); err != nil {
		return
	}
	if err := h.surface.ReloadProviders(in.Providers); err != nil {
		writeError(w, types.NewError(types.ErrValidation, err.Error()), h.logger)
		return
	}
	h.logger.Info("admin reloaded providers", zap.String("operator", operator), zap.Int("count", len(in.Providers)))
	writeSuccess(w, "", map[string]int{"count": len(in.Providers)})
}

// HandleGetHealth serves GET /admin/health.
func (h *AdminHandler) HandleGetHealth(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireOperator(w, r); !ok {
		return
	}
	writeSuccess(w, "", h.surface.GetHealth())
}

// HandleGetBudget serves GET /admin/budget.
func (h *AdminHandler) HandleGetBudget(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireOperator(w, r); !ok {
		return
	}
	writeSuccess(w, "", h.surface.GetBudget())
}

// HandleResetBudget serves POST /admin/budget/reset.
func (h *AdminHandler) HandleResetBudget(w http.ResponseWriter, r *http.Request) {
	operator, ok := h.requireOperator(w, r)
	if !ok {
		return
	}
	h.surface.ResetBudget()
	h.logger.Warn("admin reset budget", zap.String("operator", operator))
	writeSuccess(w, "", h.surface.GetBudget())
}

// HandleSetBudgetMode serves POST /admin/budget/mode.
func (h *AdminHandler) HandleSetBudgetMode(w http.ResponseWriter, r *http.Request) {
	operator, ok := h.requireOperator(w, r)
	if !ok {
		return
	}
	var in struct {
		Mode string `json:"mode"`
	}
	if err := decodeJSONBody(w, r, &in, h.logger); err != nil {
		return
	}
	h.surface.SetBudgetMode(types.BudgetMode(in.Mode))
	h.logger.Info("admin set budget mode", zap.String("operator", operator), zap.String("mode", in.Mode))
	writeSuccess(w, "", h.surface.GetBudget())
}

// HandleChangeLog serves GET /admin/change_log.
func (h *AdminHandler) HandleChangeLog(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireOperator(w, r); !ok {
		return
	}
	writeSuccess(w, "", h.surface.ChangeLog(0))
}

func (in AdminThresholdsRequest) toThresholds() router.Thresholds {
	return router.Thresholds{
		ConfThreshold:    in.ConfThreshold,
		SupportThreshold: in.SupportThreshold,
		MaxCoTTokens:     in.MaxCoTTokens,
		ForcedOverride:   in.ForcedOverride,
	}
}
