package transport

import "net/http"

// NewMux wires chat and admin handlers onto a stdlib ServeMux. Pattern
// matching uses Go 1.22's method-aware mux patterns, so no external
// routing library is needed for this demonstration surface.
func NewMux(chat *ChatHandler, adm *AdminHandler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat/completions", chat.HandleCompletion)
	mux.HandleFunc("POST /v1/chat/completions/stream", chat.HandleStream)

	mux.HandleFunc("GET /admin/thresholds", adm.HandleGetThresholds)
	mux.HandleFunc("POST /admin/thresholds", adm.HandleSetThresholds)
	mux.HandleFunc("POST /admin/forced_override", adm.HandleSetForcedOverride)
	mux.HandleFunc("POST /admin/providers/reload", adm.HandleReloadProviders)
	mux.HandleFunc("GET /admin/health", adm.HandleGetHealth)
	mux.HandleFunc("GET /admin/budget", adm.HandleGetBudget)
	mux.HandleFunc("POST /admin/budget/reset", adm.HandleResetBudget)
	mux.HandleFunc("POST /admin/budget/mode", adm.HandleSetBudgetMode)
	mux.HandleFunc("GET /admin/change_log", adm.HandleChangeLog)

	return mux
}
