package transport

import (
	"encoding/json"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/types"
)

// writeJSON writes data as a JSON body with status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful Envelope.
func writeSuccess(w http.ResponseWriter, requestID string, data any) {
	writeJSON(w, http.StatusOK, Envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// writeError writes an error Envelope, mapping err's code to an HTTP
// status.
func writeError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := mapErrorCodeToHTTPStatus(err.Code)

	if logger != nil {
		logger.Error("transport error",
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
		)
	}

	writeJSON(w, status, Envelope{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(err.Code),
			Message:   err.Message,
			Retryable: err.Retryable,
		},
		Timestamp: time.Now(),
	})
}

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrValidation:
		return http.StatusBadRequest
	case types.ErrPreGuardBlock, types.ErrPostGuardBlock:
		return http.StatusUnprocessableEntity
	case types.ErrBudgetExhausted:
		return http.StatusPaymentRequired
	case types.ErrCircuitOpenAll, types.ErrProviderTransient:
		return http.StatusServiceUnavailable
	case types.ErrProviderPermanent:
		return http.StatusBadGateway
	case types.ErrCancelled:
		return http.StatusRequestTimeout
	case types.ErrInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSONBody decodes r's body into dst, rejecting unknown fields and
// bodies over 1 MiB.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) *types.Error {
	if r.Body == nil {
		err := types.NewError(types.ErrValidation, "request body is empty")
		writeError(w, err, logger)
		return err
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if decErr := decoder.Decode(dst); decErr != nil {
		err := types.NewError(types.ErrValidation, "invalid JSON body").WithCause(decErr)
		writeError(w, err, logger)
		return err
	}
	return nil
}

// validateContentType rejects anything but application/json, tolerating
// parameters like charset via mime.ParseMediaType.
func validateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		writeError(w, types.NewError(types.ErrValidation, "Content-Type must be application/json"), logger)
		return false
	}
	return true
}
