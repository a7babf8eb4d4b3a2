package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"gamgui/internal/gamerr"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. AccessDenied and
// SessionNotFound produce the same response on purpose: a caller probing
// other owners' ids learns nothing.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: "command timed out", Code: "timeout"})
		return
	}

	kind := gamerr.KindOf(err)
	switch kind {
	case gamerr.KindSessionNotFound, gamerr.KindAccessDenied:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "session not found", Code: "session_not_found"})
	case gamerr.KindSecretNotFound:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "credential not found", Code: kind.String()})
	case gamerr.KindCommandRejected:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: kind.String()})
	case gamerr.KindSessionConflict:
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: kind.String()})
	case gamerr.KindCredentialsMissing:
		writeJSON(w, http.StatusPreconditionFailed, errorBody{
			Error: "no credentials uploaded; upload a credential bundle first", Code: kind.String()})
	case gamerr.KindQuotaExceeded:
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error(), Code: kind.String()})
	case gamerr.KindSubstrateUnavailable, gamerr.KindAdapterNotInitialized, gamerr.KindSecretStoreUnavailable:
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: kind.String()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
	}
}
