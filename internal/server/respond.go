package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hiennguyen9874/api-base-project/internal/middleware"
	"github.com/hiennguyen9874/api-base-project/internal/services/policy"
	"github.com/hiennguyen9874/api-base-project/internal/services/principal"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// envelope wraps successful payloads of the users and refresh endpoints.
type envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
	Error  any    `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: v})
}

// writeError adds the admin-only errors to middleware.WriteError and logs
// anything that turns into a 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, errBadRequest):
		middleware.WriteErrorStatus(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, policy.ErrRuleNotFound):
		middleware.WriteErrorStatus(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, principal.ErrAlreadyExists):
		middleware.WriteErrorStatus(w, http.StatusConflict, err.Error())
		return
	}
	if middleware.StatusFor(err) == http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	middleware.WriteError(w, err)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
