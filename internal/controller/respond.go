package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logx"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type errorBody struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	var (
		notFound   *appErrors.ErrNotFound
		cNotFound  *appErrors.ErrCampaignNotFound
		quota      *appErrors.ErrQuotaExceeded
		transition *appErrors.ErrInvalidStateTransition
		scope      *appErrors.ErrTenantScopeViolation
		settings   *appErrors.ErrInvalidSettings
		input      *appErrors.ErrInvalidInput
	)
	switch {
	case errors.As(err, &input):
		return http.StatusBadRequest
	case errors.As(err, &notFound), errors.As(err, &cNotFound):
		return http.StatusNotFound
	case errors.As(err, &scope):
		return http.StatusForbidden
	case errors.As(err, &transition), errors.Is(err, appErrors.ErrDispatchInProgress):
		return http.StatusConflict
	case errors.As(err, &quota), errors.As(err, &settings):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	body := errorBody{Error: err.Error()}

	var settings *appErrors.ErrInvalidSettings
	var input *appErrors.ErrInvalidInput
	switch {
	case errors.As(err, &settings):
		body.Problems = settings.Problems
	case errors.As(err, &input):
		body.Problems = input.Problems
	}

	if status == http.StatusInternalServerError {
		logx.L().Errorw("request_failed",
			"method", r.Method, "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()), "error", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return false
	}
	return true
}

// int64Param reads a numeric URL parameter, writing a 400 when it is not one.
func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid " + name})
		return 0, false
	}
	return v, true
}

// scope reads the workspace and, when idParam is set, the resource id.
func scope(w http.ResponseWriter, r *http.Request, idParam string) (workspaceID, id int64, ok bool) {
	if workspaceID, ok = int64Param(w, r, "workspaceID"); !ok {
		return 0, 0, false
	}
	if idParam == "" {
		return workspaceID, 0, true
	}
	id, ok = int64Param(w, r, idParam)
	return workspaceID, id, ok
}
