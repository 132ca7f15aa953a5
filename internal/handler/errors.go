package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/PipeOpsHQ/pipehook/internal/store"
)

const (
	CodeEndpointNotFound = "ENDPOINT_NOT_FOUND"
	CodeEndpointConflict = "ENDPOINT_CONFLICT"
	CodeBodyTooLarge     = "BODY_TOO_LARGE"
	CodeBadRequest       = "BAD_REQUEST"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func httpError(message string, category goerrors.Category, code int, textCode string) *goerrors.Error {
	return goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
}

// toServiceError maps core errors onto the transport taxonomy.
func toServiceError(err error) *goerrors.Error {
	var svcErr *goerrors.Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return httpError(store.ErrNotFound.Error(), goerrors.CategoryNotFound, http.StatusNotFound, CodeEndpointNotFound)
	case errors.Is(err, store.ErrExists):
		return httpError(store.ErrExists.Error(), goerrors.CategoryConflict, http.StatusConflict, CodeEndpointConflict)
	default:
		return goerrors.Wrap(err, goerrors.CategoryInternal, "internal error").
			WithCode(http.StatusInternalServerError).
			WithTextCode(CodeInternal)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := toServiceError(err)
	status := svcErr.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: svcErr.Message, Code: svcErr.TextCode})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
