// Package handlers implements the HTTP handlers of the LeafSight API.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/pkg/errors"
)

// ErrorResponse is the standard error response body.  Error is a short
// title, Message the human readable explanation.
type ErrorResponse struct {
	Code    string   `json:"code"`
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Allowed []string `json:"allowed,omitempty"`
	Path    string   `json:"path,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	if resp.Code == "" {
		resp.Code = string(errors.ErrCodeBadRequest)
	}
	writeJSON(w, statusCode, resp)
}

// writeAppError maps an error to its HTTP status.  Internal failures are
// logged and masked.
func writeAppError(w http.ResponseWriter, logger logging.Logger, err error) {
	code := errors.GetCode(err)
	if code == errors.CodeUnknown {
		code = errors.ErrCodeInternal
	}
	status := errors.HTTPStatusForCode(code)

	if status == http.StatusInternalServerError {
		logger.Error("request failed", logging.Err(err), logging.String("code", string(code)))
		writeError(w, status, ErrorResponse{
			Code:    string(code),
			Error:   http.StatusText(status),
			Message: "An unexpected error occurred",
		})
		return
	}

	message := errors.DefaultMessageForCode(code)
	var ae *errors.AppError
	if errors.As(err, &ae) && ae.Message != "" {
		message = ae.Message
	}
	writeError(w, status, ErrorResponse{
		Code:    string(code),
		Error:   http.StatusText(status),
		Message: message,
	})
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Newf(errors.ErrCodeBadRequest, "%s must be an integer", name)
	}
	return n, nil
}
