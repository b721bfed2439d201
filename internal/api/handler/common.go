// Package handler implements the HTTP handlers of the stack manager API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bcnelson/stack-manager/internal/domain"
	"github.com/bcnelson/stack-manager/internal/log"
	"github.com/bcnelson/stack-manager/internal/validation"
)

// Envelope is the response of every operation: a status code, a JSON body
// and the response headers.
type Envelope struct {
	StatusCode int               `json:"statusCode"`
	Body       any               `json:"body"`
	Headers    map[string]string `json:"headers"`
}

func jsonHeaders() map[string]string {
	return map[string]string{"Content-Type": "application/json"}
}

// OK returns a 200 envelope.
func OK(body any) Envelope {
	return Envelope{StatusCode: http.StatusOK, Body: body, Headers: jsonHeaders()}
}

// Error returns the envelope of a failed operation. The body carries the
// error kind and its caller safe message; the cause is never included.
func Error(err error) Envelope {
	de := domain.AsError(err)

	body := domain.StandardErrorResponse{Error: domain.StandardError{
		Code:    string(de.Kind),
		Message: de.Message,
	}}
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		body.Error.Field = verrs.Field()
	}

	return Envelope{StatusCode: StatusCode(de.Kind), Body: body, Headers: jsonHeaders()}
}

// StatusCode maps an error kind to its HTTP status.
func StatusCode(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidInput,
		domain.KindAlreadyExists,
		domain.KindNoSuchObject,
		domain.KindUnknownParameter,
		domain.KindInsufficientCapabilities,
		domain.KindLimitExceeded:
		return http.StatusBadRequest
	case domain.KindPermissionDenied:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Write writes the envelope as an HTTP response.
func (e Envelope) Write(w http.ResponseWriter) {
	for k, v := range e.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(e.StatusCode)
	if e.Body != nil {
		if err := json.NewEncoder(w).Encode(e.Body); err != nil {
			log.Logger.Warn().Err(err).Msg("failed to write response body")
		}
	}
}

// respond writes the result of an operation.
func respond(w http.ResponseWriter, body any, err error) {
	if err != nil {
		Error(err).Write(w)
		return
	}
	OK(body).Write(w)
}

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// decodeJSON decodes a JSON request body. An empty body leaves v unchanged.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.InvalidInput("invalid request body: %v", err)
	}
	return nil
}
