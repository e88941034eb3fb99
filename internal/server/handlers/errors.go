package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorBody is the error object of every JSON error response.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// StatusError carries an HTTP status and code through respondWithError.
type StatusError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *StatusError) Error() string {
	return e.Code + ": " + e.Message
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorBody{Code: code, Message: message, Details: details}})
}

type errorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder errorResponder = defaultErrorResponder

// SetHTTPErrorResponder replaces the error responder. Nil restores the
// default.
func SetHTTPErrorResponder(fn func(w http.ResponseWriter, r *http.Request, err error)) {
	if fn == nil {
		httpErrorResponder = defaultErrorResponder
		return
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

func defaultErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	var se *StatusError
	if errors.As(err, &se) {
		WriteError(w, se.Status, se.Code, se.Message, se.Details)
		return
	}
	WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
}

// NotFoundHandler answers unknown routes.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, &StatusError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "no route for " + r.URL.Path})
}

// MethodNotAllowedHandler answers known routes called with the wrong method.
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, &StatusError{Status: http.StatusMethodNotAllowed, Code: "METHOD_NOT_ALLOWED", Message: r.Method + " is not allowed on " + r.URL.Path})
}
