// Package middleware holds HTTP middleware for the metrics and health
// listener.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/3leaps/batchfan/internal/observability"
)

// ErrorResponse is the JSON body written on a recovered panic.
type ErrorResponse struct {
	Error struct {
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		RequestID string         `json:"request_id,omitempty"`
		Details   map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// Recovery turns a handler panic into a 500 JSON response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			reqID := chimiddleware.GetReqID(r.Context())
			observability.CLILogger.Error("handler panic",
				zap.String("path", r.URL.Path),
				zap.String("request_id", reqID),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))

			var resp ErrorResponse
			resp.Error.Code = "INTERNAL_ERROR"
			resp.Error.Message = fmt.Sprintf("panic: %v", rec)
			resp.Error.RequestID = reqID
			writeErrorResponse(w, &resp, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

func writeErrorResponse(w http.ResponseWriter, resp *ErrorResponse, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
