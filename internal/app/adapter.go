package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"gateway/internal/core"
	gwerrors "gateway/pkg/errors"
)

// Adapter bridges net/http and the dispatch pipeline. Inbound requests
// get a request ID, run through the handler chain, and the resulting
// response or structured error is written back.
type Adapter struct {
	handler core.Handler
	logger  *slog.Logger
}

// NewAdapter creates the HTTP entry point for a handler chain
func NewAdapter(handler core.Handler, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		handler: handler,
		logger:  logger.With("component", "http"),
	}
}

// ServeHTTP implements http.Handler
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("X-Request-Id")
	if id == "" {
		id = uuid.NewString()
		r.Header.Set("X-Request-Id", id)
	}

	resp, err := a.handler(r.Context(), core.NewHTTPRequest(id, r))
	if err != nil {
		a.writeError(w, id, err)
		return
	}

	header := w.Header()
	for name, values := range resp.Headers() {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	header.Set("X-Request-Id", id)
	w.WriteHeader(resp.StatusCode())

	body := resp.Body()
	defer body.Close()
	if _, err := io.Copy(w, body); err != nil {
		// Response already committed; nothing to do but note it
		a.logger.Warn("failed to write response body", "requestId", id, "error", err)
	}
}

type errorPayload struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorResponse struct {
	Error     errorPayload `json:"error"`
	RequestID string       `json:"requestId"`
}

func (a *Adapter) writeError(w http.ResponseWriter, id string, err error) {
	var gwErr *gwerrors.Error
	if !gwerrors.As(err, &gwErr) {
		gwErr = gwerrors.NewError(gwerrors.ErrorTypeInternal, "internal server error").WithCause(err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", id)
	w.WriteHeader(gwErr.HTTPStatusCode())

	payload := errorResponse{
		Error: errorPayload{
			Type:    string(gwErr.Type),
			Message: gwErr.Message,
			Details: gwErr.Details,
		},
		RequestID: id,
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Warn("failed to write error response", "requestId", id, "error", err)
	}
}
