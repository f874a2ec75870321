// Package health serves the GET /health endpoint.
//
// The endpoint reports overall service health as a single JSON object:
//
//	{"status": "healthy", "service": "pythia", "version": "...", "message": "..."}
//
// Registered [Checker] probes are evaluated on every request. Required
// checkers gate readiness: any failure yields a 503 with status "unhealthy".
// Optional checkers (registered via [Handler.AddOptional]) cover dependencies
// the service can run without; their failures are reflected in the message
// but never flip the status.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds the evaluation of all checkers for a single request.
const checkTimeout = 5 * time.Second

// Checker probes a single dependency. Check must return nil when the
// dependency is healthy and must respect context cancellation.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type namedCheck struct {
	name string
	fn   func(context.Context) error
}

func (c namedCheck) Name() string                    { return c.name }
func (c namedCheck) Check(ctx context.Context) error { return c.fn(ctx) }

// NamedCheck adapts a function to the [Checker] interface.
func NamedCheck(name string, fn func(context.Context) error) Checker {
	return namedCheck{name: name, fn: fn}
}

// response is the JSON body for the /health endpoint.
type response struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Message string `json:"message"`
}

// Handler evaluates health checkers and serves the /health endpoint.
// The checker lists are fixed before the handler is mounted; Handler itself
// holds no mutable state and is safe for concurrent use.
type Handler struct {
	service  string
	version  string
	required []Checker
	optional []Checker
	summary  func(ctx context.Context) string
}

// New creates a [Handler] for the given service name and version. The supplied
// checkers are required: readiness fails when any of them does.
func New(service, version string, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{service: service, version: version, required: c}
}

// AddOptional registers a checker for a dependency the service degrades
// gracefully without. Its state is appended to the healthy message.
func (h *Handler) AddOptional(c Checker) {
	h.optional = append(h.optional, c)
}

// SetSummary installs a function that produces the base message for healthy
// responses, e.g. a document count. Without one the message is
// "Service operational".
func (h *Handler) SetSummary(fn func(ctx context.Context) string) {
	h.summary = fn
}

// ServeHTTP evaluates all checkers sequentially under a shared [checkTimeout]
// deadline. The first required failure short-circuits to a 503.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	for _, c := range h.required {
		if err := c.Check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, response{
				Status:  "unhealthy",
				Service: h.service,
				Version: h.version,
				Message: "Service unhealthy: " + c.Name() + ": " + err.Error(),
			})
			return
		}
	}

	msg := "Service operational"
	if h.summary != nil {
		msg = h.summary(ctx)
	}
	for _, c := range h.optional {
		state := "ok"
		if err := c.Check(ctx); err != nil {
			state = "unavailable"
		}
		msg += ", " + c.Name() + ": " + state
	}

	writeJSON(w, http.StatusOK, response{
		Status:  "healthy",
		Service: h.service,
		Version: h.version,
		Message: msg,
	})
}

// Register adds the /health route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /health", h)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
