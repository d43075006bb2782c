package worker

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/embersky/xrpc-client/pkg/logging"
	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// DefaultRemotePort names requests from remote callers that send no port.
const DefaultRemotePort = "remote"

// Handler exposes a worker over HTTP so several processes can share it.
//
//	POST /dispatch  Envelope -> Reply
//	GET  /stats     Stats
//
// Remote requests are resolved with the worker's own credential provider.
type Handler struct {
	w      *Worker
	mux    *http.ServeMux
	logger zerolog.Logger

	mu    sync.Mutex
	ports map[string]*Port
}

// NewHandler returns the HTTP handler for w.
func NewHandler(w *Worker) *Handler {
	h := &Handler{
		w:      w,
		mux:    http.NewServeMux(),
		logger: logging.NewLogger(logging.ComponentServer),
		ports:  make(map[string]*Port),
	}
	h.mux.HandleFunc("POST /dispatch", h.handleDispatch)
	h.mux.HandleFunc("GET /stats", h.handleStats)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Close disconnects the ports opened for remote callers.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, p := range h.ports {
		p.Close()
		delete(h.ports, name)
	}
}

func (h *Handler) port(name string) *Port {
	if name == "" {
		name = DefaultRemotePort
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.ports[name]
	if !ok {
		p = h.w.Connect(name)
		h.ports[name] = p
	}
	return p
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var env Envelope
	err := json.NewDecoder(r.Body).Decode(&env)

	var ve *xrpc.ValidationError
	switch {
	case errors.As(err, &ve):
		// A descriptor that fails validation is answered like a local one.
		h.writeJSON(w, Reply{ID: env.ID, Error: EncodeError(ve.Operation, ve)})
		return
	case err != nil:
		h.logger.Warn().Err(err).Msg("Malformed dispatch envelope")
		http.Error(w, "malformed envelope: "+err.Error(), http.StatusBadRequest)
		return
	case env.ID == "":
		http.Error(w, "envelope id is required", http.StatusBadRequest)
		return
	}

	resp, err := h.port(env.Port).Dispatch(r.Context(), env.Descriptor)
	reply := Reply{ID: env.ID, Response: EncodeResponse(resp)}
	if err != nil {
		reply.Error = EncodeError(env.Descriptor.Operation(), err)
		h.logger.Debug().
			Err(err).
			Str("id", env.ID).
			Str("operation", env.Descriptor.Operation()).
			Msg("Remote dispatch failed")
	}
	h.writeJSON(w, reply)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.w.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, stats)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to write worker reply")
	}
}
