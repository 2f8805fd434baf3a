package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pion/webrtc/v4"
	"github.com/rescp17/lanCall/internal/app"
	"github.com/rescp17/lanCall/pkg/concurrency"
)

// ErrInvalidRequest marks a request whose payload the handler refused.
var ErrInvalidRequest = errors.New("invalid request")

// SessionHandler is the remote endpoint behind the wire protocol.
type SessionHandler interface {
	// Connect creates a session. A non-nil offer is returned to the client,
	// which must then answer it.
	Connect(ctx context.Context, clientID string) (sessionID string, offer *webrtc.SessionDescription, err error)
	// Description applies the client's description. A non-nil answer is
	// returned to the client.
	Description(ctx context.Context, sessionID string, desc webrtc.SessionDescription) (answer *webrtc.SessionDescription, err error)
	Candidate(ctx context.Context, sessionID string, candidate webrtc.ICECandidateInit) error
	Hangup(sessionID string) error
}

// API is the HTTP entry point of the remote endpoint.
type API struct {
	handler SessionHandler
	mux     *http.ServeMux
}

// NewAPI creates an API serving h.
func NewAPI(h SessionHandler) *API {
	a := &API{
		handler: h,
		mux:     http.NewServeMux(),
	}
	a.registerRoutes()
	return a
}

// ServeHTTP allows the API struct to satisfy the http.Handler interface.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) registerRoutes() {
	a.mux.HandleFunc("POST /connect", a.connectHandler)
	a.mux.Handle("PUT /sdp", requireSession(http.HandlerFunc(a.descriptionHandler)))
	a.mux.Handle("PATCH /candidate", requireSession(http.HandlerFunc(a.candidateHandler)))
	a.mux.Handle("DELETE /{$}", requireSession(http.HandlerFunc(a.hangupHandler)))
}

// requireSession rejects requests without a Session-ID header.
func requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(SessionIDHeader) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: missing %s header", ErrInvalidRequest, SessionIDHeader))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) connectHandler(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(ClientIDHeader)
	id, offer, err := a.handler.Connect(r.Context(), clientID)
	if err != nil {
		slog.Warn("Connect rejected", "client_id", clientID, "error", err)
		writeHandlerError(w, err)
		return
	}
	slog.Info("Session created", "session_id", id, "client_id", clientID, "offer", offer != nil)

	w.Header().Set(SessionIDHeader, id)
	writeDescription(w, http.StatusCreated, offer)
}

func (a *API) descriptionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(SessionIDHeader)
	var desc webrtc.SessionDescription
	if err := decodeBody(r, &desc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	slog.Info("Description received", "session_id", id, "type", desc.Type.String())

	answer, err := a.handler.Description(r.Context(), id, desc)
	if err != nil {
		slog.Warn("Description rejected", "session_id", id, "error", err)
		writeHandlerError(w, err)
		return
	}
	writeDescription(w, http.StatusOK, answer)
}

func (a *API) candidateHandler(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(SessionIDHeader)
	var candidate webrtc.ICECandidateInit
	if err := decodeBody(r, &candidate); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	slog.Debug("Candidate received", "session_id", id, "candidate", candidate.Candidate)

	if err := a.handler.Candidate(r.Context(), id, candidate); err != nil {
		slog.Warn("Candidate rejected", "session_id", id, "error", err)
		writeHandlerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) hangupHandler(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(SessionIDHeader)
	if err := a.handler.Hangup(id); err != nil {
		slog.Info("Hangup for unknown session", "session_id", id, "error", err)
		writeHandlerError(w, err)
		return
	}
	slog.Info("Session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func writeDescription(w http.ResponseWriter, status int, desc *webrtc.SessionDescription) {
	if desc == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(desc); err != nil {
		slog.Error("Failed to write description", "error", err)
	}
}

func writeHandlerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, concurrency.ErrBusy):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
	})
}
