package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordedRequest captures what the test server saw.
type recordedRequest struct {
	method    string
	path      string
	sessionID string
	clientID  string
	body      string
	ctype     string
}

type requestLog struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (l *requestLog) at(i int) recordedRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requests[i]
}

func (l *requestLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

func newRecordingServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *requestLog) {
	t.Helper()
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		log.mu.Lock()
		log.requests = append(log.requests, recordedRequest{
			method:    r.Method,
			path:      r.URL.Path,
			sessionID: r.Header.Get(SessionIDHeader),
			clientID:  r.Header.Get(ClientIDHeader),
			body:      string(body),
			ctype:     r.Header.Get("Content-Type"),
		})
		log.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(baseURL, time.Second)
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("http://192.0.2.1:8080/call", 0)
	require.NoError(t, err)
	assert.Equal(t, "http://192.0.2.1:8080/call/", c.BaseURL())
	assert.Equal(t, DefaultTimeout, c.HttpClient.Timeout)
	assert.NotEmpty(t, c.ClientID())

	_, err = NewClient("ftp://example.org", 0)
	assert.Error(t, err)

	_, err = NewClient("://bad", 0)
	assert.Error(t, err)
}

func TestClient_CreateSession(t *testing.T) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
	srv, requests := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(SessionIDHeader, "S2")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(offer)
	})
	c := newTestClient(t, srv.URL+"/call")

	id, body, err := c.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "S2", id)

	var got webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, offer, got)

	require.Equal(t, 1, requests.len())
	req := requests.at(0)
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/call/connect", req.path)
	assert.Empty(t, req.sessionID)
	assert.Equal(t, c.ClientID(), req.clientID)
	assert.Empty(t, req.body)
}

func TestClient_CreateSessionErrors(t *testing.T) {
	t.Run("missing header", func(t *testing.T) {
		srv, _ := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		_, _, err := newTestClient(t, srv.URL).CreateSession(context.Background())
		assert.ErrorIs(t, err, ErrNoSessionID)
	})

	t.Run("busy", func(t *testing.T) {
		srv, _ := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
		})
		_, _, err := newTestClient(t, srv.URL).CreateSession(context.Background())

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
		assert.Equal(t, "busy", statusErr.Body)
	})
}

func TestClient_PutDescription(t *testing.T) {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
	srv, requests := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(answer)
	})
	c := newTestClient(t, srv.URL)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
	body, err := c.PutDescription(context.Background(), "S1", offer)
	require.NoError(t, err)

	var got webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, answer, got)

	req := requests.at(0)
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/sdp", req.path)
	assert.Equal(t, "S1", req.sessionID)
	assert.Equal(t, "application/json", req.ctype)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0 offer"}`, req.body)
}

func TestClient_PutDescriptionServerError(t *testing.T) {
	srv, _ := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := newTestClient(t, srv.URL).PutDescription(context.Background(), "S1", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestClient_ResponseSizeLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"at limit", maxBodyBytes, false},
		{"one byte over", maxBodyBytes + 1, true},
		{"far over", 4 * maxBodyBytes, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write(make([]byte, tt.size))
			})

			body, err := newTestClient(t, srv.URL).PutDescription(context.Background(), "S1", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Len(t, body, tt.size)
				return
			}
			assert.ErrorIs(t, err, ErrResponseTooLarge)
			assert.Nil(t, body)
		})
	}
}

func TestClient_PatchCandidate(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	srv, requests := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	})
	c := newTestClient(t, srv.URL)

	mid := "0"
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host", SDPMid: &mid}
	require.NoError(t, c.PatchCandidate(context.Background(), "S1", cand))

	req := requests.at(0)
	assert.Equal(t, http.MethodPatch, req.method)
	assert.Equal(t, "/candidate", req.path)
	assert.Equal(t, "S1", req.sessionID)

	var got webrtc.ICECandidateInit
	require.NoError(t, json.Unmarshal([]byte(req.body), &got))
	assert.Equal(t, cand.Candidate, got.Candidate)

	status.Store(http.StatusOK)
	var statusErr *StatusError
	assert.ErrorAs(t, c.PatchCandidate(context.Background(), "S1", cand), &statusErr)
}

func TestClient_DeleteSessionIgnoresStatus(t *testing.T) {
	srv, requests := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	c := newTestClient(t, srv.URL+"/call/")

	require.NoError(t, c.DeleteSession(context.Background(), "S1"))

	req := requests.at(0)
	assert.Equal(t, http.MethodDelete, req.method)
	assert.Equal(t, "/call/", req.path)
	assert.Equal(t, "S1", req.sessionID)
}

func TestClient_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv, _ := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := newTestClient(t, srv.URL).CreateSession(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}
