package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

const (
	// SessionIDHeader carries the session id on every request after create.
	SessionIDHeader = "Session-ID"
	// ClientIDHeader identifies one client instance across its sessions.
	ClientIDHeader = "X-Client-ID"

	DefaultTimeout = 10 * time.Second

	maxBodyBytes = 1 << 20
)

var (
	// ErrNoSessionID is returned when a create response lacks the Session-ID header.
	ErrNoSessionID = errors.New("response has no Session-ID header")

	// ErrResponseTooLarge is returned when a response body exceeds the read limit.
	ErrResponseTooLarge = errors.New("response body too large")
)

// StatusError reports a response whose status is not a success for the operation.
type StatusError struct {
	Op         string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s responded with %s", e.Op, e.Status)
	}
	return fmt.Sprintf("%s responded with %s: %s", e.Op, e.Status, e.Body)
}

// clientIDInjector is an http.RoundTripper that adds the client id to each request.
type clientIDInjector struct {
	clientID string
	next     http.RoundTripper
}

func (t *clientIDInjector) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set(ClientIDHeader, t.clientID)
	return t.next.RoundTrip(req)
}

// Client speaks the signaling wire protocol to one remote endpoint. It holds
// no session state; every call names the session it belongs to.
type Client struct {
	HttpClient *http.Client
	baseURL    *url.URL
	clientID   string
}

// NewClient creates a client for the endpoint at baseURL. The paths connect,
// sdp and candidate are resolved relative to it. A non-positive timeout selects
// DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signaling url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid signaling url %q: scheme must be http or https", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	clientID := uuid.NewString()
	return &Client{
		HttpClient: &http.Client{
			Timeout: timeout,
			Transport: &clientIDInjector{
				clientID: clientID,
				next:     http.DefaultTransport,
			},
		},
		baseURL:  u,
		clientID: clientID,
	}, nil
}

// BaseURL returns the endpoint base, always ending in a slash.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// ClientID returns the id sent in the X-Client-ID header.
func (c *Client) ClientID() string {
	return c.clientID
}

// CreateSession issues POST connect and returns the assigned session id with the response body.
func (c *Client) CreateSession(ctx context.Context) (string, []byte, error) {
	resp, body, err := c.do(ctx, "create session", http.MethodPost, "connect", "", nil)
	if err != nil {
		return "", nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", nil, statusError("create session", resp, body)
	}
	id := resp.Header.Get(SessionIDHeader)
	if id == "" {
		return "", nil, ErrNoSessionID
	}
	return id, body, nil
}

// PutDescription issues PUT sdp with the serialized description and returns the response body.
func (c *Client) PutDescription(ctx context.Context, sessionID string, desc webrtc.SessionDescription) ([]byte, error) {
	payload, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal description: %w", err)
	}
	resp, body, err := c.do(ctx, "put description", http.MethodPut, "sdp", sessionID, payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, statusError("put description", resp, body)
	}
	return body, nil
}

// PatchCandidate issues PATCH candidate with the serialized candidate.
func (c *Client) PatchCandidate(ctx context.Context, sessionID string, candidate webrtc.ICECandidateInit) error {
	payload, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("failed to marshal candidate: %w", err)
	}
	resp, body, err := c.do(ctx, "patch candidate", http.MethodPatch, "candidate", sessionID, payload)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return statusError("patch candidate", resp, body)
	}
	return nil
}

// DeleteSession issues DELETE on the base path. Any status is accepted.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	resp, _, err := c.do(ctx, "delete session", http.MethodDelete, "", sessionID, nil)
	if err != nil {
		return err
	}
	slog.Debug("Delete session response", "session_id", sessionID, "status", resp.Status)
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path, sessionID string, payload []byte) (*http.Response, []byte, error) {
	target := c.baseURL.ResolveReference(&url.URL{Path: path})

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send %s request: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}
	if len(body) > maxBodyBytes {
		return nil, nil, fmt.Errorf("%s: %w (limit %d bytes)", op, ErrResponseTooLarge, maxBodyBytes)
	}
	return resp, body, nil
}

func statusError(op string, resp *http.Response, body []byte) error {
	return &StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}
