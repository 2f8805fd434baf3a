package negotiation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// teardownTimeout bounds the best-effort delete issued on teardown.
const teardownTimeout = 5 * time.Second

// Lifecycle owns the session id and its state, and creates and tears down
// sessions on the signaling channel.
type Lifecycle struct {
	channel SignalingChannel
	session Session

	deletes sync.WaitGroup
}

// NewLifecycle creates an idle lifecycle for role.
func NewLifecycle(channel SignalingChannel, role Role) *Lifecycle {
	return &Lifecycle{
		channel: channel,
		session: Session{Role: role, State: SessionIdle},
	}
}

// Session returns a copy of the current session.
func (l *Lifecycle) Session() Session {
	return l.session
}

// ID returns the session id, empty before creation and after teardown.
func (l *Lifecycle) ID() string {
	return l.session.ID
}

// Create issues the create request. It touches no lifecycle state, so it may
// run off the owning goroutine; the caller records the result with Record.
func (l *Lifecycle) Create(ctx context.Context) (string, []byte, error) {
	slog.Info("Send post connect")
	id, body, err := l.channel.CreateSession(ctx)
	if err != nil {
		return "", nil, &ChannelError{Op: opCreate, Err: err}
	}
	if id == "" {
		return "", nil, &ChannelError{Op: opCreate, Err: ErrMissingSessionID}
	}
	return id, body, nil
}

// Record stores the id of a created session and moves Idle to Connecting.
func (l *Lifecycle) Record(id string) {
	l.session.ID = id
	l.session.State = SessionConnecting
	slog.Info("Connect: new session", "session_id", id, "role", l.session.Role.String())
}

// SetState moves an established session to state. It has no effect without an id.
func (l *Lifecycle) SetState(state SessionState) {
	if !l.session.HasID() {
		return
	}
	l.session.State = state
}

// Fail marks the session as failed, keeping the id until Teardown.
func (l *Lifecycle) Fail() {
	if l.session.HasID() {
		l.session.State = SessionFailed
	}
}

// Teardown deletes the remote session when one exists, without waiting for or
// propagating the result, then clears the id. It reports whether a delete was issued.
func (l *Lifecycle) Teardown() bool {
	id := l.session.ID
	l.session.ID = ""
	if id == "" {
		if l.session.State != SessionIdle {
			l.session.State = SessionClosed
		}
		return false
	}
	l.session.State = SessionClosed
	l.Discard(id)
	return true
}

// Discard deletes a remote session that is no longer wanted, such as one whose
// create response landed after a disconnect.
func (l *Lifecycle) Discard(id string) {
	l.deletes.Add(1)
	go func() {
		defer l.deletes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := l.channel.DeleteSession(ctx, id); err != nil {
			slog.Warn("Delete session failed", "session_id", id, "error", &ChannelError{Op: opDelete, Err: err})
			return
		}
		slog.Info("Deleted session", "session_id", id)
	}()
}

// Wait blocks until every outstanding delete has finished.
func (l *Lifecycle) Wait() {
	l.deletes.Wait()
}
