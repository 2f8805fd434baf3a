package negotiation

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaTransport is the connection engine driven by the state machine. The
// machine never looks past these capabilities.
type MediaTransport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	// LocalDescription returns the applied local description, which may have
	// been completed by the transport since creation.
	LocalDescription() *webrtc.SessionDescription
	AddTrack(track webrtc.TrackLocal) error

	// OnCandidate receives each discovered candidate and finally nil once
	// discovery is complete.
	OnCandidate(f func(candidate *webrtc.ICECandidateInit))
	OnTrack(f func(track RemoteTrack))
	OnCandidateError(f func(info CandidateErrorInfo))
	OnConnectionStateChange(f func(state webrtc.PeerConnectionState))

	Close() error
}

// TransportFactory constructs a fresh MediaTransport for each connect.
type TransportFactory func() (MediaTransport, error)

// LocalTrack is a captured track together with its device label.
type LocalTrack struct {
	Track webrtc.TrackLocal
	Label string
}

// Kind returns "audio" or "video".
func (t LocalTrack) Kind() string {
	return t.Track.Kind().String()
}

// MediaSource acquires local media using its statically configured constraints.
type MediaSource interface {
	// Acquire starts a new, independent acquisition. Earlier acquisitions stay live.
	Acquire(ctx context.Context) ([]LocalTrack, error)
	// Release stops the acquisition that produced tracks and leaves any other
	// acquisition running. Releasing unknown or already released tracks is a no-op.
	Release(tracks []LocalTrack)
}

// RemoteTrack describes media received from the far end.
type RemoteTrack struct {
	Kind     string
	ID       string
	StreamID string
}

// CandidateErrorInfo describes a local candidate discovery failure.
type CandidateErrorInfo struct {
	Address   string
	URL       string
	ErrorCode int
	ErrorText string
}

// SignalingChannel carries the four wire operations to the remote endpoint.
type SignalingChannel interface {
	// CreateSession returns the assigned session id and the response body,
	// which holds the remote offer when the local role is answerer.
	CreateSession(ctx context.Context) (sessionID string, body []byte, err error)
	// PutDescription returns the response body, which holds the remote answer
	// when the local role is offerer.
	PutDescription(ctx context.Context, sessionID string, desc webrtc.SessionDescription) ([]byte, error)
	PatchCandidate(ctx context.Context, sessionID string, candidate webrtc.ICECandidateInit) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// Observer receives notifications from the state machine. Calls are made from
// the machine's goroutine and must not call back into the machine synchronously.
type Observer interface {
	StateChanged(state State)
	SessionChanged(session Session)
	RemoteTrackAdded(track RemoteTrack)
	// Notice receives both fatal and diagnostic errors; see IsFatal.
	Notice(err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) StateChanged(State)           {}
func (NopObserver) SessionChanged(Session)       {}
func (NopObserver) RemoteTrackAdded(RemoteTrack) {}
func (NopObserver) Notice(error)                 {}
