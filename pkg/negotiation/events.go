package negotiation

import "github.com/pion/webrtc/v4"

// event is processed by the machine goroutine. Events produced by an
// asynchronous step carry the epoch of the connect attempt that started it;
// the machine drops them once that attempt has been torn down.
type event interface {
	attempt() uint64
}

// epoch is embedded by events that belong to one connect attempt.
type epoch uint64

func (e epoch) attempt() uint64 { return uint64(e) }

// unscoped is embedded by requests that apply to whatever attempt is current.
type unscoped struct{}

func (unscoped) attempt() uint64 { return 0 }

type ConnectRequested struct{ unscoped }

type DisconnectRequested struct{ unscoped }

type MediaAcquired struct {
	epoch
	Tracks []LocalTrack
	Err    error
}

type SessionCreated struct {
	epoch
	SessionID string
	Body      []byte
	Err       error
}

// ChannelResponse is the outcome of a put-description request.
type ChannelResponse struct {
	epoch
	Body []byte
	Err  error
}

type CandidateDiscovered struct {
	epoch
	// Candidate is nil once discovery is complete.
	Candidate *webrtc.ICECandidateInit
}

type CandidateFailed struct {
	epoch
	Info CandidateErrorInfo
}

// CandidateRejected reports a failed patch-candidate request.
type CandidateRejected struct {
	epoch
	Err error
}

type TrackReceived struct {
	epoch
	Track RemoteTrack
}

type TransportStateChanged struct {
	epoch
	State webrtc.PeerConnectionState
}
