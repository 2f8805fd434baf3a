package negotiation

import (
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// SendCandidateFunc transmits one candidate tagged with a session id.
type SendCandidateFunc func(sessionID string, candidate webrtc.ICECandidateInit)

// TrickleQueue forwards locally discovered candidates to the far end. Candidates
// found before the session id exists are held back until Ready is called.
//
// The queue is owned by the state machine goroutine and is not safe for
// concurrent use.
type TrickleQueue struct {
	send    SendCandidateFunc
	pending []webrtc.ICECandidateInit
	sent    int
}

// NewTrickleQueue creates a queue that transmits through send.
func NewTrickleQueue(send SendCandidateFunc) *TrickleQueue {
	return &TrickleQueue{send: send}
}

// Discovered handles one discovery callback. A nil candidate marks the end of
// discovery and is never transmitted.
func (q *TrickleQueue) Discovered(sessionID string, candidate *webrtc.ICECandidateInit) {
	if candidate == nil {
		slog.Debug("Local candidate discovery complete", "pending", len(q.pending))
		return
	}
	if sessionID == "" {
		q.pending = append(q.pending, *candidate)
		slog.Debug("Deferring candidate until session id is assigned", "candidate", candidate.Candidate)
		return
	}
	q.transmit(sessionID, *candidate)
}

// Ready flushes every deferred candidate, in discovery order, tagged with sessionID.
func (q *TrickleQueue) Ready(sessionID string) {
	if sessionID == "" {
		return
	}
	pending := q.pending
	q.pending = nil
	for _, c := range pending {
		q.transmit(sessionID, c)
	}
}

// Discard drops every deferred candidate and returns how many were dropped.
func (q *TrickleQueue) Discard() int {
	n := len(q.pending)
	q.pending = nil
	return n
}

// Pending returns the number of deferred candidates.
func (q *TrickleQueue) Pending() int {
	return len(q.pending)
}

// Sent returns the number of candidates handed to the channel.
func (q *TrickleQueue) Sent() int {
	return q.sent
}

func (q *TrickleQueue) transmit(sessionID string, c webrtc.ICECandidateInit) {
	q.sent++
	q.send(sessionID, c)
}
