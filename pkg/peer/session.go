package peer

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
	webrtcPkg "github.com/rescp17/lanCall/pkg/webrtc"
)

// peerSession is the endpoint side of one call.
type peerSession struct {
	clientID  string
	transport *webrtcPkg.PeerTransport
	media     *webrtcPkg.SyntheticSource
	release   func()

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	closeOnce sync.Once
	closeErr  error
}

// setRemote applies desc and then every candidate that arrived before it.
func (s *peerSession) setRemote(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transport.SetRemoteDescription(desc); err != nil {
		return err
	}
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		if err := s.transport.AddICECandidate(c); err != nil {
			slog.Warn("Failed to add queued candidate", "error", err)
		}
	}
	return nil
}

// addCandidate applies c, or holds it until the remote description is set.
func (s *peerSession) addCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		return nil
	}
	return s.transport.AddICECandidate(c)
}

// Close releases the media, the peer connection and the busy guard. It runs once.
func (s *peerSession) Close() error {
	s.closeOnce.Do(func() {
		if s.media != nil {
			s.media.Close()
		}
		s.closeErr = s.transport.Close()
		if s.release != nil {
			s.release()
		}
	})
	return s.closeErr
}
