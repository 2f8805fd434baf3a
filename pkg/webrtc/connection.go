package webrtc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rescp17/lanCall/pkg/negotiation"
)

// WebRTCAPI builds peer connections that share one transport policy.
type WebRTCAPI struct {
	config   *TransportConfig
	logLevel slog.Level
}

// NewWebRTCAPI validates config and returns a builder for peer transports.
// A nil config selects DefaultTransportConfig.
func NewWebRTCAPI(config *TransportConfig, logLevel slog.Level) (*WebRTCAPI, error) {
	if config == nil {
		config = DefaultTransportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}
	return &WebRTCAPI{config: config, logLevel: logLevel}, nil
}

// newAPI builds a pion API for one connection so that its logger reports to
// that connection only. Pion does not allow a MediaEngine to be shared.
func (a *WebRTCAPI) newAPI(onWarning WarningHook) (*webrtc.API, error) {
	settings := webrtc.SettingEngine{}
	mode := ice.MulticastDNSModeDisabled
	if a.config.MulticastDNS {
		mode = ice.MulticastDNSModeQueryAndGather
	}
	settings.SetICEMulticastDNSMode(mode)
	settings.SetReceiveMTU(a.config.ReceiveMTU)
	settings.SetIncludeLoopbackCandidate(a.config.IncludeLoopback)
	settings.LoggerFactory = NewSlogLoggerFactory(a.logLevel, onWarning)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(settings),
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

// NewPeerTransport creates a fresh peer connection.
func (a *WebRTCAPI) NewPeerTransport() (*PeerTransport, error) {
	t := &PeerTransport{}
	api, err := a.newAPI(t.pionWarning)
	if err != nil {
		return nil, err
	}
	configuration, err := a.config.Configuration()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	t.peerConnection = pc
	return t, nil
}

// Factory adapts NewPeerTransport for the negotiation machine.
func (a *WebRTCAPI) Factory() negotiation.TransportFactory {
	return func() (negotiation.MediaTransport, error) {
		return a.NewPeerTransport()
	}
}

// PeerTransport wraps a single WebRTC peer connection.
type PeerTransport struct {
	peerConnection *webrtc.PeerConnection

	mu               sync.Mutex
	onCandidateError func(negotiation.CandidateErrorInfo)
}

var _ negotiation.MediaTransport = (*PeerTransport)(nil)

func (t *PeerTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.peerConnection.CreateOffer(nil)
}

func (t *PeerTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.peerConnection.CreateAnswer(nil)
}

func (t *PeerTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	return t.peerConnection.SetLocalDescription(desc)
}

func (t *PeerTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.peerConnection.SetRemoteDescription(desc)
}

func (t *PeerTransport) LocalDescription() *webrtc.SessionDescription {
	return t.peerConnection.LocalDescription()
}

// AddTrack attaches a local track and drains RTCP for it until the connection closes.
func (t *PeerTransport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := t.peerConnection.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
	}
	go func() {
		buf := make([]byte, MTU)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// AddICECandidate is called to add a candidate received from the other peer.
func (t *PeerTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := t.peerConnection.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ice candidate: %w", err)
	}
	return nil
}

func (t *PeerTransport) OnCandidate(f func(*webrtc.ICECandidateInit)) {
	t.peerConnection.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			f(nil)
			return
		}
		init := c.ToJSON()
		f(&init)
	})
}

// OnTrack reports each remote track and keeps reading it so the receive
// buffers never fill.
func (t *PeerTransport) OnTrack(f func(negotiation.RemoteTrack)) {
	t.peerConnection.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go func() {
			buf := make([]byte, MTU)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
		f(negotiation.RemoteTrack{
			Kind:     track.Kind().String(),
			ID:       track.ID(),
			StreamID: track.StreamID(),
		})
	})
}

func (t *PeerTransport) OnCandidateError(f func(negotiation.CandidateErrorInfo)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCandidateError = f
}

func (t *PeerTransport) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	t.peerConnection.OnConnectionStateChange(f)
}

// pionWarning turns warnings from the ICE agent into candidate errors.
func (t *PeerTransport) pionWarning(scope, msg string) {
	if scope != "ice" {
		return
	}
	t.mu.Lock()
	f := t.onCandidateError
	t.mu.Unlock()
	if f != nil {
		f(negotiation.CandidateErrorInfo{ErrorText: msg})
	}
}

// WaitGatheringComplete blocks until local candidate gathering has finished.
// It is used where candidates cannot be trickled.
func (t *PeerTransport) WaitGatheringComplete(ctx context.Context) error {
	select {
	case <-webrtc.GatheringCompletePromise(t.peerConnection):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ice gathering did not complete: %w", ctx.Err())
	}
}

func (t *PeerTransport) ConnectionState() webrtc.PeerConnectionState {
	return t.peerConnection.ConnectionState()
}

// Close gracefully shuts down the WebRTC connection.
func (t *PeerTransport) Close() error {
	if t.peerConnection == nil {
		return nil
	}
	slog.Debug("Closing webrtc connection")
	return t.peerConnection.Close()
}
