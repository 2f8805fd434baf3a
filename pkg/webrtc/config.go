package webrtc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEServer is one STUN or TURN server.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// TransportConfig holds the static transport policy applied to every peer connection.
type TransportConfig struct {
	BundlePolicy         string      `json:"bundle_policy"`           // balanced, max-compat or max-bundle
	ICECandidatePoolSize uint8       `json:"ice_candidate_pool_size"` // pre-gathered candidates
	ICEServers           []ICEServer `json:"ice_servers"`
	ICETransportPolicy   string      `json:"ice_transport_policy"` // all or relay

	// Local transport settings, not part of the peer configuration.
	MulticastDNS    bool `json:"multicast_dns"`
	IncludeLoopback bool `json:"include_loopback"`
	ReceiveMTU      uint `json:"receive_mtu"`
}

const (
	MTU uint = 1400
)

// DefaultTransportConfig returns a balanced bundle policy with no ICE servers.
func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{
		BundlePolicy:         "balanced",
		ICECandidatePoolSize: 0,
		ICEServers:           []ICEServer{},
		ICETransportPolicy:   "all",
		MulticastDNS:         true,
		ReceiveMTU:           MTU,
	}
}

// Validate checks if the configuration values are valid
func (c *TransportConfig) Validate() error {
	if _, err := c.bundlePolicy(); err != nil {
		return err
	}
	if _, err := c.transportPolicy(); err != nil {
		return err
	}
	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ice_servers[%d] has no urls", i)
		}
		for _, u := range s.URLs {
			if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "stuns:") &&
				!strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
				return fmt.Errorf("ice_servers[%d]: unsupported url %q", i, u)
			}
		}
	}
	if c.ReceiveMTU == 0 {
		return errors.New("receive_mtu must be positive")
	}
	return nil
}

// Configuration converts the policy into a pion peer configuration.
func (c *TransportConfig) Configuration() (webrtc.Configuration, error) {
	if err := c.Validate(); err != nil {
		return webrtc.Configuration{}, err
	}
	bundle, _ := c.bundlePolicy()
	transport, _ := c.transportPolicy()

	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}

	return webrtc.Configuration{
		BundlePolicy:         bundle,
		ICECandidatePoolSize: c.ICECandidatePoolSize,
		ICEServers:           servers,
		ICETransportPolicy:   transport,
	}, nil
}

func (c *TransportConfig) bundlePolicy() (webrtc.BundlePolicy, error) {
	switch c.BundlePolicy {
	case "", "balanced":
		return webrtc.BundlePolicyBalanced, nil
	case "max-compat":
		return webrtc.BundlePolicyMaxCompat, nil
	case "max-bundle":
		return webrtc.BundlePolicyMaxBundle, nil
	default:
		return 0, fmt.Errorf("unknown bundle_policy %q", c.BundlePolicy)
	}
}

func (c *TransportConfig) transportPolicy() (webrtc.ICETransportPolicy, error) {
	switch c.ICETransportPolicy {
	case "", "all":
		return webrtc.ICETransportPolicyAll, nil
	case "relay":
		return webrtc.ICETransportPolicyRelay, nil
	default:
		return 0, fmt.Errorf("unknown ice_transport_policy %q", c.ICETransportPolicy)
	}
}

// MediaConstraints describe the local media to acquire.
type MediaConstraints struct {
	Audio *AudioConstraints `json:"audio,omitempty"` // nil disables audio
	Video *VideoConstraints `json:"video,omitempty"` // nil disables video
}

type AudioConstraints struct {
	EchoCancellation bool `json:"echo_cancellation"`
}

type VideoConstraints struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	FrameRate int `json:"framerate"`
}

// DefaultMediaConstraints returns audio without echo cancellation and 640x480 video at 30 fps.
func DefaultMediaConstraints() *MediaConstraints {
	return &MediaConstraints{
		Audio: &AudioConstraints{EchoCancellation: false},
		Video: &VideoConstraints{Width: 640, Height: 480, FrameRate: 30},
	}
}

// Validate checks if the configuration values are valid
func (m *MediaConstraints) Validate() error {
	if m.Audio == nil && m.Video == nil {
		return errors.New("at least one of audio or video must be requested")
	}
	if v := m.Video; v != nil {
		if v.Width <= 0 || v.Height <= 0 {
			return errors.New("video width and height must be positive")
		}
		if v.FrameRate <= 0 || v.FrameRate > 120 {
			return errors.New("video framerate must be between 1 and 120")
		}
	}
	return nil
}
