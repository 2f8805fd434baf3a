package negotiation

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// TransmitFunc hands a local description to the signaling channel. The
// response arrives later through the state machine.
type TransmitFunc func(desc webrtc.SessionDescription)

// Exchanger drives creation, application and transmission of session
// descriptions for one role.
type Exchanger struct {
	role      Role
	transport MediaTransport
	transmit  TransmitFunc

	localApplied  bool
	remoteApplied bool
}

// NewExchanger creates an exchanger for role over transport.
func NewExchanger(role Role, transport MediaTransport, transmit TransmitFunc) *Exchanger {
	return &Exchanger{
		role:      role,
		transport: transport,
		transmit:  transmit,
	}
}

// Offer creates a local offer, applies it and transmits the applied form.
func (e *Exchanger) Offer() error {
	if e.role != RoleOfferer {
		return &NegotiationError{Step: "create offer", Err: ErrWrongRole}
	}
	offer, err := e.transport.CreateOffer()
	if err != nil {
		return &NegotiationError{Step: "create offer", Err: err}
	}
	slog.Info("Got local description", "type", offer.Type.String())
	return e.applyLocalAndTransmit(offer)
}

// HandleRemoteOffer applies the offer delivered with the create-session
// response and answers it.
func (e *Exchanger) HandleRemoteOffer(body []byte) error {
	if e.role != RoleAnswerer {
		return &NegotiationError{Step: "set remote description", Err: ErrWrongRole}
	}
	offer, err := decodeDescription(body, webrtc.SDPTypeOffer)
	if err != nil {
		return &NegotiationError{Step: "decode remote offer", Err: err}
	}
	slog.Info("Remote description", "type", offer.Type.String())
	if err := e.transport.SetRemoteDescription(offer); err != nil {
		return &NegotiationError{Step: "set remote description", Err: err}
	}
	e.remoteApplied = true
	return e.Answer()
}

// Answer creates a local answer, applies it and transmits the applied form.
// The remote offer must have been applied first.
func (e *Exchanger) Answer() error {
	if !e.remoteApplied {
		return &NegotiationError{Step: "create answer", Err: ErrNoRemoteDescription}
	}
	answer, err := e.transport.CreateAnswer()
	if err != nil {
		return &NegotiationError{Step: "create answer", Err: err}
	}
	slog.Info("Got local description", "type", answer.Type.String())
	return e.applyLocalAndTransmit(answer)
}

// HandleRemoteAnswer applies the answer embedded in a put-description
// response. An empty body carries no answer and reports false.
func (e *Exchanger) HandleRemoteAnswer(body []byte) (bool, error) {
	if e.role != RoleOfferer {
		return false, nil
	}
	if len(body) == 0 {
		return false, nil
	}
	answer, err := decodeDescription(body, webrtc.SDPTypeAnswer)
	if err != nil {
		return false, &NegotiationError{Step: "decode remote answer", Err: err}
	}
	slog.Info("Remote description", "type", answer.Type.String())
	if err := e.transport.SetRemoteDescription(answer); err != nil {
		return false, &NegotiationError{Step: "set remote description", Err: err}
	}
	e.remoteApplied = true
	return true, nil
}

// Exchanged reports whether both descriptions have been applied.
func (e *Exchanger) Exchanged() bool {
	return e.localApplied && e.remoteApplied
}

func (e *Exchanger) applyLocalAndTransmit(desc webrtc.SessionDescription) error {
	if err := e.transport.SetLocalDescription(desc); err != nil {
		return &NegotiationError{Step: "set local description", Err: err}
	}
	e.localApplied = true

	// The transport may have completed the description while applying it.
	local := e.transport.LocalDescription()
	if local == nil {
		local = &desc
	}
	e.transmit(*local)
	return nil
}

func decodeDescription(body []byte, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(body, &desc); err != nil {
		return desc, fmt.Errorf("%w: %v", ErrUnexpectedDescription, err)
	}
	if desc.Type != want {
		return desc, fmt.Errorf("%w: type %q, want %q", ErrUnexpectedDescription, desc.Type.String(), want.String())
	}
	if desc.SDP == "" {
		return desc, fmt.Errorf("%w: empty sdp", ErrUnexpectedDescription)
	}
	return desc, nil
}
