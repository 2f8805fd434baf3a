package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// ErrAlreadyRunning is returned when Run is called on a machine that is already running.
var ErrAlreadyRunning = errors.New("negotiation machine is already running")

const defaultEventBuffer = 256

// Config wires a Machine to its collaborators.
type Config struct {
	Role      Role
	Transport TransportFactory
	Media     MediaSource
	Channel   SignalingChannel
	// Observer is optional.
	Observer Observer
	// EventBuffer sizes the event queue; zero selects a default.
	EventBuffer int
}

// negotiationSession holds everything one connect attempt owns. It is created
// on connect and dropped once disconnect has released it.
type negotiationSession struct {
	attempt uint64
	ctx     context.Context
	cancel  context.CancelFunc

	mediaDone bool
	tracks    []LocalTrack
	transport MediaTransport
	exchanger *Exchanger
	queue     *TrickleQueue
	streams   map[string]bool

	// lastPatch closes when the previous candidate request has finished.
	lastPatch chan struct{}
}

// Machine is the negotiation state machine. All state is owned by the
// goroutine running Run; Connect and Disconnect only enqueue requests, and
// every asynchronous step reports back as an event that is re-checked against
// the current attempt and state before it has any effect.
type Machine struct {
	cfg       Config
	events    chan event
	done      chan struct{}
	running   atomic.Bool
	lifecycle *Lifecycle

	// Owned by the Run goroutine.
	runCtx     context.Context
	attemptSeq uint64
	current    *negotiationSession
	state      State

	mu       sync.RWMutex
	snapshot State
	session  Session
}

// NewMachine validates cfg and creates an idle machine.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Transport == nil {
		return nil, errors.New("negotiation: transport factory is required")
	}
	if cfg.Media == nil {
		return nil, errors.New("negotiation: media source is required")
	}
	if cfg.Channel == nil {
		return nil, errors.New("negotiation: signaling channel is required")
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	lifecycle := NewLifecycle(cfg.Channel, cfg.Role)
	return &Machine{
		cfg:       cfg,
		events:    make(chan event, cfg.EventBuffer),
		done:      make(chan struct{}),
		lifecycle: lifecycle,
		state:     StateIdle,
		snapshot:  StateIdle,
		session:   lifecycle.Session(),
	}, nil
}

// Connect requests a new negotiation. It is ignored unless the machine is
// idle, closed or failed.
func (m *Machine) Connect() {
	m.post(ConnectRequested{})
}

// Disconnect requests teardown of the current negotiation. It may be called in
// any state and any number of times.
func (m *Machine) Disconnect() {
	m.post(DisconnectRequested{})
}

// State returns the most recently published state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Session returns the most recently published session.
func (m *Machine) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Role returns the configured role.
func (m *Machine) Role() Role {
	return m.cfg.Role
}

// Run processes events until ctx is cancelled, then disconnects and waits for
// the best-effort session delete to finish.
func (m *Machine) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(m.done)
	m.runCtx = ctx

	for {
		select {
		case <-ctx.Done():
			m.disconnect()
			m.lifecycle.Wait()
			return nil
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

func (m *Machine) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// spawn runs a suspending step off the machine goroutine and posts its result.
func (m *Machine) spawn(s *negotiationSession, step func(ctx context.Context) event) {
	go func() {
		if ev := step(s.ctx); ev != nil {
			m.post(ev)
		}
	}()
}

func (m *Machine) handle(ev event) {
	if a := ev.attempt(); a != 0 && (m.current == nil || m.current.attempt != a) {
		m.dropStale(ev)
		return
	}

	switch e := ev.(type) {
	case ConnectRequested:
		m.connect()
	case DisconnectRequested:
		m.disconnect()
	case MediaAcquired:
		m.mediaAcquired(e)
	case SessionCreated:
		m.sessionCreated(e)
	case ChannelResponse:
		m.channelResponse(e)
	case CandidateDiscovered:
		m.candidateDiscovered(e)
	case CandidateRejected:
		slog.Warn("Send candidate failed", "error", e.Err)
		m.cfg.Observer.Notice(e.Err)
	case CandidateFailed:
		notice := &TransportNotice{Info: e.Info}
		slog.Warn("ICE candidate error", "error", notice)
		m.cfg.Observer.Notice(notice)
	case TrackReceived:
		m.trackReceived(e)
	case TransportStateChanged:
		m.transportStateChanged(e)
	default:
		slog.Warn("Unhandled negotiation event", "event", fmt.Sprintf("%T", ev))
	}
}

// dropStale abandons the side effects of an event whose attempt is gone.
func (m *Machine) dropStale(ev event) {
	slog.Debug("Dropping event from a finished attempt", "event", fmt.Sprintf("%T", ev))
	switch e := ev.(type) {
	case SessionCreated:
		if e.Err == nil && e.SessionID != "" {
			slog.Info("Session created after disconnect, deleting it", "session_id", e.SessionID)
			m.lifecycle.Discard(e.SessionID)
		}
	case MediaAcquired:
		if e.Err == nil {
			m.cfg.Media.Release(e.Tracks)
		}
	}
}

func (m *Machine) connect() {
	if !m.state.CanConnect() {
		slog.Warn("Connect ignored, negotiation already in progress", "state", m.state.String())
		return
	}

	m.attemptSeq++
	ctx, cancel := context.WithCancel(m.runCtx)
	s := &negotiationSession{
		attempt: m.attemptSeq,
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[string]bool),
	}
	s.queue = NewTrickleQueue(m.sendCandidate(s))
	m.current = s
	m.setState(StateConnecting)

	slog.Info("Connecting call", "role", m.cfg.Role.String())
	slog.Info("Requesting local stream")
	m.spawn(s, func(ctx context.Context) event {
		tracks, err := m.cfg.Media.Acquire(ctx)
		return MediaAcquired{epoch: epoch(s.attempt), Tracks: tracks, Err: err}
	})
}

func (m *Machine) mediaAcquired(e MediaAcquired) {
	s := m.current
	s.mediaDone = true
	s.tracks = e.Tracks
	if m.state != StateConnecting {
		return
	}
	if e.Err != nil {
		m.fail(&AcquisitionError{Err: e.Err})
		return
	}
	logDeviceLabels(e.Tracks)

	transport, err := m.cfg.Transport()
	if err != nil {
		m.fail(&NegotiationError{Step: "create transport", Err: err})
		return
	}
	s.transport = transport
	m.register(s)

	for _, t := range s.tracks {
		if err := transport.AddTrack(t.Track); err != nil {
			m.fail(&NegotiationError{Step: "add track", Err: err})
			return
		}
	}
	s.exchanger = NewExchanger(m.cfg.Role, transport, m.transmitDescription(s))

	m.spawn(s, func(ctx context.Context) event {
		id, body, err := m.lifecycle.Create(ctx)
		return SessionCreated{epoch: epoch(s.attempt), SessionID: id, Body: body, Err: err}
	})
}

// register routes transport callbacks into the event queue, tagged with the attempt.
func (m *Machine) register(s *negotiationSession) {
	a := epoch(s.attempt)
	s.transport.OnCandidate(func(c *webrtc.ICECandidateInit) {
		m.post(CandidateDiscovered{epoch: a, Candidate: c})
	})
	s.transport.OnCandidateError(func(info CandidateErrorInfo) {
		m.post(CandidateFailed{epoch: a, Info: info})
	})
	s.transport.OnTrack(func(track RemoteTrack) {
		m.post(TrackReceived{epoch: a, Track: track})
	})
	s.transport.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.post(TransportStateChanged{epoch: a, State: state})
	})
}

func (m *Machine) sessionCreated(e SessionCreated) {
	if m.state != StateConnecting {
		return
	}
	if e.Err != nil {
		m.fail(e.Err)
		return
	}
	s := m.current
	m.lifecycle.Record(e.SessionID)
	m.publishSession()
	s.queue.Ready(e.SessionID)

	var err error
	switch m.cfg.Role {
	case RoleOfferer:
		m.setState(StateOffering)
		slog.Info("Send SDP offer")
		err = s.exchanger.Offer()
	default:
		m.setState(StateAnswering)
		slog.Info("Handle offer")
		err = s.exchanger.HandleRemoteOffer(e.Body)
	}
	if err != nil {
		m.fail(err)
		return
	}
	m.lifecycle.SetState(SessionAwaitingDescription)
	m.publishSession()
}

// transmitDescription sends a local description tagged with the id current at send time.
func (m *Machine) transmitDescription(s *negotiationSession) TransmitFunc {
	return func(desc webrtc.SessionDescription) {
		id := m.lifecycle.ID()
		slog.Info("Send PUT sdp", "type", desc.Type.String(), "session_id", id)
		m.spawn(s, func(ctx context.Context) event {
			body, err := m.cfg.Channel.PutDescription(ctx, id, desc)
			if err != nil {
				err = &ChannelError{Op: opPutDescription, Err: err}
			}
			return ChannelResponse{epoch: epoch(s.attempt), Body: body, Err: err}
		})
	}
}

func (m *Machine) channelResponse(e ChannelResponse) {
	switch m.state {
	case StateOffering, StateAnswering, StateNegotiated:
	default:
		return
	}
	if e.Err != nil {
		m.fail(e.Err)
		return
	}
	s := m.current
	slog.Info("Put sdp accepted", "session_id", m.lifecycle.ID())

	if m.cfg.Role == RoleOfferer {
		applied, err := s.exchanger.HandleRemoteAnswer(e.Body)
		if err != nil {
			m.fail(err)
			return
		}
		if applied {
			slog.Info("Set remote description -- success")
		} else {
			slog.Warn("Put sdp response carried no remote answer")
		}
	}
	if s.exchanger.Exchanged() && m.lifecycle.Session().State < SessionDescriptionExchanged {
		m.lifecycle.SetState(SessionDescriptionExchanged)
		m.publishSession()
	}
	m.setState(StateNegotiated)
}

// sendCandidate issues patch requests one at a time, in discovery order.
func (m *Machine) sendCandidate(s *negotiationSession) SendCandidateFunc {
	return func(sessionID string, c webrtc.ICECandidateInit) {
		prev := s.lastPatch
		done := make(chan struct{})
		s.lastPatch = done
		m.spawn(s, func(ctx context.Context) event {
			defer close(done)
			if prev != nil {
				select {
				case <-prev:
				case <-ctx.Done():
					return nil
				}
			}
			if ctx.Err() != nil {
				return nil
			}
			if err := m.cfg.Channel.PatchCandidate(ctx, sessionID, c); err != nil {
				return CandidateRejected{epoch: epoch(s.attempt), Err: &ChannelError{Op: opPatchCandidate, Err: err}}
			}
			return nil
		})
	}
}

func (m *Machine) candidateDiscovered(e CandidateDiscovered) {
	if !m.state.InProgress() {
		return
	}
	m.current.queue.Discovered(m.lifecycle.ID(), e.Candidate)
}

func (m *Machine) trackReceived(e TrackReceived) {
	s := m.current
	slog.Info("ontrack: got track", "kind", e.Track.Kind, "track_id", e.Track.ID)
	if !s.streams[e.Track.StreamID] {
		s.streams[e.Track.StreamID] = true
		slog.Info("ontrack: got stream", "stream_id", e.Track.StreamID)
	}
	m.cfg.Observer.RemoteTrackAdded(e.Track)
}

func (m *Machine) transportStateChanged(e TransportStateChanged) {
	slog.Info("Media transport state changed", "state", e.State.String())
	if !m.state.InProgress() {
		return
	}
	switch e.State {
	case webrtc.PeerConnectionStateConnected:
		m.lifecycle.SetState(SessionConnected)
		m.publishSession()
	case webrtc.PeerConnectionStateFailed:
		m.fail(&NegotiationError{Step: "connect transport", Err: ErrTransportFailed})
	}
}

// fail routes a fatal error through the single disconnect path.
func (m *Machine) fail(err error) {
	slog.Error("Negotiation failed", "state", m.state.String(), "error", err)
	m.lifecycle.Fail()
	m.publishSession()
	m.setState(StateFailed)
	m.cfg.Observer.Notice(err)
	m.disconnect()
}

// disconnect releases everything the current attempt holds. With nothing to
// release it changes nothing and sends no delete.
func (m *Machine) disconnect() {
	s := m.current
	if s == nil && !m.lifecycle.Session().HasID() {
		return
	}
	slog.Info("Disconnecting call")
	m.current = nil

	if s != nil {
		s.cancel()
		if n := s.queue.Discard(); n > 0 {
			slog.Info("Discarded queued candidates", "count", n)
		}
		if s.mediaDone && len(s.tracks) > 0 {
			m.cfg.Media.Release(s.tracks)
		}
		if s.transport != nil {
			if err := s.transport.Close(); err != nil {
				slog.Warn("Close media transport failed", "error", err)
			}
		}
	}

	m.lifecycle.Teardown()
	m.publishSession()
	m.setState(StateClosed)
}

func (m *Machine) setState(state State) {
	if m.state == state {
		return
	}
	slog.Info("Negotiation state changed", "from", m.state.String(), "to", state.String())
	m.state = state
	m.mu.Lock()
	m.snapshot = state
	m.mu.Unlock()
	m.cfg.Observer.StateChanged(state)
}

func (m *Machine) publishSession() {
	session := m.lifecycle.Session()
	m.mu.Lock()
	changed := m.session != session
	m.session = session
	m.mu.Unlock()
	if changed {
		m.cfg.Observer.SessionChanged(session)
	}
}

func logDeviceLabels(tracks []LocalTrack) {
	var audio, video bool
	for _, t := range tracks {
		switch {
		case t.Kind() == "audio" && !audio:
			audio = true
			slog.Info("Using Audio device", "label", t.Label)
		case t.Kind() == "video" && !video:
			video = true
			slog.Info("Using Video device", "label", t.Label)
		}
	}
}
