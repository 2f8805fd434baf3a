package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// fakeTransport records every call and lets tests fire transport callbacks.
type fakeTransport struct {
	mu sync.Mutex

	calls  []string
	local  *webrtc.SessionDescription
	remote *webrtc.SessionDescription
	tracks []webrtc.TrackLocal
	closed bool

	// completeLocal replaces the SDP of an applied local description.
	completeLocal string
	offerErr      error
	answerErr     error
	setRemoteErr  error

	onCandidate   func(*webrtc.ICECandidateInit)
	onTrack       func(RemoteTrack)
	onCandidateEr func(CandidateErrorInfo)
	onState       func(webrtc.PeerConnectionState)
}

func (f *fakeTransport) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	f.record("create-offer")
	if f.offerErr != nil {
		return webrtc.SessionDescription{}, f.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 local-offer"}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	f.record("create-answer")
	if f.answerErr != nil {
		return webrtc.SessionDescription{}, f.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 local-answer"}, nil
}

func (f *fakeTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.record("set-local:" + desc.Type.String())
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeLocal != "" {
		desc.SDP = f.completeLocal
	}
	f.local = &desc
	return nil
}

func (f *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.record("set-remote:" + desc.Type.String())
	if f.setRemoteErr != nil {
		return f.setRemoteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = &desc
	return nil
}

func (f *fakeTransport) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakeTransport) RemoteDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *fakeTransport) AddTrack(track webrtc.TrackLocal) error {
	f.record("add-track:" + track.Kind().String())
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, track)
	return nil
}

func (f *fakeTransport) OnCandidate(fn func(*webrtc.ICECandidateInit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakeTransport) OnTrack(fn func(RemoteTrack)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *fakeTransport) OnCandidateError(fn func(CandidateErrorInfo)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidateEr = fn
}

func (f *fakeTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeTransport) Close() error {
	f.record("close")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) emitCandidate(c *webrtc.ICECandidateInit) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	fn(c)
}

func (f *fakeTransport) emitTrack(t RemoteTrack) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	fn(t)
}

func (f *fakeTransport) emitCandidateError(info CandidateErrorInfo) {
	f.mu.Lock()
	fn := f.onCandidateEr
	f.mu.Unlock()
	fn(info)
}

func (f *fakeTransport) emitState(s webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	fn(s)
}

// fakeTransports hands out a new fakeTransport per connect.
type fakeTransports struct {
	mu    sync.Mutex
	built []*fakeTransport
	setup func(*fakeTransport)
}

func (f *fakeTransports) factory() TransportFactory {
	return func() (MediaTransport, error) {
		t := &fakeTransport{}
		if f.setup != nil {
			f.setup(t)
		}
		f.mu.Lock()
		f.built = append(f.built, t)
		f.mu.Unlock()
		return t, nil
	}
}

func (f *fakeTransports) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func (f *fakeTransports) Last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.built) == 0 {
		return nil
	}
	return f.built[len(f.built)-1]
}

// fakeMedia hands out one audio and one video track per acquisition, each
// acquisition on its own stream "local-<n>".
type fakeMedia struct {
	mu       sync.Mutex
	err      error
	acquired int
	released []string
	// holdFirst, when set, blocks the first Acquire until closed, ignoring ctx.
	holdFirst chan struct{}
}

func (f *fakeMedia) Acquire(ctx context.Context) ([]LocalTrack, error) {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return nil, f.err
	}
	f.acquired++
	n := f.acquired
	hold := f.holdFirst
	f.mu.Unlock()
	if n == 1 && hold != nil {
		<-hold
	}

	stream := fmt.Sprintf("local-%d", n)
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", stream)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", stream)
	if err != nil {
		return nil, err
	}
	return []LocalTrack{
		{Track: audio, Label: "Test Microphone"},
		{Track: video, Label: "Test Camera"},
	}, nil
}

func (f *fakeMedia) Release(tracks []LocalTrack) {
	if len(tracks) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, tracks[0].Track.StreamID())
}

func (f *fakeMedia) Acquired() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired
}

// Released returns how many acquisitions were released.
func (f *fakeMedia) Released() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.released)
}

// ReleasedStreams returns the stream of each released acquisition, in order.
func (f *fakeMedia) ReleasedStreams() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

type patchCall struct {
	sessionID string
	candidate string
}

// fakeChannel is a scriptable SignalingChannel.
type fakeChannel struct {
	mu sync.Mutex

	nextID    string
	createErr error
	// createBody is returned from CreateSession; answerer tests put the remote offer here.
	createBody []byte
	// createGate, when set, blocks CreateSession until closed or cancelled.
	createGate chan struct{}
	// createHold, when set, blocks CreateSession until closed, ignoring ctx,
	// so the response lands after a disconnect.
	createHold chan struct{}

	putBody []byte
	putErr  error
	// putGate, when set, holds the put response until closed, ignoring ctx.
	putGate chan struct{}

	patchErr error
	// patchGate, when set, holds each patch response until closed, ignoring ctx.
	patchGate chan struct{}

	creates int
	puts    []webrtc.SessionDescription
	putIDs  []string
	patches []patchCall
	deletes []string
}

var errHTTP500 = errors.New("unexpected status 500 Internal Server Error")

func (f *fakeChannel) CreateSession(ctx context.Context) (string, []byte, error) {
	f.mu.Lock()
	gate, hold := f.createGate, f.createHold
	f.mu.Unlock()
	if hold != nil {
		<-hold
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return "", nil, f.createErr
	}
	return f.nextID, f.createBody, nil
}

func (f *fakeChannel) PutDescription(ctx context.Context, id string, desc webrtc.SessionDescription) ([]byte, error) {
	f.mu.Lock()
	f.puts = append(f.puts, desc)
	f.putIDs = append(f.putIDs, id)
	gate := f.putGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	return f.putBody, nil
}

func (f *fakeChannel) PatchCandidate(ctx context.Context, id string, c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	f.patches = append(f.patches, patchCall{sessionID: id, candidate: c.Candidate})
	gate := f.patchGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patchErr
}

func (f *fakeChannel) DeleteSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeChannel) Creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func (f *fakeChannel) Puts() []webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), f.puts...)
}

func (f *fakeChannel) PutIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.putIDs...)
}

func (f *fakeChannel) Patches() []patchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]patchCall(nil), f.patches...)
}

func (f *fakeChannel) Deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

// recordingObserver keeps every notification in order.
type recordingObserver struct {
	mu       sync.Mutex
	states   []State
	sessions []Session
	tracks   []RemoteTrack
	notices  []error
}

func (r *recordingObserver) StateChanged(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recordingObserver) SessionChanged(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
}

func (r *recordingObserver) RemoteTrackAdded(t RemoteTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = append(r.tracks, t)
}

func (r *recordingObserver) Notice(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, err)
}

func (r *recordingObserver) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recordingObserver) Tracks() []RemoteTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RemoteTrack(nil), r.tracks...)
}

func (r *recordingObserver) Notices() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.notices...)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func remoteOffer() []byte {
	return mustJSON(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote-offer"})
}

func remoteAnswer() []byte {
	return mustJSON(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 remote-answer"})
}

func candidate(s string) *webrtc.ICECandidateInit {
	return &webrtc.ICECandidateInit{Candidate: s}
}
