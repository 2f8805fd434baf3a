package webrtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rescp17/lanCall/pkg/negotiation"
)

const (
	opusFrameDuration = 20 * time.Millisecond

	syntheticAudioLabel = "Synthetic Microphone (silence)"
)

// opusSilence is a single Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// ErrNoMedia is returned when the constraints request neither audio nor video.
var ErrNoMedia = errors.New("no media requested")

// SyntheticSource is a MediaSource without capture hardware. Audio carries
// Opus silence and video is an idle VP8 track, so a call negotiates real
// media sections without any device. Each acquisition is independent and is
// identified by its stream id.
type SyntheticSource struct {
	constraints *MediaConstraints

	mu           sync.Mutex
	acquisitions map[string]*acquisition
}

type acquisition struct {
	tracks  []negotiation.LocalTrack
	cancel  context.CancelFunc
	writers sync.WaitGroup
}

var _ negotiation.MediaSource = (*SyntheticSource)(nil)

// NewSyntheticSource creates a source honoring constraints. A nil value selects
// DefaultMediaConstraints.
func NewSyntheticSource(constraints *MediaConstraints) (*SyntheticSource, error) {
	if constraints == nil {
		constraints = DefaultMediaConstraints()
	}
	if err := constraints.Validate(); err != nil {
		return nil, fmt.Errorf("invalid media constraints: %w", err)
	}
	return &SyntheticSource{
		constraints:  constraints,
		acquisitions: make(map[string]*acquisition),
	}, nil
}

// Acquire creates one track per requested kind on a fresh stream and starts
// feeding the audio track.
func (s *SyntheticSource) Acquire(ctx context.Context) ([]negotiation.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.constraints.Audio == nil && s.constraints.Video == nil {
		return nil, ErrNoMedia
	}

	streamID := "lancall-" + uuid.NewString()
	var tracks []negotiation.LocalTrack

	var audio *webrtc.TrackLocalStaticSample
	if s.constraints.Audio != nil {
		var err error
		audio, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio track: %w", err)
		}
		tracks = append(tracks, negotiation.LocalTrack{Track: audio, Label: syntheticAudioLabel})
	}
	if v := s.constraints.Video; v != nil {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamID)
		if err != nil {
			return nil, fmt.Errorf("failed to create video track: %w", err)
		}
		label := fmt.Sprintf("Synthetic Camera (%dx%d@%d)", v.Width, v.Height, v.FrameRate)
		tracks = append(tracks, negotiation.LocalTrack{Track: video, Label: label})
	}

	writerCtx, cancel := context.WithCancel(context.Background())
	acq := &acquisition{tracks: tracks, cancel: cancel}
	if audio != nil {
		acq.writers.Add(1)
		go acq.writeSilence(writerCtx, audio)
	}

	s.mu.Lock()
	s.acquisitions[streamID] = acq
	s.mu.Unlock()
	return tracks, nil
}

// Release stops the acquisition that produced tracks. Other acquisitions keep running.
func (s *SyntheticSource) Release(tracks []negotiation.LocalTrack) {
	if len(tracks) == 0 {
		return
	}
	streamID := tracks[0].Track.StreamID()
	s.mu.Lock()
	acq, ok := s.acquisitions[streamID]
	delete(s.acquisitions, streamID)
	s.mu.Unlock()
	if ok {
		acq.stop()
		slog.Debug("Released local media", "stream_id", streamID, "tracks", len(acq.tracks))
	}
}

// Close stops every acquisition.
func (s *SyntheticSource) Close() {
	s.mu.Lock()
	acqs := s.acquisitions
	s.acquisitions = make(map[string]*acquisition)
	s.mu.Unlock()
	for _, acq := range acqs {
		acq.stop()
	}
}

// Active returns the tracks of every live acquisition.
func (s *SyntheticSource) Active() []negotiation.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tracks []negotiation.LocalTrack
	for _, acq := range s.acquisitions {
		tracks = append(tracks, acq.tracks...)
	}
	return tracks
}

func (a *acquisition) stop() {
	a.cancel()
	a.writers.Wait()
}

func (a *acquisition) writeSilence(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	defer a.writers.Done()
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := track.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrameDuration}); err != nil {
				slog.Debug("Audio write failed", "error", err)
			}
		}
	}
}
