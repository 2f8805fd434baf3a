package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	dnssdlog "github.com/brutella/dnssd/log"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rescp17/lanCall/api"
	"github.com/rescp17/lanCall/internal/app"
	"github.com/rescp17/lanCall/pkg/concurrency"
	"github.com/rescp17/lanCall/pkg/discovery"
	"github.com/rescp17/lanCall/pkg/negotiation"
	webrtcPkg "github.com/rescp17/lanCall/pkg/webrtc"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPort          = 8080
	DefaultGatherTimeout = 10 * time.Second
	shutdownTimeout      = 5 * time.Second
)

// Config holds the settings of the reference endpoint.
type Config struct {
	Port int
	// Offer makes the endpoint produce the offer; callers must then answer.
	Offer bool
	// Announce advertises the endpoint over mDNS.
	Announce      bool
	Transport     *webrtcPkg.TransportConfig
	Media         *webrtcPkg.MediaConstraints
	GatherTimeout time.Duration
	LogLevel      slog.Level
}

// App is the reference remote endpoint. It serves the signaling protocol,
// answers or offers with a pion peer and hosts one call at a time.
type App struct {
	cfg       Config
	webrtcAPI *webrtcPkg.WebRTCAPI
	guard     *concurrency.ConcurrencyGuard
	sessions  *app.SessionTable[*peerSession]
	registrar discovery.Adapter
	api       *api.API
}

var _ api.SessionHandler = (*App)(nil)

// NewApp creates a new endpoint application instance.
func NewApp(cfg Config, registrar discovery.Adapter) (*App, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = DefaultGatherTimeout
	}
	if cfg.Media == nil {
		cfg.Media = webrtcPkg.DefaultMediaConstraints()
	}
	if err := cfg.Media.Validate(); err != nil {
		return nil, fmt.Errorf("invalid media constraints: %w", err)
	}
	webrtcAPI, err := webrtcPkg.NewWebRTCAPI(cfg.Transport, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if registrar == nil {
		registrar = &discovery.MDNSAdapter{}
	}

	dnssdlog.Info.SetOutput(io.Discard)
	dnssdlog.Debug.SetOutput(io.Discard)

	a := &App{
		cfg:       cfg,
		webrtcAPI: webrtcAPI,
		guard:     concurrency.NewConcurrencyGuard(),
		sessions:  app.NewSessionTable[*peerSession](),
		registrar: registrar,
	}
	a.api = api.NewAPI(a)
	return a, nil
}

// Handler returns the HTTP handler serving the signaling protocol.
func (a *App) Handler() http.Handler {
	return a.api
}

// ActiveSessions returns the number of live calls.
func (a *App) ActiveSessions() int {
	return a.sessions.Len()
}

// Run serves on the configured port, announces the endpoint when enabled and
// closes every call on shutdown.
func (a *App) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", a.cfg.Port, err)
	}
	return a.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, listener net.Listener) error {
	defer a.sessions.CloseAll()
	g, ctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Handler:           a.api,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		slog.Info("Signaling endpoint listening", "addr", listener.Addr().String(), "offer", a.cfg.Offer)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	if a.cfg.Announce {
		port := a.cfg.Port
		if tcp, ok := listener.Addr().(*net.TCPAddr); ok {
			port = tcp.Port
		}
		serviceInfo, err := a.serviceInfo(port)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := a.registrar.Announce(ctx, serviceInfo); err != nil {
				return fmt.Errorf("failed to start mDNS announcement: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *App) serviceInfo(port int) (discovery.ServiceInfo, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return discovery.ServiceInfo{}, fmt.Errorf("could not get hostname: %w", err)
	}
	serviceUUID := uuid.New().String()
	return discovery.ServiceInfo{
		Name:   fmt.Sprintf("%s-%s", hostname, serviceUUID[:8]),
		Type:   discovery.DefaultServerType,
		Domain: discovery.DefaultDomain,
		Port:   port,
		Path:   "/",
	}, nil
}

// Connect opens a call for clientID. When the endpoint offers, the offer is
// returned once local gathering has finished, since the protocol carries no
// candidates towards the caller.
func (a *App) Connect(ctx context.Context, clientID string) (string, *webrtc.SessionDescription, error) {
	if err := a.guard.TryAcquire(); err != nil {
		return "", nil, err
	}
	sess, err := a.newSession(ctx, clientID)
	if err != nil {
		a.guard.Release()
		return "", nil, err
	}
	sess.release = a.guard.Release

	var offer *webrtc.SessionDescription
	if a.cfg.Offer {
		offer, err = a.describe(ctx, sess, sess.transport.CreateOffer)
		if err != nil {
			sess.Close()
			return "", nil, err
		}
	}

	id := a.sessions.Create(sess)
	a.watch(id, sess)
	slog.Info("Call opened", "session_id", id, "client_id", clientID, "offer", a.cfg.Offer)
	return id, offer, nil
}

func (a *App) newSession(ctx context.Context, clientID string) (*peerSession, error) {
	transport, err := a.webrtcAPI.NewPeerTransport()
	if err != nil {
		return nil, err
	}
	source, err := webrtcPkg.NewSyntheticSource(a.cfg.Media)
	if err != nil {
		transport.Close()
		return nil, err
	}
	sess := &peerSession{
		clientID:  clientID,
		transport: transport,
		media:     source,
	}

	tracks, err := source.Acquire(ctx)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to acquire media: %w", err)
	}
	for _, t := range tracks {
		if err := transport.AddTrack(t.Track); err != nil {
			sess.Close()
			return nil, err
		}
	}
	return sess, nil
}

// watch logs remote media and ends the call when the connection fails.
func (a *App) watch(id string, sess *peerSession) {
	sess.transport.OnTrack(func(track negotiation.RemoteTrack) {
		slog.Info("ontrack: got track", "session_id", id, "kind", track.Kind, "stream_id", track.StreamID)
	})
	sess.transport.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		slog.Info("Peer Connection State has changed", "session_id", id, "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			go func() {
				if err := a.Hangup(id); err != nil && !errors.Is(err, app.ErrSessionNotFound) {
					slog.Warn("Failed to close failed call", "session_id", id, "error", err)
				}
			}()
		}
	})
}

// describe creates a local description, applies it and waits for gathering.
func (a *App) describe(ctx context.Context, sess *peerSession, create func() (webrtc.SessionDescription, error)) (*webrtc.SessionDescription, error) {
	desc, err := create()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", a.localType(), err)
	}
	if err := sess.transport.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	gatherCtx, cancel := context.WithTimeout(ctx, a.cfg.GatherTimeout)
	defer cancel()
	if err := sess.transport.WaitGatheringComplete(gatherCtx); err != nil {
		return nil, err
	}
	return sess.transport.LocalDescription(), nil
}

func (a *App) localType() string {
	if a.cfg.Offer {
		return "offer"
	}
	return "answer"
}

// Description applies the caller's description. An offer is answered; an
// answer completes the endpoint's own offer.
func (a *App) Description(ctx context.Context, id string, desc webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	sess, err := a.sessions.Get(id)
	if err != nil {
		return nil, err
	}

	want := webrtc.SDPTypeOffer
	if a.cfg.Offer {
		want = webrtc.SDPTypeAnswer
	}
	if desc.Type != want || desc.SDP == "" {
		return nil, fmt.Errorf("%w: got %s description, want %s", api.ErrInvalidRequest, desc.Type.String(), want.String())
	}
	if err := sess.setRemote(desc); err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrInvalidRequest, err)
	}
	if a.cfg.Offer {
		return nil, nil
	}
	return a.describe(ctx, sess, sess.transport.CreateAnswer)
}

// Candidate adds a trickled candidate from the caller.
func (a *App) Candidate(ctx context.Context, id string, candidate webrtc.ICECandidateInit) error {
	sess, err := a.sessions.Get(id)
	if err != nil {
		return err
	}
	if err := sess.addCandidate(candidate); err != nil {
		return fmt.Errorf("%w: %v", api.ErrInvalidRequest, err)
	}
	return nil
}

// Hangup closes the call.
func (a *App) Hangup(id string) error {
	err := a.sessions.Close(id)
	if err == nil {
		slog.Info("Call closed", "session_id", id)
	}
	return err
}
