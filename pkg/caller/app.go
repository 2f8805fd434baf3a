package caller

import (
	"context"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	appevents "github.com/rescp17/lanCall/internal/app_events"
	"github.com/rescp17/lanCall/internal/app_events/call"
	"github.com/rescp17/lanCall/pkg/negotiation"
	"golang.org/x/sync/errgroup"
)

// Config wires the caller to its signaling endpoint and media stack.
type Config struct {
	Role      negotiation.Role
	Endpoint  string
	Channel   negotiation.SignalingChannel
	Transport negotiation.TransportFactory
	Media     negotiation.MediaSource
	// AutoConnect starts a call as soon as the app runs.
	AutoConnect bool
}

// App is the main application logic controller for the calling side.
type App struct {
	cfg        Config
	machine    *negotiation.Machine
	uiMessages chan tea.Msg            // App -> TUI
	appEvents  chan appevents.AppEvent // TUI -> App
	done       chan struct{}
}

// NewApp creates a new caller application instance.
func NewApp(cfg Config) (*App, error) {
	a := &App{
		cfg:        cfg,
		uiMessages: make(chan tea.Msg, 64),
		appEvents:  make(chan appevents.AppEvent),
		done:       make(chan struct{}),
	}
	machine, err := negotiation.NewMachine(negotiation.Config{
		Role:      cfg.Role,
		Transport: cfg.Transport,
		Media:     cfg.Media,
		Channel:   cfg.Channel,
		Observer:  uiObserver{app: a},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create negotiation machine: %w", err)
	}
	a.machine = machine
	return a, nil
}

// UIMessages returns the channel for the UI to listen on for updates.
func (a *App) UIMessages() <-chan tea.Msg {
	return a.uiMessages
}

// AppEvents returns a write-only channel for the TUI to send events to the app.
func (a *App) AppEvents() chan<- appevents.AppEvent {
	return a.appEvents
}

// Machine exposes the negotiation state machine.
func (a *App) Machine() *negotiation.Machine {
	return a.machine
}

// Run starts the negotiation machine and the application's main event loop.
// On return any active call has been torn down.
func (a *App) Run(ctx context.Context) error {
	// Stop delivering to the TUI once shutdown starts, it may no longer be reading.
	stop := context.AfterFunc(ctx, func() { close(a.done) })
	defer func() {
		if stop() {
			close(a.done)
		}
	}()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.machine.Run(ctx)
	})

	g.Go(func() error {
		a.send(call.EndpointMsg{URL: a.cfg.Endpoint, Role: a.cfg.Role})
		if a.cfg.AutoConnect {
			a.machine.Connect()
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case event := <-a.appEvents:
				switch event.(type) {
				case call.ConnectRequestedEvent:
					slog.Info("Connect requested", "endpoint", a.cfg.Endpoint)
					a.machine.Connect()
				case call.DisconnectRequestedEvent:
					slog.Info("Disconnect requested")
					a.machine.Disconnect()
				default:
					slog.Warn("Unhandled app event", "event", fmt.Sprintf("%T", event))
				}
			}
		}
	})
	return g.Wait()
}

// send delivers msg to the TUI unless the app is stopping.
func (a *App) send(msg tea.Msg) {
	select {
	case a.uiMessages <- msg:
	case <-a.done:
	}
}

// uiObserver forwards machine notifications to the TUI.
type uiObserver struct {
	app *App
}

func (o uiObserver) StateChanged(state negotiation.State) {
	o.app.send(call.StateChangedMsg{State: state})
}

func (o uiObserver) SessionChanged(session negotiation.Session) {
	o.app.send(call.SessionChangedMsg{Session: session})
}

func (o uiObserver) RemoteTrackAdded(track negotiation.RemoteTrack) {
	o.app.send(call.RemoteTrackMsg{Track: track})
}

func (o uiObserver) Notice(err error) {
	o.app.send(appevents.AppErrorMsg{Err: err, Fatal: negotiation.IsFatal(err)})
}
