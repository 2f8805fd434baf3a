package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	dnssdlog "github.com/brutella/dnssd/log"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/rescp17/lanCall/api"
	"github.com/rescp17/lanCall/internal/config"
	"github.com/rescp17/lanCall/pkg/caller"
	"github.com/rescp17/lanCall/pkg/discovery"
	"github.com/rescp17/lanCall/pkg/negotiation"
	"github.com/rescp17/lanCall/pkg/peer"
	"github.com/rescp17/lanCall/pkg/ui"
	webrtcPkg "github.com/rescp17/lanCall/pkg/webrtc"
)

const discoverTimeout = 5 * time.Second

type rootOptions struct {
	configPath string
	logFile    string
	logLevel   string
}

func main() {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "lancall",
		Short: "Audio/video calls over a local network with HTTP signaling",
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a JSON config file")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Write logs to this file (call defaults to debug.log)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	cmd.AddCommand(newCallCmd(opts))
	cmd.AddCommand(newServeCmd(opts))

	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config when given and applies the root flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

// setupLogging points slog and the standard logger at w. The returned
// function closes the log file, if one was opened.
func setupLogging(path string, fallback io.Writer, level slog.Level) (func(), error) {
	w := fallback
	closeFn := func() {}
	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = f
		closeFn = func() {
			if err := f.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
			}
		}
	}
	log.SetOutput(w)
	dnssdlog.Info.SetOutput(w)
	dnssdlog.Debug.SetOutput(io.Discard)
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return closeFn, nil
}

func newCallCmd(opts *rootOptions) *cobra.Command {
	var (
		baseURL     string
		role        string
		offerer     bool
		discover    bool
		timeout     time.Duration
		autoConnect bool
	)
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Start a call against a signaling endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("url") {
				cfg.Client.BaseURL = baseURL
			}
			if flags.Changed("role") {
				cfg.Client.Role = role
			}
			if offerer {
				cfg.Client.Role = negotiation.RoleOfferer.String()
			}
			if flags.Changed("timeout") {
				cfg.Client.Timeout = timeout
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			level, _ := cfg.Level()

			logFile := opts.logFile
			if logFile == "" {
				logFile = "debug.log"
			}
			closeLog, err := setupLogging(logFile, io.Discard, level)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			endpoint := cfg.Client.BaseURL
			if discover || endpoint == "" {
				if endpoint, err = discoverEndpoint(ctx); err != nil {
					return err
				}
			}
			return runCall(ctx, cfg, endpoint, level, autoConnect)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "Base URL of the signaling endpoint, ending with a slash")
	cmd.Flags().StringVar(&role, "role", "offerer", "Local role: offerer or answerer")
	cmd.Flags().BoolVar(&offerer, "offerer", false, "Shorthand for --role offerer")
	cmd.Flags().BoolVar(&discover, "discover", false, "Find the signaling endpoint over mDNS")
	cmd.Flags().DurationVar(&timeout, "timeout", config.DefaultRequestTimeout, "Signaling request timeout")
	cmd.Flags().BoolVar(&autoConnect, "connect", false, "Connect immediately")
	return cmd
}

func discoverEndpoint(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()
	slog.Info("Discovering signaling endpoint", "type", discovery.DefaultServerType)
	info, err := discovery.ResolveFirst(ctx, &discovery.MDNSAdapter{}, discovery.DefaultServerType, discovery.DefaultDomain)
	if err != nil {
		return "", fmt.Errorf("no endpoint given and none discovered: %w", err)
	}
	slog.Info("Discovered signaling endpoint", "name", info.Name, "url", info.URL())
	return info.URL(), nil
}

func runCall(ctx context.Context, cfg *config.Config, endpoint string, level slog.Level, autoConnect bool) error {
	r, err := negotiation.ParseRole(cfg.Client.Role)
	if err != nil {
		return err
	}
	client, err := api.NewClient(endpoint, cfg.Client.Timeout)
	if err != nil {
		return err
	}
	webrtcAPI, err := webrtcPkg.NewWebRTCAPI(cfg.Transport, level)
	if err != nil {
		return err
	}
	source, err := webrtcPkg.NewSyntheticSource(cfg.Media)
	if err != nil {
		return err
	}
	defer source.Close()

	app, err := caller.NewApp(caller.Config{
		Role:        r,
		Endpoint:    client.BaseURL(),
		Channel:     client,
		Transport:   webrtcAPI.Factory(),
		Media:       source,
		AutoConnect: autoConnect,
	})
	if err != nil {
		return err
	}

	appCtx, cancel := context.WithCancel(ctx)
	appDone := make(chan error, 1)
	go func() { appDone <- app.Run(appCtx) }()

	p := tea.NewProgram(ui.InitialModel(app), tea.WithContext(ctx))
	_, uiErr := p.Run()
	cancel()
	appErr := <-appDone
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return fmt.Errorf("alas, there's been an error: %w", uiErr)
	}
	return appErr
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		port       int
		offer      bool
		noAnnounce bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference signaling endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("offer") {
				cfg.Server.Offer = offer
			}
			if noAnnounce {
				cfg.Server.Announce = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			level, _ := cfg.Level()

			closeLog, err := setupLogging(opts.logFile, os.Stderr, level)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := peer.NewApp(peer.Config{
				Port:          cfg.Server.Port,
				Offer:         cfg.Server.Offer,
				Announce:      cfg.Server.Announce,
				Transport:     cfg.Transport,
				Media:         cfg.Media,
				GatherTimeout: cfg.Server.GatherTimeout,
				LogLevel:      level,
			}, &discovery.MDNSAdapter{})
			if err != nil {
				return err
			}
			return app.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "Port to listen on")
	cmd.Flags().BoolVar(&offer, "offer", false, "Offer from the endpoint; callers must answer")
	cmd.Flags().BoolVar(&noAnnounce, "no-announce", false, "Do not announce the endpoint over mDNS")
	return cmd
}
