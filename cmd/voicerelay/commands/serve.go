package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/haivivi/voicerelay/cmd/voicerelay/internal/config"
	"github.com/haivivi/voicerelay/pkg/archive"
	"github.com/haivivi/voicerelay/pkg/calls"
	openairealtime "github.com/haivivi/voicerelay/pkg/openai-realtime"
	"github.com/haivivi/voicerelay/pkg/relay"
	"github.com/haivivi/voicerelay/pkg/server"
	"github.com/haivivi/voicerelay/pkg/transcript"
)

const shutdownTimeout = 10 * time.Second

var (
	flagHost      string
	flagPort      int
	flagMaxCalls  int
	flagTimeLimit time.Duration
	flagModel     string
	flagVoice     string
	flagPreflight bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the browser page and relay voice calls",
	Long: `Serve the browser page and relay its voice calls to the OpenAI Realtime API.

Routes:
  GET    /                        browser page
  GET    /health                  liveness check
  POST   /webrtc/offer            start a call from an SDP offer
  GET    /outputs?webrtc_id=ID    transcript lines of a call (server-sent events)
  GET    /calls                   active calls
  GET    /calls/ID/transcript     transcript of a call
  DELETE /calls/ID                hang up a call

Example:
  voicerelay serve --port 7860 --max-calls 5 --time-limit 90s --preflight`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagHost, "host", "", "listen host (overrides HOST)")
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "listen port (overrides PORT)")
	serveCmd.Flags().IntVar(&flagMaxCalls, "max-calls", 0, "concurrent call limit, 0 for none (overrides MAX_CALLS)")
	serveCmd.Flags().DurationVar(&flagTimeLimit, "time-limit", 0, "per-call time limit, 0 for none (overrides CALL_TIME_LIMIT)")
	serveCmd.Flags().StringVar(&flagModel, "model", "", "Realtime model (overrides OPENAI_REALTIME_MODEL)")
	serveCmd.Flags().StringVar(&flagVoice, "voice", "", "assistant voice (overrides OPENAI_VOICE)")
	serveCmd.Flags().BoolVar(&flagPreflight, "preflight", false, "check that the model exists before serving")

	rootCmd.AddCommand(serveCmd)
}

// applyServeFlags copies the flags the user set onto cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = flagHost
	}
	if flags.Changed("port") {
		cfg.Server.Port = flagPort
	}
	if flags.Changed("max-calls") {
		cfg.Server.MaxCalls = flagMaxCalls
	}
	if flags.Changed("time-limit") {
		cfg.Server.TimeLimit = flagTimeLimit
	}
	if flags.Changed("model") {
		cfg.Relay.Model = flagModel
	}
	if flags.Changed("voice") {
		cfg.Relay.Voice = flagVoice
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.OpenAI.ConnectTimeout,
	}
	if flagPreflight {
		if err := preflight(ctx, cfg, httpClient); err != nil {
			return err
		}
		logger.Info("model available", "model", cfg.Relay.Model)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	arch, err := openArchive(cfg)
	if err != nil {
		return err
	}

	manager := calls.NewManager(calls.Config{
		Factory:   relay.NewFactory(newDialer(cfg, httpClient), cfg.Relay, relay.WithLogger(logger)),
		MaxCalls:  cfg.Server.MaxCalls,
		TimeLimit: cfg.Server.TimeLimit,
		Store:     store,
		Archive:   arch,
		Logger:    logger,
	})

	ice := iceServers(cfg.Server.ICEServers)
	srv, err := server.New(server.Config{
		Manager:      manager,
		Store:        store,
		NewTransport: server.WebRTC(cfg.Relay.SampleRate, ice, logger),
		RTCConfig:    server.RTCConfiguration(ice),
		Logger:       logger,
	})
	if err != nil {
		manager.Close()
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	logger.Info("voicerelay listening",
		"addr", "http://"+cfg.Addr(),
		"model", cfg.Relay.Model,
		"max_calls", cfg.Server.MaxCalls,
		"time_limit", cfg.Server.TimeLimit)

	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	// Hanging up every call ends their event streams so Shutdown can drain.
	manager.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", "error", serr)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func newDialer(cfg *config.Config, httpClient *http.Client) relay.ClientDialer {
	opts := []openairealtime.Option{
		openairealtime.WithHTTPClient(httpClient),
		openairealtime.WithHandshakeTimeout(cfg.OpenAI.ConnectTimeout),
	}
	if cfg.OpenAI.Organization != "" {
		opts = append(opts, openairealtime.WithOrganization(cfg.OpenAI.Organization))
	}
	if cfg.OpenAI.Project != "" {
		opts = append(opts, openairealtime.WithProject(cfg.OpenAI.Project))
	}
	if cfg.OpenAI.WebSocketURL != "" {
		opts = append(opts, openairealtime.WithWebSocketURL(cfg.OpenAI.WebSocketURL))
	}
	return relay.ClientDialer{
		Client: openairealtime.NewClient(cfg.OpenAI.APIKey, opts...),
		Beta:   cfg.OpenAI.Beta,
	}
}

// preflight asks the REST API whether the configured model exists, so a bad
// key or model name fails at startup instead of on the first call.
func preflight(ctx context.Context, cfg *config.Config, httpClient *http.Client) error {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.OpenAI.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.OpenAI.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.OpenAI.Organization))
	}
	if cfg.OpenAI.Project != "" {
		opts = append(opts, option.WithProject(cfg.OpenAI.Project))
	}
	client := openai.NewClient(opts...)

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if _, err := client.Models.Get(ctx, cfg.Relay.Model); err != nil {
		return fmt.Errorf("preflight: model %s: %w", cfg.Relay.Model, err)
	}
	return nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (transcript.Store, error) {
	store, err := transcript.NewBadger(transcript.BadgerOptions{
		Dir:      cfg.Transcripts.Dir,
		InMemory: cfg.Transcripts.InMemory,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// openArchive returns nil when archiving is off.
func openArchive(cfg *config.Config) (archive.Archive, error) {
	switch {
	case cfg.Archive.S3 != nil:
		s3, err := archive.NewS3FromConfig(*cfg.Archive.S3)
		if err != nil {
			return nil, err
		}
		return s3, nil
	case cfg.Archive.Dir != "":
		local, err := archive.NewLocal(cfg.Archive.Dir)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
	return nil, nil
}

func iceServers(in []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}
