package commands

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/haivivi/voicerelay/cmd/voicerelay/internal/config"
)

var (
	// Global flags
	configFile string
	envFile    string
	verbose    bool

	// loaded by initConfig before any command runs
	globalConfig  *config.Config
	configLoadErr error
)

var rootCmd = &cobra.Command{
	Use:   "voicerelay",
	Short: "Realtime voice relay between browsers and the OpenAI Realtime API",
	Long: `voicerelay - relay browser voice calls to the OpenAI Realtime API.

Each call carries the browser's microphone over WebRTC to a Realtime session
and plays the assistant's reply back. Speaking over the assistant interrupts
it. Finished transcript lines are stored per call.

Configuration is layered, later layers winning:
  built-in defaults
  ~/.giztoy/voicerelay/config.yaml (or --config)
  .env (or --env-file)
  environment variables (OPENAI_API_KEY, PORT, MAX_CALLS, ...)
  command line flags

Examples:
  # Serve on port 7860 with at most 5 calls of 90 seconds each
  OPENAI_API_KEY=sk-... voicerelay serve --max-calls 5 --time-limit 90s

  # Print a stored transcript
  voicerelay transcript 3f0c9a7e-... -o table`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initConfig(cmd.ErrOrStderr())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ~/.giztoy/voicerelay/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read for unset variables")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func initConfig(stderr io.Writer) {
	globalConfig, configLoadErr = config.Load(config.LoadOptions{
		File:    configFile,
		EnvFile: envFile,
	})

	format := "text"
	if globalConfig != nil {
		format = globalConfig.Log.Format
	}
	slog.SetDefault(newLogger(stderr, format, verbose))
}

func newLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// GetConfig returns the loaded configuration, or the error that prevented
// loading it. Commands that do not need configuration never call it.
func GetConfig() (*config.Config, error) {
	if configLoadErr != nil {
		return nil, fmt.Errorf("config not available: %w", configLoadErr)
	}
	if globalConfig == nil {
		return nil, fmt.Errorf("config not available")
	}
	return globalConfig, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}
