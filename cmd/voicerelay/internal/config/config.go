// Package config loads the voicerelay configuration.
//
// Settings are layered, later layers winning:
//
//  1. built-in defaults
//  2. the YAML file (--config, or ~/.giztoy/voicerelay/config.yaml if present)
//  3. a dotenv file (.env by default), for variables not set in the process
//  4. process environment variables
//  5. command line flags, applied by the commands
//
// Example config.yaml:
//
//	openai:
//	  api_key: sk-...
//	relay:
//	  model: gpt-realtime-mini-2025-10-06
//	  voice: fable
//	server:
//	  port: 7860
//	  max_calls: 5
//	  time_limit: 90s
//	archive:
//	  s3:
//	    bucket: call-transcripts
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/haivivi/voicerelay/pkg/archive"
	"github.com/haivivi/voicerelay/pkg/cli"
	"github.com/haivivi/voicerelay/pkg/relay"
)

// AppName names the config directory under ~/.giztoy.
const AppName = "voicerelay"

// DefaultConnectTimeout bounds the upstream WebSocket handshake and the
// preflight request.
const DefaultConnectTimeout = 10 * time.Second

// Config is the complete process configuration.
type Config struct {
	OpenAI      OpenAI        `yaml:"openai" json:"openai"`
	Relay       relay.Options `yaml:"relay" json:"relay"`
	Server      Server        `yaml:"server" json:"server"`
	Transcripts Transcripts   `yaml:"transcripts" json:"transcripts"`
	Archive     Archive       `yaml:"archive" json:"archive"`
	Log         Log           `yaml:"log" json:"log"`
}

// OpenAI holds the upstream credentials.
type OpenAI struct {
	APIKey       string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Organization string `yaml:"organization,omitempty" json:"organization,omitempty"`
	Project      string `yaml:"project,omitempty" json:"project,omitempty"`

	// WebSocketURL overrides the Realtime endpoint.
	WebSocketURL string `yaml:"websocket_url,omitempty" json:"websocket_url,omitempty"`

	// Beta selects the beta Realtime protocol.
	Beta bool `yaml:"beta,omitempty" json:"beta,omitempty"`

	// ConnectTimeout bounds the WebSocket handshake of each call.
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty" json:"connect_timeout,omitempty"`
}

// Server configures the HTTP listener and call admission.
type Server struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// MaxCalls caps concurrent calls; 0 is unlimited.
	MaxCalls int `yaml:"max_calls,omitempty" json:"max_calls,omitempty"`

	// TimeLimit ends each call after this long; 0 is unlimited.
	TimeLimit time.Duration `yaml:"time_limit,omitempty" json:"time_limit,omitempty"`

	ICEServers []ICEServer `yaml:"ice_servers,omitempty" json:"ice_servers,omitempty"`
}

// ICEServer is a STUN or TURN server offered to browsers.
type ICEServer struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username,omitempty" json:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty" json:"credential,omitempty"`
}

// Transcripts configures the transcript store.
type Transcripts struct {
	// Dir is the badger directory.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	// InMemory keeps transcripts in memory only.
	InMemory bool `yaml:"in_memory,omitempty" json:"in_memory,omitempty"`
}

// Archive configures where finished transcripts are archived. At most one
// of Dir and S3 may be set; with neither, archiving is off.
type Archive struct {
	Dir string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	S3  *archive.S3Config `yaml:"s3,omitempty" json:"s3,omitempty"`
}

// Log configures process logging.
type Log struct {
	// Format is "text" (default) or "json".
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// Default returns the built-in defaults. Transcripts live under the data
// directory of p.
func Default(p *cli.Paths) *Config {
	return &Config{
		OpenAI: OpenAI{ConnectTimeout: DefaultConnectTimeout},
		Relay:  relay.DefaultOptions(),
		Server: Server{
			Host: "localhost",
			Port: 7860,
		},
		Transcripts: Transcripts{Dir: p.DataPath("transcripts")},
		Log:         Log{Format: "text"},
	}
}

// LoadOptions controls Load.
type LoadOptions struct {
	// File is an explicit config file. It must exist when set.
	File string

	// EnvFile is the dotenv file. A missing file is ignored.
	EnvFile string

	// Paths locates the default config file and data directory.
	Paths *cli.Paths

	// LookupEnv reads process environment variables. Defaults to
	// os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds the configuration from defaults, the config file, the dotenv
// file and the environment. It does not validate the result.
func Load(opts LoadOptions) (*Config, error) {
	if opts.Paths == nil {
		p, err := cli.NewPaths(AppName)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		opts.Paths = p
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Default(opts.Paths)

	path := opts.File
	if path == "" {
		path = opts.Paths.ConfigFile()
	}
	found, err := cli.LoadYAML(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if !found && opts.File != "" {
		return nil, fmt.Errorf("config: %s: %w", opts.File, fs.ErrNotExist)
	}

	var dotenv map[string]string
	if opts.EnvFile != "" {
		dotenv, err = godotenv.Read(opts.EnvFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", opts.EnvFile, err)
		}
	}

	// The process environment wins over the dotenv file.
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok && v != ""
	}
	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(env func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := env(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := env(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return &relay.ConfigurationError{Field: key, Reason: fmt.Sprintf("must be an integer, got %q", v)}
		}
		*dst = n
		return nil
	}

	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_ORGANIZATION", &c.OpenAI.Organization)
	str("OPENAI_PROJECT", &c.OpenAI.Project)
	str("OPENAI_REALTIME_URL", &c.OpenAI.WebSocketURL)
	str("OPENAI_REALTIME_MODEL", &c.Relay.Model)
	str("OPENAI_TRANSCRIPTION_MODEL", &c.Relay.TranscriptionModel)
	str("OPENAI_VOICE", &c.Relay.Voice)
	str("HOST", &c.Server.Host)
	str("TRANSCRIPT_DIR", &c.Transcripts.Dir)
	str("ARCHIVE_DIR", &c.Archive.Dir)
	str("LOG_FORMAT", &c.Log.Format)

	if err := num("PORT", &c.Server.Port); err != nil {
		return err
	}
	if err := num("MAX_CALLS", &c.Server.MaxCalls); err != nil {
		return err
	}
	if v, ok := env("OPENAI_CONNECT_TIMEOUT"); ok {
		d, err := ParseDuration(v)
		if err != nil {
			return &relay.ConfigurationError{Field: "OPENAI_CONNECT_TIMEOUT", Reason: err.Error()}
		}
		c.OpenAI.ConnectTimeout = d
	}
	if v, ok := env("CALL_TIME_LIMIT"); ok {
		d, err := ParseDuration(v)
		if err != nil {
			return &relay.ConfigurationError{Field: "CALL_TIME_LIMIT", Reason: err.Error()}
		}
		c.Server.TimeLimit = d
	}

	if bucket, ok := env("ARCHIVE_S3_BUCKET"); ok {
		if c.Archive.S3 == nil {
			c.Archive.S3 = &archive.S3Config{}
		}
		c.Archive.S3.Bucket = bucket
	}
	if s3 := c.Archive.S3; s3 != nil {
		str("ARCHIVE_S3_PREFIX", &s3.Prefix)
		str("ARCHIVE_S3_REGION", &s3.Region)
		str("ARCHIVE_S3_ENDPOINT", &s3.Endpoint)
		str("AWS_ACCESS_KEY_ID", &s3.AccessKeyID)
		str("AWS_SECRET_ACCESS_KEY", &s3.SecretAccessKey)
	}
	return nil
}

// ParseDuration accepts a Go duration ("90s", "2m") or a bare number of
// seconds ("90").
func ParseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Validate reports the first invalid setting as a *relay.ConfigurationError.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return &relay.ConfigurationError{Field: "openai.api_key", Reason: "is required (set OPENAI_API_KEY)"}
	}
	if err := c.Relay.Validate(); err != nil {
		return err
	}
	switch {
	case c.OpenAI.ConnectTimeout <= 0:
		return &relay.ConfigurationError{Field: "openai.connect_timeout", Reason: "must be positive"}
	case c.Server.Port < 1 || c.Server.Port > 65535:
		return &relay.ConfigurationError{Field: "server.port", Reason: fmt.Sprintf("must be in [1, 65535], got %d", c.Server.Port)}
	case c.Server.MaxCalls < 0:
		return &relay.ConfigurationError{Field: "server.max_calls", Reason: "must not be negative"}
	case c.Server.TimeLimit < 0:
		return &relay.ConfigurationError{Field: "server.time_limit", Reason: "must not be negative"}
	case !c.Transcripts.InMemory && c.Transcripts.Dir == "":
		return &relay.ConfigurationError{Field: "transcripts.dir", Reason: "is required unless transcripts.in_memory is set"}
	case c.Archive.Dir != "" && c.Archive.S3 != nil:
		return &relay.ConfigurationError{Field: "archive", Reason: "must set only one of dir and s3"}
	case c.Archive.S3 != nil && c.Archive.S3.Bucket == "":
		return &relay.ConfigurationError{Field: "archive.s3.bucket", Reason: "is required"}
	}
	for i, s := range c.Server.ICEServers {
		if len(s.URLs) == 0 {
			return &relay.ConfigurationError{Field: fmt.Sprintf("server.ice_servers[%d].urls", i), Reason: "must not be empty"}
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return &relay.ConfigurationError{Field: "log.format", Reason: fmt.Sprintf("must be text or json, got %q", c.Log.Format)}
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

// Redacted returns a copy safe to print: secrets are masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.OpenAI.APIKey = cli.MaskAPIKey(c.OpenAI.APIKey)
	if c.Archive.S3 != nil {
		s3 := *c.Archive.S3
		s3.SecretAccessKey = cli.MaskAPIKey(s3.SecretAccessKey)
		out.Archive.S3 = &s3
	}
	if len(c.Server.ICEServers) > 0 {
		out.Server.ICEServers = make([]ICEServer, len(c.Server.ICEServers))
		for i, s := range c.Server.ICEServers {
			s.Credential = cli.MaskAPIKey(s.Credential)
			out.Server.ICEServers[i] = s
		}
	}
	return &out
}
