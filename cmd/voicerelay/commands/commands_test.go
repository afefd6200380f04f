package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/haivivi/voicerelay/cmd/voicerelay/internal/config"
	"github.com/haivivi/voicerelay/pkg/cli"
	"github.com/haivivi/voicerelay/pkg/transcript"
)

// setupTestEnv isolates HOME and the variables the config reads.
func setupTestEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"OPENAI_API_KEY", "OPENAI_REALTIME_MODEL", "OPENAI_VOICE", "HOST", "PORT",
		"MAX_CALLS", "CALL_TIME_LIMIT", "OPENAI_CONNECT_TIMEOUT", "TRANSCRIPT_DIR", "ARCHIVE_DIR", "ARCHIVE_S3_BUCKET", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
	return home
}

func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	configFile = ""
	envFile = ""
	verbose = false
	formatOutput = "yaml"
	outputFile = ""
	serverURL = ""
	versionFormat = ""
	initForce = false
	flagPreflight = false

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	wOut.Close()
	wErr.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	var outBuf, errBuf bytes.Buffer
	outBuf.ReadFrom(rOut)
	errBuf.ReadFrom(rErr)

	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		exitCode = 1
		stderr += err.Error()
	}

	resetFlags(rootCmd)
	return
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Changed = false
		f.Value.Set(f.DefValue)
	})
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func TestVersion(t *testing.T) {
	setupTestEnv(t)

	stdout, _, code := runCmd(t, "version")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "voicerelay") {
		t.Fatalf("expected 'voicerelay', got: %s", stdout)
	}
}

func TestVersionJSON(t *testing.T) {
	setupTestEnv(t)

	stdout, _, code := runCmd(t, "version", "--format", "json")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, `"version"`) {
		t.Fatalf("expected JSON, got: %s", stdout)
	}
}

func TestConfigShow_MasksKey(t *testing.T) {
	setupTestEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-1234567890abcdef")

	stdout, stderr, code := runCmd(t, "config", "show", "-o", "json")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if strings.Contains(stdout, "sk-1234567890abcdef") {
		t.Fatalf("API key printed in clear: %s", stdout)
	}
	var got struct {
		OpenAI struct {
			APIKey string `json:"api_key"`
		} `json:"openai"`
		Server struct {
			Port int `json:"port"`
		} `json:"server"`
	}
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, stdout)
	}
	if !strings.HasPrefix(got.OpenAI.APIKey, "sk-1") || !strings.Contains(got.OpenAI.APIKey, "****") {
		t.Fatalf("api_key = %q, want masked", got.OpenAI.APIKey)
	}
	if got.Server.Port != 7860 {
		t.Fatalf("port = %d, want 7860", got.Server.Port)
	}
}

func TestConfigShow_EnvFile(t *testing.T) {
	setupTestEnv(t)
	envPath := filepath.Join(t.TempDir(), ".env")
	os.WriteFile(envPath, []byte("PORT=9001\n"), 0o600)

	stdout, stderr, code := runCmd(t, "config", "show", "--env-file", envPath)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "port: 9001") {
		t.Fatalf("expected port from .env, got: %s", stdout)
	}
}

func TestConfigInit(t *testing.T) {
	setupTestEnv(t)
	path := filepath.Join(t.TempDir(), "voicerelay.yaml")

	stdout, stderr, code := runCmd(t, "--config", path, "config", "init")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, path) {
		t.Fatalf("expected path in output, got: %s", stdout)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.Contains(string(data), "port: 7860") {
		t.Fatalf("unexpected config:\n%s", data)
	}

	_, stderr, code = runCmd(t, "--config", path, "config", "init")
	if code == 0 || !strings.Contains(stderr, "already exists") {
		t.Fatalf("second init: exit %d, %s", code, stderr)
	}
	if _, _, code = runCmd(t, "--config", path, "config", "init", "--force"); code != 0 {
		t.Fatalf("init --force: exit %d", code)
	}
}

func TestConfig_MissingExplicitFile(t *testing.T) {
	setupTestEnv(t)
	_, stderr, code := runCmd(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "config", "show")
	if code == 0 || !strings.Contains(stderr, "config not available") {
		t.Fatalf("exit %d, %s", code, stderr)
	}
}

func TestServe_RequiresAPIKey(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "serve")
	if code == 0 {
		t.Fatal("serve started without an API key")
	}
	if !strings.Contains(stderr, "openai.api_key") {
		t.Fatalf("expected api key error, got: %s", stderr)
	}
}

func TestServe_InvalidFlags(t *testing.T) {
	setupTestEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	_, stderr, code := runCmd(t, "serve", "--port", "70000")
	if code == 0 || !strings.Contains(stderr, "server.port") {
		t.Fatalf("exit %d, %s", code, stderr)
	}
	_, stderr, code = runCmd(t, "serve", "--max-calls=-2")
	if code == 0 || !strings.Contains(stderr, "server.max_calls") {
		t.Fatalf("exit %d, %s", code, stderr)
	}
}

func seedStore(t *testing.T, dir string) time.Time {
	t.Helper()
	store, err := transcript.NewBadger(transcript.BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	defer store.Close()

	t0 := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	for _, e := range []transcript.Entry{
		{CallID: "call-1", Seq: 0, Role: "user", Content: "hello there", At: t0},
		{CallID: "call-1", Seq: 1, Role: "assistant", Content: "hi, how can I help?", At: t0.Add(1500 * time.Millisecond)},
		{CallID: "call-2", Seq: 0, Role: "user", Content: "bye", At: t0},
	} {
		if err := store.Append(context.Background(), e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return t0
}

func TestTranscript_FromStore(t *testing.T) {
	setupTestEnv(t)
	dir := t.TempDir()
	seedStore(t, dir)
	t.Setenv("TRANSCRIPT_DIR", dir)

	stdout, stderr, code := runCmd(t, "transcript", "call-1", "-o", "json")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	var got []transcript.Entry
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, stdout)
	}
	if len(got) != 2 || got[0].Content != "hello there" || got[1].Role != "assistant" {
		t.Fatalf("entries = %+v", got)
	}

	stdout, stderr, code = runCmd(t, "transcript", "-o", "table")
	if code != 0 {
		t.Fatalf("list: exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "call-1") || !strings.Contains(stdout, "call-2") {
		t.Fatalf("expected both calls, got: %s", stdout)
	}

	_, stderr, code = runCmd(t, "transcript", "call-9")
	if code == 0 || !strings.Contains(stderr, "no transcript for call call-9") {
		t.Fatalf("unknown call: exit %d, %s", code, stderr)
	}
}

func TestTranscript_FromServer(t *testing.T) {
	setupTestEnv(t)
	t0 := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /calls/{id}/transcript", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "call-1" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"transcript not found"}`))
			return
		}
		json.NewEncoder(w).Encode([]transcript.Entry{
			{CallID: "call-1", Seq: 0, Role: "user", Content: "hello there", At: t0},
			{CallID: "call-1", Seq: 1, Role: "assistant", Content: "hi", At: t0.Add(1500 * time.Millisecond)},
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	stdout, stderr, code := runCmd(t, "transcript", "call-1", "--server", ts.URL+"/", "-o", "table")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	for _, want := range []string{"hello there", "assistant", "1.5s"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("table missing %q:\n%s", want, stdout)
		}
	}

	_, stderr, code = runCmd(t, "transcript", "call-2", "--server", ts.URL)
	if code == 0 || !strings.Contains(stderr, "transcript not found") {
		t.Fatalf("unknown call: exit %d, %s", code, stderr)
	}
	_, stderr, code = runCmd(t, "transcript", "--server", ts.URL)
	if code == 0 || !strings.Contains(stderr, "needs a call id") {
		t.Fatalf("no id: exit %d, %s", code, stderr)
	}
}

func TestEntries_Table(t *testing.T) {
	t0 := time.Unix(1000, 0)
	headers, rows := entries{
		{Seq: 0, Role: "user", Content: "a", At: t0},
		{Seq: 1, Role: "assistant", Content: "b", At: t0.Add(850 * time.Millisecond)},
	}.Table()
	if len(headers) != 4 || len(rows) != 2 {
		t.Fatalf("headers %v, %d rows", headers, len(rows))
	}
	if rows[0][1] != "0ms" || rows[1][1] != "850ms" {
		t.Fatalf("offsets = %q, %q", rows[0][1], rows[1][1])
	}

	if _, rows := (entries{}).Table(); len(rows) != 0 {
		t.Fatalf("empty transcript has %d rows", len(rows))
	}
}

func TestNewDialer_ConnectTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	cfg := config.Default(&cli.Paths{AppName: config.AppName, HomeDir: t.TempDir()})
	cfg.OpenAI.APIKey = "sk-test"
	cfg.OpenAI.WebSocketURL = "ws" + strings.TrimPrefix(ts.URL, "http")
	cfg.OpenAI.ConnectTimeout = 50 * time.Millisecond

	start := time.Now()
	_, err := newDialer(cfg, http.DefaultClient).Dial(context.Background(), "m")
	if err == nil {
		t.Fatal("Dial should fail when the upstream never answers")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Dial gave up after %v", elapsed)
	}
}
