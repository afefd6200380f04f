package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/haivivi/voicerelay/pkg/cli"
	"github.com/haivivi/voicerelay/pkg/transcript"
)

var (
	formatOutput string
	outputFile   string
	serverURL    string
)

var transcriptCmd = &cobra.Command{
	Use:   "transcript [call-id]",
	Short: "Print the transcript of a call",
	Long: `Print the transcript of a call, or list the calls with stored transcripts
when no call id is given.

The transcript store is opened directly. It is locked while the server runs,
so point --server at a running instance instead.

Examples:
  voicerelay transcript
  voicerelay transcript 3f0c9a7e-... -o table
  voicerelay transcript 3f0c9a7e-... --server http://localhost:7860 -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTranscript,
}

func init() {
	transcriptCmd.Flags().StringVarP(&formatOutput, "output", "o", "yaml", "output format (yaml, json, table)")
	transcriptCmd.Flags().StringVar(&outputFile, "file", "", "write output to a file instead of stdout")
	transcriptCmd.Flags().StringVar(&serverURL, "server", "", "fetch from a running server at this URL")

	rootCmd.AddCommand(transcriptCmd)
}

// entries renders a transcript as a table with offsets from its first line.
type entries []transcript.Entry

func (es entries) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(es))
	for _, e := range es {
		rows = append(rows, []string{
			strconv.Itoa(e.Seq),
			cli.FormatDuration(e.At.Sub(es[0].At)),
			e.Role,
			e.Content,
		})
	}
	return []string{"SEQ", "AT", "ROLE", "CONTENT"}, rows
}

type callIDs []string

func (ids callIDs) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []string{id})
	}
	return []string{"CALL"}, rows
}

func runTranscript(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(formatOutput)
	if err != nil {
		return err
	}

	var result any
	switch {
	case serverURL != "":
		if len(args) == 0 {
			return errors.New("--server needs a call id")
		}
		es, err := fetchTranscript(cmd, serverURL, args[0])
		if err != nil {
			return err
		}
		result = es
	default:
		result, err = readStore(cmd, args)
		if err != nil {
			return err
		}
	}

	return cli.Output(result, cli.OutputOptions{
		Format: format,
		File:   outputFile,
		Indent: "  ",
		Writer: writerFor(cmd),
	})
}

func readStore(cmd *cobra.Command, args []string) (any, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Transcripts.InMemory {
		return nil, errors.New("transcripts are kept in memory; use --server")
	}
	store, err := transcript.NewBadger(transcript.BadgerOptions{Dir: cfg.Transcripts.Dir})
	if err != nil {
		return nil, fmt.Errorf("%w (is the server running? try --server)", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if len(args) == 0 {
		ids, err := store.Calls(ctx)
		if err != nil {
			return nil, err
		}
		return callIDs(ids), nil
	}
	es, err := store.List(ctx, args[0])
	if err != nil {
		if errors.Is(err, transcript.ErrNotFound) {
			return nil, fmt.Errorf("no transcript for call %s", args[0])
		}
		return nil, err
	}
	return entries(es), nil
}

func fetchTranscript(cmd *cobra.Command, base, callID string) (entries, error) {
	u := strings.TrimSuffix(base, "/") + "/calls/" + url.PathEscape(callID) + "/transcript"
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = resp.Status
		}
		return nil, fmt.Errorf("fetch transcript: %s", body.Error)
	}
	var es entries
	if err := json.NewDecoder(resp.Body).Decode(&es); err != nil {
		return nil, fmt.Errorf("fetch transcript: decode: %w", err)
	}
	return es, nil
}

// writerFor leaves the destination to cli.Output when --file is set.
func writerFor(cmd *cobra.Command) io.Writer {
	if outputFile != "" {
		return nil
	}
	return cmd.OutOrStdout()
}
