// Package server is the HTTP surface of the relay: the browser page, the
// WebRTC offer endpoint, the transcript event stream and call management.
package server

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/haivivi/voicerelay/pkg/calls"
	"github.com/haivivi/voicerelay/pkg/relay"
	"github.com/haivivi/voicerelay/pkg/transcript"
)

//go:embed static/index.html
var defaultIndex []byte

// rtcPlaceholder is replaced in the index page by the JSON RTC configuration.
const rtcPlaceholder = "__RTC_CONFIGURATION__"

// keepAlive is the SSE comment interval on idle output streams.
const keepAlive = 15 * time.Second

// TransportFactory answers an SDP offer for c and returns the transport
// that carries its audio along with the SDP answer.
type TransportFactory func(ctx context.Context, c *calls.Call, offerSDP string) (calls.Transport, string, error)

// Config configures a Server.
type Config struct {
	// Manager owns the calls. Required.
	Manager *calls.Manager

	// Store serves stored transcripts. Optional.
	Store transcript.Store

	// NewTransport builds the media leg of each call. Required.
	NewTransport TransportFactory

	// IndexHTML overrides the embedded browser page.
	IndexHTML []byte

	// RTCConfig is handed to the browser as its RTCPeerConnection
	// configuration. Nil renders as null.
	RTCConfig any

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server serves the relay HTTP API.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	index   []byte
	handler http.Handler
}

// New builds a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("server: nil Manager")
	}
	if cfg.NewTransport == nil {
		return nil, errors.New("server: nil NewTransport")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	page := cfg.IndexHTML
	if page == nil {
		page = defaultIndex
	}
	rtcJSON, err := json.Marshal(cfg.RTCConfig)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		index:  bytes.ReplaceAll(page, []byte(rtcPlaceholder), rtcJSON),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /webrtc/offer", s.handleOffer)
	mux.HandleFunc("GET /outputs", s.handleOutputs)
	mux.HandleFunc("GET /calls", s.handleListCalls)
	mux.HandleFunc("GET /calls/{id}/transcript", s.handleTranscript)
	mux.HandleFunc("DELETE /calls/{id}", s.handleHangup)

	s.handler = otelhttp.NewHandler(
		logRequests(logger, recoverPanics(logger, mux)),
		"voicerelay",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(s.index)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type offerRequest struct {
	SDP      string `json:"sdp"`
	Type     string `json:"type"`
	WebRTCID string `json:"webrtc_id"`
}

type offerResponse struct {
	SDP      string `json:"sdp"`
	Type     string `json:"type"`
	WebRTCID string `json:"webrtc_id"`
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offer body")
		return
	}
	if req.Type != "offer" || strings.TrimSpace(req.SDP) == "" {
		writeError(w, http.StatusBadRequest, "expected an SDP offer")
		return
	}

	var answer string
	c, err := s.cfg.Manager.Start(r.Context(), req.WebRTCID, func(ctx context.Context, c *calls.Call) (calls.Transport, error) {
		t, sdp, err := s.cfg.NewTransport(ctx, c, req.SDP)
		answer = sdp
		return t, err
	})
	switch {
	case errors.Is(err, calls.ErrTooManyCalls):
		writeError(w, http.StatusServiceUnavailable, "too many concurrent calls")
		return
	case errors.Is(err, calls.ErrCallExists):
		writeError(w, http.StatusConflict, "call already exists")
		return
	case errors.Is(err, calls.ErrManagerClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	case err != nil:
		s.logger.Warn("webrtc offer rejected", "webrtc_id", req.WebRTCID, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, offerResponse{SDP: answer, Type: "answer", WebRTCID: c.ID()})
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("webrtc_id")
	c, ok := s.cfg.Manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown webrtc_id")
		return
	}
	sw, err := newSSE(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	events := c.Subscribe(r.Context())
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sw.Send("output", ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := sw.Comment("ping"); err != nil {
				return
			}
		}
	}
}

type callInfo struct {
	ID        string      `json:"id"`
	StartedAt time.Time   `json:"started_at"`
	State     string      `json:"state"`
	Stats     relay.Stats `json:"stats"`
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	out := []callInfo{}
	for _, c := range s.cfg.Manager.Calls() {
		out = append(out, callInfo{
			ID:        c.ID(),
			StartedAt: c.StartedAt(),
			State:     c.Handler().State().String(),
			Stats:     c.Stats(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.cfg.Store != nil {
		entries, err := s.cfg.Store.List(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, entries)
			return
		case !errors.Is(err, transcript.ErrNotFound):
			s.logger.Error("list transcript", "call_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "transcript unavailable")
			return
		}
	}
	if c, ok := s.cfg.Manager.Get(id); ok {
		writeJSON(w, http.StatusOK, c.Transcript())
		return
	}
	writeError(w, http.StatusNotFound, "transcript not found")
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	c, ok := s.cfg.Manager.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	c.Hangup()
	c.Wait(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
