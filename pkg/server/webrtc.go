package server

import (
	"context"
	"log/slog"

	"github.com/pion/webrtc/v3"

	"github.com/haivivi/voicerelay/pkg/calls"
	"github.com/haivivi/voicerelay/pkg/rtc"
)

// WebRTC returns a TransportFactory that carries each call over an
// rtc.Bridge. Inbound audio is fed to the call's handler and every played
// transcript line is recorded on the call.
func WebRTC(sampleRate int, iceServers []webrtc.ICEServer, logger *slog.Logger) TransportFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, c *calls.Call, offerSDP string) (calls.Transport, string, error) {
		b := rtc.NewBridge(rtc.Config{
			SampleRate:   sampleRate,
			ICEServers:   iceServers,
			Sink:         c.Handler(),
			OnTranscript: c.Record,
			Logger:       logger.With("call_id", c.ID()),
		})
		answer, err := b.HandleOffer(ctx, offerSDP)
		if err != nil {
			b.Close()
			return nil, "", err
		}
		return b, answer, nil
	}
}

// RTCConfiguration is the browser-side RTCPeerConnection configuration for
// iceServers, or nil when there are none.
func RTCConfiguration(iceServers []webrtc.ICEServer) any {
	if len(iceServers) == 0 {
		return nil
	}
	type server struct {
		URLs       []string `json:"urls"`
		Username   string   `json:"username,omitempty"`
		Credential any      `json:"credential,omitempty"`
	}
	out := make([]server, 0, len(iceServers))
	for _, s := range iceServers {
		out = append(out, server{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return map[string]any{"iceServers": out}
}

var _ calls.Transport = (*rtc.Bridge)(nil)
