// Package rtc carries call audio between a browser and a relay.Handler over
// WebRTC.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/haivivi/voicerelay/pkg/audio/codec/opus"
	"github.com/haivivi/voicerelay/pkg/audio/pcm"
	"github.com/haivivi/voicerelay/pkg/relay"
)

// EventsChannel is the label of the data channel transcripts are sent on.
const EventsChannel = "events"

// FrameSink receives decoded inbound audio.
type FrameSink interface {
	OnFrame(ctx context.Context, frame pcm.Frame) error
}

// Config configures a Bridge.
type Config struct {
	// SampleRate is the PCM rate exchanged with the sink and source.
	// Default: 24000.
	SampleRate int

	// ICEServers are offered to the peer connection.
	ICEServers []webrtc.ICEServer

	// Sink receives inbound frames. Required.
	Sink FrameSink

	// OnTranscript, if set, is called for every transcript item sent.
	OnTranscript func(relay.TranscriptEvent)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Bridge is the WebRTC leg of one call.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.RWMutex
	pc         *webrtc.PeerConnection
	audioTrack *webrtc.TrackLocalStaticRTP
	events     *webrtc.DataChannel

	closeOnce sync.Once
}

// NewBridge creates an unconnected bridge.
func NewBridge(cfg Config) *Bridge {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = relay.DefaultSampleRate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Done is closed when the peer connection fails or the bridge is closed.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// HandleOffer answers the browser's SDP offer. A bridge accepts one offer.
func (b *Bridge) HandleOffer(ctx context.Context, offerSDP string) (string, error) {
	b.mu.Lock()
	if b.pc != nil {
		b.mu.Unlock()
		return "", errors.New("rtc: offer already handled")
	}
	select {
	case <-b.done:
		b.mu.Unlock()
		return "", errors.New("rtc: bridge closed")
	default:
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: b.cfg.ICEServers})
	if err != nil {
		b.mu.Unlock()
		return "", fmt.Errorf("rtc: create peer connection: %w", err)
	}
	b.pc = pc

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio",
		"voicerelay",
	)
	if err != nil {
		b.mu.Unlock()
		b.Close()
		return "", fmt.Errorf("rtc: create audio track: %w", err)
	}
	b.audioTrack = audioTrack

	if _, err := pc.AddTrack(audioTrack); err != nil {
		b.mu.Unlock()
		b.Close()
		return "", fmt.Errorf("rtc: add track: %w", err)
	}
	b.mu.Unlock()

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		b.logger.Info("webrtc received track", "id", track.ID(), "codec", track.Codec().MimeType)
		go b.readRemoteTrack(track)
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != EventsChannel {
			return
		}
		b.mu.Lock()
		b.events = dc
		b.mu.Unlock()
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		b.logger.Info("webrtc connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			go b.Close()
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		b.logger.Debug("webrtc ice state", "state", state.String())
	})

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		b.Close()
		return "", fmt.Errorf("rtc: set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		b.Close()
		return "", fmt.Errorf("rtc: create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		b.Close()
		return "", fmt.Errorf("rtc: set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		b.Close()
		return "", ctx.Err()
	}

	return pc.LocalDescription().SDP, nil
}

// readRemoteTrack decodes the browser's Opus audio and forwards it to the
// sink as mono frames at the configured rate.
func (b *Bridge) readRemoteTrack(track *webrtc.TrackRemote) {
	channels := int(track.Codec().Channels)
	if channels < 1 {
		channels = 1
	}
	dec, err := opus.NewDecoder(b.cfg.SampleRate, channels)
	if err != nil {
		b.logger.Error("webrtc opus decoder", "error", err)
		return
	}
	defer dec.Close()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			b.logger.Info("webrtc track read ended", "error", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		samples, err := dec.Decode(opus.Frame(pkt.Payload))
		if err != nil {
			b.logger.Debug("webrtc drop undecodable packet", "error", err)
			continue
		}
		frame := pcm.Frame{SampleRate: b.cfg.SampleRate, Samples: pcm.Downmix(samples, channels)}
		if err := b.cfg.Sink.OnFrame(b.ctx, frame); err != nil {
			b.logger.Warn("webrtc forward frame", "error", err)
		}
	}
}

// Run drains src and plays it to the browser until src is exhausted, ctx
// ends or the bridge closes. Audio is sent as paced 20ms Opus packets;
// transcripts go to the events data channel and to OnTranscript. When src
// is a relay.Interrupter, a partial packet left from before a barge-in is
// discarded.
func (b *Bridge) Run(ctx context.Context, src relay.Source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	format, ok := pcm.FormatOf(b.cfg.SampleRate)
	if !ok {
		return fmt.Errorf("rtc: unsupported sample rate %d", b.cfg.SampleRate)
	}
	pk, err := newPacketizer(format)
	if err != nil {
		return err
	}
	defer pk.Close()
	play := newPlayer(pk, src)

	var pace pacer
	for {
		item, err := src.Emit(ctx)
		if err != nil {
			if errors.Is(err, relay.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rtc: emit: %w", err)
		}

		switch item := item.(type) {
		case relay.AudioChunk:
			pkts, err := play.packets(item)
			if err != nil {
				b.logger.Warn("webrtc packetize", "error", err)
			}
			for _, pkt := range pkts {
				if !pace.Wait(ctx.Done()) {
					return nil
				}
				if err := b.writeRTP(pkt); err != nil {
					b.logger.Debug("webrtc write rtp", "error", err)
				}
			}
		case relay.TranscriptEvent:
			b.sendTranscript(item)
		}
	}
}

func (b *Bridge) writeRTP(pkt *rtp.Packet) error {
	b.mu.RLock()
	track := b.audioTrack
	b.mu.RUnlock()
	if track == nil {
		return nil
	}
	return track.WriteRTP(pkt)
}

func (b *Bridge) sendTranscript(ev relay.TranscriptEvent) {
	if b.cfg.OnTranscript != nil {
		b.cfg.OnTranscript(ev)
	}

	b.mu.RLock()
	dc := b.events
	b.mu.RUnlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := dc.SendText(string(data)); err != nil {
		b.logger.Debug("webrtc send transcript", "error", err)
	}
}

// Close tears down the peer connection. It is safe to call more than once.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.cancel()
		close(b.done)

		b.mu.Lock()
		pc := b.pc
		b.mu.Unlock()
		if pc != nil {
			err = pc.Close()
		}
	})
	return err
}
