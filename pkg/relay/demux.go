package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/haivivi/voicerelay/pkg/audio/pcm"
	openairealtime "github.com/haivivi/voicerelay/pkg/openai-realtime"
)

// runEvents consumes upstream events in delivery order until the stream
// ends. Per-event failures are logged and skipped; a panic while handling
// an event or a lost connection ends the loop with an error.
func (h *Handler) runEvents(ctx context.Context, sess *Session) error {
	conn := sess.Conn()
	if conn == nil {
		return nil
	}
	for ev, err := range conn.Events() {
		if err != nil {
			var perr *openairealtime.ParseError
			if errors.As(err, &perr) {
				h.eventFailed(ctx, &EventProcessingError{Err: err})
				continue
			}
			if ctx.Err() != nil || h.isClosed() || sess.State() != StateActive {
				return nil
			}
			if openairealtime.IsNormalClosure(err) {
				h.logger.Info("realtime api closed the connection")
				return nil
			}
			return &ConnectionError{Op: "receive", Err: err}
		}
		if err := h.handleEvent(ctx, ev); err != nil {
			var eperr *EventProcessingError
			if errors.As(err, &eperr) {
				h.eventFailed(ctx, eperr)
				continue
			}
			return err
		}
	}
	return nil
}

func (h *Handler) eventFailed(ctx context.Context, err *EventProcessingError) {
	h.eventErrors.Add(1)
	eventErrors.Add(ctx, 1)
	h.logger.Warn("skipping upstream event", "error", err)
}

// handleEvent routes one upstream event. Recovered panics are returned as
// plain errors, which end the session.
func (h *Handler) handleEvent(ctx context.Context, ev *openairealtime.ServerEvent) (err error) {
	if ev == nil {
		return &EventProcessingError{Err: errors.New("nil event")}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("relay: panic handling %s event: %v", ev.Type, r)
		}
	}()

	switch {
	case ev.Type == openairealtime.EventTypeInputAudioBufferSpeechStarted:
		n := h.queue.Interrupt()
		h.interrupts.Add(1)
		h.itemsDiscarded.Add(int64(n))
		itemsDiscarded.Add(ctx, int64(n))
		h.logger.Debug("user started speaking", "discarded", n)

	case ev.Type == openairealtime.EventTypeConversationItemInputAudioTranscriptionCompleted:
		h.logger.Info("User: " + ev.Transcript)
		h.push(ctx, TranscriptEvent{Role: RoleUser, Content: ev.Transcript})

	case ev.IsTranscriptDone():
		h.logger.Info("Assistant: " + ev.Transcript)
		h.push(ctx, TranscriptEvent{Role: RoleAssistant, Content: ev.Transcript})

	case ev.IsAudioDelta():
		data, err := ev.DecodeAudio()
		if err != nil {
			return &EventProcessingError{EventType: ev.Type, Err: err}
		}
		samples, err := pcm.DecodeL16(data)
		if err != nil {
			return &EventProcessingError{EventType: ev.Type, Err: err}
		}
		frame, err := h.out.Frame(UpstreamFormat.Frame(samples))
		if err != nil {
			return &EventProcessingError{EventType: ev.Type, Err: err}
		}
		if frame.Len() > 0 {
			h.push(ctx, AudioChunk{SampleRate: frame.SampleRate, Samples: frame.Samples})
		}

	case ev.Type == openairealtime.EventTypeError,
		ev.Type == openairealtime.EventTypeConversationItemInputAudioTranscriptionFailed:
		var cause error = errors.New("no error details")
		if ev.Error != nil {
			cause = ev.Error.ToError()
		}
		return &EventProcessingError{EventType: ev.Type, Err: cause}
	}
	return nil
}
