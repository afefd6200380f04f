package openairealtime

import (
	"encoding/base64"
	"fmt"
)

// Client event types (sent from client to server).
const (
	EventTypeSessionUpdate = "session.update"

	EventTypeInputAudioBufferAppend = "input_audio_buffer.append"
)

// Server event types (sent from server to client).
//
// The generally available API renamed the audio output events; both the
// GA names and the older beta names are listed.
const (
	EventTypeError = "error"

	EventTypeSessionCreated = "session.created"
	EventTypeSessionUpdated = "session.updated"

	EventTypeConversationItemCreated                          = "conversation.item.created"
	EventTypeConversationItemInputAudioTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventTypeConversationItemInputAudioTranscriptionFailed    = "conversation.item.input_audio_transcription.failed"

	EventTypeInputAudioBufferCommitted     = "input_audio_buffer.committed"
	EventTypeInputAudioBufferCleared       = "input_audio_buffer.cleared"
	EventTypeInputAudioBufferSpeechStarted = "input_audio_buffer.speech_started"
	EventTypeInputAudioBufferSpeechStopped = "input_audio_buffer.speech_stopped"

	EventTypeResponseCreated = "response.created"
	EventTypeResponseDone    = "response.done"

	// GA names.
	EventTypeResponseOutputAudioDelta           = "response.output_audio.delta"
	EventTypeResponseOutputAudioDone            = "response.output_audio.done"
	EventTypeResponseOutputAudioTranscriptDelta = "response.output_audio_transcript.delta"
	EventTypeResponseOutputAudioTranscriptDone  = "response.output_audio_transcript.done"

	// Beta names.
	EventTypeResponseAudioDelta           = "response.audio.delta"
	EventTypeResponseAudioDone            = "response.audio.done"
	EventTypeResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	EventTypeResponseAudioTranscriptDone  = "response.audio_transcript.done"

	EventTypeRateLimitsUpdated = "rate_limits.updated"
)

// ServerEvent represents a server event received from the Realtime API.
type ServerEvent struct {
	// Type is the event type.
	Type string `json:"type"`

	// EventID is the unique identifier for this event.
	EventID string `json:"event_id,omitzero"`

	// Session is set on session.created and session.updated.
	Session *SessionResource `json:"session,omitzero"`

	// ItemID is the conversation item the event refers to.
	ItemID string `json:"item_id,omitzero"`

	// AudioStartMs is set on speech_started.
	AudioStartMs int `json:"audio_start_ms,omitzero"`

	// AudioEndMs is set on speech_stopped.
	AudioEndMs int `json:"audio_end_ms,omitzero"`

	// Transcript is the text of a completed transcription.
	Transcript string `json:"transcript,omitzero"`

	// ContentIndex is the index of the content part.
	ContentIndex int `json:"content_index,omitzero"`

	// Error is set on "error" and transcription failure events.
	Error *EventError `json:"error,omitzero"`

	// ResponseID is the response identifier.
	ResponseID string `json:"response_id,omitzero"`

	// OutputIndex is the index of the output item.
	OutputIndex int `json:"output_index,omitzero"`

	// Delta holds incremental transcript text, or base64 PCM16 for audio
	// delta events.
	Delta string `json:"delta,omitzero"`

	// Audio is the decoded Delta of an audio delta event. It stays nil when
	// Delta is not valid base64.
	Audio []byte `json:"-"`

	// Raw contains the original JSON message.
	Raw []byte `json:"-"`
}

// IsAudioDelta reports whether the event carries a chunk of output audio.
func (e *ServerEvent) IsAudioDelta() bool {
	return e.Type == EventTypeResponseOutputAudioDelta || e.Type == EventTypeResponseAudioDelta
}

// IsTranscriptDone reports whether the event carries the final transcript of
// an assistant audio response.
func (e *ServerEvent) IsTranscriptDone() bool {
	return e.Type == EventTypeResponseOutputAudioTranscriptDone || e.Type == EventTypeResponseAudioTranscriptDone
}

// DecodeAudio returns the PCM16 bytes of an audio delta event.
func (e *ServerEvent) DecodeAudio() ([]byte, error) {
	if e.Audio != nil {
		return e.Audio, nil
	}
	b, err := base64.StdEncoding.DecodeString(e.Delta)
	if err != nil {
		return nil, fmt.Errorf("openai-realtime: decode audio delta: %w", err)
	}
	return b, nil
}
