package openairealtime

// Models supported by OpenAI Realtime API.
const (
	ModelGPTRealtime              = "gpt-realtime"
	ModelGPTRealtimeMini          = "gpt-realtime-mini"
	ModelGPTRealtimeMini20251006  = "gpt-realtime-mini-2025-10-06"
	ModelGPT4oRealtimePreview     = "gpt-4o-realtime-preview"
	ModelGPT4oMiniRealtimePreview = "gpt-4o-mini-realtime-preview"
	ModelGPT4oMiniTranscribe      = "gpt-4o-mini-transcribe"
	ModelGPT4oTranscribe          = "gpt-4o-transcribe"
	ModelWhisper1                 = "whisper-1"
)

// AudioFormatPCM16 is 16-bit PCM audio at 24kHz, mono, little-endian.
const AudioFormatPCM16 = "pcm16"

// Voice options for audio output.
const (
	VoiceAlloy   = "alloy"
	VoiceAsh     = "ash"
	VoiceBallad  = "ballad"
	VoiceCoral   = "coral"
	VoiceEcho    = "echo"
	VoiceFable   = "fable"
	VoiceSage    = "sage"
	VoiceShimmer = "shimmer"
	VoiceVerse   = "verse"
	VoiceMarin   = "marin"
	VoiceCedar   = "cedar"
)

// VAD modes for turn detection.
const (
	VADServerVAD   = "server_vad"
	VADSemanticVAD = "semantic_vad"
)

// ConnectConfig contains configuration for establishing a realtime connection.
type ConnectConfig struct {
	// Model is the model ID to use.
	// Default: gpt-realtime-mini-2025-10-06
	Model string `json:"model,omitzero"`

	// Beta sends the "OpenAI-Beta: realtime=v1" header, selecting the beta
	// event protocol.
	Beta bool `json:"beta,omitzero"`
}

// SessionConfig is the payload of a session.update event.
type SessionConfig struct {
	// Instructions is the system prompt.
	Instructions string `json:"instructions,omitzero"`

	// Voice is the voice ID for audio output.
	Voice string `json:"voice,omitzero"`

	// Temperature controls randomness.
	Temperature *float64 `json:"temperature,omitzero"`

	// TurnDetection configures voice activity detection.
	TurnDetection *TurnDetection `json:"turn_detection,omitzero"`

	// InputAudioFormat specifies the input audio format.
	InputAudioFormat string `json:"input_audio_format,omitzero"`

	// OutputAudioFormat specifies the output audio format.
	OutputAudioFormat string `json:"output_audio_format,omitzero"`

	// InputAudioTranscription enables transcription of user audio.
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitzero"`

	// MaxResponseOutputTokens limits the output length. Nil leaves the
	// server default (unlimited).
	MaxResponseOutputTokens *int `json:"max_response_output_tokens,omitzero"`
}

// TranscriptionConfig configures input audio transcription.
type TranscriptionConfig struct {
	Model string `json:"model,omitzero"`
}

// TurnDetection configures voice activity detection.
type TurnDetection struct {
	// Type is the VAD mode: "server_vad" or "semantic_vad".
	Type string `json:"type,omitzero"`

	// Threshold is the VAD sensitivity (0.0-1.0).
	Threshold float64 `json:"threshold,omitzero"`

	// PrefixPaddingMs is the padding before speech start (ms).
	PrefixPaddingMs int `json:"prefix_padding_ms,omitzero"`

	// SilenceDurationMs is the silence duration to detect end of speech (ms).
	SilenceDurationMs int `json:"silence_duration_ms,omitzero"`
}

// SessionResource describes the server-side session.
type SessionResource struct {
	ID     string `json:"id,omitzero"`
	Object string `json:"object,omitzero"`
	Model  string `json:"model,omitzero"`
	Voice  string `json:"voice,omitzero"`
}
