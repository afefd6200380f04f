package relay

import (
	"strings"

	"github.com/haivivi/voicerelay/pkg/audio/pcm"
	openairealtime "github.com/haivivi/voicerelay/pkg/openai-realtime"
)

// DefaultInstructions is the system prompt given to the voice assistant.
const DefaultInstructions = `
You are a helpful voice assistant. Your responses should be:

- Concise and conversational, since this is a voice interface
- Natural and friendly in tone
- Clear and easy to understand when spoken aloud

Guidelines:
- Keep responses brief, aiming for 1-3 sentences when possible
- Do not use markdown, bullet points, or other formatting; it is not rendered in voice
- Do not say "I'm an AI" unless specifically asked
- If you don't understand something, ask for clarification
- Use natural speech patterns and contractions
- When responding in Chinese, always use Traditional Chinese (zh-TW), never Simplified Chinese
`

// Defaults applied by DefaultOptions.
const (
	DefaultModel              = openairealtime.ModelGPTRealtimeMini20251006
	DefaultTranscriptionModel = openairealtime.ModelGPT4oMiniTranscribe
	DefaultVoice              = openairealtime.VoiceFable
	DefaultTemperature        = 0.8
	DefaultSampleRate         = 24000
)

// UpstreamFormat is the pcm16 format the Realtime API sends and expects.
const UpstreamFormat = pcm.L16Mono24K

// Options configures the upstream session of a call.
type Options struct {
	// Model is the Realtime model to connect to.
	Model string `json:"model" yaml:"model"`

	// Instructions is the system prompt. Surrounding whitespace is trimmed
	// before it is sent.
	Instructions string `json:"instructions" yaml:"instructions"`

	// Voice is the output voice.
	Voice string `json:"voice" yaml:"voice"`

	// Temperature is the sampling temperature, in [0, 2].
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// MaxResponseTokens caps the length of each response. Nil means no cap.
	MaxResponseTokens *int `json:"max_response_tokens,omitempty" yaml:"max_response_tokens,omitempty"`

	// TranscriptionModel transcribes the user's speech.
	TranscriptionModel string `json:"transcription_model" yaml:"transcription_model"`

	// SampleRate is the PCM rate of both the inbound and outbound audio.
	// Audio is resampled to and from UpstreamFormat at the upstream edge.
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Model:              DefaultModel,
		Instructions:       DefaultInstructions,
		Voice:              DefaultVoice,
		Temperature:        DefaultTemperature,
		TranscriptionModel: DefaultTranscriptionModel,
		SampleRate:         DefaultSampleRate,
	}
}

// Validate reports the first invalid field as a *ConfigurationError.
func (o Options) Validate() error {
	switch {
	case strings.TrimSpace(o.Model) == "":
		return &ConfigurationError{Field: "model", Reason: "must not be empty"}
	case strings.TrimSpace(o.Voice) == "":
		return &ConfigurationError{Field: "voice", Reason: "must not be empty"}
	case strings.TrimSpace(o.TranscriptionModel) == "":
		return &ConfigurationError{Field: "transcription_model", Reason: "must not be empty"}
	case o.Temperature < 0 || o.Temperature > 2:
		return &ConfigurationError{Field: "temperature", Reason: "must be within [0, 2]"}
	case o.MaxResponseTokens != nil && *o.MaxResponseTokens <= 0:
		return &ConfigurationError{Field: "max_response_tokens", Reason: "must be positive"}
	}
	_, err := o.Format()
	return err
}

// Format returns the PCM format of the call audio.
func (o Options) Format() (pcm.Format, error) {
	f, ok := pcm.FormatOf(o.SampleRate)
	if !ok {
		return 0, &ConfigurationError{Field: "sample_rate", Reason: "unsupported rate"}
	}
	return f, nil
}

// SessionConfig builds the session.update payload.
func (o Options) SessionConfig() *openairealtime.SessionConfig {
	temp := o.Temperature
	cfg := &openairealtime.SessionConfig{
		Instructions:      strings.TrimSpace(o.Instructions),
		Voice:             o.Voice,
		Temperature:       &temp,
		TurnDetection:     &openairealtime.TurnDetection{Type: openairealtime.VADServerVAD},
		InputAudioFormat:  openairealtime.AudioFormatPCM16,
		OutputAudioFormat: openairealtime.AudioFormatPCM16,
		InputAudioTranscription: &openairealtime.TranscriptionConfig{
			Model: o.TranscriptionModel,
		},
	}
	if o.MaxResponseTokens != nil {
		n := *o.MaxResponseTokens
		cfg.MaxResponseOutputTokens = &n
	}
	return cfg
}
