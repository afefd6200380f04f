package resampler

import (
	"errors"
	"fmt"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/haivivi/voicerelay/pkg/audio/pcm"
)

// ErrRateMismatch is returned when a frame does not carry the source rate.
var ErrRateMismatch = errors.New("resampler: frame sample rate does not match source format")

// Resampler converts a stream of mono PCM16 audio from one format to
// another. It is safe for concurrent use, but interleaving two streams
// through one Resampler mixes their filter state.
type Resampler struct {
	src pcm.Format
	dst pcm.Format

	mu sync.Mutex
	rs resampling.Resampler // nil when src and dst share a rate
}

// New returns a Resampler from src to dst. When both formats share a rate
// the Resampler passes samples through unchanged.
func New(src, dst pcm.Format) (*Resampler, error) {
	r := &Resampler{src: src, dst: dst}
	if src.SampleRate() == dst.SampleRate() {
		return r, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(src.SampleRate()),
		OutputRate: float64(dst.SampleRate()),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resampler: %s to %s: %w", src, dst, err)
	}
	r.rs = rs
	return r, nil
}

// Process converts samples at the source rate and returns the samples the
// filter has produced so far at the destination rate. The output may be
// empty while the filter fills.
func (r *Resampler) Process(samples []int16) ([]int16, error) {
	if r.rs == nil {
		return samples, nil
	}
	if len(samples) == 0 {
		return nil, nil
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s) / 32768.0
	}

	r.mu.Lock()
	output, err := r.rs.Process(input)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("resampler: process: %w", err)
	}

	out := make([]int16, len(output))
	for i, s := range output {
		switch {
		case s > 1.0:
			out[i] = 32767
		case s < -1.0:
			out[i] = -32768
		default:
			out[i] = int16(s * 32767.0)
		}
	}
	return out, nil
}

// Frame converts one frame. The frame must carry the source rate; the
// returned frame carries the destination rate.
func (r *Resampler) Frame(f pcm.Frame) (pcm.Frame, error) {
	if f.SampleRate != r.src.SampleRate() {
		return pcm.Frame{}, fmt.Errorf("%w: got %d, want %d", ErrRateMismatch, f.SampleRate, r.src.SampleRate())
	}
	out, err := r.Process(f.Samples)
	if err != nil {
		return pcm.Frame{}, err
	}
	return r.dst.Frame(out), nil
}
