package opus

// For go build: use pkg-config to find system libopus
// For bazel build: cdeps provides opus headers and library

/*
#cgo pkg-config: opus
#include <opus.h>
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"unsafe"
)

// maxFrameSamples is the largest Opus packet (120ms) at 48kHz.
const maxFrameSamples = 5760

// Decoder wraps a libopus decoder producing interleaved int16 PCM.
type Decoder struct {
	sampleRate int
	channels   int
	cDec       *C.OpusDecoder
	pcm        []int16
}

// NewDecoder creates a decoder that outputs audio at sampleRate (8000,
// 12000, 16000, 24000 or 48000) with the given number of channels (1 or 2).
// libopus resamples and downmixes internally, so a 48kHz stereo stream can
// be decoded straight to 24kHz mono.
func NewDecoder(sampleRate, channels int) (*Decoder, error) {
	var err C.int
	cDec := C.opus_decoder_create(C.opus_int32(sampleRate), C.int(channels), &err)
	if err != C.OPUS_OK {
		return nil, fmt.Errorf("opus: decoder create failed: %s", C.GoString(C.opus_strerror(err)))
	}
	return &Decoder{
		sampleRate: sampleRate,
		channels:   channels,
		cDec:       cDec,
		pcm:        make([]int16, maxFrameSamples*channels),
	}, nil
}

// Close releases the decoder. It is safe to call more than once.
func (d *Decoder) Close() {
	if d.cDec != nil {
		C.opus_decoder_destroy(d.cDec)
		d.cDec = nil
	}
}

// Decode decodes one Opus packet. The returned slice is freshly allocated
// and holds samples-per-channel * channels interleaved samples.
func (d *Decoder) Decode(f Frame) ([]int16, error) {
	if d.cDec == nil {
		return nil, fmt.Errorf("opus: decoder is closed")
	}
	if len(f) == 0 {
		return nil, fmt.Errorf("opus: empty frame")
	}
	n := C.opus_decode(d.cDec,
		(*C.uchar)(unsafe.Pointer(&f[0])), C.opus_int32(len(f)),
		(*C.opus_int16)(unsafe.Pointer(&d.pcm[0])), C.int(maxFrameSamples), 0)
	if n < 0 {
		return nil, fmt.Errorf("opus: decode failed: %s", C.GoString(C.opus_strerror(n)))
	}
	out := make([]int16, int(n)*d.channels)
	copy(out, d.pcm)
	return out, nil
}

// SampleRate returns the output sample rate.
func (d *Decoder) SampleRate() int {
	return d.sampleRate
}

// Channels returns the number of output channels.
func (d *Decoder) Channels() int {
	return d.channels
}
