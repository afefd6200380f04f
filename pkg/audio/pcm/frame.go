package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOddLength is returned when a PCM16 byte stream does not hold a whole
// number of samples.
var ErrOddLength = errors.New("pcm: odd byte count for 16-bit samples")

// Frame is a block of single-channel signed 16-bit samples at a fixed rate.
type Frame struct {
	SampleRate int
	Samples    []int16
}

// Len returns the number of samples in the frame.
func (f Frame) Len() int {
	return len(f.Samples)
}

// EncodeL16 serializes samples as little-endian PCM16.
func EncodeL16(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// DecodeL16 parses little-endian PCM16 into samples.
func DecodeL16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out, nil
}

// Downmix flattens interleaved samples with the given channel count into a
// single channel by averaging each sample group. Mono input (channels <= 1)
// is returned as is. A trailing partial group is dropped.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(samples[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}
