// Package pcm provides types and utilities for 16-bit mono PCM audio.
//
// Key types:
//   - Format: a sample-rate configuration (L16Mono16K, L16Mono24K, L16Mono48K)
//   - Frame: a block of int16 samples tagged with its sample rate
//
// Realtime voice APIs move audio as little-endian PCM16; EncodeL16 and
// DecodeL16 convert between that wire form and samples:
//
//	frame := pcm.L16Mono24K.Frame(samples)
//	wire := pcm.EncodeL16(frame.Samples)
//
//	samples, err := pcm.DecodeL16(wire)
package pcm
