// Package opus wraps libopus for encoding and decoding the voice streams a
// browser exchanges over WebRTC.
package opus

// Frame is one encoded Opus packet.
type Frame []byte
