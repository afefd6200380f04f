package rtc

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/pion/rtp"

	"github.com/haivivi/voicerelay/pkg/audio/codec/opus"
	"github.com/haivivi/voicerelay/pkg/audio/pcm"
	"github.com/haivivi/voicerelay/pkg/relay"
)

const (
	// frameDuration is the length of each outbound Opus packet.
	frameDuration = 20 * time.Millisecond

	// opusClockRate is the RTP clock of Opus, independent of the coded rate.
	opusClockRate = 48000

	// opusPayloadType is the dynamic payload type pion assigns to Opus.
	opusPayloadType = 111
)

// packetizer turns mono PCM at a fixed rate into 20ms Opus RTP packets.
// Samples that do not fill a whole frame are kept for the next call.
type packetizer struct {
	enc       *opus.Encoder
	frameSize int
	pending   []int16

	ssrc uint32
	seq  uint16
	ts   uint32
}

func newPacketizer(format pcm.Format) (*packetizer, error) {
	enc, err := opus.NewEncoder(format.SampleRate(), 1)
	if err != nil {
		return nil, err
	}
	return &packetizer{
		enc:       enc,
		frameSize: int(format.SamplesInDuration(frameDuration)),
		ssrc:      rand.Uint32(),
		seq:       uint16(rand.Uint32()),
		ts:        rand.Uint32(),
	}, nil
}

// Packetize encodes as many whole frames as samples (plus any carried-over
// remainder) allow.
func (p *packetizer) Packetize(samples []int16) ([]*rtp.Packet, error) {
	p.pending = append(p.pending, samples...)

	var pkts []*rtp.Packet
	for len(p.pending) >= p.frameSize {
		frame, err := p.enc.Encode(p.pending[:p.frameSize])
		if err != nil {
			return pkts, fmt.Errorf("rtc: encode: %w", err)
		}
		p.pending = p.pending[p.frameSize:]

		pkts = append(pkts, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    opusPayloadType,
				SequenceNumber: p.seq,
				Timestamp:      p.ts,
				SSRC:           p.ssrc,
			},
			Payload: frame,
		})
		p.seq++
		p.ts += uint32(opusClockRate * frameDuration / time.Second)
	}
	if len(p.pending) == 0 {
		p.pending = nil
	}
	return pkts, nil
}

// Reset drops carried-over samples.
func (p *packetizer) Reset() {
	p.pending = nil
}

func (p *packetizer) Close() {
	p.enc.Close()
}

// player packetizes the audio of one source. Samples carried over from
// before a barge-in are dropped so they never prefix the next answer.
type player struct {
	pk   *packetizer
	irq  relay.Interrupter
	seen int64
}

func newPlayer(pk *packetizer, src relay.Source) *player {
	irq, _ := src.(relay.Interrupter)
	return &player{pk: pk, irq: irq}
}

func (p *player) packets(chunk relay.AudioChunk) ([]*rtp.Packet, error) {
	if p.irq != nil {
		if n := p.irq.Interrupts(); n != p.seen {
			p.seen = n
			p.pk.Reset()
		}
	}
	return p.pk.Packetize(chunk.Samples)
}

// pacer spaces packet writes one frameDuration apart so the browser's
// jitter buffer is not flooded.
type pacer struct {
	next time.Time
}

// Wait blocks until the next packet slot or until done is closed.
func (p *pacer) Wait(done <-chan struct{}) bool {
	now := time.Now()
	if p.next.Before(now) {
		p.next = now
	}
	if d := p.next.Sub(now); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-done:
			return false
		}
	}
	p.next = p.next.Add(frameDuration)
	return true
}
