// Package opus decodes Opus packets into PCM16 so that clients may stream
// compressed audio instead of raw samples.
package opus

import (
	"fmt"
	"slices"

	"layeh.com/gopus"

	"github.com/MrWong99/earshot/pkg/audio"
)

// maxPacketMs is the longest frame duration an Opus packet can carry.
const maxPacketMs = 120

// SampleRates lists the rates libopus can decode to.
var SampleRates = []int{8000, 12000, 16000, 24000, 48000}

// SupportedRate reports whether rate is one of [SampleRates].
func SupportedRate(rate int) bool {
	return slices.Contains(SampleRates, rate)
}

// Decoder turns consecutive Opus packets of one stream into interleaved
// PCM16. Decoder state carries across packets, so use one per stream.
type Decoder struct {
	dec       *gopus.Decoder
	frameSize int
}

// NewDecoder creates a decoder producing PCM in format f. Only mono and
// stereo output at one of [SampleRates] is supported.
func NewDecoder(f audio.Format) (*Decoder, error) {
	if !SupportedRate(f.SampleRate) {
		return nil, fmt.Errorf("opus: unsupported sample rate %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return nil, fmt.Errorf("opus: unsupported channel count %d", f.Channels)
	}
	dec, err := gopus.NewDecoder(f.SampleRate, f.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, frameSize: f.SampleRate * maxPacketMs / 1000}, nil
}

// Decode decodes one packet into little-endian PCM16 bytes.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return audio.Bytes(pcm), nil
}
