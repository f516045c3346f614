// Package audio contains the signal-level helpers shared by the segmenter,
// the feature extractor and the transcription backends: PCM16 conversions,
// WAV encoding, format conversion of client input, and the band-pass and
// normalization preprocessor.
//
// All PCM handled here is signed 16-bit little-endian. Functions never panic
// on malformed input; a trailing odd byte is ignored unless documented
// otherwise.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// BytesPerSample is the width of one PCM16 sample.
	BytesPerSample = 2

	// maxSample is the largest positive int16 value, used as the full-scale
	// reference for normalization and clipping.
	maxSample = 32767
)

// Samples decodes PCM16 bytes into int16 samples.
func Samples(pcm []byte) []int16 {
	n := len(pcm) / BytesPerSample
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Bytes encodes int16 samples as PCM16 bytes.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Float64s decodes PCM16 bytes into float64 samples normalised to [-1, 1).
func Float64s(pcm []byte) []float64 {
	n := len(pcm) / BytesPerSample
	out := make([]float64, n)
	for i := range n {
		out[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// Float32s decodes PCM16 bytes into float32 samples normalised to [-1, 1).
// This is the layout whisper.cpp expects.
func Float32s(pcm []byte) []float32 {
	n := len(pcm) / BytesPerSample
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// RMS returns the root-mean-square amplitude of a PCM16 buffer in sample
// units (0 to 32767). It returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Duration returns the playback length of a mono PCM16 buffer.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// ByteOffset converts a position in seconds to a sample-aligned byte offset
// into a mono PCM16 buffer, clamped to [0, size].
func ByteOffset(seconds float64, sampleRate, size int) int {
	if seconds <= 0 {
		return 0
	}
	off := int(seconds*float64(sampleRate)) * BytesPerSample
	if off > size {
		off = size - size%BytesPerSample
	}
	return off
}

// clip rounds v and saturates it to the int16 range.
func clip(v float64) int16 {
	v = math.Round(v)
	switch {
	case v > maxSample:
		return maxSample
	case v < -maxSample-1:
		return -maxSample - 1
	}
	return int16(v)
}
