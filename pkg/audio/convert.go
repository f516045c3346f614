package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Converter turns client PCM16 chunks in an arbitrary source format into
// mono PCM16 at the target rate. Chunks need not be aligned to sample
// frames: partial frames are held back and prefixed to the next chunk.
//
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	Source Format
	Target int // target sample rate, mono

	pending        []byte
	rs             *resampler
	warnedMismatch sync.Once
}

// NewConverter returns a Converter from src to mono at targetRate.
func NewConverter(src Format, targetRate int) *Converter {
	if src.Channels <= 0 {
		src.Channels = 1
	}
	c := &Converter{Source: src, Target: targetRate}
	if src.SampleRate > 0 && targetRate > 0 && src.SampleRate != targetRate {
		c.rs = &resampler{src: int64(src.SampleRate), dst: int64(targetRate)}
	}
	return c
}

// Passthrough reports whether the source already matches the target.
func (c *Converter) Passthrough() bool {
	return c.Source.Channels == 1 && c.Source.SampleRate == c.Target
}

// Convert converts one chunk. In passthrough mode the chunk is returned
// unchanged, odd bytes included; the segmenter carries those itself.
func (c *Converter) Convert(chunk []byte) []byte {
	if c.Passthrough() {
		return chunk
	}
	c.warnedMismatch.Do(func() {
		slog.Warn("audio: converting client input",
			"from", c.Source.String(),
			"to", Format{SampleRate: c.Target, Channels: 1}.String(),
		)
	})

	frame := c.Source.Channels * BytesPerSample
	buf := append(c.pending, chunk...)
	usable := len(buf) - len(buf)%frame
	c.pending = append([]byte(nil), buf[usable:]...)
	pcm := buf[:usable]

	if c.Source.Channels > 1 {
		pcm = DownmixToMono(pcm, c.Source.Channels)
	}
	if c.rs == nil {
		return pcm
	}
	return Bytes(c.rs.push(Samples(pcm)))
}

// resampler converts a mono stream by linear interpolation. Output sample n
// sits at source position n*src/dst, counted from the start of the stream,
// so chunk boundaries neither drop samples nor reset the phase.
type resampler struct {
	src, dst int64
	next     int64 // index of the next output sample
	seen     int64 // source samples consumed
	last     int16 // source sample seen-1
}

func (r *resampler) push(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	end := r.seen + int64(len(in))
	at := func(k int64) int16 {
		if k < r.seen {
			return r.last
		}
		return in[k-r.seen]
	}

	out := make([]int16, 0, int64(len(in))*r.dst/r.src+1)
	for {
		num := r.next * r.src
		idx, rem := num/r.dst, num%r.dst
		// Interpolating needs the sample after idx, unless the position
		// falls exactly on idx.
		if idx >= end || (idx == end-1 && rem != 0) {
			break
		}
		v := float64(at(idx))
		if rem != 0 {
			frac := float64(rem) / float64(r.dst)
			v = v*(1-frac) + float64(at(idx+1))*frac
		}
		out = append(out, int16(v))
		r.next++
	}
	r.seen = end
	r.last = in[len(in)-1]
	return out
}

// DownmixToMono averages all channels of interleaved PCM16 per frame.
// Arithmetic is done in int32 and clamped to the int16 range.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	in := Samples(pcm)
	frames := len(in) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(in[i*channels+ch])
		}
		out[i] = clip(float64(sum / int32(channels)))
	}
	return Bytes(out)
}

// ResampleMono16 resamples one complete mono PCM16 clip from srcRate to
// dstRate using linear interpolation. Equal rates or invalid rates return the
// input unchanged. Streams go through a [Converter], which keeps the
// interpolation phase across chunks.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	in := Samples(pcm)
	dstSamples := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]int16, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := in[idx]
		s1 := s0
		if idx+1 < len(in) {
			s1 = in[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return Bytes(out)
}
