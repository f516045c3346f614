package audio

import "math"

// Butterworth Q factors for the two second-order sections of a 4th-order
// Butterworth response.
var butterworth4Q = [2]float64{0.54119610, 1.30656296}

// Biquad is a second-order IIR section in transposed direct form II.
// The zero value passes nothing; build one with the constructors below.
type Biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

// NewLowPass returns an RBJ cookbook low-pass section.
func NewLowPass(sampleRate int, cutoff, q float64) *Biquad {
	w0 := 2 * math.Pi * cutoff / float64(sampleRate)
	cos, alpha := math.Cos(w0), math.Sin(w0)/(2*q)
	a0 := 1 + alpha
	return &Biquad{
		b0: (1 - cos) / 2 / a0,
		b1: (1 - cos) / a0,
		b2: (1 - cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

// NewHighPass returns an RBJ cookbook high-pass section.
func NewHighPass(sampleRate int, cutoff, q float64) *Biquad {
	w0 := 2 * math.Pi * cutoff / float64(sampleRate)
	cos, alpha := math.Cos(w0), math.Sin(w0)/(2*q)
	a0 := 1 + alpha
	return &Biquad{
		b0: (1 + cos) / 2 / a0,
		b1: -(1 + cos) / a0,
		b2: (1 + cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

// Step filters a single sample.
func (b *Biquad) Step(x float64) float64 {
	y := b.b0*x + b.z1
	b.z1 = b.b1*x - b.a1*y + b.z2
	b.z2 = b.b2*x - b.a2*y
	return y
}

// Reset clears the filter state.
func (b *Biquad) Reset() { b.z1, b.z2 = 0, 0 }

// BandPass is a causal 4th-order Butterworth band-pass built from a
// high-pass and a low-pass cascade. It keeps state between calls, so a
// stream can be filtered frame by frame without edge transients at frame
// boundaries. Not safe for concurrent use.
type BandPass struct {
	sections []*Biquad
}

// NewBandPass builds a band-pass for [low, high] Hz. An edge that is
// non-positive (low) or at or above Nyquist (high) is omitted, so the filter
// degrades to a plain high-pass or low-pass.
func NewBandPass(sampleRate int, low, high float64) *BandPass {
	bp := &BandPass{}
	nyquist := float64(sampleRate) / 2
	if low > 0 && low < nyquist {
		for _, q := range butterworth4Q {
			bp.sections = append(bp.sections, NewHighPass(sampleRate, low, q))
		}
	}
	if high > 0 && high < nyquist {
		for _, q := range butterworth4Q {
			bp.sections = append(bp.sections, NewLowPass(sampleRate, high, q))
		}
	}
	return bp
}

// Step filters a single sample through every section.
func (bp *BandPass) Step(x float64) float64 {
	for _, s := range bp.sections {
		x = s.Step(x)
	}
	return x
}

// Apply filters samples in place and returns them.
func (bp *BandPass) Apply(samples []float64) []float64 {
	for i, x := range samples {
		samples[i] = bp.Step(x)
	}
	return samples
}

// ApplyPCM filters a PCM16 frame and returns a new, clipped PCM16 frame.
func (bp *BandPass) ApplyPCM(pcm []byte) []byte {
	in := Samples(pcm)
	out := make([]int16, len(in))
	for i, s := range in {
		out[i] = clip(bp.Step(float64(s)))
	}
	return Bytes(out)
}

// Reset clears the state of every section.
func (bp *BandPass) Reset() {
	for _, s := range bp.sections {
		s.Reset()
	}
}
