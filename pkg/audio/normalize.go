package audio

import "math"

// Preprocessor defaults.
const (
	DefaultLowCutHz  = 80.0
	DefaultHighCutHz = 7000.0

	// normalizeTarget is the peak level after normalization, as a fraction of
	// full scale.
	normalizeTarget = 0.9

	// maxGain bounds the amplification applied to quiet segments so that
	// near-silent noise is not blown up to full scale.
	maxGain = 5.0
)

// Normalize scales samples (in int16 units) so the absolute peak reaches
// 90% of full scale, never amplifying by more than 5x, and returns the
// result clipped to int16. A silent input is returned as zeros.
func Normalize(samples []float64) []int16 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	gain := 1.0
	if peak > 0 {
		gain = math.Min(normalizeTarget*maxSample/peak, maxGain)
	}
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clip(s * gain)
	}
	return out
}

// FilterAndNormalize band-passes a complete PCM16 segment between low and
// high Hz and peak-normalizes it. It runs over the whole segment, never per
// frame.
//
// Empty input, input with an odd byte count, and any numeric failure return
// pcm unchanged.
func FilterAndNormalize(pcm []byte, sampleRate int, low, high float64) []byte {
	if len(pcm) == 0 || len(pcm)%BytesPerSample != 0 || sampleRate <= 0 {
		return pcm
	}
	in := Samples(pcm)
	samples := make([]float64, len(in))
	for i, s := range in {
		samples[i] = float64(s)
	}
	NewBandPass(sampleRate, low, high).Apply(samples)
	for _, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return pcm
		}
	}
	return Bytes(Normalize(samples))
}
