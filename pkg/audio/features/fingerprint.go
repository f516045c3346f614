package features

import (
	"math"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/types"
)

// MinFingerprintSamples is the shortest input Fingerprint accepts: one full
// analysis window.
const MinFingerprintSamples = nFFT

// dctBasis holds the orthonormal DCT-II rows for the first nMFCC
// coefficients over nMels inputs.
var dctBasis = func() [][]float64 {
	basis := make([][]float64, nMFCC)
	scale0 := math.Sqrt(1.0 / nMels)
	scale := math.Sqrt(2.0 / nMels)
	for k := range nMFCC {
		row := make([]float64, nMels)
		s := scale
		if k == 0 {
			s = scale0
		}
		for n := range nMels {
			row[n] = s * math.Cos(math.Pi*float64(k)*(2*float64(n)+1)/(2*nMels))
		}
		basis[k] = row
	}
	return basis
}()

// Fingerprint computes the 39-dimensional voice fingerprint of a mono PCM16
// clip. It returns false when the clip holds fewer than
// MinFingerprintSamples samples.
func Fingerprint(pcm []byte, sampleRate int) ([]float32, bool) {
	if len(pcm)/audio.BytesPerSample < MinFingerprintSamples || sampleRate <= 0 {
		return nil, false
	}

	mfcc := MFCC(audio.Float64s(pcm), sampleRate)
	d1 := delta(mfcc)
	d2 := delta(d1)

	fp := make([]float32, 0, types.FingerprintDims)
	for _, m := range [][][]float64{mfcc, d1, d2} {
		for _, v := range timeMean(m) {
			fp = append(fp, float32(v))
		}
	}
	return fp, true
}

// MFCC returns the first 13 mel-frequency cepstral coefficients per frame,
// as frames x 13.
func MFCC(y []float64, sampleRate int) [][]float64 {
	logMel := logMelSpectrogram(y, sampleRate)
	out := make([][]float64, len(logMel))
	for t, mel := range logMel {
		row := make([]float64, nMFCC)
		for k, basis := range dctBasis {
			var acc float64
			for n, v := range mel {
				acc += basis[n] * v
			}
			row[k] = acc
		}
		out[t] = row
	}
	return out
}

// delta computes the regression-based time derivative of frames x coeffs
// over a deltaWin-frame window, replicating the edge frames.
func delta(x [][]float64) [][]float64 {
	if len(x) == 0 {
		return nil
	}
	n := deltaWin / 2
	var denom float64
	for i := 1; i <= n; i++ {
		denom += float64(i * i)
	}
	denom *= 2

	at := func(t int) []float64 {
		t = max(0, min(t, len(x)-1))
		return x[t]
	}

	out := make([][]float64, len(x))
	for t := range x {
		row := make([]float64, len(x[t]))
		for i := 1; i <= n; i++ {
			next, prev := at(t+i), at(t-i)
			for c := range row {
				row[c] += float64(i) * (next[c] - prev[c])
			}
		}
		for c := range row {
			row[c] /= denom
		}
		out[t] = row
	}
	return out
}

// timeMean averages frames x coeffs over the time axis.
func timeMean(x [][]float64) []float64 {
	if len(x) == 0 {
		return make([]float64, nMFCC)
	}
	out := make([]float64, len(x[0]))
	for _, row := range x {
		for c, v := range row {
			out[c] += v
		}
	}
	for c := range out {
		out[c] /= float64(len(x))
	}
	return out
}

// Average returns the element-wise mean of equally sized fingerprints.
// Vectors of a different length than the first one are skipped.
func Average(fps ...[]float32) []float32 {
	if len(fps) == 0 {
		return nil
	}
	dims := len(fps[0])
	sum := make([]float64, dims)
	var n int
	for _, fp := range fps {
		if len(fp) != dims {
			continue
		}
		for i, v := range fp {
			sum[i] += float64(v)
		}
		n++
	}
	out := make([]float32, dims)
	for i, v := range sum {
		out[i] = float32(v / float64(n))
	}
	return out
}
