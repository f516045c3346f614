// Package features extracts fixed-size voice fingerprints and paralinguistic
// measurements from PCM16 audio.
//
// The fingerprint is the time-average of 13 MFCCs and their first and second
// order deltas, giving a 39-dimensional vector. Spectral analysis uses a
// centred short-time Fourier transform (2048-point Hann window, hop 512) and
// a 128-band Slaney mel filterbank, matching the de-facto defaults of common
// speech toolkits so that fingerprints stay comparable across deployments.
package features

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	nFFT     = 2048
	hop      = 512
	nMels    = 128
	nMFCC    = 13
	deltaWin = 9
	topDB    = 80.0
	amin     = 1e-10
)

// hann returns a periodic Hann window of length n.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

var window = hann(nFFT)

// powerSpectrogram returns |STFT|^2 as frames x (nFFT/2+1). The signal is
// zero-padded by nFFT/2 on both sides so frame t is centred on sample t*hop.
func powerSpectrogram(y []float64) [][]float64 {
	pad := nFFT / 2
	padded := make([]float64, len(y)+2*pad)
	copy(padded[pad:], y)

	frames := 1 + (len(padded)-nFFT)/hop
	fft := fourier.NewFFT(nFFT)
	buf := make([]float64, nFFT)
	coeffs := make([]complex128, nFFT/2+1)

	spec := make([][]float64, frames)
	for t := range frames {
		off := t * hop
		for i := range nFFT {
			buf[i] = padded[off+i] * window[i]
		}
		coeffs = fft.Coefficients(coeffs, buf)
		row := make([]float64, len(coeffs))
		for k, c := range coeffs {
			re, im := real(c), imag(c)
			row[k] = re*re + im*im
		}
		spec[t] = row
	}
	return spec
}

// ── Mel filterbank ───────────────────────────────────────────────────────────

const (
	melFSp      = 200.0 / 3
	melMinLogHz = 1000.0
	melMinLog   = melMinLogHz / melFSp
)

var melLogStep = math.Log(6.4) / 27.0

func hzToMel(f float64) float64 {
	if f < melMinLogHz {
		return f / melFSp
	}
	return melMinLog + math.Log(f/melMinLogHz)/melLogStep
}

func melToHz(m float64) float64 {
	if m < melMinLog {
		return m * melFSp
	}
	return melMinLogHz * math.Exp(melLogStep*(m-melMinLog))
}

var filterbanks sync.Map // sampleRate -> [][]float64

// melFilterbank returns nMels Slaney-normalised triangular filters over the
// nFFT/2+1 FFT bins, spanning 0 Hz to Nyquist.
func melFilterbank(sampleRate int) [][]float64 {
	if fb, ok := filterbanks.Load(sampleRate); ok {
		return fb.([][]float64)
	}

	bins := nFFT/2 + 1
	fftFreqs := make([]float64, bins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sampleRate) / nFFT
	}

	maxMel := hzToMel(float64(sampleRate) / 2)
	melF := make([]float64, nMels+2)
	for i := range melF {
		melF[i] = melToHz(maxMel * float64(i) / float64(nMels+1))
	}

	fb := make([][]float64, nMels)
	for i := range nMels {
		row := make([]float64, bins)
		lowW := melF[i+1] - melF[i]
		highW := melF[i+2] - melF[i+1]
		enorm := 2.0 / (melF[i+2] - melF[i])
		for k, f := range fftFreqs {
			lower := (f - melF[i]) / lowW
			upper := (melF[i+2] - f) / highW
			if w := math.Min(lower, upper); w > 0 {
				row[k] = w * enorm
			}
		}
		fb[i] = row
	}
	actual, _ := filterbanks.LoadOrStore(sampleRate, fb)
	return actual.([][]float64)
}

// logMelSpectrogram returns the mel power spectrogram in dB, clamped to
// topDB below its maximum, as frames x nMels.
func logMelSpectrogram(y []float64, sampleRate int) [][]float64 {
	spec := powerSpectrogram(y)
	fb := melFilterbank(sampleRate)

	out := make([][]float64, len(spec))
	maxDB := math.Inf(-1)
	for t, row := range spec {
		mel := make([]float64, nMels)
		for m, filt := range fb {
			var e float64
			for k, w := range filt {
				if w != 0 {
					e += w * row[k]
				}
			}
			db := 10 * math.Log10(math.Max(e, amin))
			mel[m] = db
			if db > maxDB {
				maxDB = db
			}
		}
		out[t] = mel
	}
	floor := maxDB - topDB
	for _, mel := range out {
		for m, v := range mel {
			if v < floor {
				mel[m] = floor
			}
		}
	}
	return out
}
