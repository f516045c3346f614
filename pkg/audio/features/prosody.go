package features

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/types"
)

// Pitch search range in Hz. Covers adult and child speech.
const (
	minPitchHz = 60.0
	maxPitchHz = 500.0

	// voicingThreshold is the normalised autocorrelation a frame must reach
	// at its best lag to count as voiced.
	voicingThreshold = 0.5

	pitchFrame = 1024
)

// Analyze measures pitch, energy, duration and speech rate of a mono PCM16
// clip. Clips too short for a measurement leave that field zero.
func Analyze(pcm []byte, sampleRate int) types.Features {
	y := audio.Float64s(pcm)
	if len(y) == 0 || sampleRate <= 0 {
		return types.Features{}
	}
	duration := float64(len(y)) / float64(sampleRate)
	f := types.Features{
		Energy:   audio.RMS(pcm) / 32768.0,
		Duration: duration,
		Pitch:    Pitch(y, sampleRate),
	}
	if len(y) >= MinFingerprintSamples {
		f.SpeechRate = float64(countOnsets(onsetStrength(y, sampleRate))) / duration
	}
	return f
}

// Pitch estimates the median fundamental frequency over voiced frames using
// normalised autocorrelation. It returns 0 when no frame is voiced.
func Pitch(y []float64, sampleRate int) float64 {
	minLag := int(float64(sampleRate) / maxPitchHz)
	maxLag := int(float64(sampleRate) / minPitchHz)
	if maxLag >= pitchFrame {
		maxLag = pitchFrame - 1
	}

	var voiced []float64
	for off := 0; off+pitchFrame <= len(y); off += pitchFrame / 2 {
		frame := y[off : off+pitchFrame]
		var energy float64
		for _, v := range frame {
			energy += v * v
		}
		if energy == 0 {
			continue
		}
		corr := make([]float64, maxLag+2)
		var best float64
		for lag := minLag; lag <= maxLag+1 && lag < pitchFrame; lag++ {
			var acc, e1, e2 float64
			for i := 0; i+lag < len(frame); i++ {
				acc += frame[i] * frame[i+lag]
				e1 += frame[i] * frame[i]
				e2 += frame[i+lag] * frame[i+lag]
			}
			if e1 == 0 || e2 == 0 {
				continue
			}
			corr[lag] = acc / math.Sqrt(e1*e2)
			if lag <= maxLag && corr[lag] > best {
				best = corr[lag]
			}
		}
		// Take the shortest lag that peaks close to the best one; longer
		// lags at multiples of the period would halve the estimate.
		bestLag, bestCorr := 0, 0.0
		for lag := minLag + 1; lag <= maxLag; lag++ {
			c := corr[lag]
			if c >= 0.95*best && c >= corr[lag-1] && c >= corr[lag+1] {
				bestLag, bestCorr = lag, c
				break
			}
		}
		if bestLag > 0 && bestCorr >= voicingThreshold {
			voiced = append(voiced, float64(sampleRate)/float64(bestLag))
		}
	}
	if len(voiced) == 0 {
		return 0
	}
	return median(voiced)
}

// onsetStrength returns the positive spectral flux of the log-mel
// spectrogram per frame.
func onsetStrength(y []float64, sampleRate int) []float64 {
	mel := logMelSpectrogram(y, sampleRate)
	if len(mel) < 2 {
		return nil
	}
	out := make([]float64, len(mel))
	for t := 1; t < len(mel); t++ {
		var flux float64
		for m := range mel[t] {
			if d := mel[t][m] - mel[t-1][m]; d > 0 {
				flux += d
			}
		}
		out[t] = flux / nMels
	}
	return out
}

// countOnsets counts local maxima of the onset envelope that stand more than
// half a standard deviation above its mean.
func countOnsets(env []float64) int {
	if len(env) < 3 {
		return 0
	}
	mean, std := stat.MeanStdDev(env, nil)
	threshold := mean + 0.5*std

	var n int
	for t := 1; t < len(env)-1; t++ {
		if env[t] > threshold && env[t] > env[t-1] && env[t] >= env[t+1] {
			n++
		}
	}
	return n
}

func median(x []float64) float64 {
	sorted := slices.Clone(x)
	slices.Sort(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
