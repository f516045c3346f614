package segmenter_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/segmenter"
	"github.com/MrWong99/earshot/internal/session"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
	"github.com/MrWong99/earshot/pkg/provider/vad/mock"
)

const frameBytes = 960

// loudFrame returns a frame the threshold classifier treats as speech.
func loudFrame() []byte {
	s := make([]int16, frameBytes/2)
	for i := range s {
		s[i] = int16(8000 * math.Sin(2*math.Pi*300*float64(i)/16000))
	}
	return audio.Bytes(s)
}

func silentFrame() []byte { return make([]byte, frameBytes) }

func frames(f func() []byte, n int) []byte {
	var out []byte
	for range n {
		out = append(out, f()...)
	}
	return out
}

// thresholdEngine classifies frames by energy through the mock, so tests can
// also count classifier calls.
func thresholdEngine() (*mock.Engine, *mock.Session) {
	eng := mock.Loud(100)
	return eng, eng.Session.(*mock.Session)
}

func newState(id string) *session.State {
	return session.NewRegistry().GetOrCreate(id)
}

func TestProcess_CarriesRemainder(t *testing.T) {
	t.Parallel()

	eng, cls := thresholdEngine()
	seg := segmenter.New(eng, segmenter.Config{})
	st := newState("s1")

	if _, err := seg.Process(st, make([]byte, 1000)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if cls.FrameCount() != 1 {
		t.Errorf("frames classified = %d, want 1", cls.FrameCount())
	}
	if len(st.Raw) != 40 {
		t.Errorf("remainder = %d bytes, want 40", len(st.Raw))
	}

	if _, err := seg.Process(st, make([]byte, 920)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if cls.FrameCount() != 2 {
		t.Errorf("frames classified = %d, want 2", cls.FrameCount())
	}
	if len(st.Raw) != 0 {
		t.Errorf("remainder = %d bytes, want 0", len(st.Raw))
	}
}

func TestProcess_OddChunksAccumulate(t *testing.T) {
	t.Parallel()

	eng, cls := thresholdEngine()
	seg := segmenter.New(eng, segmenter.Config{})
	st := newState("s1")

	for range 3 {
		if _, err := seg.Process(st, make([]byte, 321)); err != nil {
			t.Fatal(err)
		}
	}
	if cls.FrameCount() != 1 || len(st.Raw) != 3 {
		t.Errorf("classified %d frames with %d bytes left, want 1 and 3", cls.FrameCount(), len(st.Raw))
	}
}

func TestProcess_HangoverCompletesOnTwentyFirstSilentFrame(t *testing.T) {
	t.Parallel()

	eng, _ := thresholdEngine()
	seg := segmenter.New(eng, segmenter.Config{})
	st := newState("s1")

	out, _ := seg.Process(st, frames(loudFrame, 40))
	if len(out) != 0 {
		t.Fatalf("segment emitted during speech")
	}
	out, _ = seg.Process(st, frames(silentFrame, 20))
	if len(out) != 0 {
		t.Fatalf("segment emitted after only 20 silent frames")
	}
	if !st.Speaking {
		t.Fatal("state left SPEAKING before hangover elapsed")
	}

	out, _ = seg.Process(st, silentFrame())
	if len(out) != 1 {
		t.Fatalf("segments = %d, want 1", len(out))
	}
	c := out[0]
	if c.Voiced != 1200*time.Millisecond {
		t.Errorf("Voiced = %v, want 1.2s (speech frames only)", c.Voiced)
	}
	if len(c.Audio) != 61*frameBytes {
		t.Errorf("Audio = %d bytes, want %d (speech plus trailing silence)", len(c.Audio), 61*frameBytes)
	}
	if c.SessionID != "s1" || c.Seq != 1 {
		t.Errorf("SessionID/Seq = %q/%d, want s1/1", c.SessionID, c.Seq)
	}
	if st.Speaking || len(st.Speech) != 0 || st.SilenceFrames != 0 {
		t.Error("state not reset to IDLE after completion")
	}
}

func TestProcess_DiscardsBelowFloor(t *testing.T) {
	t.Parallel()

	eng, _ := thresholdEngine()
	seg := segmenter.New(eng, segmenter.Config{})
	st := newState("s1")

	// 16 frames = 480 ms of speech; the long silence tail does not count.
	chunk := append(frames(loudFrame, 16), frames(silentFrame, 40)...)
	out, err := seg.Process(st, chunk)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("emitted %d segments below the floor", len(out))
	}
	if st.Speaking {
		t.Error("state not reset after discard")
	}
}

func TestProcess_DrainsAllSegmentsInChunk(t *testing.T) {
	t.Parallel()

	eng, _ := thresholdEngine()
	seg := segmenter.New(eng, segmenter.Config{})
	st := newState("s1")

	var chunk []byte
	for range 2 {
		chunk = append(chunk, frames(loudFrame, 20)...)
		chunk = append(chunk, frames(silentFrame, 21)...)
	}
	out, _ := seg.Process(st, chunk)
	if len(out) != 2 {
		t.Fatalf("segments = %d, want 2", len(out))
	}
	if out[0].Seq != 1 || out[1].Seq != 2 {
		t.Errorf("seqs = %d,%d, want 1,2", out[0].Seq, out[1].Seq)
	}
}

func TestProcess_IdleSilenceDropped(t *testing.T) {
	t.Parallel()

	eng, _ := thresholdEngine()
	seg := segmenter.New(eng, segmenter.Config{})
	st := newState("s1")

	if _, err := seg.Process(st, frames(silentFrame, 50)); err != nil {
		t.Fatal(err)
	}
	if len(st.Speech) != 0 || st.Speaking {
		t.Error("idle silence was buffered")
	}
}

func TestProcess_UnclassifiableFrameCountsAsSilence(t *testing.T) {
	t.Parallel()

	// failing reports whether the classifier errors on the n-th frame (1-based).
	tests := []struct {
		name         string
		frames       int
		failing      func(n int) bool
		wantSegments int
		wantSpeech   int // bytes buffered afterwards
		wantSilence  int
		wantSpeaking bool
	}{
		{
			name:         "inside speech",
			frames:       3,
			failing:      func(n int) bool { return n == 2 },
			wantSpeech:   3 * frameBytes,
			wantSpeaking: true,
		},
		{
			name:         "trailing speech",
			frames:       3,
			failing:      func(n int) bool { return n == 3 },
			wantSpeech:   3 * frameBytes,
			wantSilence:  1,
			wantSpeaking: true,
		},
		{
			name:    "while idle",
			frames:  2,
			failing: func(n int) bool { return true },
		},
		{
			name:         "closes utterance after hangover",
			frames:       20 + 21,
			failing:      func(n int) bool { return n > 20 },
			wantSegments: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			cls := &mock.Session{ClassifyFunc: func(frame []byte) (vad.VADEvent, error) {
				calls++
				if tt.failing(calls) {
					return vad.Silence, errors.New("corrupt")
				}
				return vad.SpeechEvent, nil
			}}
			seg := segmenter.New(&mock.Engine{Session: cls}, segmenter.Config{})
			st := newState("s1")

			out, err := seg.Process(st, frames(loudFrame, tt.frames))
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if len(out) != tt.wantSegments {
				t.Errorf("segments = %d, want %d", len(out), tt.wantSegments)
			}
			if len(st.Speech) != tt.wantSpeech {
				t.Errorf("speech buffer = %d bytes, want %d", len(st.Speech), tt.wantSpeech)
			}
			if st.SilenceFrames != tt.wantSilence {
				t.Errorf("SilenceFrames = %d, want %d", st.SilenceFrames, tt.wantSilence)
			}
			if st.Speaking != tt.wantSpeaking {
				t.Errorf("Speaking = %v, want %v", st.Speaking, tt.wantSpeaking)
			}
		})
	}
}

func TestProcess_Unavailable(t *testing.T) {
	t.Parallel()

	t.Run("nil engine", func(t *testing.T) {
		seg := segmenter.New(nil, segmenter.Config{})
		st := newState("s1")
		for range 2 {
			if _, err := seg.Process(st, silentFrame()); !errors.Is(err, segmenter.ErrUnavailable) {
				t.Fatalf("err = %v, want ErrUnavailable", err)
			}
		}
	})

	t.Run("engine refuses session", func(t *testing.T) {
		seg := segmenter.New(&mock.Engine{NewSessionErr: errors.New("no model")}, segmenter.Config{})
		if err := seg.Attach(newState("s1")); !errors.Is(err, segmenter.ErrUnavailable) {
			t.Fatalf("err = %v, want ErrUnavailable", err)
		}
	})
}

func TestAttach_PassesConfig(t *testing.T) {
	t.Parallel()

	eng, _ := thresholdEngine()
	seg := segmenter.New(eng, segmenter.Config{VADMode: 3, Prefilter: true})
	st := newState("s1")
	if err := seg.Attach(st); err != nil {
		t.Fatal(err)
	}
	if err := seg.Attach(st); err != nil {
		t.Fatal(err)
	}
	if len(eng.NewSessionCalls) != 1 {
		t.Fatalf("NewSession calls = %d, want 1", len(eng.NewSessionCalls))
	}
	got := eng.NewSessionCalls[0].Cfg
	if got.SampleRate != 16000 || got.FrameSizeMs != 30 || got.Mode != 3 {
		t.Errorf("vad config = %+v", got)
	}
	if st.Prefilter == nil {
		t.Error("prefilter not attached")
	}
}

func TestFlush(t *testing.T) {
	t.Parallel()

	eng, _ := thresholdEngine()
	seg := segmenter.New(eng, segmenter.Config{})
	st := newState("s1")

	if _, ok := seg.Flush(st); ok {
		t.Fatal("Flush of idle state emitted a segment")
	}
	_, _ = seg.Process(st, frames(loudFrame, 30))
	c, ok := seg.Flush(st)
	if !ok {
		t.Fatal("Flush did not emit the in-progress segment")
	}
	if c.Voiced != 900*time.Millisecond {
		t.Errorf("Voiced = %v, want 900ms", c.Voiced)
	}
}

func TestProcess_ToneThenSilence(t *testing.T) {
	t.Parallel()

	tone := make([]int16, 16000)
	for i := range tone {
		tone[i] = int16(10000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	chunk := append(audio.Bytes(tone), make([]byte, 32000)...)

	seg := segmenter.New(energy.New(), segmenter.Config{})
	st := newState("tone")
	out, err := seg.Process(st, chunk)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("segments = %d, want 1", len(out))
	}
	if d := out[0].Voiced.Seconds(); math.Abs(d-1.0) > 0.05 {
		t.Errorf("Voiced = %.3fs, want ~1.0s", d)
	}
}
