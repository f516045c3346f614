package transcribe_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/transcribe"
	diarizemock "github.com/MrWong99/earshot/pkg/provider/diarize/mock"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
	"github.com/MrWong99/earshot/pkg/types"
)

const rate = 16000

// clip returns n seconds of PCM16 whose every sample equals the index of the
// second it falls in, so slices can be traced back to their position.
func clip(seconds int) []byte {
	pcm := make([]byte, 0, seconds*rate*2)
	for s := range seconds {
		for range rate {
			pcm = append(pcm, byte(s+1), 0)
		}
	}
	return pcm
}

// echoSTT transcribes a slice as the name of the second it starts in.
func echoSTT() *sttmock.Provider {
	names := []string{"", "one", "two", "three", "four"}
	return &sttmock.Provider{TranscribeFunc: func(pcm []byte, _ stt.Request) (stt.Result, error) {
		return stt.Result{Text: "  " + names[pcm[0]] + " "}, nil
	}}
}

func TestRun_TranscribesEachTurn(t *testing.T) {
	t.Parallel()

	d := &diarizemock.Provider{Turns: []types.Turn{
		{Start: 0, End: 1, Label: "SPEAKER_00"},
		{Start: 1, End: 1.3, Label: "SPEAKER_01"}, // too short
		{Start: 2, End: 4, Label: "SPEAKER_01"},
	}}
	s := echoSTT()
	a := transcribe.New(s, transcribe.WithDiarizer(d), transcribe.WithLanguage("de"), transcribe.WithExpectedSpeakers(2))

	got, err := a.Run(context.Background(), clip(4))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("utterances = %+v, want 2", got)
	}
	want := []struct {
		label, text string
		bytes       int
	}{
		{"SPEAKER_00", "one", rate * 2},
		{"SPEAKER_01", "three", 2 * rate * 2},
	}
	for i, w := range want {
		if got[i].Label != w.label || got[i].Text != w.text || len(got[i].Audio) != w.bytes {
			t.Errorf("utterance %d = {%q %q %d bytes}, want {%q %q %d}",
				i, got[i].Label, got[i].Text, len(got[i].Audio), w.label, w.text, w.bytes)
		}
	}
	if s.CallCount() != 2 {
		t.Errorf("stt calls = %d, want 2", s.CallCount())
	}
	if s.Calls[0].Req.Language != "de" || s.Calls[0].Req.SampleRate != rate {
		t.Errorf("request = %+v", s.Calls[0].Req)
	}
	if d.Calls[0].Opts.ExpectedSpeakers != 2 {
		t.Errorf("diarize options = %+v", d.Calls[0].Opts)
	}
}

func TestRun_SkipsFailedTurn(t *testing.T) {
	t.Parallel()

	d := &diarizemock.Provider{Turns: []types.Turn{
		{Start: 0, End: 1, Label: "A"},
		{Start: 1, End: 2, Label: "B"},
	}}
	s := &sttmock.Provider{TranscribeFunc: func(pcm []byte, _ stt.Request) (stt.Result, error) {
		if pcm[0] == 1 {
			return stt.Result{}, errors.New("backend 500")
		}
		return stt.Result{Text: "second"}, nil
	}}

	got, err := transcribe.New(s, transcribe.WithDiarizer(d)).Run(context.Background(), clip(2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 1 || got[0].Label != "B" {
		t.Fatalf("utterances = %+v, want only B", got)
	}
}

func TestRun_WholeClipFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		diarizer *diarizemock.Provider
	}{
		{name: "no turns", diarizer: &diarizemock.Provider{}},
		{name: "diarizer error", diarizer: &diarizemock.Provider{Err: errors.New("timeout")}},
		{name: "circuit open", diarizer: &diarizemock.Provider{Err: resilience.ErrCircuitOpen}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := &sttmock.Provider{Result: stt.Result{Text: "hello there"}}
			pcm := clip(2)
			got, err := transcribe.New(s, transcribe.WithDiarizer(tt.diarizer)).Run(context.Background(), pcm)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("utterances = %+v, want 1", got)
			}
			u := got[0]
			if u.Label != "" || u.Text != "hello there" || u.Start != 0 || u.End != 2 || len(u.Audio) != len(pcm) {
				t.Errorf("utterance = {%q %q %v %v %d}", u.Label, u.Text, u.Start, u.End, len(u.Audio))
			}
		})
	}
}

func TestRun_WithoutDiarizer(t *testing.T) {
	t.Parallel()

	s := &sttmock.Provider{Result: stt.Result{Text: "solo"}}
	got, err := transcribe.New(s).Run(context.Background(), clip(1))
	if err != nil || len(got) != 1 || got[0].Text != "solo" {
		t.Fatalf("Run = %+v, %v", got, err)
	}
}

func TestRun_WholeClipErrors(t *testing.T) {
	t.Parallel()

	s := &sttmock.Provider{Err: errors.New("down")}
	_, err := transcribe.New(s).Run(context.Background(), clip(1))
	if err == nil {
		t.Fatal("expected error when the whole-clip transcription fails")
	}
}

func TestRun_DropsHallucinationsAndBlankText(t *testing.T) {
	t.Parallel()

	d := &diarizemock.Provider{Turns: []types.Turn{
		{Start: 0, End: 1, Label: "A"},
		{Start: 1, End: 2, Label: "A"},
		{Start: 2, End: 3, Label: "A"},
	}}
	texts := map[byte]string{1: "字幕由Amara.org社区提供", 2: "   ", 3: "real words"}
	s := &sttmock.Provider{TranscribeFunc: func(pcm []byte, _ stt.Request) (stt.Result, error) {
		return stt.Result{Text: texts[pcm[0]]}, nil
	}}

	got, err := transcribe.New(s, transcribe.WithDiarizer(d)).Run(context.Background(), clip(3))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 1 || got[0].Text != "real words" {
		t.Fatalf("utterances = %+v, want only the real words", got)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &sttmock.Provider{Result: stt.Result{Text: "x"}}
	_, err := transcribe.New(s).Run(ctx, clip(1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if s.CallCount() != 0 {
		t.Errorf("stt called %d times after cancel", s.CallCount())
	}
}
