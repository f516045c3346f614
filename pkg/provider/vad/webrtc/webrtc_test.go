package webrtc_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/webrtc"
)

func TestNewSession_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{name: "rate", cfg: vad.Config{SampleRate: 22050, FrameSizeMs: 30, Mode: 3}},
		{name: "frame", cfg: vad.Config{SampleRate: 16000, FrameSizeMs: 25, Mode: 3}},
		{name: "mode", cfg: vad.Config{SampleRate: 16000, FrameSizeMs: 30, Mode: 4}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := webrtc.New().NewSession(tc.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestProcessFrame_Silence(t *testing.T) {
	t.Parallel()

	sess, err := webrtc.New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 30, Mode: 3})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	for range 10 {
		ev, err := sess.ProcessFrame(make([]byte, 960))
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if ev.Speech {
			t.Fatal("digital silence classified as speech")
		}
	}
}

func TestProcessFrame_WrongSize(t *testing.T) {
	t.Parallel()

	sess, _ := webrtc.New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 30, Mode: 3})
	if _, err := sess.ProcessFrame(make([]byte, 100)); !errors.Is(err, vad.ErrFrameSize) {
		t.Errorf("err = %v, want ErrFrameSize", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	sess, _ := webrtc.New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 30, Mode: 3})
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := sess.ProcessFrame(make([]byte, 960)); err == nil {
		t.Error("ProcessFrame after Close should fail")
	}
}
