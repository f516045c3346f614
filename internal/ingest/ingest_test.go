package ingest_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/ingest"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/internal/segmenter"
	"github.com/MrWong99/earshot/internal/session"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/memory/inmem"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/mock"
)

const frameBytes = 960

func loud(n int) []byte {
	s := make([]int16, n*frameBytes/2)
	for i := range s {
		s[i] = int16(8000 * math.Sin(2*math.Pi*300*float64(i)/16000))
	}
	return audio.Bytes(s)
}

func silent(n int) []byte { return make([]byte, n*frameBytes) }

// stereo duplicates every mono sample into two channels.
func stereo(mono []byte) []byte {
	out := make([]byte, 0, 2*len(mono))
	for i := 0; i+1 < len(mono); i += 2 {
		out = append(out, mono[i], mono[i+1], mono[i], mono[i+1])
	}
	return out
}

func energyEngine() *mock.Engine { return mock.Loud(100) }

type sink struct {
	mu   sync.Mutex
	got  []segmenter.Completed
	err  error
	seen int
}

func (s *sink) Submit(_ context.Context, c segmenter.Completed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen++
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, c)
	return nil
}

func (s *sink) segments() []segmenter.Completed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]segmenter.Completed(nil), s.got...)
}

func newService(t *testing.T, eng vad.Engine, out ingest.Submitter) *ingest.Service {
	t.Helper()
	reg := session.NewRegistry()
	t.Cleanup(func() { _ = reg.Close() })
	return ingest.New(segmenter.New(eng, segmenter.Config{}), reg, inmem.NewProfileStore(), out)
}

func TestOpen_Unavailable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		svc  func() *ingest.Service
	}{
		{
			name: "no vad engine",
			svc: func() *ingest.Service {
				return ingest.New(segmenter.New(nil, segmenter.Config{}), session.NewRegistry(), inmem.NewProfileStore(), &sink{})
			},
		},
		{
			name: "vad engine fails",
			svc: func() *ingest.Service {
				eng := &mock.Engine{NewSessionErr: errors.New("unsupported rate")}
				return ingest.New(segmenter.New(eng, segmenter.Config{}), session.NewRegistry(), inmem.NewProfileStore(), &sink{})
			},
		},
		{
			name: "no identity store",
			svc: func() *ingest.Service {
				return ingest.New(segmenter.New(energyEngine(), segmenter.Config{}), session.NewRegistry(), nil, &sink{})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := tt.svc()
			_, err := svc.Open(context.Background(), "table-1", audio.Format{})
			if !errors.Is(err, ingest.ErrUnavailable) {
				t.Fatalf("err = %v, want ErrUnavailable", err)
			}
			if n := svc.Sessions().Len(); n != 0 {
				t.Errorf("live sessions = %d, want 0", n)
			}
		})
	}
}

func TestOpen_BlankSession(t *testing.T) {
	t.Parallel()

	svc := newService(t, energyEngine(), &sink{})
	if _, err := svc.Open(context.Background(), "", audio.Format{}); !errors.Is(err, ingest.ErrInvalidSession) {
		t.Fatalf("err = %v, want ErrInvalidSession", err)
	}
}

func TestStream_WriteSubmitsSegments(t *testing.T) {
	t.Parallel()

	out := &sink{}
	svc := newService(t, energyEngine(), out)
	ctx := context.Background()
	st, err := svc.Open(ctx, "table-1", audio.Format{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close(ctx)

	// Odd-sized chunks exercise the remainder carry.
	stream := append(loud(33), silent(22)...)
	total := 0
	for off := 0; off < len(stream); off += 777 {
		end := min(off+777, len(stream))
		n, err := st.Write(ctx, stream[off:end])
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		total += n
	}
	if total != 1 {
		t.Fatalf("submitted = %d, want 1", total)
	}
	got := out.segments()[0]
	if got.SessionID != "table-1" || got.Seq != 1 {
		t.Errorf("segment = %s/%d, want table-1/1", got.SessionID, got.Seq)
	}
	if got.Voiced != 990*time.Millisecond {
		t.Errorf("voiced = %v, want 990ms", got.Voiced)
	}
}

func TestStream_StereoInputIsDownmixed(t *testing.T) {
	t.Parallel()

	out := &sink{}
	svc := newService(t, energyEngine(), out)
	ctx := context.Background()
	st, err := svc.Open(ctx, "table-1", audio.Format{SampleRate: 16000, Channels: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close(ctx)

	n, err := st.Write(ctx, stereo(append(loud(33), silent(22)...)))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 1 {
		t.Fatalf("submitted = %d, want 1", n)
	}
	if got := out.segments()[0].Voiced; got != 990*time.Millisecond {
		t.Errorf("voiced = %v, want 990ms", got)
	}
}

func TestStream_SubmitErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{name: "queue full keeps stream alive", err: pipeline.ErrQueueFull},
		{name: "closed pipeline", err: pipeline.ErrClosed, wantErr: pipeline.ErrClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out := &sink{err: tt.err}
			svc := newService(t, energyEngine(), out)
			ctx := context.Background()
			st, err := svc.Open(ctx, "s", audio.Format{})
			if err != nil {
				t.Fatalf("Open: %v", err)
			}

			n, err := st.Write(ctx, append(loud(33), silent(22)...))
			if n != 0 {
				t.Errorf("submitted = %d, want 0", n)
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("err = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStream_CloseFlushesAndReleases(t *testing.T) {
	t.Parallel()

	out := &sink{}
	svc := newService(t, energyEngine(), out)
	ctx := context.Background()
	st, err := svc.Open(ctx, "table-1", audio.Format{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := st.Write(ctx, loud(20)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(out.segments()) != 0 {
		t.Fatal("segment emitted before hangover")
	}

	if err := st.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := out.segments(); len(got) != 1 || got[0].Voiced != 600*time.Millisecond {
		t.Errorf("flushed = %+v, want one 600ms segment", got)
	}
	if n := svc.Sessions().Len(); n != 0 {
		t.Errorf("live sessions = %d, want 0", n)
	}
	if err := st.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestStream_SharedSession(t *testing.T) {
	t.Parallel()

	svc := newService(t, energyEngine(), &sink{})
	ctx := context.Background()
	a, err := svc.Open(ctx, "table-1", audio.Format{})
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	b, err := svc.Open(ctx, "table-1", audio.Format{})
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}

	_ = a.Close(ctx)
	if n := svc.Sessions().Len(); n != 1 {
		t.Fatalf("live sessions after first close = %d, want 1", n)
	}
	_ = b.Close(ctx)
	if n := svc.Sessions().Len(); n != 0 {
		t.Errorf("live sessions after last close = %d, want 0", n)
	}
}
