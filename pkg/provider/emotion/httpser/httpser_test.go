package httpser_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/emotion/httpser"
)

func newServer(t *testing.T, body string, status int) (*httptest.Server, *[]byte) {
	t.Helper()
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want map[string]float64
	}{
		{
			name: "flat list trimmed to top 3",
			body: `[{"label":"sad","score":0.05},{"label":"neutral","score":0.6},{"label":"happy","score":0.2},{"label":"angry","score":0.15}]`,
			want: map[string]float64{"neutral": 0.6, "happy": 0.2, "angry": 0.15},
		},
		{
			name: "nested batch form",
			body: `[[{"label":"happy","score":0.9}]]`,
			want: map[string]float64{"happy": 0.9},
		},
		{
			name: "empty list",
			body: `[]`,
			want: map[string]float64{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, got := newServer(t, tt.body, http.StatusOK)
			p, _ := httpser.New(srv.URL)

			scores, err := p.Classify(context.Background(), make([]byte, 3200), 16000)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if len(scores) != len(tt.want) {
				t.Fatalf("scores = %v, want %v", scores, tt.want)
			}
			for k, v := range tt.want {
				if scores[k] != v {
					t.Errorf("scores[%q] = %v, want %v", k, scores[k], v)
				}
			}
			if string((*got)[:4]) != "RIFF" {
				t.Error("request body is not WAV")
			}
		})
	}
}

func TestClassify_Errors(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, `oops`, http.StatusInternalServerError)
	p, _ := httpser.New(srv.URL)
	if _, err := p.Classify(context.Background(), make([]byte, 320), 16000); err == nil {
		t.Error("expected error on HTTP 500")
	}

	srv2, _ := newServer(t, `{"not":"a list"}`, http.StatusOK)
	p2, _ := httpser.New(srv2.URL, httpser.WithTopK(1))
	if _, err := p2.Classify(context.Background(), make([]byte, 320), 16000); err == nil {
		t.Error("expected decode error")
	}
}
