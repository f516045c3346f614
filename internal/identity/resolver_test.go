package identity_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/MrWong99/earshot/internal/identity"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/features"
	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/memory/inmem"
	"github.com/MrWong99/earshot/pkg/memory/mock"
	"github.com/MrWong99/earshot/pkg/types"
)

const rate = 16000

func tonePCM(freq float64, n int) []byte {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(10000 * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return audio.Bytes(s)
}

// unit returns a 2-d unit vector whose cosine with [1, 0] is c.
func unit(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
}

// ---- Identify ----

func TestIdentify_SameFingerprintMatches(t *testing.T) {
	t.Parallel()

	r := identity.NewResolver(inmem.NewProfileStore())
	fp, ok := features.Fingerprint(tonePCM(440, rate), rate)
	if !ok {
		t.Fatal("Fingerprint returned false")
	}

	first, err := r.Identify(context.Background(), fp)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !first.IsNew || first.ProfileID != "speaker_1" || first.Name != "Unknown Speaker 1" {
		t.Errorf("first = %+v", first)
	}

	second, err := r.Identify(context.Background(), fp)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if second.IsNew || second.ProfileID != first.ProfileID {
		t.Errorf("second = %+v, want match of %s", second, first.ProfileID)
	}
	if second.Similarity < 0.999 {
		t.Errorf("similarity = %v, want ~1", second.Similarity)
	}
}

func TestIdentify_ThresholdBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cos      float64
		profiles int
	}{
		{"just below", identity.DefaultThreshold - 0.01, 2},
		{"just above", identity.DefaultThreshold + 0.01, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := inmem.NewProfileStore()
			r := identity.NewResolver(store)
			ctx := context.Background()

			if _, err := r.Identify(ctx, unit(1)); err != nil {
				t.Fatalf("Identify: %v", err)
			}
			if _, err := r.Identify(ctx, unit(tt.cos)); err != nil {
				t.Fatalf("Identify: %v", err)
			}
			profiles, _ := store.ListProfiles(ctx)
			if len(profiles) != tt.profiles {
				t.Errorf("profiles = %d, want %d", len(profiles), tt.profiles)
			}
		})
	}
}

func TestIdentify_SkipsMismatchedAndZeroProfiles(t *testing.T) {
	t.Parallel()

	store := inmem.NewProfileStore()
	ctx := context.Background()
	_, _ = store.CreateProfile(ctx, []float32{1, 0, 0})
	_, _ = store.CreateProfile(ctx, []float32{0, 0})

	r := identity.NewResolver(store)
	m, err := r.Identify(ctx, []float32{1, 0})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !m.IsNew || m.ProfileID != "speaker_3" {
		t.Errorf("match = %+v, want new speaker_3", m)
	}
}

func TestIdentify_EmptyFingerprint(t *testing.T) {
	t.Parallel()

	r := identity.NewResolver(inmem.NewProfileStore())
	if _, err := r.Identify(context.Background(), nil); !errors.Is(err, identity.ErrEmptyFingerprint) {
		t.Errorf("err = %v, want ErrEmptyFingerprint", err)
	}
}

func TestIdentify_StoreError(t *testing.T) {
	t.Parallel()

	store := mock.NewProfileStore()
	store.ListProfilesErr = errors.New("db down")
	r := identity.NewResolver(store)

	if _, err := r.Identify(context.Background(), unit(1)); err == nil {
		t.Fatal("expected error")
	}
	if n := store.CallCount("CreateProfile"); n != 0 {
		t.Errorf("CreateProfile calls = %d, want 0", n)
	}
}

func TestIdentify_ConcurrentMintsOnce(t *testing.T) {
	t.Parallel()

	store := inmem.NewProfileStore()
	r := identity.NewResolver(store)
	fp := unit(0.5)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Identify(context.Background(), fp); err != nil {
				t.Errorf("Identify: %v", err)
			}
		}()
	}
	wg.Wait()

	profiles, _ := store.ListProfiles(context.Background())
	if len(profiles) != 1 {
		t.Errorf("profiles = %d, want 1", len(profiles))
	}
}

func TestSetThreshold(t *testing.T) {
	t.Parallel()

	store := inmem.NewProfileStore()
	r := identity.NewResolver(store, identity.WithThreshold(0.99))
	ctx := context.Background()

	_, _ = r.Identify(ctx, unit(1))
	if m, _ := r.Identify(ctx, unit(0.95)); !m.IsNew {
		t.Error("0.95 matched with threshold 0.99")
	}

	r.SetThreshold(0.9)
	if got := r.Threshold(); got != 0.9 {
		t.Errorf("Threshold() = %v", got)
	}
	if m, _ := r.Identify(ctx, unit(0.95)); m.IsNew {
		t.Error("0.95 did not match with threshold 0.9")
	}
}

// ---- NearestSearcher ----

type nearestStore struct {
	*inmem.ProfileStore
	mu    sync.Mutex
	calls int
}

func (n *nearestStore) NearestProfile(ctx context.Context, fp []float32) (types.VoiceProfile, float64, error) {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	profiles, _ := n.ListProfiles(ctx)
	if len(profiles) == 0 {
		return types.VoiceProfile{}, 0, memory.ErrNotFound
	}
	sim, _ := identity.Cosine(fp, profiles[0].Fingerprint)
	return profiles[0], sim, nil
}

func TestIdentify_UsesNearestSearcher(t *testing.T) {
	t.Parallel()

	store := &nearestStore{ProfileStore: inmem.NewProfileStore()}
	r := identity.NewResolver(store)
	ctx := context.Background()

	a, _ := r.Identify(ctx, unit(1))
	b, _ := r.Identify(ctx, unit(1))
	if !a.IsNew || b.IsNew || a.ProfileID != b.ProfileID {
		t.Errorf("a=%+v b=%+v", a, b)
	}
	if store.calls != 2 {
		t.Errorf("NearestProfile calls = %d, want 2", store.calls)
	}
}

// ---- Admin ----

func TestRenameDeleteList(t *testing.T) {
	t.Parallel()

	r := identity.NewResolver(inmem.NewProfileStore())
	ctx := context.Background()
	m, _ := r.Identify(ctx, unit(1))

	ok, err := r.Rename(ctx, m.ProfileID, "Alice")
	if err != nil || !ok {
		t.Fatalf("Rename = %v, %v", ok, err)
	}
	ok, err = r.Rename(ctx, "speaker_42", "Bob")
	if err != nil || ok {
		t.Errorf("Rename unknown = %v, %v; want false, nil", ok, err)
	}

	list, err := r.List(ctx)
	if err != nil || len(list) != 1 || list[0].Name != "Alice" {
		t.Errorf("List = %+v, %v", list, err)
	}

	if err := r.Delete(ctx, m.ProfileID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := r.Delete(ctx, m.ProfileID); !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("Delete twice err = %v, want ErrNotFound", err)
	}

	// Ids are not reused after delete.
	n, _ := r.Identify(ctx, unit(1))
	if n.ProfileID != "speaker_2" {
		t.Errorf("next id = %s, want speaker_2", n.ProfileID)
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
		ok   bool
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1, true},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0, true},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1, true},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0, false},
		{"zero norm", []float32{0, 0}, []float32{1, 0}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := identity.Cosine(tt.a, tt.b)
			if ok != tt.ok || math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
