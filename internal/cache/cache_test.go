package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestGroup_PutGet(t *testing.T) {
	g, err := NewGroup[string]("test", 10)
	if err != nil {
		t.Fatalf("NewGroup() error = %v", err)
	}

	if _, present, _ := g.Get("missing"); present {
		t.Fatal("expected no entry for an unset key")
	}

	g.Put("k1", "v1")
	value, present, negative := g.Get("k1")
	if !present || negative {
		t.Fatalf("present = %v, negative = %v, want true, false", present, negative)
	}
	if value != "v1" {
		t.Errorf("value = %q, want %q", value, "v1")
	}
}

func TestGroup_NegativeEntry(t *testing.T) {
	g, err := NewGroup[string]("test", 10)
	if err != nil {
		t.Fatalf("NewGroup() error = %v", err)
	}

	g.PutNegative("missing-row")
	_, present, negative := g.Get("missing-row")
	if !present || !negative {
		t.Fatalf("present = %v, negative = %v, want true, true", present, negative)
	}
}

func TestGroup_InvalidateAndPurge(t *testing.T) {
	g, err := NewGroup[string]("test", 10)
	if err != nil {
		t.Fatalf("NewGroup() error = %v", err)
	}

	g.Put("k1", "v1")
	g.Put("k2", "v2")
	g.Invalidate("k1")
	if _, present, _ := g.Get("k1"); present {
		t.Fatal("expected k1 to be gone after Invalidate")
	}
	if _, present, _ := g.Get("k2"); !present {
		t.Fatal("expected k2 to still be present")
	}

	g.Purge()
	if _, present, _ := g.Get("k2"); present {
		t.Fatal("expected k2 to be gone after Purge")
	}
}

func TestGroup_LoadFillsOnMissAndCachesResult(t *testing.T) {
	g, err := NewGroup[string]("test", 10)
	if err != nil {
		t.Fatalf("NewGroup() error = %v", err)
	}

	var calls int32
	fill := func(ctx context.Context, key string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "value-for-" + key, nil
	}

	value, err := g.Load(context.Background(), "k1", fill)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if value != "value-for-k1" {
		t.Errorf("value = %q, want %q", value, "value-for-k1")
	}

	// A second Load for the same key must be served from cache, not fill again.
	if _, err := g.Load(context.Background(), "k1", fill); err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fill called %d times, want 1", got)
	}
}

func TestGroup_LoadCachesMissingAsNegative(t *testing.T) {
	g, err := NewGroup[string]("test", 10)
	if err != nil {
		t.Fatalf("NewGroup() error = %v", err)
	}

	var calls int32
	fill := func(ctx context.Context, key string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", ErrMissing
	}

	if _, err := g.Load(context.Background(), "nonexistent", fill); !errors.Is(err, ErrMissing) {
		t.Fatalf("error = %v, want ErrMissing", err)
	}
	if _, err := g.Load(context.Background(), "nonexistent", fill); !errors.Is(err, ErrMissing) {
		t.Fatalf("second Load() error = %v, want ErrMissing", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fill called %d times, want 1 (second lookup should hit the negative marker)", got)
	}
}

func TestGroup_LoadPropagatesOtherErrors(t *testing.T) {
	g, err := NewGroup[string]("test", 10)
	if err != nil {
		t.Fatalf("NewGroup() error = %v", err)
	}

	wantErr := errors.New("backend unavailable")
	fill := func(ctx context.Context, key string) (string, error) {
		return "", wantErr
	}

	if _, err := g.Load(context.Background(), "k1", fill); !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
	// A non-ErrMissing failure must not be cached as a negative entry.
	if _, present, _ := g.Get("k1"); present {
		t.Fatal("expected no entry cached after a non-ErrMissing fill error")
	}
}

func TestRegistry_GroupLookup(t *testing.T) {
	r, err := NewRegistry(10, 10, 10, 10, 10)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	tests := []struct {
		name string
		want *Group[any]
	}{
		{"device", r.Device},
		{"deviceroute.uldata", r.DeviceRouteULData},
		{"deviceroute.dldata", r.DeviceRouteDLData},
		{"deviceroute.dldata_pub", r.DeviceRouteDLDataPub},
		{"networkroute.uldata", r.NetworkRouteULData},
	}
	for _, tt := range tests {
		if got := r.Group(tt.name); got != tt.want {
			t.Errorf("Group(%q) = %p, want %p", tt.name, got, tt.want)
		}
	}
	if got := r.Group("unknown"); got != nil {
		t.Errorf("Group(\"unknown\") = %v, want nil", got)
	}
}
