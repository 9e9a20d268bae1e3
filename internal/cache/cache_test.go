package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestNewByType(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("memory cache failed: %v", err)
	}
	defer c.Close()

	if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}

func TestProfileRoundTrip(t *testing.T) {
	c := NewLRUCache(100)
	ctx := context.Background()

	got, err := c.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil profile for unknown user")
	}

	profile := &domain.UserProfile{
		UserID:         "user-1",
		LastSeen:       time.Now().UTC(),
		KnownLocations: []domain.Geolocation{{Latitude: 40.7, Longitude: -74.0, Country: "US"}},
		KnownDevices:   []string{"device-a"},
	}
	if err := c.SetProfile(ctx, "user-1", profile, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, err = c.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.UserID != "user-1" || len(got.KnownDevices) != 1 {
		t.Errorf("unexpected profile: %+v", got)
	}
}

func TestProfileIsolation(t *testing.T) {
	c := NewLRUCache(100)
	ctx := context.Background()

	profile := &domain.UserProfile{UserID: "user-1", KnownDevices: []string{"device-a"}}
	_ = c.SetProfile(ctx, "user-1", profile, time.Minute)

	// Mutating caller- and cache-side copies must not cross.
	profile.KnownDevices[0] = "tampered"

	got, _ := c.GetProfile(ctx, "user-1")
	if got.KnownDevices[0] != "device-a" {
		t.Error("cache shares backing array with caller")
	}

	got.KnownDevices[0] = "tampered-too"
	again, _ := c.GetProfile(ctx, "user-1")
	if again.KnownDevices[0] != "device-a" {
		t.Error("cache shares backing array with reader")
	}
}

func TestProfileTTLExpiry(t *testing.T) {
	c := NewLRUCache(100)
	ctx := context.Background()

	_ = c.SetProfile(ctx, "user-1", &domain.UserProfile{UserID: "user-1"}, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	got, err := c.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Error("expected expired profile to be gone")
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache(3)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		userID := fmt.Sprintf("user-%d", i)
		_ = c.SetProfile(ctx, userID, &domain.UserProfile{UserID: userID}, time.Minute)
	}

	if got, _ := c.GetProfile(ctx, "user-0"); got != nil {
		t.Error("expected oldest profile evicted")
	}
	if got, _ := c.GetProfile(ctx, "user-3"); got == nil {
		t.Error("expected newest profile retained")
	}
	if size, capacity := c.Stats(); size != 3 || capacity != 3 {
		t.Errorf("stats = (%d, %d), want (3, 3)", size, capacity)
	}
}

func TestCounterWindow(t *testing.T) {
	c := NewLRUCache(100)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrementCounter(ctx, "velocity:user-1", time.Minute)
		if err != nil {
			t.Fatalf("increment failed: %v", err)
		}
		if got != want {
			t.Errorf("count = %d, want %d", got, want)
		}
	}

	// Separate keys do not interfere.
	if got, _ := c.IncrementCounter(ctx, "velocity:user-2", time.Minute); got != 1 {
		t.Errorf("fresh key count = %d, want 1", got)
	}
}

func TestCounterWindowReset(t *testing.T) {
	c := NewLRUCache(100)
	ctx := context.Background()

	_, _ = c.IncrementCounter(ctx, "velocity:user-1", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	got, err := c.IncrementCounter(ctx, "velocity:user-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if got != 1 {
		t.Errorf("count after window lapse = %d, want 1", got)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	c := NewLRUCache(100)
	ctx := context.Background()

	if _, err := c.GetProfile(ctx, ""); err == nil {
		t.Error("expected error for empty userID")
	}
	if err := c.SetProfile(ctx, "", &domain.UserProfile{}, time.Minute); err == nil {
		t.Error("expected error for empty userID")
	}
	if _, err := c.IncrementCounter(ctx, "", time.Minute); err == nil {
		t.Error("expected error for empty key")
	}
}
