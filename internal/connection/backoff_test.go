package connection

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoffGrowthAndCap(t *testing.T) {
	cfg := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{9, time.Second},
	}
	for _, tc := range cases {
		if got := NextBackoffDelay(cfg, tc.attempt, nil); got != tc.want {
			t.Errorf("attempt %d: delay = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	cfg := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(42))
	for attempt := 2; attempt <= 5; attempt++ {
		base := NextBackoffDelay(BackoffConfig{
			InitialDelay: cfg.InitialDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   cfg.Multiplier,
		}, attempt, nil)
		for i := 0; i < 50; i++ {
			got := NextBackoffDelay(cfg, attempt, rng)
			if got < base/2 || got > base+base/2 {
				t.Fatalf("attempt %d: jittered delay %v outside [%v, %v]", attempt, got, base/2, base+base/2)
			}
		}
	}
}

func TestBackoffDegenerateConfigs(t *testing.T) {
	if got := NextBackoffDelay(BackoffConfig{}, 3, nil); got != 0 {
		t.Errorf("zero config delay = %v, want 0", got)
	}
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 0.1}
	if got := NextBackoffDelay(cfg, 4, nil); got != 100*time.Millisecond {
		t.Errorf("sub-1 multiplier delay = %v, want clamp to initial", got)
	}
}
