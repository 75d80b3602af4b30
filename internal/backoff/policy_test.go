package backoff

import (
	"testing"
	"time"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Policy{Base: 2 * time.Second, Multiplier: 2, Max: 10 * time.Second}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Fatalf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	low := Policy{Base: time.Second, Multiplier: 2, Jitter: 0.5, Rand: func() float64 { return 0 }}
	high := Policy{Base: time.Second, Multiplier: 2, Jitter: 0.5, Rand: func() float64 { return 0.999999 }}
	if got := low.Delay(2); got != time.Second {
		t.Fatalf("low jitter Delay(2) = %v, want 1s", got)
	}
	if got := high.Delay(2); got < 2900*time.Millisecond || got > 3*time.Second {
		t.Fatalf("high jitter Delay(2) = %v, want ~3s", got)
	}
}

func TestDelayTreatsZeroAttemptAsFirst(t *testing.T) {
	p := Policy{Base: time.Second, Multiplier: 3}
	if got := p.Delay(0); got != time.Second {
		t.Fatalf("Delay(0) = %v, want 1s", got)
	}
}
