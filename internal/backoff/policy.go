// Package backoff holds the retry delay policy shared by the queue and poll loops.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy computes exponential delays with optional jitter.
type Policy struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	// Jitter spreads each delay uniformly by ±Jitter*delay; 0 disables it.
	Jitter float64
	// Rand returns values in [0,1); nil uses math/rand/v2.
	Rand func() float64
}

// Default mirrors the queue defaults: 2s doubling, capped at five minutes.
func Default() Policy {
	return Policy{Base: 2 * time.Second, Multiplier: 2, Max: 5 * time.Minute, Jitter: 0.2}
}

// Delay returns the wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(base) * math.Pow(mult, float64(attempt-1))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 {
		j := math.Min(p.Jitter, 1)
		r := rand.Float64
		if p.Rand != nil {
			r = p.Rand
		}
		d = d * (1 - j + 2*j*r())
		if p.Max > 0 && d > float64(p.Max) {
			d = float64(p.Max)
		}
	}
	return time.Duration(d)
}
