package fetch

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	penaltyFloor    = 0.2
	penaltyCeiling  = 1.0
	penaltyCooldown = 2 * time.Second
)

type hostState struct {
	nextAllowedAt time.Time
	penalty       float64
}

// HostThrottle paces requests per host. Each host gets an effective rate of
// baseRate times a penalty in [0.2, 1.0]; 429/502/503 responses halve the
// penalty and impose a cooldown, successes recover it by 5% per request.
// Slot reservation happens under the mutex so concurrent workers targeting
// one host serialize their reservations without serializing the requests.
type HostThrottle struct {
	mu       sync.Mutex
	baseRate float64
	hosts    map[string]*hostState
	now      func() time.Time
}

// NewHostThrottle creates a throttle with the given base requests/second.
func NewHostThrottle(baseRate float64) *HostThrottle {
	if baseRate < 0.1 {
		baseRate = 0.1
	}
	return &HostThrottle{
		baseRate: baseRate,
		hosts:    make(map[string]*hostState),
		now:      time.Now,
	}
}

// Wait blocks until the URL's host has a free slot, then reserves the next
// one. Returns early on context cancellation.
func (t *HostThrottle) Wait(ctx context.Context, rawURL string) error {
	host := throttleHost(rawURL)
	if host == "" {
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t.mu.Lock()
		st, ok := t.hosts[host]
		if !ok {
			st = &hostState{penalty: penaltyCeiling}
			t.hosts[host] = st
		}
		now := t.now()
		if !now.Before(st.nextAllowedAt) {
			effective := t.baseRate * clampPenalty(st.penalty)
			if effective < 0.1 {
				effective = 0.1
			}
			spacing := time.Duration(float64(time.Second) / effective)
			st.nextAllowedAt = now.Add(spacing)
			t.mu.Unlock()
			return nil
		}
		sleepFor := st.nextAllowedAt.Sub(now)
		t.mu.Unlock()

		if sleepFor > 500*time.Millisecond {
			sleepFor = 500 * time.Millisecond
		}
		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// NoteResult adjusts the host's penalty from the response status.
func (t *HostThrottle) NoteResult(rawURL string, httpStatus int) {
	host := throttleHost(rawURL)
	if host == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.hosts[host]
	if !ok {
		st = &hostState{penalty: penaltyCeiling}
		t.hosts[host] = st
	}
	switch {
	case httpStatus == 429 || httpStatus == 502 || httpStatus == 503:
		st.penalty = st.penalty * 0.5
		if st.penalty < penaltyFloor {
			st.penalty = penaltyFloor
		}
		cooldownUntil := t.now().Add(penaltyCooldown)
		if cooldownUntil.After(st.nextAllowedAt) {
			st.nextAllowedAt = cooldownUntil
		}
	case httpStatus >= 200 && httpStatus < 400:
		st.penalty = st.penalty * 1.05
		if st.penalty > penaltyCeiling {
			st.penalty = penaltyCeiling
		}
	}
}

func (t *HostThrottle) penaltyFor(host string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.hosts[host]
	if !ok {
		return penaltyCeiling
	}
	return st.penalty
}

func clampPenalty(p float64) float64 {
	if p < penaltyFloor {
		return penaltyFloor
	}
	if p > penaltyCeiling {
		return penaltyCeiling
	}
	return p
}

func throttleHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
