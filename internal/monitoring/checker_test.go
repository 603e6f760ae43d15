package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/config"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	st := newMonitorStore(t)
	cfg := config.MonitorConfig{CheckIntervalSecs: 1, ErrorRateThreshold: 0.10}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_CheckDeliversBreaches(t *testing.T) {
	ctx := context.Background()
	st := newMonitorStore(t)
	seedURLs(t, st, model.URLStatusQueued,
		"https://example.gov/a", "https://example.gov/b", "https://example.gov/c")

	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	cfg := config.MonitorConfig{WebhookURL: ts.URL, QueueBacklog: 2}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	checker.check(ctx, zap.NewNop())
	require.Equal(t, int32(1), received.Load(), "three pending URLs breach a backlog threshold of two")
}

func TestChecker_RunChecksBeforeFirstTick(t *testing.T) {
	st := newMonitorStore(t)
	seedURLs(t, st, model.URLStatusQueued,
		"https://example.gov/a", "https://example.gov/b", "https://example.gov/c")

	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	// An hour-long interval means any delivery must come from the
	// immediate startup check.
	cfg := config.MonitorConfig{WebhookURL: ts.URL, QueueBacklog: 2, CheckIntervalSecs: 3600}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return received.Load() >= 1 },
		5*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestChecker_IntervalFallback(t *testing.T) {
	st := newMonitorStore(t)

	c := NewChecker(NewCollector(st), NewAlerter(config.MonitorConfig{}), config.MonitorConfig{})
	assert.Equal(t, 5*time.Minute, c.interval())

	cfg := config.MonitorConfig{CheckIntervalSecs: 30}
	c = NewChecker(NewCollector(st), NewAlerter(cfg), cfg)
	assert.Equal(t, 30*time.Second, c.interval())
}
