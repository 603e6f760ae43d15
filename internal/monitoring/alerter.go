package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFrontierErrorRate AlertType = "frontier_error_rate"
	AlertQueueBacklog      AlertType = "queue_backlog"
	AlertReviewBacklog     AlertType = "review_backlog"
	AlertReleaseChange     AlertType = "release_change"
)

// minFinishedForRate guards the error-rate alert against tiny samples.
const minFinishedForRate = 10

// Alert is the webhook payload for one threshold breach.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns metric snapshots into alerts and posts them to a webhook.
type Alerter struct {
	cfg    config.MonitorConfig
	client *http.Client

	mu          sync.Mutex
	lastRelease string
}

// NewAlerter creates an Alerter with the given monitor config.
func NewAlerter(cfg config.MonitorConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against every configured threshold. Each
// stored release diff is reported at most once per process.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	now := time.Now().UTC()

	var alerts []Alert
	for _, al := range []*Alert{
		a.errorRateAlert(snap, now),
		a.queueAlert(snap, now),
		a.reviewAlert(snap, now),
		a.releaseAlert(snap, now),
	} {
		if al != nil {
			alerts = append(alerts, *al)
		}
	}
	return alerts
}

func (a *Alerter) errorRateAlert(snap *MetricsSnapshot, now time.Time) *Alert {
	finished := snap.FrontierDone + snap.FrontierErrors
	if a.cfg.ErrorRateThreshold <= 0 || finished < minFinishedForRate ||
		snap.FrontierFailRate <= a.cfg.ErrorRateThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertFrontierErrorRate,
		Severity: "high",
		Message: fmt.Sprintf(
			"Frontier error rate %.1f%% exceeds threshold %.1f%% (%d errored / %d finished)",
			snap.FrontierFailRate*100, a.cfg.ErrorRateThreshold*100,
			snap.FrontierErrors, finished,
		),
		Details: map[string]any{
			"error_rate": snap.FrontierFailRate,
			"threshold":  a.cfg.ErrorRateThreshold,
			"errored":    snap.FrontierErrors,
			"finished":   finished,
		},
		Timestamp: now,
	}
}

func (a *Alerter) queueAlert(snap *MetricsSnapshot, now time.Time) *Alert {
	if a.cfg.QueueBacklog <= 0 || snap.FrontierPending <= a.cfg.QueueBacklog {
		return nil
	}
	return &Alert{
		Type:     AlertQueueBacklog,
		Severity: "medium",
		Message: fmt.Sprintf(
			"Crawl queue backlog at %d URLs exceeds threshold %d",
			snap.FrontierPending, a.cfg.QueueBacklog,
		),
		Details: map[string]any{
			"pending":   snap.FrontierPending,
			"threshold": a.cfg.QueueBacklog,
		},
		Timestamp: now,
	}
}

func (a *Alerter) reviewAlert(snap *MetricsSnapshot, now time.Time) *Alert {
	if a.cfg.UnreviewedBacklog <= 0 || snap.PendingReview <= a.cfg.UnreviewedBacklog {
		return nil
	}
	return &Alert{
		Type:     AlertReviewBacklog,
		Severity: "medium",
		Message: fmt.Sprintf(
			"%d flagged document(s) awaiting review exceeds threshold %d",
			snap.PendingReview, a.cfg.UnreviewedBacklog,
		),
		Details: map[string]any{
			"pending_review": snap.PendingReview,
			"threshold":      a.cfg.UnreviewedBacklog,
		},
		Timestamp: now,
	}
}

func (a *Alerter) releaseAlert(snap *MetricsSnapshot, now time.Time) *Alert {
	changed := snap.ReleaseAdded + snap.ReleaseChanged + snap.ReleaseRemoved
	if changed == 0 || snap.ReleaseCreatedAt == "" || !a.markRelease(snap.ReleaseCreatedAt) {
		return nil
	}
	return &Alert{
		Type:     AlertReleaseChange,
		Severity: "info",
		Message: fmt.Sprintf(
			"Disclosure release changed: +%d / ~%d / -%d files vs previous snapshot",
			snap.ReleaseAdded, snap.ReleaseChanged, snap.ReleaseRemoved,
		),
		Details: map[string]any{
			"added":      snap.ReleaseAdded,
			"changed":    snap.ReleaseChanged,
			"removed":    snap.ReleaseRemoved,
			"created_at": snap.ReleaseCreatedAt,
		},
		Timestamp: now,
	}
}

// markRelease reports whether createdAt is a diff this process has not yet
// alerted on, and remembers it.
func (a *Alerter) markRelease(createdAt string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastRelease == createdAt {
		return false
	}
	a.lastRelease = createdAt
	return true
}

// SendAlerts posts each alert to the configured webhook and returns how many
// deliveries succeeded. Failures are logged and skipped so one bad delivery
// never blocks the rest.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.post(ctx, alert); err != nil {
			zap.L().Error("monitoring: alert delivery failed",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert delivered",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
