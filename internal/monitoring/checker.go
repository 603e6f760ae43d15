package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/config"
)

// Checker drives periodic crawl-health evaluations while serve mode runs.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitorConfig
}

// NewChecker wires a collector to an alerter.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitorConfig) *Checker {
	return &Checker{collector: collector, alerter: alerter, cfg: cfg}
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs > 0 {
		return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	}
	return 5 * time.Minute
}

// Run evaluates once right away, then on every tick until ctx is cancelled.
// The immediate pass means a freshly started server reports a broken crawl
// without waiting out the first interval.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("crawl health checks running", zap.Duration("interval", c.interval()))

	ticker := time.NewTicker(c.interval())
	defer ticker.Stop()

	for {
		c.check(ctx, log)
		select {
		case <-ctx.Done():
			log.Info("crawl health checks stopped")
			return
		case <-ticker.C:
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: collect failed", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alerts evaluated",
		zap.Int("triggered", len(alerts)),
		zap.Int("delivered", sent),
	)
}
