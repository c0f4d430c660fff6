package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ampersand-strategies/candidate-tracker/internal/config"
)

// defaultCheckInterval applies when check_interval_secs is unset.
const defaultCheckInterval = 5 * time.Minute

// Checker evaluates run health on a ticker inside the job server. An alert
// is delivered when it starts firing and again only after it has cleared.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger

	firing map[AlertType]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring")),
		firing:    make(map[AlertType]bool),
	}
}

// Run checks once per interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	c.log.Info("run health checks enabled",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Bool("webhook", c.cfg.WebhookURL != ""),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects one snapshot and delivers the alerts that were not already
// firing. An alert counts as firing only once delivered, so a failed post
// is attempted again on the next check. It returns the alerts that fired on
// this check, new or not.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		c.log.Error("collect run health", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	active := make(map[AlertType]bool, len(alerts))
	for _, a := range alerts {
		active[a.Type] = true
	}
	for t := range c.firing {
		if !active[t] {
			c.log.Info("alert cleared", zap.String("type", string(t)))
			delete(c.firing, t)
		}
	}

	pending, delivered := 0, 0
	for _, a := range alerts {
		if c.firing[a.Type] {
			continue
		}
		pending++
		if c.alerter.Deliver(ctx, a) != nil {
			continue
		}
		c.firing[a.Type] = true
		delivered++
	}
	if pending > 0 {
		c.log.Warn("alerts firing",
			zap.Int("new", pending),
			zap.Int("active", len(alerts)),
			zap.Int("delivered", delivered),
		)
	}
	return alerts
}
