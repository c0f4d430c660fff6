package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ampersand-strategies/candidate-tracker/internal/config"
	"github.com/ampersand-strategies/candidate-tracker/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertUnitErrors     AlertType = "unit_errors"
	AlertStaleRun       AlertType = "stale_run"
)

// minFinishedRuns is how many finished runs the failure rate needs before
// it is trusted.
const minFinishedRuns = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.Complete + snap.Failed
	if a.cfg.FailureRateThreshold > 0 && finished >= minFinishedRuns && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh; %s)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, finished, snap.LookbackHours, failingJobs(snap),
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.UnitErrorThreshold > 0 && snap.UnitErrors > a.cfg.UnitErrorThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertUnitErrors,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d per-record errors in last %dh exceed threshold %d",
				snap.UnitErrors, snap.LookbackHours, a.cfg.UnitErrorThreshold,
			),
			Details: map[string]any{
				"unit_errors": snap.UnitErrors,
				"threshold":   a.cfg.UnitErrorThreshold,
				"runs":        snap.Runs,
			},
			Timestamp: now,
		})
	}

	if len(snap.StaleRuns) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStaleRun,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d run(s) still running after %dh",
				len(snap.StaleRuns), a.cfg.StaleRunHours,
			),
			Details: map[string]any{
				"run_ids": snap.StaleRuns,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// failingJobs renders "job failed/finished" pairs for jobs with failures.
func failingJobs(snap *MetricsSnapshot) string {
	var parts []string
	for name, job := range snap.Jobs {
		if job.Failed > 0 {
			parts = append(parts, fmt.Sprintf("%s %d/%d", name, job.Failed, job.Complete+job.Failed))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

// webhookPayload is the JSON body posted for each alert.
type webhookPayload struct {
	Source string `json:"source"`
	Alert  Alert  `json:"alert"`
}

// SendAlerts posts each alert to the webhook and returns how many were
// delivered.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}
	sent := 0
	for _, alert := range alerts {
		if a.Deliver(ctx, alert) == nil {
			sent++
		}
	}
	return sent
}

// Deliver posts one alert, retrying a rate-limited post. Failures are
// logged and returned. Without a webhook there is nothing to deliver.
func (a *Alerter) Deliver(ctx context.Context, alert Alert) error {
	if a.cfg.WebhookURL == "" {
		return nil
	}
	retry := resilience.CooldownConfig(2, time.Second)
	retry.OnRetry = resilience.RetryLogger("webhook", "post_alert")

	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		return a.post(ctx, alert)
	})
	if err != nil {
		zap.L().Error("alert delivery failed",
			zap.String("type", string(alert.Type)),
			zap.Int("status", resilience.StatusCode(err)),
			zap.Error(err),
		)
	}
	return err
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookPayload{Source: "candidate-tracker", Alert: alert})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return resilience.NewPermanentError(eris.Wrap(err, "monitoring: create webhook request"), 0, "")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resilience.NewTransientError(eris.New("monitoring: webhook rate limited"), resp.StatusCode)
	case resp.StatusCode >= 300:
		return resilience.NewPermanentError(eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode), resp.StatusCode, "")
	}
	return nil
}
