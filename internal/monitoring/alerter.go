package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/charity-directory/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertImportFailureRate AlertType = "import_failure_rate"
	AlertImportAborted     AlertType = "import_aborted"
	AlertGeocodeMatchRate  AlertType = "geocode_match_rate"
)

// Sample sizes below which rates are not alerted on.
const (
	minFinishedRuns    = 5
	minGeocodeAttempts = 20
)

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

	finished := snap.ImportComplete + snap.ImportAborted + snap.ImportFailed
	if finished >= minFinishedRuns && snap.ImportFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertImportFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Import failure rate %.1f%% exceeds threshold %.1f%% (%d unsuccessful / %d finished in last %dh)",
				snap.ImportFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.ImportAborted+snap.ImportFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.ImportFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"aborted":      snap.ImportAborted,
				"failed":       snap.ImportFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if snap.ImportAborted > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertImportAborted,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d import batch(es) rolled back on malformed input in last %dh",
				snap.ImportAborted, snap.LookbackHours,
			),
			Details: map[string]any{
				"aborted":      snap.ImportAborted,
				"import_total": snap.ImportTotal,
			},
			Timestamp: now,
		})
	}

	if snap.GeocodeAttempted >= minGeocodeAttempts && snap.GeocodeMatchRate < a.cfg.GeocodeMatchThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertGeocodeMatchRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Geocode match rate %.1f%% below threshold %.1f%% (%d of %d in last %dh)",
				snap.GeocodeMatchRate*100, a.cfg.GeocodeMatchThreshold*100,
				snap.GeocodeMatched, snap.GeocodeAttempted, snap.LookbackHours,
			),
			Details: map[string]any{
				"match_rate": snap.GeocodeMatchRate,
				"threshold":  a.cfg.GeocodeMatchThreshold,
				"backlog":    snap.UngeocodedBacklog,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
