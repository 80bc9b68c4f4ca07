package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/preschool-etl/internal/config"
	"github.com/sells-group/preschool-etl/internal/model"
)

func TestAlerter_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MetricsConfig{FailureRateThreshold: 0.25})
	snap := &Snapshot{Stats: model.Stats{
		Geocoded: 9, Failed: 1,
		LastRun: &model.DataSource{Status: model.DataSourceCompleted},
	}}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_ExtractionFailed(t *testing.T) {
	a := NewAlerter(config.MetricsConfig{})
	snap := &Snapshot{Stats: model.Stats{
		LastRun: &model.DataSource{ID: 4, SourceName: "CSAC CSPP List", ExtractionDate: "2026-10-19", Status: model.DataSourceFailed},
	}}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertExtractionFailed, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "2026-10-19")
}

func TestAlerter_GeocodeFailureRate(t *testing.T) {
	a := NewAlerter(config.MetricsConfig{FailureRateThreshold: 0.25})

	alerts := a.Evaluate(&Snapshot{Stats: model.Stats{Geocoded: 3, Failed: 3}})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertGeocodeFailureRate, alerts[0].Type)
	assert.InDelta(t, 0.5, alerts[0].Details["failure_rate"], 1e-9)

	// Too few attempts to judge.
	assert.Empty(t, a.Evaluate(&Snapshot{Stats: model.Stats{Geocoded: 1, Failed: 3}}))

	// Threshold disabled.
	a = NewAlerter(config.MetricsConfig{})
	assert.Empty(t, a.Evaluate(&Snapshot{Stats: model.Stats{Geocoded: 0, Failed: 10}}))
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var a Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		received = append(received, a)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewAlerter(config.MetricsConfig{AlertWebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertExtractionFailed, Severity: "high", Message: "failed"},
		{Type: AlertGeocodeFailureRate, Severity: "medium", Message: "rate"},
	})
	assert.Equal(t, 2, sent)
	require.Len(t, received, 2)
	assert.Equal(t, AlertGeocodeFailureRate, received[1].Type)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAlerter(config.MetricsConfig{AlertWebhookURL: srv.URL})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertExtractionFailed}}))
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MetricsConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertExtractionFailed}}))
}
