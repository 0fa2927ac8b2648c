package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/tradeguard/internal/surveillance"
)

func TestExporterAdvancesCountersByDelta(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, err := NewExporter(reg)
	require.NoError(t, err)

	e.Observe(surveillance.ProcessingStats{
		TotalTradesProcessed: 100,
		TotalDropped:         3,
		AlertsDelivered:      4,
		Patterns: map[string]surveillance.PatternStats{
			"layering": {AlertCount: 4, Evaluations: 100, AvgTime: 2 * time.Microsecond},
		},
	})
	e.Observe(surveillance.ProcessingStats{
		TotalTradesProcessed: 250,
		TotalDropped:         3,
		AlertsDelivered:      6,
		DeliveryErrors:       1,
		QueueDepth:           17,
		PoolFree:             900,
		ThroughputPerSecond:  150,
		PeakProcessingTime:   3 * time.Millisecond,
		Patterns: map[string]surveillance.PatternStats{
			"layering":     {AlertCount: 7, Evaluations: 250, Errors: 2},
			"wash_trading": {AlertCount: 1, Evaluations: 150},
		},
	})

	assert.Equal(t, 250.0, testutil.ToFloat64(e.tradesProcessed))
	assert.Equal(t, 3.0, testutil.ToFloat64(e.tradesDropped))
	assert.Equal(t, 6.0, testutil.ToFloat64(e.deliveries.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.deliveries.WithLabelValues("failed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(e.alerts.WithLabelValues("layering")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.alerts.WithLabelValues("wash_trading")))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.detectorErrors.WithLabelValues("layering")))
	assert.Equal(t, 17.0, testutil.ToFloat64(e.queueDepth))
	assert.Equal(t, 900.0, testutil.ToFloat64(e.poolFree))
	assert.Equal(t, 150.0, testutil.ToFloat64(e.throughput))
	assert.InDelta(t, 0.003, testutil.ToFloat64(e.peakProcessing), 1e-12)
}

func TestExporterRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewExporter(reg)
	require.NoError(t, err)
	_, err = NewExporter(reg)
	assert.Error(t, err)
}

func TestExporterGathers(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, err := NewExporter(reg)
	require.NoError(t, err)
	e.Observe(surveillance.ProcessingStats{TotalTradesProcessed: 1})

	n, err := testutil.GatherAndCount(reg, "surveillance_trades_processed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
