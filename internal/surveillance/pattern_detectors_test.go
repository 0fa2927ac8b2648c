package surveillance

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var detectorBase = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type tradeStep struct {
	side  Side
	price float64
	qty   uint64
	after time.Duration
}

// contextFor builds a snapshot whose last trade is the event under test.
func contextFor(steps ...tradeStep) (*TradeEvent, *HistoricalContext) {
	hist := &HistoricalContext{Key: ContextKey("INFY", "ACC-1"), Lookback: time.Hour}
	for i, s := range steps {
		ev := tradeAt(fmt.Sprintf("T%d", i), detectorBase.Add(s.after), s.price, s.qty)
		ev.Side = s.side
		hist.RecentTrades = append(hist.RecentTrades, ev)
	}
	last := hist.RecentTrades[len(hist.RecentTrades)-1]
	return &last, hist
}

func TestWashTradingDetector(t *testing.T) {
	d := NewWashTradingDetector()

	ev, hist := contextFor(
		tradeStep{SideBuy, 100, 100, 0},
		tradeStep{SideSell, 100, 100, 5 * time.Second},
		tradeStep{SideBuy, 100.05, 100, 10 * time.Second},
		tradeStep{SideSell, 100, 101, 15 * time.Second},
	)
	alert, err := d.Detect(ev, hist)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, 100.0, alert.Confidence)
	assert.Len(t, alert.TradeIDs, 4)

	ev, hist = contextFor(
		tradeStep{SideBuy, 100, 100, 0},
		tradeStep{SideSell, 100, 100, 5 * time.Second},
		tradeStep{SideBuy, 100, 100, 10 * time.Second},
		tradeStep{SideSell, 100, 900, 15 * time.Second},
	)
	alert, err = d.Detect(ev, hist)
	require.NoError(t, err)
	assert.Nil(t, alert, "an unmatched trade must not alert")
}

func TestInsiderTradingDetector(t *testing.T) {
	d := NewInsiderTradingDetector()

	steps := make([]tradeStep, 0, 6)
	for i := 0; i < 5; i++ {
		steps = append(steps, tradeStep{SideBuy, 100, 100, time.Duration(i) * time.Second})
	}
	ev, hist := contextFor(append(steps, tradeStep{SideBuy, 100, 10000, 10 * time.Second})...)
	alert, err := d.Detect(ev, hist)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, 100.0, alert.Confidence)

	ev, hist = contextFor(append(steps, tradeStep{SideBuy, 100, 120, 10 * time.Second})...)
	alert, err = d.Detect(ev, hist)
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestLayeringDetector(t *testing.T) {
	d := NewLayeringDetector()

	var steps []tradeStep
	for i := 0; i < 6; i++ {
		steps = append(steps, tradeStep{SideBuy, 100 + float64(i)*0.5, 10, time.Duration(i) * time.Second})
	}
	ev, hist := contextFor(append(steps, tradeStep{SideSell, 101, 60, 8 * time.Second})...)
	alert, err := d.Detect(ev, hist)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.InDelta(t, 80.0, alert.Confidence, 1e-9)
	assert.Equal(t, "6", alert.Metadata["levels"])

	// same side continuation is not a reversal
	ev, hist = contextFor(append(steps, tradeStep{SideBuy, 103, 10, 8 * time.Second})...)
	alert, err = d.Detect(ev, hist)
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestFrontRunningDetector(t *testing.T) {
	d := NewFrontRunningDetector()

	ev, hist := contextFor(
		tradeStep{SideBuy, 100, 1000, 0},
		tradeStep{SideBuy, 100, 1000, 10 * time.Second},
		tradeStep{SideBuy, 100, 10000, 30 * time.Second},
	)
	for i := range hist.RecentTrades {
		hist.RecentTrades[i].TraderID = "TR-9"
	}
	hist.RecentTrades[0].OwnAccount = true
	hist.RecentTrades[1].OwnAccount = true
	ev.TraderID = "TR-9"

	alert, err := d.Detect(ev, hist)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.InDelta(t, 80.0, alert.Confidence, 1e-9)
	assert.Equal(t, []string{"T0", "T1"}, alert.TradeIDs)

	ev.OwnAccount = true
	alert, err = d.Detect(ev, hist)
	require.NoError(t, err)
	assert.Nil(t, alert, "own-account trades are never the victim")
}

func TestMomentumIgnitionDetector(t *testing.T) {
	d := NewMomentumIgnitionDetector()

	var steps []tradeStep
	for i := 0; i < 5; i++ {
		steps = append(steps, tradeStep{SideBuy, 100 + float64(i)*0.5, 10, time.Duration(i) * time.Second})
	}
	ev, hist := contextFor(append(steps, tradeStep{SideSell, 101.5, 50, 6 * time.Second})...)
	alert, err := d.Detect(ev, hist)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.InDelta(t, 75.0, alert.Confidence, 1e-9)
}

func TestPumpDumpDetector(t *testing.T) {
	d := NewPumpDumpDetector()

	ev, hist := contextFor(
		tradeStep{SideBuy, 100, 100, 0},
		tradeStep{SideBuy, 103, 100, time.Minute},
		tradeStep{SideBuy, 106, 100, 2 * time.Minute},
		tradeStep{SideBuy, 108, 100, 3 * time.Minute},
		tradeStep{SideBuy, 110, 100, 4 * time.Minute},
		tradeStep{SideSell, 105, 500, 4*time.Minute + 30*time.Second},
	)
	alert, err := d.Detect(ev, hist)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, 100.0, alert.Confidence)

	ev.Side = SideBuy
	alert, err = d.Detect(ev, hist)
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestSensitivityScalesConfidence(t *testing.T) {
	d := NewWashTradingDetector()
	cfg := d.Config()
	cfg.Sensitivity = 0.4
	cfg.Threshold = 10
	require.NoError(t, d.UpdateConfig(cfg))

	ev, hist := contextFor(
		tradeStep{SideBuy, 100, 100, 0},
		tradeStep{SideSell, 100, 100, time.Second},
		tradeStep{SideBuy, 100, 100, 2 * time.Second},
		tradeStep{SideSell, 100, 100, 3 * time.Second},
	)
	alert, err := d.Detect(ev, hist)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.InDelta(t, 50.0, alert.Confidence, 1e-9)
}

func TestAlertStamp(t *testing.T) {
	ev := testTrade("T1")
	ev.OrderID = "O1"
	now := time.Now()

	a := &Alert{Confidence: 140, RiskScore: -3, TradeIDs: []string{"T0"}}
	a.stamp("wash_trading", &ev, now)

	assert.NotZero(t, a.ID)
	assert.Equal(t, "wash_trading", a.Pattern)
	assert.Equal(t, AlertStatusOpen, a.Status)
	assert.Equal(t, now, a.DetectedAt)
	assert.Equal(t, "INFY", a.Instrument)
	assert.Equal(t, "ACC-1", a.AccountID)
	assert.Equal(t, []string{"T0", "T1"}, a.TradeIDs)
	assert.Equal(t, []string{"O1"}, a.OrderIDs)
	assert.Equal(t, 100.0, a.Confidence)
	assert.Equal(t, 0.0, a.RiskScore)
	assert.Equal(t, SeverityCritical, a.Severity)
}
