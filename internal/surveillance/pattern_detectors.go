package surveillance

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Built-in pattern names.
const (
	PatternPumpDump         = "pump_dump"
	PatternLayering         = "layering"
	PatternWashTrading      = "wash_trading"
	PatternInsiderTrading   = "insider_trading"
	PatternFrontRunning     = "front_running"
	PatternMomentumIgnition = "momentum_ignition"
)

// referenceSensitivity leaves raw scores unscaled.
const referenceSensitivity = 0.8

// BuiltinDetectors returns a fresh instance of every built-in detector.
func BuiltinDetectors() []Detector {
	return []Detector{
		NewPumpDumpDetector(),
		NewLayeringDetector(),
		NewWashTradingDetector(),
		NewInsiderTradingDetector(),
		NewFrontRunningDetector(),
		NewMomentumIgnitionDetector(),
	}
}

func scaledConfidence(raw float64, cfg PatternConfig) float64 {
	return clampScore(raw * (cfg.Sensitivity / referenceSensitivity))
}

// ramp maps v onto [0,1]: 0 at lo, 1 at hi.
func ramp(v, lo, hi float64) float64 {
	if hi <= lo {
		if v >= hi {
			return 1
		}
		return 0
	}
	return math.Max(0, math.Min(1, (v-lo)/(hi-lo)))
}

// windowed returns the context trades inside the pattern window ending at ev.
func windowed(ev *TradeEvent, hist *HistoricalContext, window time.Duration) []TradeEvent {
	if window <= 0 {
		return hist.RecentTrades
	}
	return hist.Since(ev.Timestamp.Add(-window))
}

// previous returns the window without ev itself.
func previous(ev *TradeEvent, trades []TradeEvent) []TradeEvent {
	if n := len(trades); n > 0 && trades[n-1].ID == ev.ID {
		return trades[:n-1]
	}
	return trades
}

func tradeIDs(trades []TradeEvent) []string {
	ids := make([]string, 0, len(trades))
	for i := range trades {
		ids = append(ids, trades[i].ID)
	}
	return ids
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

// =======================
// PUMP & DUMP DETECTOR
// =======================

// PumpDumpDetector flags a sell into a peak that the same account drove up
// with buying earlier in the window.
type PumpDumpDetector struct {
	BaseDetector
}

func NewPumpDumpDetector() *PumpDumpDetector {
	d := &PumpDumpDetector{}
	cfg := DefaultPatternConfig()
	cfg.Window = 30 * time.Minute
	cfg.Params = map[string]float64{"rise_pct": 5, "drop_pct": 2}
	d.Configure(PatternPumpDump, cfg)
	return d
}

func (d *PumpDumpDetector) Detect(ev *TradeEvent, hist *HistoricalContext) (*Alert, error) {
	cfg := d.Config()
	if !ev.Side.IsSell() {
		return nil, nil
	}
	prior := previous(ev, windowed(ev, hist, cfg.Window))
	if len(prior) < cfg.MinTrades || len(prior) == 0 {
		return nil, nil
	}

	// largest run-up from a running low, and the price it peaked at
	low, peak := prior[0].Price, prior[0].Price
	var rise, buyQty, totalQty float64
	for i := range prior {
		p := prior[i].Price
		if p < low {
			low = p
		}
		if r := (p - low) / low * 100; r > rise {
			rise, peak = r, p
		}
		totalQty += float64(prior[i].Quantity)
		if prior[i].Side.IsBuy() {
			buyQty += float64(prior[i].Quantity)
		}
	}

	risePct := cfg.Param("rise_pct", 5)
	dropPct := cfg.Param("drop_pct", 2)
	drop := (peak - ev.Price) / peak * 100
	buyShare := buyQty / totalQty
	if rise < risePct || drop < dropPct || buyShare < 0.6 {
		return nil, nil
	}

	raw := 50*ramp(rise, 0, 2*risePct) + 30*ramp(drop, 0, 2*dropPct) + 20*buyShare
	confidence := scaledConfidence(raw, cfg)
	if confidence < cfg.Threshold {
		return nil, nil
	}
	return &Alert{
		Title:       "Potential pump and dump",
		Description: fmt.Sprintf("Price rose %.2f%% on buying then sold %.2f%% off the peak", rise, drop),
		Confidence:  confidence,
		RiskScore:   confidence,
		TradeIDs:    tradeIDs(prior),
		Metadata: map[string]string{
			"rise_pct":  formatFloat(rise),
			"drop_pct":  formatFloat(drop),
			"buy_share": formatFloat(buyShare),
		},
	}, nil
}

// =======================
// LAYERING DETECTOR
// =======================

// LayeringDetector flags a trade that reverses a run of same-side prints
// stepping through successive price levels.
type LayeringDetector struct {
	BaseDetector
}

func NewLayeringDetector() *LayeringDetector {
	d := &LayeringDetector{}
	cfg := DefaultPatternConfig()
	cfg.Window = 2 * time.Minute
	cfg.MinTrades = 4
	cfg.Params = map[string]float64{"min_levels": 4}
	d.Configure(PatternLayering, cfg)
	return d
}

func (d *LayeringDetector) Detect(ev *TradeEvent, hist *HistoricalContext) (*Alert, error) {
	cfg := d.Config()
	prior := previous(ev, windowed(ev, hist, cfg.Window))
	if len(prior) < cfg.MinTrades || len(prior) == 0 {
		return nil, nil
	}

	// walk back over the run of trades opposing ev
	run := 0
	for i := len(prior) - 1; i >= 0 && prior[i].Side.Opposes(ev.Side); i-- {
		run++
	}
	layer := prior[len(prior)-run:]
	if run < cfg.MinTrades {
		return nil, nil
	}

	levels := 1
	for i := 1; i < len(layer); i++ {
		if layer[i].Price != layer[i-1].Price {
			levels++
		}
	}
	minLevels := cfg.Param("min_levels", 4)
	if float64(levels) < minLevels {
		return nil, nil
	}

	raw := 60 + 40*ramp(float64(levels), minLevels, 2*minLevels)
	confidence := scaledConfidence(raw, cfg)
	if confidence < cfg.Threshold {
		return nil, nil
	}
	return &Alert{
		Title:       "Potential layering",
		Description: fmt.Sprintf("%d %s prints across %d price levels reversed by a %s", run, layer[0].Side, levels, ev.Side),
		Confidence:  confidence,
		RiskScore:   confidence * 0.9,
		TradeIDs:    tradeIDs(layer),
		Metadata: map[string]string{
			"levels": strconv.Itoa(levels),
			"run":    strconv.Itoa(run),
		},
	}, nil
}

// =======================
// WASH TRADING DETECTOR
// =======================

// WashTradingDetector flags buy/sell prints by one account that match each
// other in price, size and time.
type WashTradingDetector struct {
	BaseDetector
}

func NewWashTradingDetector() *WashTradingDetector {
	d := &WashTradingDetector{}
	cfg := DefaultPatternConfig()
	cfg.MinTrades = 4
	cfg.Params = map[string]float64{
		"price_tolerance":  0.001,
		"qty_tolerance":    0.05,
		"max_gap_seconds":  30,
		"own_account_lift": 10,
	}
	d.Configure(PatternWashTrading, cfg)
	return d
}

func (d *WashTradingDetector) Detect(ev *TradeEvent, hist *HistoricalContext) (*Alert, error) {
	cfg := d.Config()
	trades := windowed(ev, hist, cfg.Window)
	if len(trades) < cfg.MinTrades || len(trades) < 2 {
		return nil, nil
	}

	priceTol := cfg.Param("price_tolerance", 0.001)
	qtyTol := cfg.Param("qty_tolerance", 0.05)
	maxGap := time.Duration(cfg.Param("max_gap_seconds", 30) * float64(time.Second))
	matched := func(a, b *TradeEvent) bool {
		if !a.Side.Opposes(b.Side) {
			return false
		}
		if math.Abs(a.Price-b.Price) > a.Price*priceTol {
			return false
		}
		if math.Abs(float64(a.Quantity)-float64(b.Quantity)) > float64(a.Quantity)*qtyTol {
			return false
		}
		gap := a.Timestamp.Sub(b.Timestamp)
		if gap < 0 {
			gap = -gap
		}
		return gap <= maxGap
	}

	var suspicious []TradeEvent
	evMatched := false
	for i := range trades {
		for j := range trades {
			if i != j && matched(&trades[i], &trades[j]) {
				suspicious = append(suspicious, trades[i])
				if trades[i].ID == ev.ID {
					evMatched = true
				}
				break
			}
		}
	}
	if !evMatched {
		return nil, nil
	}

	ratio := float64(len(suspicious)) / float64(len(trades))
	raw := 100 * ratio
	if ev.OwnAccount {
		raw += cfg.Param("own_account_lift", 10)
	}
	confidence := scaledConfidence(raw, cfg)
	if confidence < cfg.Threshold {
		return nil, nil
	}
	return &Alert{
		Title:       "Potential wash trading",
		Description: fmt.Sprintf("%d of %d prints offset each other at matching price and size", len(suspicious), len(trades)),
		Confidence:  confidence,
		RiskScore:   confidence,
		TradeIDs:    tradeIDs(suspicious),
		Metadata: map[string]string{
			"matched_ratio": formatFloat(ratio),
			"own_account":   strconv.FormatBool(ev.OwnAccount),
		},
	}, nil
}

// =======================
// INSIDER TRADING DETECTOR
// =======================

// InsiderTradingDetector flags a trade far larger than the account's usual
// size in a quiet market.
type InsiderTradingDetector struct {
	BaseDetector
}

func NewInsiderTradingDetector() *InsiderTradingDetector {
	d := &InsiderTradingDetector{}
	cfg := DefaultPatternConfig()
	cfg.Window = 0
	cfg.Params = map[string]float64{"value_multiple": 10, "quiet_volatility": 0.02}
	d.Configure(PatternInsiderTrading, cfg)
	return d
}

func (d *InsiderTradingDetector) Detect(ev *TradeEvent, hist *HistoricalContext) (*Alert, error) {
	cfg := d.Config()
	prior := previous(ev, windowed(ev, hist, cfg.Window))
	if len(prior) < cfg.MinTrades || len(prior) == 0 {
		return nil, nil
	}

	var value float64
	for i := range prior {
		value += prior[i].Value
	}
	typical := value / float64(len(prior))
	multiple := cfg.Param("value_multiple", 10)
	ratio := ev.Value / typical
	if ratio < multiple {
		return nil, nil
	}

	raw := 60 + 30*ramp(ratio, multiple, 3*multiple)
	if hist.PriceVolatility < cfg.Param("quiet_volatility", 0.02) {
		raw += 10
	}
	confidence := scaledConfidence(raw, cfg)
	if confidence < cfg.Threshold {
		return nil, nil
	}
	return &Alert{
		Title:       "Unusually large position",
		Description: fmt.Sprintf("Trade value %.2f is %.1fx the account's typical %.2f", ev.Value, ratio, typical),
		Confidence:  confidence,
		RiskScore:   math.Min(100, confidence*1.1),
		Metadata: map[string]string{
			"value_ratio": formatFloat(ratio),
			"volatility":  formatFloat(hist.PriceVolatility),
		},
	}, nil
}

// =======================
// FRONT RUNNING DETECTOR
// =======================

// FrontRunningDetector flags a large client trade preceded by own-account
// trades on the same side by the same trader.
type FrontRunningDetector struct {
	BaseDetector
}

func NewFrontRunningDetector() *FrontRunningDetector {
	d := &FrontRunningDetector{}
	cfg := DefaultPatternConfig()
	cfg.Window = 5 * time.Minute
	cfg.MinTrades = 1
	cfg.Params = map[string]float64{"lead_seconds": 60, "client_multiple": 3}
	d.Configure(PatternFrontRunning, cfg)
	return d
}

func (d *FrontRunningDetector) Detect(ev *TradeEvent, hist *HistoricalContext) (*Alert, error) {
	cfg := d.Config()
	if ev.OwnAccount || ev.TraderID == "" {
		return nil, nil
	}
	prior := previous(ev, windowed(ev, hist, cfg.Window))
	lead := time.Duration(cfg.Param("lead_seconds", 60) * float64(time.Second))

	var leaders []TradeEvent
	var leadValue float64
	for i := range prior {
		t := &prior[i]
		if !t.OwnAccount || t.TraderID != ev.TraderID || t.Side.IsBuy() != ev.Side.IsBuy() {
			continue
		}
		if ev.Timestamp.Sub(t.Timestamp) > lead || t.Timestamp.After(ev.Timestamp) {
			continue
		}
		leaders = append(leaders, *t)
		leadValue += t.Value
	}
	if len(leaders) < cfg.MinTrades || len(leaders) == 0 {
		return nil, nil
	}
	clientMultiple := cfg.Param("client_multiple", 3)
	if ev.Value < clientMultiple*leadValue/float64(len(leaders)) {
		return nil, nil
	}

	raw := 70 + 10*float64(len(leaders)-1)
	confidence := scaledConfidence(raw, cfg)
	if confidence < cfg.Threshold {
		return nil, nil
	}
	return &Alert{
		Title:       "Potential front running",
		Description: fmt.Sprintf("Trader %s traded own account %d times ahead of a client %s", ev.TraderID, len(leaders), ev.Side),
		Confidence:  confidence,
		RiskScore:   math.Min(100, confidence+10),
		TradeIDs:    tradeIDs(leaders),
		Metadata: map[string]string{
			"trader_id":  ev.TraderID,
			"lead_value": formatFloat(leadValue),
		},
	}, nil
}

// =======================
// MOMENTUM IGNITION DETECTOR
// =======================

// MomentumIgnitionDetector flags a burst of same-side prints that moves the
// price, followed by a trade in the other direction.
type MomentumIgnitionDetector struct {
	BaseDetector
}

func NewMomentumIgnitionDetector() *MomentumIgnitionDetector {
	d := &MomentumIgnitionDetector{}
	cfg := DefaultPatternConfig()
	cfg.Window = 10 * time.Second
	cfg.MinTrades = 5
	cfg.Params = map[string]float64{"move_pct": 1}
	d.Configure(PatternMomentumIgnition, cfg)
	return d
}

func (d *MomentumIgnitionDetector) Detect(ev *TradeEvent, hist *HistoricalContext) (*Alert, error) {
	cfg := d.Config()
	burst := previous(ev, windowed(ev, hist, cfg.Window))
	if len(burst) < cfg.MinTrades || len(burst) < 2 {
		return nil, nil
	}
	for i := range burst {
		if !burst[i].Side.Opposes(ev.Side) {
			return nil, nil
		}
	}

	first, last := burst[0].Price, burst[len(burst)-1].Price
	move := (last - first) / first * 100
	if burst[0].Side.IsSell() {
		move = -move
	}
	movePct := cfg.Param("move_pct", 1)
	if move < movePct {
		return nil, nil
	}

	raw := 50 + 50*ramp(move, movePct, 3*movePct)
	confidence := scaledConfidence(raw, cfg)
	if confidence < cfg.Threshold {
		return nil, nil
	}
	return &Alert{
		Title:       "Potential momentum ignition",
		Description: fmt.Sprintf("%d %s prints moved price %.2f%% before a %s", len(burst), burst[0].Side, move, ev.Side),
		Confidence:  confidence,
		RiskScore:   confidence,
		TradeIDs:    tradeIDs(burst),
		Metadata: map[string]string{
			"move_pct": formatFloat(move),
			"burst":    strconv.Itoa(len(burst)),
		},
	}, nil
}
