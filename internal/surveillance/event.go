package surveillance

import (
	"fmt"
	"strings"
	"time"
)

// Side is the direction of a trade.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
	SideShortSell
	SideCover
)

var sideNames = [...]string{"unknown", "buy", "sell", "short_sell", "cover"}

func (s Side) String() string {
	if int(s) < len(sideNames) {
		return sideNames[s]
	}
	return sideNames[SideUnknown]
}

// IsBuy reports whether the trade adds long exposure (buy or cover).
func (s Side) IsBuy() bool { return s == SideBuy || s == SideCover }

// IsSell reports whether the trade adds short exposure (sell or short sell).
func (s Side) IsSell() bool { return s == SideSell || s == SideShortSell }

// Opposes reports whether two sides trade against each other.
func (s Side) Opposes(other Side) bool {
	return (s.IsBuy() && other.IsSell()) || (s.IsSell() && other.IsBuy())
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(text []byte) error {
	v, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSide accepts the lowercase side names, case-insensitively.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "buy", "b":
		return SideBuy, nil
	case "sell", "s":
		return SideSell, nil
	case "short_sell", "short":
		return SideShortSell, nil
	case "cover":
		return SideCover, nil
	}
	return SideUnknown, fmt.Errorf("unknown trade side %q", v)
}

// Segment is the market segment the instrument trades in.
type Segment uint8

const (
	SegmentEquity Segment = iota
	SegmentFutures
	SegmentOptions
	SegmentCommodity
	SegmentCurrency
)

var segmentNames = [...]string{"equity", "futures", "options", "commodity", "currency"}

func (s Segment) String() string {
	if int(s) < len(segmentNames) {
		return segmentNames[s]
	}
	return "unknown"
}

func (s Segment) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Segment) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for i, n := range segmentNames {
		if n == name {
			*s = Segment(i)
			return nil
		}
	}
	return fmt.Errorf("unknown market segment %q", string(text))
}

// TradeEvent is one executed trade as reported by the exchange feed.
type TradeEvent struct {
	ID         string    `json:"id"`
	Instrument string    `json:"instrument"`
	AccountID  string    `json:"account_id"`
	ClientID   string    `json:"client_id,omitempty"`
	TraderID   string    `json:"trader_id,omitempty"`
	Side       Side      `json:"side"`
	Segment    Segment   `json:"segment"`
	Quantity   uint64    `json:"quantity"`
	Price      float64   `json:"price"`
	Value      float64   `json:"value"`
	Exchange   string    `json:"exchange,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	OrderID    string    `json:"order_id,omitempty"`
	OwnAccount bool      `json:"own_account"`
	Brokerage  float64   `json:"brokerage,omitempty"`
	Taxes      float64   `json:"taxes,omitempty"`
}

// Key identifies the historical context a trade contributes to.
func (t *TradeEvent) Key() string {
	return ContextKey(t.Instrument, t.AccountID)
}

// contextKeySep cannot appear in instrument symbols or account ids, so
// ("A_B", "C") and ("A", "B_C") stay distinct keys.
const contextKeySep = "\x00"

// ContextKey joins instrument and account into a context store key.
func ContextKey(instrument, account string) string {
	return instrument + contextKeySep + account
}

// Normalize fills derived fields the feed may leave empty.
func (t *TradeEvent) Normalize() {
	if t.Value == 0 && t.Quantity > 0 && t.Price > 0 {
		t.Value = float64(t.Quantity) * t.Price
	}
}

// Validate checks the structural constraints of a trade. now is the reference
// clock; skew is how far into the future a timestamp may drift.
func (t *TradeEvent) Validate(now time.Time, skew time.Duration) error {
	switch {
	case t.ID == "":
		return fmt.Errorf("%w: empty trade id", ErrInvalidTrade)
	case t.Instrument == "":
		return fmt.Errorf("%w: trade %s has empty instrument", ErrInvalidTrade, t.ID)
	case strings.Contains(t.Instrument, contextKeySep) || strings.Contains(t.AccountID, contextKeySep):
		return fmt.Errorf("%w: trade %s has a NUL byte in instrument or account", ErrInvalidTrade, t.ID)
	case t.Quantity == 0:
		return fmt.Errorf("%w: trade %s has zero quantity", ErrInvalidTrade, t.ID)
	case !(t.Price > 0):
		return fmt.Errorf("%w: trade %s has non-positive price %v", ErrInvalidTrade, t.ID, t.Price)
	case !(t.Value > 0):
		return fmt.Errorf("%w: trade %s has non-positive value %v", ErrInvalidTrade, t.ID, t.Value)
	case t.Timestamp.IsZero():
		return fmt.Errorf("%w: trade %s has no timestamp", ErrInvalidTrade, t.ID)
	case t.Timestamp.After(now.Add(skew)):
		return fmt.Errorf("%w: trade %s timestamp %s is in the future", ErrInvalidTrade, t.ID, t.Timestamp.Format(time.RFC3339Nano))
	}
	return nil
}

// Quote is the best bid and offer for an instrument.
type Quote struct {
	BidPrice    float64   `json:"bid_price"`
	BidQuantity uint64    `json:"bid_quantity"`
	AskPrice    float64   `json:"ask_price"`
	AskQuantity uint64    `json:"ask_quantity"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Mid returns the midpoint, or zero when either side is missing.
func (q Quote) Mid() float64 {
	if q.BidPrice <= 0 || q.AskPrice <= 0 {
		return 0
	}
	return (q.BidPrice + q.AskPrice) / 2
}
