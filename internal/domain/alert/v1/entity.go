package alertv1

import (
	"fmt"
	"strings"
	"time"

	marketv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/market/v1"
)

// RuleID identifies one of the two independent trigger rules.
type RuleID string

const (
	// RuleBuyFlowBreakout fires when one minute's incoming volume exceeds the
	// whole day's accumulated volume before it.
	RuleBuyFlowBreakout RuleID = "buy_flow_breakout"
	// RuleSell1Drop fires after enough consecutive minutes of best-ask
	// queue shrinkage.
	RuleSell1Drop RuleID = "sell1_drop"
)

// ReasonCombined is the reason code used when both rules fire on the same
// bucket pair.
const ReasonCombined = "buy_flow_breakout_and_sell1_drop"

// AlertEvent is the immutable payload emitted once per rule firing. Buy-flow
// fields are meaningful iff SignalBuyFlow is set; ask fields are always
// populated from the compared bucket pair.
type AlertEvent struct {
	ID       string            `json:"id"`
	Code     string            `json:"code"`
	Name     string            `json:"name"`
	PoolType marketv1.PoolType `json:"pool_type"`
	Rules    []RuleID          `json:"rules"`

	PrevAskV1    int64   `json:"prev_ask_v1"`
	CurrAskV1    int64   `json:"curr_ask_v1"`
	AskDropRatio float64 `json:"ask_drop_ratio"`

	PrevVolume        int64   `json:"prev_volume"`
	CurrVolume        int64   `json:"curr_volume"`
	IncomingVolume    int64   `json:"incoming_volume"`
	VolumeChangeRatio float64 `json:"volume_change_ratio"`

	SignalBuyFlow   bool `json:"signal_buy_flow"`
	SignalSell1Drop bool `json:"signal_sell1_drop"`

	PrevWindowTS time.Time            `json:"prev_window_ts"`
	CurrWindowTS time.Time            `json:"curr_window_ts"`
	DataQuality  marketv1.DataQuality `json:"data_quality"`
	Confidence   marketv1.Confidence  `json:"confidence"`
	TriggerTS    time.Time            `json:"trigger_ts"`
	Reason       string               `json:"reason"`
}

// HasRule reports whether this event fired the given rule.
func (e *AlertEvent) HasRule(id RuleID) bool {
	for _, r := range e.Rules {
		if r == id {
			return true
		}
	}
	return false
}

// FormatMessage renders the human-readable alert body delivered to the
// messaging endpoint.
func (e *AlertEvent) FormatMessage() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s 封单异动\n", e.PoolType, e.Code, e.Name)
	fmt.Fprintf(&b, "reason: %s\n", e.Reason)
	fmt.Fprintf(&b, "prev window ask_v1: %d\n", e.PrevAskV1)
	fmt.Fprintf(&b, "curr window ask_v1: %d\n", e.CurrAskV1)
	fmt.Fprintf(&b, "ask drop ratio: %.2f%%\n", e.AskDropRatio*100)
	fmt.Fprintf(&b, "prev window volume: %d\n", e.PrevVolume)
	fmt.Fprintf(&b, "curr window volume: %d\n", e.CurrVolume)
	fmt.Fprintf(&b, "incoming volume: %d\n", e.IncomingVolume)
	fmt.Fprintf(&b, "signals: buy_flow=%t sell1_drop=%t\n", e.SignalBuyFlow, e.SignalSell1Drop)
	fmt.Fprintf(&b, "data quality: %s/%s\n", e.DataQuality, e.Confidence)
	fmt.Fprintf(&b, "trigger time: %s", e.TriggerTS.Format("2006-01-02 15:04:05"))
	return b.String()
}
