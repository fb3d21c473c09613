package session

import (
	"github.com/oklog/ulid/v2"

	alertv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/alert/v1"
	marketv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/market/v1"
)

// evaluatePair runs both rules against one (previous, current) finalized
// bucket pair. It is called exactly once per pair. Either rule alone produces
// an event; when both qualify on the same pair they are marked fired
// atomically under the combined reason.
func (s *Session) evaluatePair(st *symbolState, prev, curr *marketv1.MinuteBucket) *alertv1.AlertEvent {
	// Buy-flow breakout: one minute's incoming volume exceeds the whole
	// accumulated volume before it.
	before := prev.Volume
	incoming := curr.Volume - prev.Volume
	if incoming < 0 {
		incoming = 0
	}
	volumeBase := before
	if volumeBase < 1 {
		volumeBase = 1
	}
	signalBuyFlow := before > 0 && incoming > before
	fireBuyFlow := signalBuyFlow && !st.fired(alertv1.RuleBuyFlowBreakout)

	// Sell-one drop: best-ask queue shrinks past the ratio and absolute
	// gates, confirmed over consecutive qualifying minutes.
	askBase := prev.AskV1
	if askBase < 1 {
		askBase = 1
	}
	askDelta := prev.AskV1 - curr.AskV1
	askRatio := float64(askDelta) / float64(askBase)
	signalSell1 := askRatio >= s.cfg.AskDropThreshold && askDelta >= s.cfg.MinAbsDeltaAsk
	if signalSell1 {
		st.confirm++
	} else {
		st.confirm = 0
	}
	fireSell1 := signalSell1 && st.confirm >= s.cfg.ConfirmMinutes && !st.fired(alertv1.RuleSell1Drop)

	if !fireBuyFlow && !fireSell1 {
		return nil
	}

	var rules []alertv1.RuleID
	if fireBuyFlow {
		rules = append(rules, alertv1.RuleBuyFlowBreakout)
	}
	if fireSell1 {
		rules = append(rules, alertv1.RuleSell1Drop)
	}

	var reason string
	switch {
	case fireBuyFlow && fireSell1:
		reason = alertv1.ReasonCombined
	case fireBuyFlow:
		reason = string(alertv1.RuleBuyFlowBreakout)
	default:
		reason = string(alertv1.RuleSell1Drop)
	}

	st.markFired(rules)

	return &alertv1.AlertEvent{
		ID:       ulid.Make().String(),
		Code:     st.stock.Code,
		Name:     st.stock.Name,
		PoolType: st.stock.PoolType,
		Rules:    rules,

		PrevAskV1:    prev.AskV1,
		CurrAskV1:    curr.AskV1,
		AskDropRatio: askRatio,

		PrevVolume:        prev.Volume,
		CurrVolume:        curr.Volume,
		IncomingVolume:    incoming,
		VolumeChangeRatio: float64(incoming) / float64(volumeBase),

		SignalBuyFlow:   signalBuyFlow,
		SignalSell1Drop: signalSell1,

		PrevWindowTS: prev.TS,
		CurrWindowTS: curr.TS,
		DataQuality:  curr.DataQuality,
		Confidence:   curr.DataQuality.Confidence(),
		TriggerTS:    curr.TS,
		Reason:       reason,
	}
}
