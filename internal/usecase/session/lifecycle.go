package session

import (
	alertv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/alert/v1"
	marketv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/market/v1"
)

// symbolStatus is the per-symbol lifecycle state for one trading day.
type symbolStatus uint8

const (
	// statusActive: registered, no rule fired yet.
	statusActive symbolStatus = iota
	// statusPartiallyFired: exactly one rule fired; the other keeps running.
	statusPartiallyFired
	// statusFullySilenced: both rules fired; terminal, no further evaluation.
	statusFullySilenced
	// statusRemoved: traded above its limit-down price; terminal eviction.
	statusRemoved
)

// symbolState is one arena slot. Slots live in a slice indexed through a
// code->index table, so the hot path touches the map once and flush/summary
// iterate in registration order.
type symbolState struct {
	stock  marketv1.PoolStock
	status symbolStatus

	firedBuyFlow bool
	firedSell1   bool

	pending *marketv1.MinuteBucket
	prev    *marketv1.MinuteBucket
	confirm int
}

// evaluable reports whether the symbol still participates in evaluation.
func (st *symbolState) evaluable() bool {
	return st.status == statusActive || st.status == statusPartiallyFired
}

// remove evicts the symbol after it traded above its limit-down price. All
// runtime state is dropped; fired-rule history is irrelevant from here on.
func (st *symbolState) remove() {
	st.status = statusRemoved
	st.pending = nil
	st.prev = nil
	st.confirm = 0
}

// fired reports whether the given rule already fired for this symbol today.
func (st *symbolState) fired(id alertv1.RuleID) bool {
	switch id {
	case alertv1.RuleBuyFlowBreakout:
		return st.firedBuyFlow
	case alertv1.RuleSell1Drop:
		return st.firedSell1
	}
	return false
}

// markFired records a firing atomically for all rules in the event. Once both
// rules have fired the symbol is fully silenced and its runtime state dropped.
func (st *symbolState) markFired(rules []alertv1.RuleID) {
	for _, id := range rules {
		switch id {
		case alertv1.RuleBuyFlowBreakout:
			st.firedBuyFlow = true
		case alertv1.RuleSell1Drop:
			st.firedSell1 = true
		}
	}
	if st.firedBuyFlow && st.firedSell1 {
		st.status = statusFullySilenced
		st.pending = nil
		st.prev = nil
		st.confirm = 0
		return
	}
	st.status = statusPartiallyFired
}

// firedRules returns the rule identifiers already fired for this symbol.
func (st *symbolState) firedRules() []alertv1.RuleID {
	var rules []alertv1.RuleID
	if st.firedBuyFlow {
		rules = append(rules, alertv1.RuleBuyFlowBreakout)
	}
	if st.firedSell1 {
		rules = append(rules, alertv1.RuleSell1Drop)
	}
	return rules
}
