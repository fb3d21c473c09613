// Package session implements the per-symbol streaming evaluation engine for
// one trading day. It folds ordered snapshot streams into one-minute buckets,
// compares adjacent buckets under two independent one-shot rules and tracks
// symbol lifecycle. The live poll loop and the backtest replay both drive the
// same Session, so trigger semantics cannot drift between the two paths.
package session

import (
	"go.uber.org/zap"

	alertv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/alert/v1"
	marketv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/market/v1"
)

// Session owns all per-symbol state for one trading day. It is
// single-threaded by contract: callers serialize Evaluate calls and, per
// symbol, deliver snapshots in non-decreasing timestamp order.
type Session struct {
	cfg Config
	log *zap.Logger

	index  map[string]int
	states []symbolState
}

// Summary is a compact snapshot of engine counters for logging and the
// status endpoint.
type Summary struct {
	Active         int `json:"active"`
	PartiallyFired int `json:"partially_fired"`
	FullySilenced  int `json:"fully_silenced"`
	Removed        int `json:"removed"`
	Confirming     int `json:"confirming"`
	PendingBuckets int `json:"pending_buckets"`
	FiredBuyFlow   int `json:"fired_buy_flow"`
	FiredSell1Drop int `json:"fired_sell1_drop"`
}

// NewSession validates the rule configuration and returns an empty engine.
// Register must be called before the first Evaluate.
func NewSession(cfg Config, log *zap.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		cfg:   cfg,
		log:   log,
		index: map[string]int{},
	}, nil
}

// Register resets all per-symbol state and loads the day's eligible universe.
// Codes are normalized; duplicates and malformed codes are dropped.
func (s *Session) Register(stocks []marketv1.PoolStock) {
	s.index = make(map[string]int, len(stocks))
	s.states = make([]symbolState, 0, len(stocks))
	for _, stock := range stocks {
		code := marketv1.NormalizeCode(stock.Code)
		if code == "" {
			s.log.Warn("dropping pool entry with malformed code", zap.String("code", stock.Code))
			continue
		}
		if _, dup := s.index[code]; dup {
			continue
		}
		stock.Code = code
		s.index[code] = len(s.states)
		s.states = append(s.states, symbolState{stock: stock})
	}
	s.log.Info("session pool registered", zap.Int("symbols", len(s.states)))
}

// Evaluate consumes one snapshot and returns an alert iff a rule fires on a
// minute rollover. It is total over snapshot content: malformed data never
// reaches it (the normalizers reject it) and no input panics.
func (s *Session) Evaluate(snap marketv1.Snapshot) *alertv1.AlertEvent {
	i, ok := s.index[snap.Code]
	if !ok {
		return nil
	}
	st := &s.states[i]
	if !st.evaluable() {
		return nil
	}

	// Removal precedence: trading above the floor evicts immediately, no
	// matter what confirmation state was pending.
	if snap.HighPrice.GreaterThan(snap.LimitDownPrice) {
		st.remove()
		s.log.Debug("limit-down board opened, symbol evicted",
			zap.String("code", snap.Code),
			zap.Time("ts", snap.TS))
		return nil
	}

	if !snap.IsOneWordLimitDown() {
		// A non-breaching glitch interrupts the in-progress bucket and the
		// confirmation streak but keeps the symbol monitorable.
		st.pending = nil
		st.confirm = 0
		return nil
	}

	key := minuteKey(snap.TS)
	if st.pending == nil {
		st.pending = newBucket(snap)
		return nil
	}
	switch {
	case key.Equal(st.pending.Minute):
		absorb(st.pending, snap)
		return nil
	case key.Before(st.pending.Minute):
		// Caller violated the per-symbol ordering contract.
		s.log.Debug("out-of-order snapshot dropped",
			zap.String("code", snap.Code),
			zap.Time("ts", snap.TS),
			zap.Time("pending_minute", st.pending.Minute))
		return nil
	}

	finalized := st.pending
	st.pending = newBucket(snap)
	return s.onFinalized(st, finalized)
}

// onFinalized slides the previous-bucket slot forward and evaluates the pair.
// The very first finalized bucket only seeds the baseline.
func (s *Session) onFinalized(st *symbolState, bucket *marketv1.MinuteBucket) *alertv1.AlertEvent {
	prev := st.prev
	st.prev = bucket
	if prev == nil {
		st.confirm = 0
		return nil
	}
	return s.evaluatePair(st, prev, bucket)
}

// FlushPending finalizes every in-progress bucket against its predecessor, in
// registration order. Call once at session end; a second call returns an
// empty slice because pending state was cleared by the first.
func (s *Session) FlushPending() []*alertv1.AlertEvent {
	events := make([]*alertv1.AlertEvent, 0)
	for i := range s.states {
		st := &s.states[i]
		if st.pending == nil || !st.evaluable() {
			continue
		}
		finalized := st.pending
		st.pending = nil
		if ev := s.onFinalized(st, finalized); ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

// MonitorableCodes returns the symbols still worth polling, in registration
// order: active plus partially-fired, excluding removed and fully silenced.
func (s *Session) MonitorableCodes() []string {
	codes := make([]string, 0, len(s.states))
	for i := range s.states {
		if s.states[i].evaluable() {
			codes = append(codes, s.states[i].stock.Code)
		}
	}
	return codes
}

// FiredRules returns the rules that already fired today for a symbol.
func (s *Session) FiredRules(code string) []alertv1.RuleID {
	i, ok := s.index[code]
	if !ok {
		return nil
	}
	return s.states[i].firedRules()
}

// Summary returns engine counters for diagnostics.
func (s *Session) Summary() Summary {
	var sum Summary
	for i := range s.states {
		st := &s.states[i]
		switch st.status {
		case statusActive:
			sum.Active++
		case statusPartiallyFired:
			sum.PartiallyFired++
		case statusFullySilenced:
			sum.FullySilenced++
		case statusRemoved:
			sum.Removed++
		}
		if st.confirm > 0 {
			sum.Confirming++
		}
		if st.pending != nil {
			sum.PendingBuckets++
		}
		if st.firedBuyFlow {
			sum.FiredBuyFlow++
		}
		if st.firedSell1 {
			sum.FiredSell1Drop++
		}
	}
	return sum
}
