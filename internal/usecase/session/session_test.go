package session

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alertv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/alert/v1"
	marketv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/market/v1"
)

var limitDown = decimal.RequireFromString("9.90")

func at(hh, mm, ss int) time.Time {
	return time.Date(2024, 5, 20, hh, mm, ss, 0, time.UTC)
}

// oneWord builds a snapshot pinned at the limit-down floor.
func oneWord(code string, ts time.Time, ask, volume int64) marketv1.Snapshot {
	return marketv1.Snapshot{
		Code:           code,
		Name:           "test",
		CurrentPrice:   limitDown,
		HighPrice:      limitDown,
		LimitDownPrice: limitDown,
		AskV1:          ask,
		Volume:         volume,
		DataQuality:    marketv1.DataQualityTickA1V,
		TS:             ts,
	}
}

// glitch builds a non-one-word snapshot whose high never breached the floor.
func glitch(code string, ts time.Time) marketv1.Snapshot {
	snap := oneWord(code, ts, 100, 100)
	snap.CurrentPrice = decimal.RequireFromString("9.89")
	return snap
}

// opened builds a snapshot whose intraday high traded above the floor.
func opened(code string, ts time.Time) marketv1.Snapshot {
	snap := oneWord(code, ts, 100, 100)
	snap.HighPrice = decimal.RequireFromString("9.95")
	return snap
}

func newTestSession(t *testing.T, cfg Config, codes ...string) *Session {
	t.Helper()
	s, err := NewSession(cfg, nil)
	require.NoError(t, err)
	stocks := make([]marketv1.PoolStock, 0, len(codes))
	for _, code := range codes {
		stocks = append(stocks, marketv1.PoolStock{Code: code, Name: "test", PoolType: marketv1.PoolTypeAll})
	}
	s.Register(stocks)
	return s
}

func TestNewSession_ConfigValidation(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  Config{AskDropThreshold: 0.5, ConfirmMinutes: 1},
		},
		{
			name:    "threshold zero",
			cfg:     Config{AskDropThreshold: 0, ConfirmMinutes: 1},
			wantErr: true,
		},
		{
			name:    "threshold at one",
			cfg:     Config{AskDropThreshold: 1, ConfirmMinutes: 1},
			wantErr: true,
		},
		{
			name:    "confirm minutes zero",
			cfg:     Config{AskDropThreshold: 0.5, ConfirmMinutes: 0},
			wantErr: true,
		},
		{
			name:    "confirm minutes too large",
			cfg:     Config{AskDropThreshold: 0.5, ConfirmMinutes: 21},
			wantErr: true,
		},
		{
			name:    "negative abs delta",
			cfg:     Config{AskDropThreshold: 0.5, ConfirmMinutes: 1, MinAbsDeltaAsk: -1},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewSession(tc.cfg, nil)
			if tc.wantErr {
				assert.Error(t, err)
				assert.Nil(t, s)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestSession_Register_NormalizesAndDeduplicates(t *testing.T) {
	s, err := NewSession(Config{AskDropThreshold: 0.5, ConfirmMinutes: 1}, nil)
	require.NoError(t, err)

	s.Register([]marketv1.PoolStock{
		{Code: "600519.XSHG", Name: "a", PoolType: marketv1.PoolTypeAll},
		{Code: "600519", Name: "dup", PoolType: marketv1.PoolTypeAll},
		{Code: "1", Name: "padded", PoolType: marketv1.PoolTypeAll},
		{Code: "not-a-code", Name: "bad", PoolType: marketv1.PoolTypeAll},
	})

	assert.Equal(t, []string{"600519", "000001"}, s.MonitorableCodes())
}

func TestSession_FirstBucketOnlySeedsBaseline(t *testing.T) {
	s := newTestSession(t, Config{AskDropThreshold: 0.3, ConfirmMinutes: 1}, "000001")

	// Two snapshots in the same minute, then a rollover: the first finalized
	// bucket has no predecessor and must not fire.
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 1, 5), 1000, 100)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 1, 45), 900, 120)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 2, 5), 100, 500)))
}

func TestSession_BuyFlowBreakout(t *testing.T) {
	s := newTestSession(t, Config{AskDropThreshold: 0.9, ConfirmMinutes: 1}, "000001")

	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 1, 10), 1000, 100)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 2, 10), 1000, 350)))
	// Rolling into 13:03 finalizes the 13:02 bucket and compares it against
	// 13:01: incoming 250 > before 100.
	ev := s.Evaluate(oneWord("000001", at(13, 3, 10), 1000, 360))
	require.NotNil(t, ev)

	assert.Equal(t, string(alertv1.RuleBuyFlowBreakout), ev.Reason)
	assert.Equal(t, []alertv1.RuleID{alertv1.RuleBuyFlowBreakout}, ev.Rules)
	assert.Equal(t, int64(100), ev.PrevVolume)
	assert.Equal(t, int64(350), ev.CurrVolume)
	assert.Equal(t, int64(250), ev.IncomingVolume)
	assert.True(t, ev.SignalBuyFlow)
	assert.False(t, ev.SignalSell1Drop)
	assert.Equal(t, at(13, 1, 10), ev.PrevWindowTS)
	assert.Equal(t, at(13, 2, 10), ev.CurrWindowTS)
	assert.Equal(t, marketv1.ConfidenceHigh, ev.Confidence)
	assert.NotEmpty(t, ev.ID)
}

func TestSession_BuyFlowRequiresNonZeroBaseline(t *testing.T) {
	s := newTestSession(t, Config{AskDropThreshold: 0.9, ConfirmMinutes: 1}, "000001")

	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 1, 0), 1000, 0)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 2, 0), 1000, 500)))
	// before == 0 never fires, however large the incoming volume.
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 3, 0), 1000, 501)))
}

func TestSession_Sell1Drop_ConsecutiveConfirmation(t *testing.T) {
	s := newTestSession(t, Config{AskDropThreshold: 0.3, ConfirmMinutes: 2}, "000001")

	// Ask queue 1000 -> 600 -> 300 across three one-word minutes.
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 1, 0), 1000, 100)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 2, 0), 600, 120)))
	// Pair (13:01, 13:02): ratio 0.4 qualifies, confirm=1 < 2, no fire yet.
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 3, 0), 300, 140)))

	// Session end flush finalizes 13:03 against 13:02: ratio 0.5, confirm=2.
	events := s.FlushPending()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Contains(t, ev.Reason, "sell1_drop")
	assert.Equal(t, []alertv1.RuleID{alertv1.RuleSell1Drop}, ev.Rules)
	assert.Equal(t, int64(600), ev.PrevAskV1)
	assert.Equal(t, int64(300), ev.CurrAskV1)
	assert.InDelta(t, 0.5, ev.AskDropRatio, 1e-9)
	assert.True(t, ev.SignalSell1Drop)
}

func TestSession_Sell1Drop_MinAbsDeltaGate(t *testing.T) {
	s := newTestSession(t, Config{AskDropThreshold: 0.3, MinAbsDeltaAsk: 500, ConfirmMinutes: 1}, "000001")

	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 1, 0), 100, 100)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 2, 0), 40, 110)))
	// Ratio 0.6 passes but the absolute shrink of 60 stays under the gate.
	assert.Empty(t, s.FlushPending())
}

func TestSession_NonOneWordMinuteResetsConfirmation(t *testing.T) {
	s := newTestSession(t, Config{AskDropThreshold: 0.3, ConfirmMinutes: 2}, "000001")

	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 1, 0), 1000, 100)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 2, 0), 600, 120)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 3, 0), 300, 140)))
	// Glitch breaks the streak before the 13:03 bucket can finalize.
	assert.Nil(t, s.Evaluate(glitch("000001", at(13, 3, 30))))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 4, 0), 150, 160)))

	// Without the glitch the flush pair would have been the second
	// consecutive qualifying minute; after the reset it is only the first.
	assert.Empty(t, s.FlushPending())
	// The symbol itself stays monitorable.
	assert.Equal(t, []string{"000001"}, s.MonitorableCodes())
}

func TestSession_RemovalPrecedence(t *testing.T) {
	s := newTestSession(t, Config{AskDropThreshold: 0.3, ConfirmMinutes: 1}, "000001", "000002")

	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 1, 0), 1000, 100)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 2, 0), 100, 120)))
	// High above the floor evicts regardless of the qualifying pair that a
	// rollover would have produced.
	assert.Nil(t, s.Evaluate(opened("000001", at(13, 2, 30))))

	assert.Equal(t, []string{"000002"}, s.MonitorableCodes())
	// Evicted symbols never fire afterwards, even on one-word data.
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 3, 0), 10, 5000)))
	assert.Empty(t, s.FlushPending())

	sum := s.Summary()
	assert.Equal(t, 1, sum.Removed)
	assert.Equal(t, 1, sum.Active)
}

func TestSession_AtMostOncePerRule(t *testing.T) {
	s := newTestSession(t, Config{AskDropThreshold: 0.3, ConfirmMinutes: 1}, "000001")

	// First breakout: 100 -> 350.
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 1, 0), 1000, 100)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 2, 0), 1000, 350)))
	ev := s.Evaluate(oneWord("000001", at(13, 3, 0), 1000, 360))
	require.NotNil(t, ev)
	require.Equal(t, string(alertv1.RuleBuyFlowBreakout), ev.Reason)

	// Second breakout-sized surge must stay silent for the buy-flow rule.
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 4, 0), 1000, 1000)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 5, 0), 1000, 3000)))
	assert.Equal(t, []alertv1.RuleID{alertv1.RuleBuyFlowBreakout}, s.FiredRules("000001"))

	// The other rule keeps running: a qualifying ask drop still fires.
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 6, 0), 100, 3100)))
	events := s.FlushPending()
	require.Len(t, events, 1)
	assert.Equal(t, string(alertv1.RuleSell1Drop), events[0].Reason)

	// Both rules fired: fully silenced.
	assert.Empty(t, s.MonitorableCodes())
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 7, 0), 1, 9000)))
	assert.Equal(t, 1, s.Summary().FullySilenced)
}

func TestSession_CombinedFiring(t *testing.T) {
	s := newTestSession(t, Config{AskDropThreshold: 0.3, ConfirmMinutes: 1}, "000001")

	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 1, 0), 1000, 100)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 2, 0), 300, 350)))
	ev := s.Evaluate(oneWord("000001", at(13, 3, 0), 300, 360))
	require.NotNil(t, ev)

	assert.Equal(t, alertv1.ReasonCombined, ev.Reason)
	assert.ElementsMatch(t, []alertv1.RuleID{alertv1.RuleBuyFlowBreakout, alertv1.RuleSell1Drop}, ev.Rules)
	assert.True(t, ev.SignalBuyFlow)
	assert.True(t, ev.SignalSell1Drop)

	// Both rules fired atomically: the symbol is terminally silenced.
	assert.Empty(t, s.MonitorableCodes())
	assert.Equal(t, 1, s.Summary().FullySilenced)
}

func TestSession_FlushIdempotence(t *testing.T) {
	s := newTestSession(t, Config{AskDropThreshold: 0.3, ConfirmMinutes: 1}, "000001")

	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 1, 0), 1000, 100)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 2, 0), 100, 350)))

	first := s.FlushPending()
	require.Len(t, first, 1)
	assert.Empty(t, s.FlushPending())
}

func TestSession_IgnoresUnknownAndOutOfOrder(t *testing.T) {
	s := newTestSession(t, Config{AskDropThreshold: 0.3, ConfirmMinutes: 1}, "000001")

	assert.Nil(t, s.Evaluate(oneWord("999999", at(13, 1, 0), 1000, 100)))

	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 2, 0), 1000, 100)))
	// A stale snapshot from an earlier minute must not disturb the bucket.
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 1, 30), 5, 5)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 3, 0), 100, 350)))

	events := s.FlushPending()
	require.Len(t, events, 1)
	assert.Equal(t, int64(100), events[0].PrevVolume)
}

func TestSession_Summary(t *testing.T) {
	s := newTestSession(t, Config{AskDropThreshold: 0.3, ConfirmMinutes: 5}, "000001", "000002", "000003")

	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 1, 0), 1000, 100)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 2, 0), 600, 110)))
	assert.Nil(t, s.Evaluate(oneWord("000001", at(13, 3, 0), 400, 120)))
	assert.Nil(t, s.Evaluate(opened("000002", at(13, 1, 0))))

	sum := s.Summary()
	assert.Equal(t, 2, sum.Active)
	assert.Equal(t, 1, sum.Removed)
	assert.Equal(t, 1, sum.Confirming)
	assert.Equal(t, 1, sum.PendingBuckets)
	assert.Equal(t, 0, sum.FiredBuyFlow)
}
