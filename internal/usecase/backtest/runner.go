// Package backtest replays one symbol's historical minute bars for one
// trading day through the same evaluation engine the live monitor uses, and
// reports the first firing plus replay diagnostics.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	alertv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/alert/v1"
	marketv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/market/v1"
	"github.com/yukun80/Quant-Gutao-chaodi/internal/usecase/session"
)

// Replay outcome reason codes, in diagnostic priority order.
const (
	ReasonNoData             = "no_data"
	ReasonNoDataInWindow     = "no_data_in_window"
	ReasonNoOneWordLimitDown = "no_one_word_limit_down"
	ReasonThresholdNotMet    = "threshold_not_met"
	ReasonInsufficientData   = "insufficient_data"
)

// SessionFactory builds a fresh engine per replay. Injection keeps live and
// backtest trigger logic on a single implementation.
type SessionFactory func() (*session.Session, error)

// Request describes one single-symbol, single-day replay. WindowStart and
// WindowEnd are inclusive HH:MM times of day.
type Request struct {
	Code        string
	Name        string
	TradeDate   time.Time
	WindowStart string
	WindowEnd   string
}

// Result is the structured replay outcome. Data-quality problems land here as
// a Reason, never as an error; CurrentBuyVolume and CumulativeBuyVolumeBefore
// are populated when known, nil otherwise.
type Result struct {
	Code      string `json:"code"`
	TradeDate string `json:"trade_date"`

	Triggered   bool             `json:"triggered"`
	TriggerTime *time.Time       `json:"trigger_time,omitempty"`
	Reason      string           `json:"reason"`
	Rules       []alertv1.RuleID `json:"rules,omitempty"`

	CurrentBuyVolume          *int64 `json:"current_buy_volume,omitempty"`
	CumulativeBuyVolumeBefore *int64 `json:"cumulative_buy_volume_before,omitempty"`

	DataQuality marketv1.DataQuality `json:"data_quality,omitempty"`
	Confidence  marketv1.Confidence  `json:"confidence,omitempty"`

	Samples                int `json:"samples"`
	SamplesInWindow        int `json:"samples_in_window"`
	SamplesOneWordInWindow int `json:"samples_one_word_in_window"`

	Event *alertv1.AlertEvent `json:"event,omitempty"`
}

// Runner drives replays against a minute-bar provider.
type Runner struct {
	provider marketv1.MinuteBarProvider
	factory  SessionFactory
	log      *zap.Logger
}

// NewRunner wires a replay runner. log may be nil.
func NewRunner(provider marketv1.MinuteBarProvider, factory SessionFactory, log *zap.Logger) (*Runner, error) {
	if provider == nil {
		return nil, fmt.Errorf("backtest: minute bar provider is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("backtest: session factory is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{provider: provider, factory: factory, log: log}, nil
}

// Run replays one (code, date). Provider and configuration failures return
// via the error path; every data-quality outcome returns a Result.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	code := marketv1.NormalizeCode(req.Code)
	if code == "" {
		return nil, fmt.Errorf("backtest: invalid stock code %q", req.Code)
	}
	windowStart, err := parseClock(req.WindowStart)
	if err != nil {
		return nil, fmt.Errorf("backtest: window start: %w", err)
	}
	windowEnd, err := parseClock(req.WindowEnd)
	if err != nil {
		return nil, fmt.Errorf("backtest: window end: %w", err)
	}
	if windowEnd < windowStart {
		return nil, fmt.Errorf("backtest: window end %s before start %s", req.WindowEnd, req.WindowStart)
	}

	bars, err := r.provider.FetchIntradayMinutes(ctx, code, req.TradeDate)
	if err != nil {
		return nil, fmt.Errorf("backtest: fetch minutes for %s: %w", code, err)
	}

	res := &Result{
		Code:      code,
		TradeDate: req.TradeDate.Format("2006-01-02"),
		Reason:    ReasonNoData,
		Samples:   len(bars),
	}
	if len(bars) == 0 {
		return res, nil
	}

	// Providers may return unordered rows; string timestamps sort the same
	// as their instants and the stable sort keeps replay deterministic.
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].TS < bars[j].TS })

	sess, err := r.factory()
	if err != nil {
		return nil, fmt.Errorf("backtest: build session: %w", err)
	}
	sess.Register([]marketv1.PoolStock{{Code: code, Name: req.Name, PoolType: marketv1.PoolTypeAll}})

	loc := req.TradeDate.Location()
	var cumVolume int64
	var sawGoodBar bool

	for _, bar := range bars {
		pb, parseErr := parseBar(bar, loc)
		if parseErr != nil {
			// Bad data short-circuits the replay with the last known-good
			// cumulative state preserved in the diagnostics.
			r.log.Warn("unparseable minute bar",
				zap.String("code", code),
				zap.String("ts", bar.TS),
				zap.Error(parseErr))
			res.Reason = ReasonInsufficientData
			if sawGoodBar {
				before := cumVolume
				res.CumulativeBuyVolumeBefore = &before
			}
			return res, nil
		}

		snap := snapshotFromBar(code, req.Name, pb, cumVolume)
		oneWord := snap.IsOneWordLimitDown()
		if oneWord {
			cumVolume += pb.volume
			snap.Volume = cumVolume
		}
		sawGoodBar = true

		if !inWindow(pb.ts, windowStart, windowEnd) {
			continue
		}
		res.SamplesInWindow++
		if oneWord {
			res.SamplesOneWordInWindow++
			res.DataQuality = pb.quality
			res.Confidence = pb.quality.Confidence()
		}

		if ev := sess.Evaluate(snap); ev != nil {
			return r.triggered(res, ev), nil
		}
	}

	// A still-pending final minute can carry the firing pair.
	if events := sess.FlushPending(); len(events) > 0 {
		return r.triggered(res, events[0]), nil
	}

	switch {
	case res.SamplesInWindow == 0:
		res.Reason = ReasonNoDataInWindow
	case res.SamplesOneWordInWindow == 0:
		res.Reason = ReasonNoOneWordLimitDown
	default:
		res.Reason = ReasonThresholdNotMet
	}
	return res, nil
}

func (r *Runner) triggered(res *Result, ev *alertv1.AlertEvent) *Result {
	res.Triggered = true
	res.Reason = ev.Reason
	res.Rules = ev.Rules
	ts := ev.TriggerTS
	res.TriggerTime = &ts
	incoming := ev.IncomingVolume
	before := ev.PrevVolume
	res.CurrentBuyVolume = &incoming
	res.CumulativeBuyVolumeBefore = &before
	res.DataQuality = ev.DataQuality
	res.Confidence = ev.Confidence
	res.Event = ev
	r.log.Info("backtest trigger",
		zap.String("code", res.Code),
		zap.String("reason", ev.Reason),
		zap.Time("trigger_ts", ev.TriggerTS))
	return res
}

// parseClock decodes an inclusive HH:MM time of day to minutes since midnight.
func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid HH:MM value %q", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func inWindow(ts time.Time, start, end int) bool {
	mod := ts.Hour()*60 + ts.Minute()
	return mod >= start && mod <= end
}
