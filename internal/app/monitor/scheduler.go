// Package monitor runs the daily schedule: the pre-open one-word scan, one
// live monitoring session inside the afternoon window, and the operational
// HTTP surface.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	alertv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/alert/v1"
	marketv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/market/v1"
	"github.com/yukun80/Quant-Gutao-chaodi/internal/usecase/session"
	"github.com/yukun80/Quant-Gutao-chaodi/pkg/config"
)

// preopenMaxRowsPerChunk bounds one summary message so DingTalk does not
// truncate it.
const preopenMaxRowsPerChunk = 20

// TradingCalendar answers whether a date is a trading day.
type TradingCalendar interface {
	IsTradingDay(ctx context.Context, day time.Time) (bool, error)
}

// TextNotifier posts plain text messages, used for pre-open summaries.
type TextNotifier interface {
	SendText(ctx context.Context, body string) bool
}

// AlertArchive persists fired alerts.
type AlertArchive interface {
	Store(ctx context.Context, event *alertv1.AlertEvent) error
}

// SessionFactory builds a fresh engine for one live session.
type SessionFactory func() (*session.Session, error)

// Scheduler drives the daily cycle. It owns no engine state between days;
// each trading day gets a fresh session.
type Scheduler struct {
	cfg      *config.Config
	source   marketv1.SnapshotSource
	registry marketv1.PoolRegistry
	calendar TradingCalendar
	notifier TextNotifier
	sinks    []alertv1.Sink
	archive  AlertArchive
	factory  SessionFactory
	status   *RuntimeStatus
	log      *zap.Logger

	preopenMin int
	startMin   int
	endMin     int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// SchedulerDeps collects the scheduler collaborators. Notifier and Archive
// are optional.
type SchedulerDeps struct {
	Source   marketv1.SnapshotSource
	Registry marketv1.PoolRegistry
	Calendar TradingCalendar
	Notifier TextNotifier
	Sinks    []alertv1.Sink
	Archive  AlertArchive
	Factory  SessionFactory
	Status   *RuntimeStatus
	Log      *zap.Logger
}

// NewScheduler wires the scheduler. The config must already be validated.
func NewScheduler(cfg *config.Config, deps SchedulerDeps) (*Scheduler, error) {
	if deps.Source == nil || deps.Registry == nil || deps.Calendar == nil || deps.Factory == nil || deps.Status == nil {
		return nil, fmt.Errorf("monitor: source, registry, calendar, factory and status are required")
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cfg:        cfg,
		source:     deps.Source,
		registry:   deps.Registry,
		calendar:   deps.Calendar,
		notifier:   deps.Notifier,
		sinks:      deps.Sinks,
		archive:    deps.Archive,
		factory:    deps.Factory,
		status:     deps.Status,
		log:        log,
		preopenMin: mustClockMinutes(cfg.Window.PreopenScan),
		startMin:   mustClockMinutes(cfg.Window.LiveStart),
		endMin:     mustClockMinutes(cfg.Window.LiveEnd),
		now:        time.Now,
		sleep:      sleepCtx,
	}, nil
}

// Run executes the daily schedule until the context is cancelled: pre-open
// summary once the scan time passes, then a single live session per trading
// day inside the monitor window.
func (s *Scheduler) Run(ctx context.Context) error {
	var stateDate string
	var preopenDone, isTradeDay bool
	var selected []marketv1.PoolStock

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := s.now()
		today := now.Format("2006-01-02")
		if stateDate != today {
			stateDate = today
			preopenDone = false
			isTradeDay = false
			selected = nil
		}

		inWindow := s.inMonitorWindow(now)
		s.status.SetMonitorWindow(inWindow, now)

		if !preopenDone && minutesOfDay(now) >= s.preopenMin {
			preopenDone = true
			isTradeDay, selected = s.runPreopen(ctx, now)
		}

		switch {
		case inWindow && s.status.LastLiveDate() == today:
			if err := s.sleep(ctx, 15*time.Second); err != nil {
				return err
			}
		case inWindow && !isTradeDay:
			if err := s.sleep(ctx, 30*time.Second); err != nil {
				return err
			}
		case inWindow:
			s.log.Info("monitor window entered, launching live session",
				zap.Int("symbols", len(selected)))
			if err := s.runLiveSession(ctx, selected); err != nil {
				if ctx.Err() != nil {
					return err
				}
				s.status.MarkError(err.Error(), s.now())
				s.log.Error("live session failed", zap.Error(err))
			}
			if err := s.sleep(ctx, 5*time.Second); err != nil {
				return err
			}
		default:
			if err := s.sleep(ctx, 30*time.Second); err != nil {
				return err
			}
		}
	}
}

// runPreopen checks the calendar and, on a trading day, scans the universe
// for one-word limit-down symbols and sends the summary. It returns the
// trading-day flag and the symbols the live session should watch.
func (s *Scheduler) runPreopen(ctx context.Context, now time.Time) (bool, []marketv1.PoolStock) {
	isTradeDay, err := s.calendar.IsTradingDay(ctx, now)
	if err != nil {
		s.status.MarkError(fmt.Sprintf("trading day check failed: %v", err), now)
		s.log.Error("trading day check failed", zap.Error(err))
		return false, nil
	}
	if !isTradeDay {
		s.log.Info("today is not a trading day, skipping pre-open summary and live session")
		return false, nil
	}

	selected, err := s.scanPreopenOneWord(ctx, now)
	if err != nil {
		s.status.MarkError(fmt.Sprintf("pre-open scan failed: %v", err), now)
		s.log.Error("pre-open scan failed", zap.Error(err))
		return true, nil
	}
	s.notifyPreopenSummary(ctx, now, selected)
	s.log.Info("pre-open summary done", zap.Int("selected", len(selected)))

	stocks := make([]marketv1.PoolStock, 0, len(selected))
	for _, snap := range selected {
		stocks = append(stocks, marketv1.PoolStock{
			Code:     snap.Code,
			Name:     snap.Name,
			PoolType: marketv1.PoolTypeAll,
		})
	}
	return true, stocks
}

// scanPreopenOneWord fetches the whole universe once and keeps the symbols
// frozen at their floor, sorted for deterministic summaries.
func (s *Scheduler) scanPreopenOneWord(ctx context.Context, now time.Time) ([]marketv1.Snapshot, error) {
	pool, err := s.registry.BuildDailyPool(ctx, now)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(pool))
	for _, stock := range pool {
		codes = append(codes, stock.Code)
	}
	snapshots, err := s.source.FetchSnapshots(ctx, codes)
	if err != nil {
		return nil, err
	}

	selected := make([]marketv1.Snapshot, 0)
	for _, snap := range snapshots {
		if snap.IsOneWordLimitDown() {
			selected = append(selected, snap)
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Code < selected[j].Code })
	return selected, nil
}

func (s *Scheduler) notifyPreopenSummary(ctx context.Context, now time.Time, selected []marketv1.Snapshot) {
	if s.notifier == nil {
		return
	}
	for _, body := range formatPreopenSummary(now, selected, preopenMaxRowsPerChunk) {
		if s.notifier.SendText(ctx, body) {
			s.status.MarkAlert(now)
		}
	}
}

// runLiveSession polls the monitorable universe until the window closes or
// every symbol is silenced, then flushes the final pending buckets.
func (s *Scheduler) runLiveSession(ctx context.Context, stocks []marketv1.PoolStock) error {
	sess, err := s.factory()
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}
	sess.Register(stocks)

	s.status.MarkLiveStarted(s.now())
	defer func() { s.status.MarkLiveFinished(s.now()) }()

	poll := time.Duration(s.cfg.Window.PollIntervalSec) * time.Second
	for s.inMonitorWindow(s.now()) {
		if err := ctx.Err(); err != nil {
			return err
		}
		codes := sess.MonitorableCodes()
		if len(codes) == 0 {
			s.log.Info("no monitorable symbols left, stopping early")
			break
		}

		snapshots, err := s.source.FetchSnapshots(ctx, codes)
		if err != nil {
			s.status.MarkError(fmt.Sprintf("snapshot fetch failed: %v", err), s.now())
			s.log.Warn("snapshot fetch failed", zap.Error(err))
		} else {
			s.status.MarkPoll(s.now())
			for _, snap := range snapshots {
				if ev := sess.Evaluate(snap); ev != nil {
					s.deliver(ctx, ev)
				}
			}
		}

		if err := s.sleep(ctx, poll); err != nil {
			return err
		}
	}

	for _, ev := range sess.FlushPending() {
		s.deliver(ctx, ev)
	}

	sum := sess.Summary()
	s.log.Info("live session finished",
		zap.Int("active", sum.Active),
		zap.Int("partially_fired", sum.PartiallyFired),
		zap.Int("fully_silenced", sum.FullySilenced),
		zap.Int("removed", sum.Removed),
		zap.Int("fired_buy_flow", sum.FiredBuyFlow),
		zap.Int("fired_sell1_drop", sum.FiredSell1Drop))
	return nil
}

func (s *Scheduler) deliver(ctx context.Context, ev *alertv1.AlertEvent) {
	s.log.Info("alert fired",
		zap.String("code", ev.Code),
		zap.String("reason", ev.Reason),
		zap.Float64("ask_drop_ratio", ev.AskDropRatio),
		zap.Int64("incoming_volume", ev.IncomingVolume))

	for _, sink := range s.sinks {
		if sink.Deliver(ctx, ev) {
			s.status.MarkAlert(s.now())
		}
	}
	if s.archive != nil {
		if err := s.archive.Store(ctx, ev); err != nil {
			s.log.Warn("alert archive write failed",
				zap.String("event_id", ev.ID),
				zap.Error(err))
		}
	}
}

func (s *Scheduler) inMonitorWindow(now time.Time) bool {
	mod := minutesOfDay(now)
	return mod >= s.startMin && mod <= s.endMin
}

// formatPreopenSummary renders the 09:26 one-word scan as chunked messages.
func formatPreopenSummary(runAt time.Time, selected []marketv1.Snapshot, maxRowsPerChunk int) []string {
	head := []string{
		fmt.Sprintf("时间: %s", runAt.Format("2006-01-02 15:04:05")),
		fmt.Sprintf("交易日: %s", runAt.Format("2006-01-02")),
		fmt.Sprintf("09:26一字跌停统计: %d只", len(selected)),
	}
	if len(selected) == 0 {
		return []string{strings.Join(append(head, "结果: 0只"), "\n")}
	}

	lines := make([]string, 0, len(selected))
	for i, snap := range selected {
		lines = append(lines, fmt.Sprintf("%d) %s %s 卖1单数: %d", i+1, snap.Code, snap.Name, snap.AskV1))
	}
	if maxRowsPerChunk < 1 {
		maxRowsPerChunk = 1
	}

	totalChunks := (len(lines) + maxRowsPerChunk - 1) / maxRowsPerChunk
	messages := make([]string, 0, totalChunks)
	for chunk := 0; chunk < totalChunks; chunk++ {
		begin := chunk * maxRowsPerChunk
		end := begin + maxRowsPerChunk
		if end > len(lines) {
			end = len(lines)
		}
		chunkHead := append([]string{}, head...)
		if totalChunks > 1 {
			chunkHead = append(chunkHead, fmt.Sprintf("分片: %d/%d", chunk+1, totalChunks))
		}
		parts := append(chunkHead, "")
		parts = append(parts, lines[begin:end]...)
		messages = append(messages, strings.Join(parts, "\n"))
	}
	return messages
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// mustClockMinutes assumes prior config validation.
func mustClockMinutes(v string) int {
	t, err := time.Parse("15:04", v)
	if err != nil {
		panic(fmt.Sprintf("invalid HH:MM value %q", v))
	}
	return t.Hour()*60 + t.Minute()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
