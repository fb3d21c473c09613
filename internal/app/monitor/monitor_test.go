package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alertv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/alert/v1"
	marketv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/market/v1"
	"github.com/yukun80/Quant-Gutao-chaodi/internal/usecase/session"
	"github.com/yukun80/Quant-Gutao-chaodi/pkg/config"
)

type scriptedSource struct {
	rounds [][]marketv1.Snapshot
	calls  int
}

func (s *scriptedSource) FetchSnapshots(_ context.Context, _ []string) ([]marketv1.Snapshot, error) {
	if s.calls >= len(s.rounds) {
		return nil, nil
	}
	snaps := s.rounds[s.calls]
	s.calls++
	return snaps, nil
}

type recordingSink struct {
	events []*alertv1.AlertEvent
}

func (r *recordingSink) Deliver(_ context.Context, ev *alertv1.AlertEvent) bool {
	r.events = append(r.events, ev)
	return true
}

type recordingArchive struct {
	stored []*alertv1.AlertEvent
}

func (r *recordingArchive) Store(_ context.Context, ev *alertv1.AlertEvent) error {
	r.stored = append(r.stored, ev)
	return nil
}

type stubRegistry struct{ stocks []marketv1.PoolStock }

func (s *stubRegistry) BuildDailyPool(_ context.Context, _ time.Time) ([]marketv1.PoolStock, error) {
	return s.stocks, nil
}

type stubCalendar struct{ open bool }

func (s *stubCalendar) IsTradingDay(_ context.Context, _ time.Time) (bool, error) {
	return s.open, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Rules: config.RulesConfig{AskDropThreshold: 0.3, ConfirmMinutes: 1},
		Window: config.WindowConfig{
			PreopenScan:     "09:26",
			LiveStart:       "13:00",
			LiveEnd:         "15:00",
			PollIntervalSec: 3,
		},
	}
}

func oneWordSnap(ts time.Time, ask, volume int64) marketv1.Snapshot {
	p := decimal.RequireFromString("9.90")
	return marketv1.Snapshot{
		Code:           "000001",
		Name:           "test",
		CurrentPrice:   p,
		HighPrice:      p,
		LimitDownPrice: p,
		AskV1:          ask,
		Volume:         volume,
		DataQuality:    marketv1.DataQualityTickA1V,
		TS:             ts,
	}
}

func TestScheduler_RunLiveSession(t *testing.T) {
	cfg := testConfig()
	current := time.Date(2024, 5, 20, 13, 0, 0, 0, time.UTC)

	t1 := current
	t2 := current.Add(45 * time.Minute)
	t3 := current.Add(90 * time.Minute)
	source := &scriptedSource{rounds: [][]marketv1.Snapshot{
		{oneWordSnap(t1, 1000, 100)},
		{oneWordSnap(t2, 100, 120)},
		{oneWordSnap(t3, 90, 130)},
	}}
	sink := &recordingSink{}
	arch := &recordingArchive{}
	status := NewRuntimeStatus(current)

	s, err := NewScheduler(cfg, SchedulerDeps{
		Source:   source,
		Registry: &stubRegistry{},
		Calendar: &stubCalendar{open: true},
		Sinks:    []alertv1.Sink{sink},
		Archive:  arch,
		Factory: func() (*session.Session, error) {
			return session.NewSession(session.Config{
				AskDropThreshold: cfg.Rules.AskDropThreshold,
				MinAbsDeltaAsk:   cfg.Rules.MinAbsDeltaAsk,
				ConfirmMinutes:   cfg.Rules.ConfirmMinutes,
			}, nil)
		},
		Status: status,
	})
	require.NoError(t, err)

	// Each poll round advances the fake clock by 45 minutes, so the window
	// closes after the third fetch.
	s.now = func() time.Time { return current }
	s.sleep = func(_ context.Context, _ time.Duration) error {
		current = current.Add(45 * time.Minute)
		return nil
	}

	err = s.runLiveSession(context.Background(), []marketv1.PoolStock{
		{Code: "000001", Name: "test", PoolType: marketv1.PoolTypeAll},
	})
	require.NoError(t, err)

	// The 1000 -> 100 ask collapse fires on the third poll's rollover.
	require.Len(t, sink.events, 1)
	assert.Equal(t, string(alertv1.RuleSell1Drop), sink.events[0].Reason)
	assert.Equal(t, sink.events, arch.stored)

	view := status.Snapshot(current)
	assert.Equal(t, 3, view.MonitorRounds)
	assert.Equal(t, 1, view.AlertsSent)
	assert.False(t, view.LiveRunning)
}

func TestScheduler_LiveSessionHonorsCancellation(t *testing.T) {
	cfg := testConfig()
	current := time.Date(2024, 5, 20, 13, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := NewScheduler(cfg, SchedulerDeps{
		Source:   &scriptedSource{},
		Registry: &stubRegistry{},
		Calendar: &stubCalendar{open: true},
		Factory: func() (*session.Session, error) {
			return session.NewSession(session.Config{AskDropThreshold: 0.3, ConfirmMinutes: 1}, nil)
		},
		Status: NewRuntimeStatus(current),
	})
	require.NoError(t, err)
	s.now = func() time.Time { return current }

	err = s.runLiveSession(ctx, []marketv1.PoolStock{{Code: "000001", PoolType: marketv1.PoolTypeAll}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatPreopenSummary(t *testing.T) {
	runAt := time.Date(2024, 5, 20, 9, 26, 0, 0, time.UTC)

	t.Run("empty scan", func(t *testing.T) {
		messages := formatPreopenSummary(runAt, nil, 20)
		require.Len(t, messages, 1)
		assert.Contains(t, messages[0], "0只")
		assert.Contains(t, messages[0], "结果: 0只")
	})

	t.Run("chunked", func(t *testing.T) {
		selected := []marketv1.Snapshot{
			oneWordSnap(runAt, 100, 1),
			oneWordSnap(runAt, 200, 1),
			oneWordSnap(runAt, 300, 1),
		}
		messages := formatPreopenSummary(runAt, selected, 2)
		require.Len(t, messages, 2)
		assert.Contains(t, messages[0], "分片: 1/2")
		assert.Contains(t, messages[1], "分片: 2/2")
		assert.Equal(t, 2, strings.Count(messages[0], "卖1单数"))
		assert.Equal(t, 1, strings.Count(messages[1], "卖1单数"))
	})
}

func TestRouter(t *testing.T) {
	status := NewRuntimeStatus(time.Now())
	status.MarkPoll(time.Now())
	router := NewRouter(status)

	t.Run("healthz", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ok")
	})

	t.Run("status", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"monitor_rounds":1`)
	})
}
