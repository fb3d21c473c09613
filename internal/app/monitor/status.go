package monitor

import (
	"sync"
	"time"
)

// RuntimeStatus is the mutable runtime state shared by the scheduler, the
// live session and the status endpoint.
type RuntimeStatus struct {
	mu sync.Mutex

	serviceStartedAt time.Time
	lastHeartbeatAt  time.Time
	lastPollAt       time.Time
	lastAlertAt      time.Time
	lastError        string
	inMonitorWindow  bool
	liveRunning      bool
	monitorRounds    int
	alertsSent       int
	lastLiveDate     string
}

// StatusView is the JSON shape served by the status endpoint.
type StatusView struct {
	ServiceStartedAt time.Time  `json:"service_started_at"`
	LastHeartbeatAt  *time.Time `json:"last_heartbeat_at,omitempty"`
	LastPollAt       *time.Time `json:"last_poll_at,omitempty"`
	LastAlertAt      *time.Time `json:"last_alert_at,omitempty"`
	HeartbeatAgeSec  *int       `json:"heartbeat_age_sec,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	InMonitorWindow  bool       `json:"in_monitor_window"`
	LiveRunning      bool       `json:"live_running"`
	MonitorRounds    int        `json:"monitor_rounds"`
	AlertsSent       int        `json:"alerts_sent"`
	LastLiveDate     string     `json:"last_live_date,omitempty"`
}

// NewRuntimeStatus returns a status registry anchored at now.
func NewRuntimeStatus(now time.Time) *RuntimeStatus {
	return &RuntimeStatus{serviceStartedAt: now}
}

// MarkHeartbeat updates the generic process heartbeat timestamp.
func (s *RuntimeStatus) MarkHeartbeat(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeatAt = now
}

// MarkLiveStarted marks the live monitor session as started and records the
// trading day so a second session cannot start on the same date.
func (s *RuntimeStatus) MarkLiveStarted(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveRunning = true
	s.lastError = ""
	s.lastLiveDate = now.Format("2006-01-02")
	s.lastHeartbeatAt = now
}

// MarkLiveFinished marks the live monitor session as finished.
func (s *RuntimeStatus) MarkLiveFinished(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveRunning = false
	s.lastHeartbeatAt = now
}

// MarkPoll records one polling round of the live loop.
func (s *RuntimeStatus) MarkPoll(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitorRounds++
	s.lastPollAt = now
	s.lastHeartbeatAt = now
}

// MarkAlert records one successful delivery.
func (s *RuntimeStatus) MarkAlert(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alertsSent++
	s.lastAlertAt = now
	s.lastHeartbeatAt = now
}

// MarkError records the latest runtime error.
func (s *RuntimeStatus) MarkError(msg string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
	s.lastHeartbeatAt = now
}

// SetMonitorWindow tracks whether the wall clock is inside the monitor range.
func (s *RuntimeStatus) SetMonitorWindow(inWindow bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inMonitorWindow = inWindow
	s.lastHeartbeatAt = now
}

// LastLiveDate returns the date of the last live session start, "" if none.
func (s *RuntimeStatus) LastLiveDate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLiveDate
}

// Snapshot renders the current counters for the status endpoint.
func (s *RuntimeStatus) Snapshot(now time.Time) StatusView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := StatusView{
		ServiceStartedAt: s.serviceStartedAt,
		LastError:        s.lastError,
		InMonitorWindow:  s.inMonitorWindow,
		LiveRunning:      s.liveRunning,
		MonitorRounds:    s.monitorRounds,
		AlertsSent:       s.alertsSent,
		LastLiveDate:     s.lastLiveDate,
	}
	if !s.lastHeartbeatAt.IsZero() {
		hb := s.lastHeartbeatAt
		view.LastHeartbeatAt = &hb
		age := int(now.Sub(hb).Seconds())
		if age < 0 {
			age = 0
		}
		view.HeartbeatAgeSec = &age
	}
	if !s.lastPollAt.IsZero() {
		ts := s.lastPollAt
		view.LastPollAt = &ts
	}
	if !s.lastAlertAt.IsZero() {
		ts := s.lastAlertAt
		view.LastAlertAt = &ts
	}
	return view
}
