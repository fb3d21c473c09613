// Package calendar answers A-share trading-day checks from a remote
// trade-date list, fetched once per process.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yukun80/Quant-Gutao-chaodi/pkg/config"
)

// Calendar caches the historical trade-date set after the first successful
// fetch.
type Calendar struct {
	cfg    config.CalendarConfig
	client *http.Client
	log    *zap.Logger

	once  sync.Once
	dates map[string]struct{}
	err   error
}

// New wires a trading calendar. log may be nil.
func New(cfg config.CalendarConfig, log *zap.Logger) *Calendar {
	if log == nil {
		log = zap.NewNop()
	}
	return &Calendar{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		log:    log,
	}
}

type tradeDatesResponse struct {
	Dates []string `json:"dates"`
}

// IsTradingDay reports whether the given date is an A-share trading day.
// The date list is fetched on first use and reused for the process lifetime.
func (c *Calendar) IsTradingDay(ctx context.Context, day time.Time) (bool, error) {
	c.once.Do(func() {
		c.dates, c.err = c.fetchDates(ctx)
		if c.err == nil {
			c.log.Info("trading calendar loaded", zap.Int("dates", len(c.dates)))
		}
	})
	if c.err != nil {
		return false, c.err
	}
	_, ok := c.dates[day.Format("2006-01-02")]
	return ok, nil
}

func (c *Calendar) fetchDates(ctx context.Context) (map[string]struct{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/trade-dates", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch trade dates: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch trade dates: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var payload tradeDatesResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode trade dates: %w", err)
	}
	if len(payload.Dates) == 0 {
		return nil, fmt.Errorf("trade date list is empty")
	}

	dates := make(map[string]struct{}, len(payload.Dates))
	for _, d := range payload.Dates {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			continue
		}
		dates[d] = struct{}{}
	}
	return dates, nil
}
