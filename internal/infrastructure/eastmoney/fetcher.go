// Package eastmoney implements the live snapshot source against the
// EastMoney push quote API.
package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	marketv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/market/v1"
	"github.com/yukun80/Quant-Gutao-chaodi/pkg/config"
)

// quoteFields is the EastMoney field list: code, name, current price,
// intraday high, limit-down price, best-ask size, cumulative volume.
const quoteFields = "f57,f58,f2,f15,f51,f31,f47"

const (
	retryWait = 500 * time.Millisecond
	jitterMax = 300 * time.Millisecond
)

// Fetcher fetches and normalizes snapshots for batches of stock codes.
// Delivery is best-effort: symbols that fail to fetch or normalize are
// dropped, never returned half-filled.
type Fetcher struct {
	cfg    config.FetchConfig
	client *http.Client
	log    *zap.Logger
	now    func() time.Time
}

// NewFetcher wires a snapshot fetcher. log may be nil.
func NewFetcher(cfg config.FetchConfig, log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
		log: log,
		now: time.Now,
	}
}

// ToSecID maps a local 6-digit code to the EastMoney market-prefixed secid.
// Shanghai listings (5/6/9 prefixes) are market 1, everything else market 0.
func ToSecID(code string) string {
	if strings.HasPrefix(code, "5") || strings.HasPrefix(code, "6") || strings.HasPrefix(code, "9") {
		return "1." + code
	}
	return "0." + code
}

// FetchSnapshots fetches snapshots concurrently for a batch of symbols.
func (f *Fetcher) FetchSnapshots(ctx context.Context, codes []string) ([]marketv1.Snapshot, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	results := make([]*marketv1.Snapshot, len(codes))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)

	for i, code := range codes {
		g.Go(func() error {
			// Jitter avoids fixed-interval request bursts that are easy to
			// throttle.
			if err := sleepCtx(ctx, time.Duration(rand.Int63n(int64(jitterMax)))); err != nil {
				return err
			}
			snap, err := f.fetchOne(ctx, code)
			if err != nil {
				f.log.Warn("snapshot fetch dropped",
					zap.String("code", code),
					zap.Error(err))
				return nil
			}
			results[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snapshots := make([]marketv1.Snapshot, 0, len(codes))
	for _, snap := range results {
		if snap != nil {
			snapshots = append(snapshots, *snap)
		}
	}
	return snapshots, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, code string) (*marketv1.Snapshot, error) {
	url := fmt.Sprintf("%s/api/qt/stock/get?secid=%s&fields=%s", f.cfg.BaseURL, ToSecID(code), quoteFields)

	var body []byte
	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, retryWait); err != nil {
				return nil, err
			}
		}
		body, lastErr = f.get(ctx, url)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	return f.toSnapshot(code, body)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// toSnapshot maps an EastMoney payload into the unified snapshot model.
// Any missing required field rejects the whole snapshot.
func (f *Fetcher) toSnapshot(code string, body []byte) (*marketv1.Snapshot, error) {
	var payload struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode quote payload: %w", err)
	}
	data := payload.Data
	if data == nil {
		return nil, fmt.Errorf("quote payload has no data")
	}

	name, _ := resolveString(data, "name", "f58")
	if name == "" {
		name = code
	}

	current, ok := resolvePrice(data, "current_price", "f2")
	if !ok {
		return nil, fmt.Errorf("missing current price")
	}
	high, ok := resolvePrice(data, "high_price", "f15")
	if !ok {
		return nil, fmt.Errorf("missing high price")
	}
	limitDown, ok := resolvePrice(data, "limit_down_price", "f51")
	if !ok {
		return nil, fmt.Errorf("missing limit-down price")
	}
	askV1, ok := resolveInt(data, "ask_v1", "f31")
	if !ok {
		return nil, fmt.Errorf("missing ask_v1")
	}
	volume, ok := resolveInt(data, "volume", "f47")
	if !ok {
		return nil, fmt.Errorf("missing volume")
	}

	return &marketv1.Snapshot{
		Code:           code,
		Name:           name,
		CurrentPrice:   current,
		HighPrice:      high,
		LimitDownPrice: limitDown,
		AskV1:          askV1,
		Volume:         volume,
		DataQuality:    marketv1.DataQualityTickA1V,
		TS:             f.now(),
	}, nil
}

// resolvePrice resolves the first available price field. Values above 10000
// are milli-unit coded and are scaled back to price units.
func resolvePrice(data map[string]any, keys ...string) (decimal.Decimal, bool) {
	v, ok := resolveFloat(data, keys...)
	if !ok {
		return decimal.Decimal{}, false
	}
	d := decimal.NewFromFloat(v)
	if v > 10000 {
		d = d.Div(decimal.NewFromInt(1000))
	}
	return d, true
}

func resolveInt(data map[string]any, keys ...string) (int64, bool) {
	v, ok := resolveFloat(data, keys...)
	if !ok {
		return 0, false
	}
	return int64(v), true
}

func resolveFloat(data map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		switch v := data[key].(type) {
		case float64:
			return v, true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		case string:
			s := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
			if s == "" || s == "-" {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func resolveString(data map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := data[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
