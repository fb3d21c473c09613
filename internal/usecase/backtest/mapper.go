package backtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	marketv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/market/v1"
)

// barTimeLayouts are the timestamp spellings historical providers emit.
var barTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
}

// parsedBar is a minute bar with every required field decoded. Volume is still
// the bar's own traded volume; the runner turns it into the cumulative figure
// the engine expects.
type parsedBar struct {
	ts             time.Time
	closePrice     decimal.Decimal
	highPrice      decimal.Decimal
	limitDownPrice decimal.Decimal
	askV1          int64
	volume         int64
	quality        marketv1.DataQuality
}

// parseBar decodes one raw bar. Sentinel-coded fields ("" or "-") and
// non-numeric values are rejected, never coerced to zero.
func parseBar(bar marketv1.MinuteBar, loc *time.Location) (parsedBar, error) {
	ts, err := parseBarTime(bar.TS, loc)
	if err != nil {
		return parsedBar{}, fmt.Errorf("bar ts %q: %w", bar.TS, err)
	}
	closePrice, err := parseBarDecimal("close", bar.Close)
	if err != nil {
		return parsedBar{}, err
	}
	highPrice, err := parseBarDecimal("high", bar.High)
	if err != nil {
		return parsedBar{}, err
	}
	limitDown, err := parseBarDecimal("limit_down_price", bar.LimitDownPrice)
	if err != nil {
		return parsedBar{}, err
	}
	askV1, err := parseBarQuantity("ask_v1", bar.AskV1)
	if err != nil {
		return parsedBar{}, err
	}
	volume, err := parseBarQuantity("volume", bar.Volume)
	if err != nil {
		return parsedBar{}, err
	}

	quality := bar.DataQuality
	if quality == "" {
		quality = marketv1.DataQualityMinuteProxy
	}

	return parsedBar{
		ts:             ts,
		closePrice:     closePrice,
		highPrice:      highPrice,
		limitDownPrice: limitDown,
		askV1:          askV1,
		volume:         volume,
		quality:        quality,
	}, nil
}

func parseBarTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	var lastErr error
	for _, layout := range barTimeLayouts {
		ts, err := time.ParseInLocation(layout, raw, loc)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseBarDecimal(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return decimal.Decimal{}, fmt.Errorf("bar field %s is missing", field)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("bar field %s %q: %w", field, raw, err)
	}
	return v, nil
}

func parseBarQuantity(field, raw string) (int64, error) {
	v, err := parseBarDecimal(field, raw)
	if err != nil {
		return 0, err
	}
	if v.IsNegative() {
		return 0, fmt.Errorf("bar field %s %q is negative", field, raw)
	}
	return v.IntPart(), nil
}

// snapshotFromBar lifts a parsed bar into the snapshot shape the engine
// consumes. cumVolume is the day's accumulated one-word volume up to and
// including this bar.
func snapshotFromBar(code, name string, pb parsedBar, cumVolume int64) marketv1.Snapshot {
	return marketv1.Snapshot{
		Code:           code,
		Name:           name,
		CurrentPrice:   pb.closePrice,
		HighPrice:      pb.highPrice,
		LimitDownPrice: pb.limitDownPrice,
		AskV1:          pb.askV1,
		Volume:         cumVolume,
		DataQuality:    pb.quality,
		TS:             pb.ts,
	}
}
