package marketv1

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DataQuality tags where a snapshot's ask-queue figure came from.
type DataQuality string

const (
	// DataQualityTickA1V marks a real order-book best-ask size.
	DataQualityTickA1V DataQuality = "tick_a1v"
	// DataQualityMinuteProxy marks minute volume standing in for the ask size.
	DataQualityMinuteProxy DataQuality = "minute_proxy"
)

// Confidence is the alert confidence level derived from data quality.
type Confidence string

const (
	// ConfidenceHigh is assigned to tick-sourced ask sizes.
	ConfidenceHigh Confidence = "high"
	// ConfidenceLow is assigned to proxy-sourced ask sizes.
	ConfidenceLow Confidence = "low"
)

// Confidence maps the data-quality tag to an alert confidence level.
func (q DataQuality) Confidence() Confidence {
	if q == DataQualityTickA1V {
		return ConfidenceHigh
	}
	return ConfidenceLow
}

// PoolType classifies which daily pool a symbol belongs to.
type PoolType string

// PoolTypeAll is the full-universe pool.
const PoolTypeAll PoolType = "all"

// PoolStock is one symbol eligible for monitoring on a given trading day.
type PoolStock struct {
	Code     string   `json:"code"`
	Name     string   `json:"name"`
	IsST     bool     `json:"is_st"`
	PoolType PoolType `json:"pool_type"`
}

// Snapshot is one point-in-time observation of a symbol, normalized from a
// live quote or a replayed minute bar. Volume is the cumulative traded volume
// for the day so far, not a per-interval figure.
type Snapshot struct {
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	HighPrice      decimal.Decimal `json:"high_price"`
	LimitDownPrice decimal.Decimal `json:"limit_down_price"`
	AskV1          int64           `json:"ask_v1"`
	Volume         int64           `json:"volume"`
	DataQuality    DataQuality     `json:"data_quality"`
	TS             time.Time       `json:"ts"`
}

// IsOneWordLimitDown reports whether the symbol has been pinned at its daily
// floor all session: current price and intraday high both equal the
// limit-down price. A non-positive limit-down price means the quote is
// unusable and never counts as one-word.
func (s Snapshot) IsOneWordLimitDown() bool {
	if !s.LimitDownPrice.IsPositive() {
		return false
	}
	return s.CurrentPrice.Equal(s.LimitDownPrice) && s.HighPrice.Equal(s.LimitDownPrice)
}

// MinuteBucket is the last-observed-wins aggregation of a symbol's snapshots
// within one wall-clock minute. TS, AskV1, Volume and DataQuality come from
// the latest snapshot seen in the minute.
type MinuteBucket struct {
	Minute      time.Time
	TS          time.Time
	AskV1       int64
	Volume      int64
	DataQuality DataQuality
}

// MinuteBar is a raw intraday minute record as returned by a historical data
// provider. Numeric fields stay string-coded so sentinel markers ("" or "-")
// reach the normalizer intact and can be rejected instead of read as zero.
type MinuteBar struct {
	TS             string      `json:"ts"`
	Code           string      `json:"code"`
	Name           string      `json:"name"`
	Close          string      `json:"close"`
	High           string      `json:"high"`
	LimitDownPrice string      `json:"limit_down_price"`
	AskV1          string      `json:"ask_v1"`
	Volume         string      `json:"volume"`
	DataQuality    DataQuality `json:"data_quality"`
}

// NormalizeCode reduces external symbol spellings ("600519.XSHG", " 1 ") to
// the local zero-padded 6-digit code. It returns "" when the input cannot be
// a valid code.
func NormalizeCode(raw string) string {
	code := strings.TrimSpace(raw)
	if i := strings.IndexByte(code, '.'); i >= 0 {
		code = code[:i]
	}
	if code == "" || len(code) > 6 {
		return ""
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return strings.Repeat("0", 6-len(code)) + code
}
