package marketv1

import (
	"context"
	"time"
)

// SnapshotSource fetches live snapshots for a batch of symbols. Delivery is
// best-effort: symbols that fail to fetch or normalize are silently dropped
// from the returned slice.
type SnapshotSource interface {
	FetchSnapshots(ctx context.Context, codes []string) ([]Snapshot, error)
}

// PoolRegistry builds the day's eligible-symbol universe.
type PoolRegistry interface {
	BuildDailyPool(ctx context.Context, tradeDate time.Time) ([]PoolStock, error)
}

// MinuteBarProvider fetches one symbol's intraday minute bars for a trading
// day. Rows may arrive unordered; callers sort before replay.
type MinuteBarProvider interface {
	FetchIntradayMinutes(ctx context.Context, code string, tradeDate time.Time) ([]MinuteBar, error)
}
