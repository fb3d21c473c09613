package session

import (
	"time"

	marketv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/market/v1"
)

// minuteKey truncates a snapshot timestamp to its aggregation minute.
func minuteKey(ts time.Time) time.Time {
	return ts.Truncate(time.Minute)
}

// newBucket opens a minute bucket from the first snapshot of its minute.
func newBucket(snap marketv1.Snapshot) *marketv1.MinuteBucket {
	return &marketv1.MinuteBucket{
		Minute:      minuteKey(snap.TS),
		TS:          snap.TS,
		AskV1:       maxInt64(snap.AskV1, 0),
		Volume:      maxInt64(snap.Volume, 0),
		DataQuality: snap.DataQuality,
	}
}

// absorb folds a later snapshot of the same minute into the bucket.
// Last-observed-wins: the bucket approximates the minute-end state by the
// latest snapshot seen before rollover.
func absorb(b *marketv1.MinuteBucket, snap marketv1.Snapshot) {
	b.TS = snap.TS
	b.AskV1 = maxInt64(snap.AskV1, 0)
	b.Volume = maxInt64(snap.Volume, 0)
	b.DataQuality = snap.DataQuality
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
