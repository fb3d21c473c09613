package marketv1

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSnapshot_IsOneWordLimitDown(t *testing.T) {
	price := func(v string) decimal.Decimal { return decimal.RequireFromString(v) }

	testCases := []struct {
		name string
		snap Snapshot
		want bool
	}{
		{
			name: "pinned at the floor all session",
			snap: Snapshot{CurrentPrice: price("9.90"), HighPrice: price("9.90"), LimitDownPrice: price("9.90")},
			want: true,
		},
		{
			name: "scale difference still compares equal",
			snap: Snapshot{CurrentPrice: price("9.9"), HighPrice: price("9.90"), LimitDownPrice: price("9.900")},
			want: true,
		},
		{
			name: "high above the floor",
			snap: Snapshot{CurrentPrice: price("9.90"), HighPrice: price("9.95"), LimitDownPrice: price("9.90")},
			want: false,
		},
		{
			name: "current above the floor",
			snap: Snapshot{CurrentPrice: price("9.91"), HighPrice: price("9.91"), LimitDownPrice: price("9.90")},
			want: false,
		},
		{
			name: "zero limit-down price is unusable",
			snap: Snapshot{CurrentPrice: price("0"), HighPrice: price("0"), LimitDownPrice: price("0")},
			want: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.snap.IsOneWordLimitDown())
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	testCases := []struct {
		raw  string
		want string
	}{
		{"600519", "600519"},
		{"600519.XSHG", "600519"},
		{"000001.XSHE", "000001"},
		{"1", "000001"},
		{" 600519 ", "600519"},
		{"", ""},
		{"600519A", ""},
		{"1234567", ""},
		{"not-a-code", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeCode(tc.raw))
		})
	}
}

func TestDataQuality_Confidence(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, DataQualityTickA1V.Confidence())
	assert.Equal(t, ConfidenceLow, DataQualityMinuteProxy.Confidence())
	assert.Equal(t, ConfidenceLow, DataQuality("").Confidence())
}
