package eastmoney

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yukun80/Quant-Gutao-chaodi/pkg/config"
)

func fetchConfig(baseURL string) config.FetchConfig {
	return config.FetchConfig{
		BaseURL:     baseURL,
		Concurrency: 4,
		MaxRetries:  1,
		TimeoutSec:  2,
	}
}

func TestToSecID(t *testing.T) {
	testCases := []struct {
		code string
		want string
	}{
		{code: "600519", want: "1.600519"},
		{code: "510050", want: "1.510050"},
		{code: "900901", want: "1.900901"},
		{code: "000001", want: "0.000001"},
		{code: "300750", want: "0.300750"},
	}

	for _, tc := range testCases {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.want, ToSecID(tc.code))
		})
	}
}

func TestFetcher_FetchSnapshots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secid := r.URL.Query().Get("secid")
		switch secid {
		case "0.000001":
			// Milli-unit coded prices scale back to price units.
			fmt.Fprint(w, `{"data":{"f57":"000001","f58":"平安银行","f2":9900,"f15":9900,"f51":9900,"f31":120000,"f47":345678}}`)
		case "1.600519":
			// Sentinel ask size rejects the whole snapshot.
			fmt.Fprint(w, `{"data":{"f57":"600519","f58":"贵州茅台","f2":1500,"f15":1520,"f51":1350,"f31":"-","f47":1000}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewFetcher(fetchConfig(srv.URL), nil)
	snaps, err := f.FetchSnapshots(context.Background(), []string{"000001", "600519", "999998"})
	require.NoError(t, err)

	require.Len(t, snaps, 1)
	snap := snaps[0]
	assert.Equal(t, "000001", snap.Code)
	assert.Equal(t, "平安银行", snap.Name)
	assert.Equal(t, "9.9", snap.CurrentPrice.String())
	assert.Equal(t, "9.9", snap.LimitDownPrice.String())
	assert.Equal(t, int64(120000), snap.AskV1)
	assert.Equal(t, int64(345678), snap.Volume)
	assert.True(t, snap.IsOneWordLimitDown())
}

func TestFetcher_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"data":{"f57":"000001","f58":"test","f2":9.9,"f15":9.9,"f51":9.9,"f31":100,"f47":200}}`)
	}))
	defer srv.Close()

	f := NewFetcher(fetchConfig(srv.URL), nil)
	snaps, err := f.FetchSnapshots(context.Background(), []string{"000001"})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetcher_EmptyBatch(t *testing.T) {
	f := NewFetcher(fetchConfig("http://unused"), nil)
	snaps, err := f.FetchSnapshots(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}
