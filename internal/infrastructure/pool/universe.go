package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/yukun80/Quant-Gutao-chaodi/pkg/config"
)

// HTTPUniverse fetches the listed universe and the realtime ST list from the
// quote API.
type HTTPUniverse struct {
	cfg    config.PoolConfig
	client *http.Client
	log    *zap.Logger
}

// NewHTTPUniverse wires a universe provider. log may be nil.
func NewHTTPUniverse(cfg config.PoolConfig, log *zap.Logger) *HTTPUniverse {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPUniverse{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		log:    log,
	}
}

type stockBasicResponse struct {
	Rows []struct {
		Code string `json:"code"`
		Name string `json:"name"`
	} `json:"rows"`
}

type stListResponse struct {
	Codes []string `json:"codes"`
}

// FetchStockBasic fetches the full listed universe used as the baseline pool.
func (u *HTTPUniverse) FetchStockBasic(ctx context.Context) ([]StockBasic, error) {
	var resp stockBasicResponse
	if err := u.get(ctx, "/stock-basic", &resp); err != nil {
		return nil, err
	}
	basic := make([]StockBasic, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		basic = append(basic, StockBasic{Code: row.Code, Name: row.Name})
	}
	return basic, nil
}

// FetchRealtimeSTList fetches the codes currently flagged ST.
func (u *HTTPUniverse) FetchRealtimeSTList(ctx context.Context) ([]string, error) {
	var resp stListResponse
	if err := u.get(ctx, "/st-list", &resp); err != nil {
		return nil, err
	}
	return resp.Codes, nil
}

func (u *HTTPUniverse) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.UniverseBaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", path, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
