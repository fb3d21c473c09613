// Package pool builds the daily eligible-symbol universe and keeps the last
// successful build in redis for failover.
package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	marketv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/market/v1"
	"github.com/yukun80/Quant-Gutao-chaodi/pkg/config"
)

// StockBasic is one row of the listed-universe feed.
type StockBasic struct {
	Code string
	Name string
}

// UniverseProvider supplies the raw inputs for a pool build: the full listed
// universe and the realtime ST label list.
type UniverseProvider interface {
	FetchStockBasic(ctx context.Context) ([]StockBasic, error)
	FetchRealtimeSTList(ctx context.Context) ([]string, error)
}

// cachedPool is the redis cache document for one successful build.
type cachedPool struct {
	BuiltAt time.Time            `json:"built_at"`
	Stocks  []marketv1.PoolStock `json:"stocks"`
}

// Registry builds daily pools with cache failover. FailoverMode "cache"
// serves the last cached build when the online build fails, as long as it is
// younger than the configured TTL.
type Registry struct {
	cfg      config.PoolConfig
	provider UniverseProvider
	rdb      *redis.Client
	log      *zap.Logger
	now      func() time.Time
}

// NewRegistry wires a pool registry. log may be nil.
func NewRegistry(cfg config.PoolConfig, provider UniverseProvider, rdb *redis.Client, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		provider: provider,
		rdb:      rdb,
		log:      log,
		now:      time.Now,
	}
}

// BuildDailyPool constructs today's pool with the ST label attached to each
// symbol, caching the successful result.
func (r *Registry) BuildDailyPool(ctx context.Context, tradeDate time.Time) ([]marketv1.PoolStock, error) {
	stocks, err := r.buildOnline(ctx)
	if err == nil {
		if cacheErr := r.saveCache(ctx, stocks); cacheErr != nil {
			r.log.Warn("pool cache write failed", zap.Error(cacheErr))
		}
		r.log.Info("pool build",
			zap.String("source", "online"),
			zap.String("trade_date", tradeDate.Format("2006-01-02")),
			zap.Int("symbols", len(stocks)))
		return stocks, nil
	}

	if r.cfg.FailoverMode != "cache" {
		return nil, fmt.Errorf("online pool build failed and failover disabled: %w", err)
	}

	cached, cacheErr := r.loadCache(ctx)
	if cacheErr != nil {
		return nil, fmt.Errorf("pool cache fallback failed: %w (online build: %v)", cacheErr, err)
	}
	r.log.Warn("pool build",
		zap.String("source", "cache_fallback"),
		zap.Int("symbols", len(cached)),
		zap.NamedError("online_error", err))
	return cached, nil
}

func (r *Registry) buildOnline(ctx context.Context) ([]marketv1.PoolStock, error) {
	basic, err := r.provider.FetchStockBasic(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch stock basic: %w", err)
	}
	stList, err := r.provider.FetchRealtimeSTList(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch realtime st list: %w", err)
	}

	stSet := make(map[string]struct{}, len(stList))
	for _, raw := range stList {
		if code := marketv1.NormalizeCode(raw); code != "" {
			stSet[code] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(basic))
	stocks := make([]marketv1.PoolStock, 0, len(basic))
	for _, row := range basic {
		code := marketv1.NormalizeCode(row.Code)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		name := row.Name
		if name == "" {
			name = code
		}
		_, isST := stSet[code]
		stocks = append(stocks, marketv1.PoolStock{
			Code:     code,
			Name:     name,
			IsST:     isST,
			PoolType: marketv1.PoolTypeAll,
		})
	}
	if len(stocks) == 0 {
		return nil, fmt.Errorf("stock universe is empty")
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].Code < stocks[j].Code })
	return stocks, nil
}

func (r *Registry) ttl() time.Duration {
	return time.Duration(r.cfg.CacheTTLHrs) * time.Hour
}

func (r *Registry) saveCache(ctx context.Context, stocks []marketv1.PoolStock) error {
	doc := cachedPool{BuiltAt: r.now(), Stocks: stocks}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.cfg.CacheKey, data, r.ttl()).Err()
}

func (r *Registry) loadCache(ctx context.Context) ([]marketv1.PoolStock, error) {
	data, err := r.rdb.Get(ctx, r.cfg.CacheKey).Bytes()
	if err != nil {
		return nil, fmt.Errorf("read pool cache: %w", err)
	}
	var doc cachedPool
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode pool cache: %w", err)
	}
	if age := r.now().Sub(doc.BuiltAt); age > r.ttl() {
		return nil, fmt.Errorf("pool cache expired: built_at=%s age=%s", doc.BuiltAt.Format(time.RFC3339), age)
	}
	if len(doc.Stocks) == 0 {
		return nil, fmt.Errorf("pool cache is empty")
	}
	return doc.Stocks, nil
}
