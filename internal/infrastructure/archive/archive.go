// Package archive persists fired alerts to QuestDB over its pgwire endpoint.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	alertv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/alert/v1"
	"github.com/yukun80/Quant-Gutao-chaodi/pkg/config"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS limit_down_alerts (
	id SYMBOL,
	code SYMBOL,
	name STRING,
	pool_type SYMBOL,
	reason STRING,
	prev_ask_v1 LONG,
	curr_ask_v1 LONG,
	ask_drop_ratio DOUBLE,
	prev_volume LONG,
	curr_volume LONG,
	incoming_volume LONG,
	signal_buy_flow BOOLEAN,
	signal_sell1_drop BOOLEAN,
	data_quality SYMBOL,
	confidence SYMBOL,
	trigger_ts TIMESTAMP
) timestamp(trigger_ts) PARTITION BY DAY;
`

const insertAlertSQL = `
INSERT INTO limit_down_alerts (
	id, code, name, pool_type, reason,
	prev_ask_v1, curr_ask_v1, ask_drop_ratio,
	prev_volume, curr_volume, incoming_volume,
	signal_buy_flow, signal_sell1_drop,
	data_quality, confidence, trigger_ts
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`

// Archive is a write-through log of fired alerts. It is not a query engine;
// ListRecent exists for operational spot checks only.
type Archive struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New connects to QuestDB and ensures the alert table exists.
func New(ctx context.Context, cfg config.QuestDBConfig, log *zap.Logger) (*Archive, error) {
	if log == nil {
		log = zap.NewNop()
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create questdb pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping questdb: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create alert table: %w", err)
	}
	return &Archive{pool: pool, log: log}, nil
}

// Store writes one fired alert.
func (a *Archive) Store(ctx context.Context, event *alertv1.AlertEvent) error {
	_, err := a.pool.Exec(ctx, insertAlertSQL,
		event.ID,
		event.Code,
		event.Name,
		string(event.PoolType),
		event.Reason,
		event.PrevAskV1,
		event.CurrAskV1,
		event.AskDropRatio,
		event.PrevVolume,
		event.CurrVolume,
		event.IncomingVolume,
		event.SignalBuyFlow,
		event.SignalSell1Drop,
		string(event.DataQuality),
		string(event.Confidence),
		event.TriggerTS,
	)
	if err != nil {
		return fmt.Errorf("store alert %s: %w", event.ID, err)
	}
	return nil
}

// ArchivedAlert is one row read back from the alert table.
type ArchivedAlert struct {
	ID        string
	Code      string
	Reason    string
	TriggerTS time.Time
}

// ListRecent returns the latest alerts, newest first.
func (a *Archive) ListRecent(ctx context.Context, limit int) ([]ArchivedAlert, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, code, reason, trigger_ts FROM limit_down_alerts ORDER BY trigger_ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []ArchivedAlert
	for rows.Next() {
		var row ArchivedAlert
		if err := rows.Scan(&row.ID, &row.Code, &row.Reason, &row.TriggerTS); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		alerts = append(alerts, row)
	}
	return alerts, rows.Err()
}

// Close releases the connection pool.
func (a *Archive) Close() {
	a.pool.Close()
}
