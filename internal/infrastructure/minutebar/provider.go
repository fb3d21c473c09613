// Package minutebar implements the historical intraday minute-bar provider
// used by backtest replays, backed by the JoinQuant HTTP data API.
package minutebar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	marketv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/market/v1"
	"github.com/yukun80/Quant-Gutao-chaodi/pkg/config"
)

// permissionTokens identify auth/quota restrictions hidden in provider error
// text, including the platform's Chinese upsell messages.
var permissionTokens = []string{
	"permission", "denied", "no right", "quota", "limit",
	"付费", "机构使用", "购买需求",
}

// Provider fetches one-day minute data over HTTP. Authentication happens once
// per process and the token is reused across calls.
type Provider struct {
	cfg    config.JoinQuantConfig
	client *http.Client
	log    *zap.Logger

	mu    sync.Mutex
	token string
}

// NewProvider wires a minute-bar provider. log may be nil.
func NewProvider(cfg config.JoinQuantConfig, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log,
	}
}

// ToJoinQuantCode maps a local 6-digit code to the exchange-suffixed spelling
// the data API expects.
func ToJoinQuantCode(code string) string {
	if strings.HasPrefix(code, "5") || strings.HasPrefix(code, "6") || strings.HasPrefix(code, "9") {
		return code + ".XSHG"
	}
	return code + ".XSHE"
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

type priceRequest struct {
	Code      string `json:"code"`
	Date      string `json:"date"`
	Frequency string `json:"frequency"`
}

type priceResponse struct {
	Rows  []map[string]any `json:"rows"`
	Error string           `json:"error"`
}

// ensureAuth authenticates once and fails fast on bad credentials or quota.
func (p *Provider) ensureAuth(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" {
		return nil
	}
	if p.cfg.Username == "" || p.cfg.Password == "" {
		return fmt.Errorf("joinquant credential missing: set JOINQUANT_USERNAME and JOINQUANT_PASSWORD")
	}

	var resp authResponse
	if err := p.post(ctx, "/auth", "", authRequest{Username: p.cfg.Username, Password: p.cfg.Password}, &resp); err != nil {
		return fmt.Errorf("joinquant auth failed: %w", err)
	}
	if resp.Error != "" || resp.Token == "" {
		return fmt.Errorf("joinquant auth failed: %s", resp.Error)
	}
	p.token = resp.Token
	return nil
}

// FetchIntradayMinutes fetches one-day minute bars. Missing limit-down values
// fall back to the exchange rule pre_close*0.9; a missing order-book ask
// field degrades to the volume proxy with low-confidence data quality.
func (p *Provider) FetchIntradayMinutes(ctx context.Context, code string, tradeDate time.Time) ([]marketv1.MinuteBar, error) {
	if err := p.ensureAuth(ctx); err != nil {
		return nil, err
	}

	jqCode := ToJoinQuantCode(code)
	var resp priceResponse
	req := priceRequest{Code: jqCode, Date: tradeDate.Format("2006-01-02"), Frequency: "1m"}
	if err := p.post(ctx, "/price", p.currentToken(), req, &resp); err != nil {
		return nil, fmt.Errorf("joinquant get_price failed: %w", err)
	}
	if resp.Error != "" {
		if isPermissionOrQuota(resp.Error) {
			return nil, fmt.Errorf("joinquant permission/quota error: %s", resp.Error)
		}
		return nil, fmt.Errorf("joinquant get_price failed: %s", resp.Error)
	}

	bars := make([]marketv1.MinuteBar, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		bar := marketv1.MinuteBar{
			TS:             fieldString(row, "time"),
			Code:           code,
			Name:           jqCode,
			Close:          fieldString(row, "close"),
			High:           fieldString(row, "high"),
			LimitDownPrice: fieldString(row, "low_limit"),
			AskV1:          fieldString(row, "a1_v"),
			Volume:         fieldString(row, "volume"),
			DataQuality:    marketv1.DataQualityTickA1V,
		}
		if isSentinel(bar.LimitDownPrice) {
			bar.LimitDownPrice = limitDownFromPreClose(fieldString(row, "pre_close"))
		}
		if isSentinel(bar.AskV1) {
			// Graceful degrade: keep replay runnable but mark the ask size
			// as a low-confidence volume proxy.
			bar.AskV1 = bar.Volume
			bar.DataQuality = marketv1.DataQualityMinuteProxy
			p.log.Warn("ask_v1 missing, fallback to volume proxy",
				zap.String("code", jqCode),
				zap.String("ts", bar.TS))
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func (p *Provider) currentToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

func (p *Provider) post(ctx context.Context, path, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}

// limitDownFromPreClose applies the exchange rule pre_close*0.9 rounded to
// cents. An unusable pre_close yields "" so the replay normalizer rejects the
// bar instead of reading a zero.
func limitDownFromPreClose(preClose string) string {
	if isSentinel(preClose) {
		return ""
	}
	v, err := decimal.NewFromString(preClose)
	if err != nil {
		return ""
	}
	return v.Mul(decimal.NewFromFloat(0.9)).Round(2).String()
}

func isSentinel(v string) bool {
	return v == "" || v == "-"
}

func fieldString(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func isPermissionOrQuota(msg string) bool {
	text := strings.ToLower(msg)
	for _, token := range permissionTokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}
