// Package notifier delivers alerts to a DingTalk group webhook.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	alertv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/alert/v1"
	"github.com/yukun80/Quant-Gutao-chaodi/pkg/config"
)

// DingTalk posts alert messages to a group robot webhook. The configured
// keyword must prefix every message because DingTalk bots filter on it.
type DingTalk struct {
	cfg    config.DingTalkConfig
	client *http.Client
	log    *zap.Logger
}

// NewDingTalk wires a webhook sink. log may be nil.
func NewDingTalk(cfg config.DingTalkConfig, log *zap.Logger) *DingTalk {
	if log == nil {
		log = zap.NewNop()
	}
	return &DingTalk{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		log:    log,
	}
}

type textMessage struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

type webhookResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Deliver sends one alert and reports whether delivery succeeded. Failures
// are logged, never retried; a firing is already recorded in the engine.
func (d *DingTalk) Deliver(ctx context.Context, event *alertv1.AlertEvent) bool {
	return d.sendContent(ctx, event.Code, event.FormatMessage())
}

// SendText posts a plain text message, used for the pre-open summary.
func (d *DingTalk) SendText(ctx context.Context, body string) bool {
	return d.sendContent(ctx, "summary", body)
}

func (d *DingTalk) sendContent(ctx context.Context, ref, content string) bool {
	var msg textMessage
	msg.MsgType = "text"
	msg.Text.Content = d.cfg.Keyword + "\n" + content

	body, err := json.Marshal(msg)
	if err != nil {
		d.log.Error("encode dingtalk message", zap.Error(err))
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		d.log.Error("build dingtalk request", zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Error("dingtalk send failed",
			zap.String("ref", ref),
			zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		d.log.Error("read dingtalk response", zap.Error(err))
		return false
	}
	if resp.StatusCode != http.StatusOK {
		d.log.Error("dingtalk send failed",
			zap.String("ref", ref),
			zap.Int("status", resp.StatusCode))
		return false
	}

	var wr webhookResponse
	if err := json.Unmarshal(data, &wr); err != nil {
		d.log.Error("decode dingtalk response", zap.Error(err))
		return false
	}
	if wr.ErrCode != 0 {
		d.log.Error("dingtalk rejected message",
			zap.String("ref", ref),
			zap.Error(fmt.Errorf("errcode %d: %s", wr.ErrCode, wr.ErrMsg)))
		return false
	}
	return true
}
