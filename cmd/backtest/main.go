// Command backtest replays one symbol's minute bars for one trading day and
// reports whether the strategy would have fired.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	marketv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/market/v1"
	"github.com/yukun80/Quant-Gutao-chaodi/internal/infrastructure/minutebar"
	"github.com/yukun80/Quant-Gutao-chaodi/internal/usecase/backtest"
	"github.com/yukun80/Quant-Gutao-chaodi/internal/usecase/session"
	"github.com/yukun80/Quant-Gutao-chaodi/pkg/config"
	"github.com/yukun80/Quant-Gutao-chaodi/pkg/logger"
)

const (
	exitUsage     = 2
	exitExecution = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	dateArg := fs.String("date", "", "trade date in YYYY-MM-DD")
	codeArg := fs.String("code", "", "stock code, e.g. 600000")
	windowStart := fs.String("window-start", "", "replay window start in HH:MM (defaults to the live window)")
	windowEnd := fs.String("window-end", "", "replay window end in HH:MM (defaults to the live window)")
	username := fs.String("username", "", "joinquant username override")
	password := fs.String("password", "", "joinquant password override")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return exitUsage
	}
	zlog, err := logger.New(cfg.App.LogLevel, cfg.App.Environment)
	if err != nil {
		log.Printf("failed to initialize logger: %v", err)
		return exitUsage
	}
	defer zlog.Sync()

	tradeDate, err := time.ParseInLocation("2006-01-02", *dateArg, time.Local)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --date %q, expected YYYY-MM-DD\n", *dateArg)
		return exitUsage
	}
	code := marketv1.NormalizeCode(*codeArg)
	if code == "" {
		fmt.Fprintf(os.Stderr, "invalid --code %q, expected 6-digit stock code\n", *codeArg)
		return exitUsage
	}

	start := *windowStart
	if start == "" {
		start = cfg.Window.LiveStart
	}
	end := *windowEnd
	if end == "" {
		end = cfg.Window.LiveEnd
	}
	if *username != "" {
		cfg.JoinQuant.Username = *username
	}
	if *password != "" {
		cfg.JoinQuant.Password = *password
	}

	req := backtest.Request{
		Code:        code,
		TradeDate:   tradeDate,
		WindowStart: start,
		WindowEnd:   end,
	}
	fmt.Println(formatPrecheck(req))

	provider := minutebar.NewProvider(cfg.JoinQuant, zlog)
	runner, err := backtest.NewRunner(provider, func() (*session.Session, error) {
		return session.NewSession(session.Config{
			AskDropThreshold: cfg.Rules.AskDropThreshold,
			MinAbsDeltaAsk:   cfg.Rules.MinAbsDeltaAsk,
			ConfirmMinutes:   cfg.Rules.ConfirmMinutes,
		}, zlog)
	}, zlog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runner init failed: %v\n", err)
		return exitUsage
	}

	result, err := runner.Run(context.Background(), req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest execution failed: %v\n", err)
		return exitExecution
	}

	fmt.Println(formatReport(req, result))
	return 0
}

func formatPrecheck(req backtest.Request) string {
	return strings.Join([]string{
		"=== Backtest Precheck ===",
		"source: joinquant",
		"trade_date: " + req.TradeDate.Format("2006-01-02"),
		"code: " + req.Code,
		"jq_code: " + minutebar.ToJoinQuantCode(req.Code),
		"strategy: buy_flow_breakout + sell1_drop",
		"buy_flow_proxy: one_word_limit_down_volume",
		"cumulative_scope: full_day",
		"one_word_filter: close==high==limit_down_price",
		"window: " + req.WindowStart + "-" + req.WindowEnd,
	}, "\n")
}

func formatReport(req backtest.Request, result *backtest.Result) string {
	lines := []string{
		"=== Backtest Report ===",
		"source: joinquant",
		"trade_date: " + result.TradeDate,
		"code: " + result.Code,
		"window: " + req.WindowStart + "-" + req.WindowEnd,
		fmt.Sprintf("samples: %d", result.Samples),
		fmt.Sprintf("samples_in_window: %d", result.SamplesInWindow),
		fmt.Sprintf("samples_one_word_in_window: %d", result.SamplesOneWordInWindow),
		fmt.Sprintf("triggered: %s", yesNo(result.Triggered)),
		"reason: " + result.Reason,
		fmt.Sprintf("data_quality: %s", result.DataQuality),
		fmt.Sprintf("confidence: %s", result.Confidence),
	}
	if result.Triggered {
		lines = append(lines, "trigger_time: "+result.TriggerTime.Format("2006-01-02 15:04:05"))
		if result.CurrentBuyVolume != nil {
			lines = append(lines, fmt.Sprintf("current_buy_volume: %d", *result.CurrentBuyVolume))
		}
		if result.CumulativeBuyVolumeBefore != nil {
			lines = append(lines, fmt.Sprintf("cumulative_buy_volume_before: %d", *result.CumulativeBuyVolumeBefore))
		}
	}
	return strings.Join(lines, "\n")
}

func yesNo(v bool) string {
	if v {
		return "YES"
	}
	return "NO"
}
