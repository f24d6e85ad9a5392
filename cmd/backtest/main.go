package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bikeshrana/cnquant/internal/backtest"
	"github.com/bikeshrana/cnquant/internal/config"
	"github.com/bikeshrana/cnquant/internal/store"
	"github.com/bikeshrana/cnquant/internal/strategyload"
	"github.com/bikeshrana/cnquant/pkg/types"
)

func main() {
	kindFlag := flag.String("type", "single", "backtest engine: single (rotation) or portfolio")
	name := flag.String("name", "", "task name to load from the strategy directory")
	strategyDir := flag.String("strategies", "", "override the configured strategy directory")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	logger := log.With().Str("component", "backtest").Logger()

	if *name == "" {
		logger.Fatal().Msg("missing required --name flag")
	}

	kind := types.BacktestSingle
	if *kindFlag == "portfolio" {
		kind = types.BacktestPortfolio
	}

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *strategyDir != "" {
		cfg.Engine.StrategyDir = *strategyDir
	}

	ctx := context.Background()
	st, err := store.New(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.Close()

	task, err := strategyload.LoadFile(cfg.Engine.StrategyDir + "/" + *name + ".yaml")
	if err != nil {
		logger.Fatal().Err(err).Str("task", *name).Msg("failed to load task")
	}
	if err := strategyload.Validate(task); err != nil {
		logger.Fatal().Err(err).Str("task", *name).Msg("task failed validation")
	}

	assetType := types.ClassifySymbol(task.Symbols[0])
	closeFrame, err := st.LoadColumn(ctx, "close", task.Symbols, task.Start, task.End)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load price history")
	}

	prices := make(map[string][]float64, len(task.Symbols))
	for _, sym := range task.Symbols {
		prices[sym] = closeFrame.Column(sym)
	}

	runner := backtest.NewRunner(st, st, cfg.Engine.MaxParallelBacktests, cfg.Engine.BacktestTimeout, logger)
	spec := backtest.RunSpec{
		Task:      task,
		Kind:      kind,
		AssetType: assetType,
		Dates:     closeFrame.Dates,
		Prices:    prices,
	}

	reports := runner.RunMany(ctx, []backtest.RunSpec{spec})
	report := reports[0]

	if report.Status == types.StatusFailed {
		logger.Fatal().Str("code", report.ErrorCode).Msg(report.ErrorMessage)
	}

	if err := st.SaveReport(ctx, report); err != nil {
		logger.Error().Err(err).Msg("failed to persist report")
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to marshal report")
	}
	fmt.Println(string(out))

	logger.Info().
		Float64("total_return", report.TotalReturn).
		Float64("sharpe", report.Sharpe).
		Float64("max_drawdown", report.MaxDrawdown).
		Int("total_trades", report.TotalTrades).
		Msg("backtest completed")
}
