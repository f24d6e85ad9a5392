package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bikeshrana/cnquant/internal/backtest"
	"github.com/bikeshrana/cnquant/internal/config"
	"github.com/bikeshrana/cnquant/internal/factor"
	"github.com/bikeshrana/cnquant/internal/signalgen"
	"github.com/bikeshrana/cnquant/internal/store"
	"github.com/bikeshrana/cnquant/internal/strategyload"
	"github.com/bikeshrana/cnquant/internal/universe"
	"github.com/bikeshrana/cnquant/pkg/types"
)

func main() {
	mode := flag.String("mode", "etf", "asset class to evaluate: etf or ashare")
	dateFlag := flag.String("date", "", "evaluation date (YYYY-MM-DD), default today")
	workers := flag.Int("workers", 4, "number of tasks evaluated concurrently")
	strategyDir := flag.String("strategies", "", "override the configured strategy directory")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	logger := log.With().Str("component", "signals").Logger()

	assetType := types.AssetETF
	if *mode == "ashare" {
		assetType = types.AssetAShare
	}

	date := time.Now().Truncate(24 * time.Hour)
	if *dateFlag != "" {
		parsed, err := time.Parse("2006-01-02", *dateFlag)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid --date, expected YYYY-MM-DD")
		}
		date = parsed
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

	tasks, loadErrs := strategyload.LoadDir(cfg.Engine.StrategyDir)
	for _, e := range loadErrs {
		logger.Warn().Err(e).Msg("skipping unloadable task")
	}

	var matching []types.Task
	for _, t := range tasks {
		if len(t.Symbols) > 0 && types.ClassifySymbol(t.Symbols[0]) == assetType {
			matching = append(matching, t)
		}
	}
	if len(matching) == 0 {
		logger.Warn().Str("mode", *mode).Msg("no tasks matched this asset class")
		return
	}

	uniCfg := backtest.DefaultFilterConfig(assetType)

	sem := make(chan struct{}, *workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]signalgen.Result, len(matching))

	for _, task := range matching {
		wg.Add(1)
		sem <- struct{}{}
		go func(task types.Task) {
			defer wg.Done()
			defer func() { <-sem }()

			uni := universe.New(uniCfg, st, logger, nil)
			cache := factor.New(task.Symbols, task.Start, date, st, logger)

			exprs := append([]string{}, task.SelectBuy...)
			exprs = append(exprs, task.SelectSell...)
			if task.OrderBySignal != "" {
				exprs = append(exprs, task.OrderBySignal)
			}
			if err := cache.Preload(ctx, exprs); err != nil {
				logger.Error().Err(err).Str("task", task.Name).Msg("failed to preload factors")
				return
			}

			gen := signalgen.New(cache, uni, assetType, logger)
			result, err := gen.EvaluateForDate(task, date, map[string]bool{})
			if err != nil {
				logger.Error().Err(err).Str("task", task.Name).Msg("failed to evaluate signals")
				return
			}

			mu.Lock()
			results[task.Name] = result
			mu.Unlock()
		}(task)
	}
	wg.Wait()

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to marshal results")
	}
	fmt.Println(string(out))

	logger.Info().
		Int("tasks_evaluated", len(results)).
		Str("mode", *mode).
		Time("date", date).
		Msg("signal evaluation complete")
}
