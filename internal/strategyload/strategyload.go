// Package strategyload materialises Task declarations from YAML files and
// validates them per spec.md §6.
package strategyload

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bikeshrana/cnquant/internal/factor"
	"github.com/bikeshrana/cnquant/pkg/types"
)

// LoadDir reads every *.yaml/*.yml file in dir as one Task declaration.
// A Task that fails to parse or validate is reported but does not abort
// loading the rest (spec.md §7 "StrategyCompileError ... other strategies
// continue").
func LoadDir(dir string) ([]types.Task, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("strategyload: read dir %s: %w", dir, err)}
	}

	var tasks []types.Task
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		task, err := LoadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("strategyload: %s: %w", path, err))
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, errs
}

// LoadFile parses and validates one Task declaration file.
func LoadFile(path string) (types.Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.Task{}, err
	}
	// OrderByDesc defaults to true; yaml.Unmarshal keeps it when the key is absent.
	task := types.Task{OrderByDesc: true}
	if err := yaml.Unmarshal(raw, &task); err != nil {
		return types.Task{}, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&task)
	if err := parseDates(&task); err != nil {
		return types.Task{}, err
	}
	if err := Validate(task); err != nil {
		return types.Task{}, err
	}
	return task, nil
}

func applyDefaults(t *types.Task) {
	if t.Period == "" {
		t.Period = types.PeriodMonthly
	}
	if t.Weight == "" {
		t.Weight = types.WeightEqual
	}
	if t.InitialCapital == 0 {
		t.InitialCapital = 1000000
	}
	if t.SellAtLeastCount == 0 {
		t.SellAtLeastCount = 1
	}
	if t.Adjust == "" {
		t.Adjust = types.AdjustQFQ
	}
	if t.CommissionRate == 0 {
		t.CommissionRate = 0.0003
	}
	// OrderByDesc is defaulted to true in LoadFile, before unmarshalling;
	// tasks opt out with an explicit order_by_desc: false (spec.md §9 open
	// question ii).
}

func parseDates(t *types.Task) error {
	if t.StartStr != "" {
		d, err := time.Parse("2006-01-02", t.StartStr)
		if err != nil {
			return fmt.Errorf("invalid start date %q: %w", t.StartStr, err)
		}
		t.Start = d
	}
	if t.EndStr != "" {
		d, err := time.Parse("2006-01-02", t.EndStr)
		if err != nil {
			return fmt.Errorf("invalid end date %q: %w", t.EndStr, err)
		}
		t.End = d
	}
	return nil
}

// Validate enforces the load-time rules of spec.md §6.
func Validate(t types.Task) error {
	if t.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if t.BuyAtLeastCount < 0 || t.BuyAtLeastCount > len(t.SelectBuy) {
		return fmt.Errorf("buy_at_least_count %d out of range [0,%d]", t.BuyAtLeastCount, len(t.SelectBuy))
	}
	if t.OrderByTopK < 0 {
		return fmt.Errorf("order_by_topk must be >= 0")
	}
	if t.OrderByDropN < 0 {
		return fmt.Errorf("order_by_dropn must be >= 0")
	}
	if !t.Start.IsZero() && !t.End.IsZero() && t.Start.After(t.End) {
		return fmt.Errorf("start_date %v is after end_date %v", t.Start, t.End)
	}
	if t.Weight == types.WeightFixed {
		var sum float64
		for _, w := range t.FixedWeights {
			sum += w
		}
		if sum > 1.0000001 {
			return fmt.Errorf("fixed_weights sum %v exceeds 1", sum)
		}
	}
	for _, expr := range t.SelectBuy {
		if _, err := factor.Parse(expr); err != nil {
			return fmt.Errorf("select_buy expression %q: %w", expr, err)
		}
	}
	for _, expr := range t.SelectSell {
		if _, err := factor.Parse(expr); err != nil {
			return fmt.Errorf("select_sell expression %q: %w", expr, err)
		}
	}
	if t.OrderBySignal != "" {
		if _, err := factor.Parse(t.OrderBySignal); err != nil {
			return fmt.Errorf("order_by_signal expression %q: %w", t.OrderBySignal, err)
		}
	}
	return nil
}
