package strategyload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bikeshrana/cnquant/pkg/types"
)

const validYAML = `
name: momentum-top5
symbols: ["510300", "510500", "159915"]
start: "2020-01-01"
end: "2023-12-31"
select_buy:
  - "roc(close,20) > 0"
buy_at_least_count: 1
select_sell:
  - "roc(close,20) < 0"
order_by_signal: "roc(close,20)"
order_by_topk: 5
order_by_desc: true
period: monthly
weight: equal
initial_capital: 1000000
`

func TestLoadFileParsesAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	task, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if task.Name != "momentum-top5" {
		t.Fatalf("name = %q", task.Name)
	}
	if task.Start.IsZero() || task.End.IsZero() {
		t.Fatalf("expected parsed start/end dates, got %+v / %+v", task.Start, task.End)
	}
	if task.OrderByTopK != 5 {
		t.Fatalf("order_by_topk = %d", task.OrderByTopK)
	}
}

func TestValidateRejectsOutOfRangeBuyAtLeastCount(t *testing.T) {
	task := types.Task{
		Name:            "bad",
		SelectBuy:       []string{"roc(close,5)>0"},
		BuyAtLeastCount: 5,
	}
	if err := Validate(task); err == nil {
		t.Fatalf("expected validation error for buy_at_least_count > len(select_buy)")
	}
}

func TestValidateRejectsUnparsableExpression(t *testing.T) {
	task := types.Task{
		Name:      "bad",
		SelectBuy: []string{"roc(close,)"},
	}
	if err := Validate(task); err == nil {
		t.Fatalf("expected validation error for malformed expression")
	}
}

func TestValidateRejectsFixedWeightsOverOne(t *testing.T) {
	task := types.Task{
		Name:         "bad",
		Weight:       types.WeightFixed,
		FixedWeights: map[string]float64{"A": 0.6, "B": 0.6},
	}
	if err := Validate(task); err == nil {
		t.Fatalf("expected validation error for fixed weights summing over 1")
	}
}
