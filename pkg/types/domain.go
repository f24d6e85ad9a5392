package types

import "time"

// AssetType distinguishes the two Chinese-market universes the engine covers.
type AssetType string

const (
	AssetETF    AssetType = "etf"
	AssetAShare AssetType = "ashare"
)

// ClassifySymbol returns the AssetType implied by a symbol's code prefix.
// ETF codes on SH/SZ start 51/52/53/56/58, and the SZ ETF family uses 159.
func ClassifySymbol(symbol string) AssetType {
	code := symbol
	if i := len(symbol); i >= 3 {
		code = symbol[:3]
	}
	prefixes := []string{"51", "52", "53", "56", "58", "159"}
	for _, p := range prefixes {
		if len(code) >= len(p) && code[:len(p)] == p {
			return AssetETF
		}
	}
	return AssetAShare
}

// HistoryBar is one day of OHLCV plus the Chinese-market fields (amount,
// turnover rate, change percent) for one symbol.
type HistoryBar struct {
	Symbol        string    `json:"symbol"`
	Date          time.Time `json:"date"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Volume        float64   `json:"volume"`
	Amount        float64   `json:"amount"`
	TurnoverRate  float64   `json:"turnover_rate"`
	ChangePct     float64   `json:"change_pct"`
	ChangeAmount  float64   `json:"change_amount"`
	Amplitude     float64   `json:"amplitude"`
}

// Adjust names a price adjustment series. Loading ignores it: factor
// columns come from the qfq tables whatever a task's Adjust says.
type Adjust string

const (
	AdjustRaw Adjust = "raw"
	AdjustQFQ Adjust = "qfq"
)

// SymbolMetadata is the static classification row for one symbol.
type SymbolMetadata struct {
	Symbol     string    `json:"symbol"`
	Name       string    `json:"name"`
	Sector     string    `json:"sector"`
	Industry   string    `json:"industry"`
	ListDate   time.Time `json:"list_date"`
	IsST       bool      `json:"is_st"`
	IsSuspend  bool      `json:"is_suspend"`
	IsNewIPO   bool      `json:"is_new_ipo"`
	TotalMV    float64   `json:"total_mv"` // 亿元
	Board      string    `json:"board"`    // "main", "star", "growth", "beijing"
}

// FundamentalSnapshot is a sparse (symbol, date) -> (pe, pb) row. Missing
// snapshots broadcast the latest-known value forward.
type FundamentalSnapshot struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	PE     float64   `json:"pe"`
	PB     float64   `json:"pb"`
}

// Period names the rebalance calendar a Task follows.
type Period string

const (
	PeriodDaily         Period = "daily"
	PeriodWeekly        Period = "weekly"
	PeriodMonthly       Period = "monthly"
	PeriodQuarterly     Period = "quarterly"
	PeriodYearly        Period = "yearly"
	PeriodRunOnce       Period = "run_once"
	PeriodEveryNPeriods Period = "every_n_periods"
)

// WeightKind selects how a Task distributes capital across its selection.
type WeightKind string

const (
	WeightEqual WeightKind = "equal"
	WeightFixed WeightKind = "fixed"
)

// Task is the declarative strategy value object (spec.md §3 "Task").
type Task struct {
	Name     string    `yaml:"name" json:"name"`
	Symbols  []string  `yaml:"symbols" json:"symbols"`
	Start    time.Time `yaml:"-" json:"start"`
	End      time.Time `yaml:"-" json:"end"`
	StartStr string    `yaml:"start" json:"-"`
	EndStr   string    `yaml:"end" json:"-"`
	Benchmark string   `yaml:"benchmark" json:"benchmark"`
	Adjust    Adjust   `yaml:"adjust" json:"adjust"`

	SelectBuy       []string `yaml:"select_buy" json:"select_buy"`
	BuyAtLeastCount int      `yaml:"buy_at_least_count" json:"buy_at_least_count"`
	SelectSell      []string `yaml:"select_sell" json:"select_sell"`
	SellAtLeastCount int     `yaml:"sell_at_least_count" json:"sell_at_least_count"`

	OrderBySignal string `yaml:"order_by_signal" json:"order_by_signal"`
	OrderByTopK   int    `yaml:"order_by_topk" json:"order_by_topk"`
	OrderByDropN  int    `yaml:"order_by_dropn" json:"order_by_dropn"`
	OrderByDesc   bool   `yaml:"order_by_desc" json:"order_by_desc"`

	Period     Period `yaml:"period" json:"period"`
	PeriodDays int    `yaml:"period_days" json:"period_days"`

	Weight       WeightKind         `yaml:"weight" json:"weight"`
	FixedWeights map[string]float64 `yaml:"fixed_weights" json:"fixed_weights"`

	AshareMode     bool    `yaml:"ashare_mode" json:"ashare_mode"`
	CommissionRate float64 `yaml:"commission_rate" json:"commission_rate"`
	CommissionSchedule string `yaml:"commission_schedule" json:"commission_schedule"` // "v1" | "v2"
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital"`

	RunOnLastDate bool `yaml:"run_on_last_date" json:"run_on_last_date"`
}

// SignalKind distinguishes a buy from a sell emission.
type SignalKind string

const (
	SignalBuy  SignalKind = "buy"
	SignalSell SignalKind = "sell"
	SignalHold SignalKind = "hold"
)

// Signal is one emitted buy/sell/hold event (spec.md §3 "Signal").
type Signal struct {
	Symbol     string     `json:"symbol"`
	Kind       SignalKind `json:"kind"`
	Date       time.Time  `json:"date"`
	Price      float64    `json:"price"`
	Rank       int        `json:"rank,omitempty"`
	Score      float64    `json:"score,omitempty"`
	Strategies []string   `json:"strategies"`
	QuantityHint float64  `json:"quantity_hint,omitempty"`
	AssetType  AssetType  `json:"asset_type"`
}

// Holding is one position inside PortfolioState.Holdings.
type Holding struct {
	Shares  float64 `json:"shares"`
	AvgCost float64 `json:"avg_cost"`
}

// PortfolioState is the per-simulated-day snapshot (spec.md §3).
type PortfolioState struct {
	Date                time.Time          `json:"date"`
	Cash                float64            `json:"cash"`
	Holdings            map[string]Holding `json:"holdings"`
	DailyReturn         float64            `json:"daily_return"`
	CumulativeReturn    float64            `json:"cumulative_return"`
	RunningMaxDrawdown  float64            `json:"running_max_drawdown"`
	DailyTurnover       float64            `json:"daily_turnover"`
	PortfolioValue      float64            `json:"portfolio_value"`
}

// BacktestStatus is the terminal state of a BacktestReport.
type BacktestStatus string

const (
	StatusCompleted BacktestStatus = "completed"
	StatusFailed    BacktestStatus = "failed"
)

// BacktestKind distinguishes the rotation engine from the portfolio engine.
type BacktestKind string

const (
	BacktestSingle    BacktestKind = "single"
	BacktestPortfolio BacktestKind = "portfolio"
)

// EquityPoint is one (date, value) sample of an equity curve.
type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// WinRates bundles the three win-rate horizons from spec.md §4.5.
type WinRates struct {
	Daily   float64 `json:"daily"`
	Weekly  float64 `json:"weekly"`
	Monthly float64 `json:"monthly"`
}

// BacktestReport is the persisted outcome of one backtest run (spec.md §3).
type BacktestReport struct {
	TaskName      string         `json:"task_name"`
	Version       int            `json:"version"`
	AssetType     AssetType      `json:"asset_type"`
	Start         time.Time      `json:"start"`
	End           time.Time      `json:"end"`
	InitialCapital float64       `json:"initial_capital"`
	FinalValue    float64        `json:"final_value"`
	TotalReturn   float64        `json:"total_return"`
	AnnualReturn  float64        `json:"annual_return"`
	Sharpe        float64        `json:"sharpe"`
	Sortino       float64        `json:"sortino"`
	Calmar        float64        `json:"calmar"`
	MaxDrawdown   float64        `json:"max_dd"`
	VaR95         float64        `json:"var95"`
	CVaR95        float64        `json:"cvar95"`
	InfoRatio     *float64       `json:"info_ratio,omitempty"`
	AvgTurnover   float64        `json:"avg_turnover"`
	WinRates      WinRates       `json:"win_rates"`
	MonthlyReturns map[string]float64 `json:"monthly_returns"`
	EquityCurve   []EquityPoint  `json:"equity_curve"`
	FinalHoldings map[string]Holding `json:"final_holdings"`
	TotalTrades   int            `json:"total_trades"`
	Status        BacktestStatus `json:"status"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	BacktestType  BacktestKind   `json:"backtest_type"`
	PortfolioConfig map[string]interface{} `json:"portfolio_config,omitempty"`
}

// TradeAction is buy or sell, the two sides a Trade can record.
type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
)

// PortfolioTrade is one executed fill recorded by the portfolio or
// rotation engines.
type PortfolioTrade struct {
	Date     time.Time   `json:"date"`
	Symbol   string      `json:"symbol"`
	Action   TradeAction `json:"action"`
	Shares   float64     `json:"shares"`
	Price    float64     `json:"price"`
	Amount   float64     `json:"amount"`
	Strategy string      `json:"strategy_name"`
}
