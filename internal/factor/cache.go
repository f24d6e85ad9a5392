package factor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/bikeshrana/cnquant/internal/obs"
	"github.com/bikeshrana/cnquant/internal/panel"
)

// ColumnSource supplies raw panel columns (close, volume, pe, ...) to a
// FactorCache. Implemented by the store package against the database;
// tests supply an in-memory map.
type ColumnSource interface {
	LoadColumn(ctx context.Context, name string, symbols []string, start, end time.Time) (*panel.Frame, error)
}

// Cache is parameterised by (symbols, date range) and exposes
// preload/get. It has no adjust-kind parameter: columns are whatever the
// ColumnSource returns (store.Store always reads the qfq tables). It is
// single-writer during preload; afterward Get is safe for concurrent callers.
type Cache struct {
	symbols []string
	start   time.Time
	end     time.Time
	source  ColumnSource
	logger  zerolog.Logger

	mu       sync.RWMutex
	columns  map[string]*panel.Frame
	exprs    map[string]*panel.Frame
	asts     map[string]*Node
	preloaded bool

	metrics *obs.EngineMetrics
	task    string
}

// New constructs a Cache for one evaluation run.
func New(symbols []string, start, end time.Time, source ColumnSource, logger zerolog.Logger) *Cache {
	return &Cache{
		symbols: symbols,
		start:   start,
		end:     end,
		source:  source,
		logger:  logger,
		columns: make(map[string]*panel.Frame),
		exprs:   make(map[string]*panel.Frame),
		asts:    make(map[string]*Node),
	}
}

// SetMetrics attaches a Prometheus registry, labeling cache hit/miss
// series with the expression and the preload-duration series with task.
// Nil-safe.
func (c *Cache) SetMetrics(m *obs.EngineMetrics, task string) {
	c.metrics = m
	c.task = task
}

// Column implements Env by lazily fetching and memoising raw columns.
func (c *Cache) Column(name string) (*panel.Frame, error) {
	c.mu.RLock()
	f, ok := c.columns[name]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	frame, err := c.source.LoadColumn(context.Background(), name, c.symbols, c.start, c.end)
	if err != nil {
		return nil, fmt.Errorf("factor: load column %q: %w", name, err)
	}
	c.mu.Lock()
	c.columns[name] = frame
	c.mu.Unlock()
	return frame, nil
}

// dependencies returns the set of raw column names an AST references,
// used to build the preload DAG's leaves.
func dependencies(n *Node, out map[string]bool) {
	if n == nil {
		return
	}
	switch n.Kind {
	case NodeColumn:
		out[n.Name] = true
	case NodeCall:
		for _, a := range n.Args {
			dependencies(a, out)
		}
	case NodeBinOp:
		dependencies(n.Left, out)
		dependencies(n.Right, out)
	case NodeNeg:
		dependencies(n.Left, out)
	}
}

// Preload compiles each expression, fetches the union of raw columns they
// depend on concurrently (the DAG's leaves, which have no ordering
// constraint between them per spec.md §5), then evaluates each unique
// expression and stores it keyed by the expression string exactly as
// passed; texts that differ only in whitespace are stored and evaluated
// separately. A second Preload call is a no-op; Get after Preload is safe
// for concurrent callers (a miss is evaluated and stored under the lock).
func (c *Cache) Preload(ctx context.Context, expressions []string) error {
	c.mu.Lock()
	if c.preloaded {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.metrics != nil {
		start := time.Now()
		defer func() {
			c.metrics.FactorPreloadDuration.WithLabelValues(c.task).Observe(time.Since(start).Seconds())
		}()
	}

	asts := make(map[string]*Node, len(expressions))
	deps := map[string]bool{}
	for _, expr := range expressions {
		node, err := Parse(expr)
		if err != nil {
			return &StrategyCompileError{Expr: expr, Err: err}
		}
		asts[expr] = node
		dependencies(node, deps)
	}

	columnNames := make([]string, 0, len(deps))
	for name := range deps {
		if RawColumns[name] {
			columnNames = append(columnNames, name)
		}
	}

	p := pool.New().WithErrors().WithContext(ctx)
	for _, name := range columnNames {
		name := name
		p.Go(func(ctx context.Context) error {
			_, err := c.Column(name)
			return err
		})
	}
	if err := p.Wait(); err != nil {
		return fmt.Errorf("factor: preload columns: %w", err)
	}

	for expr, node := range asts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		frame, err := Eval(node, c)
		if err != nil {
			return &StrategyCompileError{Expr: expr, Err: err}
		}
		c.mu.Lock()
		c.exprs[expr] = frame
		c.asts[expr] = node
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.preloaded = true
	c.mu.Unlock()
	c.logger.Debug().Int("expressions", len(expressions)).Int("columns", len(columnNames)).Msg("factor cache preloaded")
	return nil
}

// Get returns the stored matrix for expr, evaluating it on demand (and
// memoising) if Preload was not called for it.
func (c *Cache) Get(expr string) (*panel.Frame, error) {
	c.mu.RLock()
	f, ok := c.exprs[expr]
	c.mu.RUnlock()
	if ok {
		if c.metrics != nil {
			c.metrics.FactorCacheHits.WithLabelValues(expr).Inc()
		}
		return f, nil
	}
	if c.metrics != nil {
		c.metrics.FactorCacheMisses.WithLabelValues(expr).Inc()
	}

	node, err := Parse(expr)
	if err != nil {
		return nil, &StrategyCompileError{Expr: expr, Err: err}
	}
	frame, err := Eval(node, c)
	if err != nil {
		return nil, &StrategyCompileError{Expr: expr, Err: err}
	}
	c.mu.Lock()
	c.exprs[expr] = frame
	c.asts[expr] = node
	c.mu.Unlock()
	return frame, nil
}
