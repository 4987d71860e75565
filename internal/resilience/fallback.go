package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxrelay/internal/observe"
)

// ErrAllFailed is returned when every entry in a [Group] fails or has an
// open circuit breaker. The last underlying error is wrapped alongside it.
var ErrAllFailed = errors.New("resilience: all providers failed")

// Config configures a [Group].
type Config struct {
	// Kind labels metrics and logs, e.g. "stt".
	Kind string

	// CircuitBreaker is the template for each entry's breaker. Name is
	// replaced by the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Permanent reports errors that are the caller's fault (bad input) and
	// would fail on every backend. They are returned at once without trying
	// fallbacks and do not count against the breaker.
	Permanent func(error) bool

	// Metrics records per-attempt provider counters. Nil uses
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Group holds a primary provider and its fallbacks, each behind its own
// [CircuitBreaker]. Entries are tried in registration order. Entries are
// added during setup; a Group must not be modified once calls start.
type Group[T any] struct {
	entries []entry[T]
	cfg     Config
	metrics *observe.Metrics
}

// NewGroup creates a [Group] with primary as the first entry.
func NewGroup[T any](primaryName string, primary T, cfg Config) *Group[T] {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	g := &Group[T]{cfg: cfg, metrics: m}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback provider.
func (g *Group[T]) Add(name string, value T) {
	cbCfg := g.cfg.CircuitBreaker
	cbCfg.Name = g.cfg.Kind + "/" + name
	if g.cfg.Permanent != nil {
		base := cbCfg.IsFailure
		if base == nil {
			base = countsAsFailure
		}
		permanent := g.cfg.Permanent
		cbCfg.IsFailure = func(err error) bool { return !permanent(err) && base(err) }
	}
	g.entries = append(g.entries, entry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in try order.
func (g *Group[T]) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.name
	}
	return names
}

// States returns each entry's breaker state keyed by entry name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.entries))
	for _, e := range g.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// Do runs fn against each entry of g until one succeeds and returns its
// result. Entries with an open breaker are skipped. A cancelled context stops
// the walk. This is a function because methods cannot have type parameters.
func Do[T, R any](ctx context.Context, g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.entries {
		e := &g.entries[i]
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var result R
		err := e.breaker.Execute(func() error {
			var inner error
			result, inner = fn(e.value)
			return inner
		})
		if err == nil {
			g.metrics.RecordProviderRequest(ctx, e.name, g.cfg.Kind, "ok")
			if i > 0 {
				slog.Info("fallback provider served request", "kind", g.cfg.Kind, "provider", e.name)
			}
			return result, nil
		}

		switch {
		case errors.Is(err, ErrCircuitOpen):
			g.metrics.RecordProviderRequest(ctx, e.name, g.cfg.Kind, "circuit_open")
			slog.Debug("skipping provider, circuit open", "kind", g.cfg.Kind, "provider", e.name)
		case g.cfg.Permanent != nil && g.cfg.Permanent(err):
			g.metrics.RecordProviderRequest(ctx, e.name, g.cfg.Kind, "rejected")
			return zero, err
		case ctx.Err() != nil:
			return zero, err
		default:
			g.metrics.RecordProviderRequest(ctx, e.name, g.cfg.Kind, "error")
			g.metrics.RecordProviderError(ctx, e.name, g.cfg.Kind)
			if i < len(g.entries)-1 {
				slog.Warn("provider failed, trying next", "kind", g.cfg.Kind, "provider", e.name, "err", err)
			}
		}
		lastErr = err
	}
	if len(g.entries) == 1 && !errors.Is(lastErr, ErrCircuitOpen) {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
