// internal/chaos/chaos.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrSteadyStateInvalid aborts an experiment whose probes fail before any fault is injected.
var ErrSteadyStateInvalid = errors.New("steady state invalid - aborting experiment")

// Experiment defines a chaos engineering test.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Probe
	Method      []Action
	Rollback    []Action
	// Duration is how long probes are sampled after the method has run.
	Duration time.Duration
}

// Probe measures one system property.
type Probe struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether value satisfies the threshold.
func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// Action is a fault injection or recovery step.
type Action struct {
	Name    string
	Target  string
	Execute func(context.Context) error
}

// Result captures one experiment run.
type Result struct {
	Experiment       string                 `json:"experiment"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	Errors           []ErrorEvent           `json:"errors"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type Violation struct {
	Probe     string    `json:"probe"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine runs experiments.
type Engine struct {
	tracer   trace.Tracer
	logger   *slog.Logger
	interval time.Duration
}

// NewEngine creates an engine that samples probes every interval while observing.
func NewEngine(logger *slog.Logger, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = time.Second
	}
	return &Engine{
		tracer:   otel.Tracer("library/chaos"),
		logger:   logger,
		interval: interval,
	}
}

// Run executes exp: check steady state, inject, observe, roll back, then re-check every probe.
// The hypothesis holds when the final sample of every probe is within its threshold.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		Experiment:   exp.Name,
		StartTime:    time.Now(),
		Observations: make(map[string][]DataPoint),
		Errors:       make([]ErrorEvent, 0),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.check(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		result.EndTime = time.Now()
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	e.execute(ctx, exp.Method, result)

	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	e.execute(ctx, exp.Rollback, result)

	span.AddEvent("validating_assertions")
	e.sample(ctx, exp.SteadyState, result, nil)
	result.HypothesisHeld = hypothesisHeld(exp.SteadyState, result)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	e.logger.InfoContext(ctx, "chaos experiment finished",
		"experiment", exp.Name,
		"hypothesis_held", result.HypothesisHeld,
		"violations", len(result.Violations),
		"errors", len(result.Errors),
		"duration", result.Duration,
	)
	return result, nil
}

func (e *Engine) check(ctx context.Context, probes []Probe) []Violation {
	var violations []Violation
	for _, p := range probes {
		value, err := p.Query(ctx)
		if err != nil {
			e.logger.WarnContext(ctx, "probe failed", "probe", p.Name, "error", err)
			value = -1
		}
		if err != nil || !p.Threshold.Holds(value) {
			violations = append(violations, Violation{
				Probe:     p.Name,
				Expected:  p.Threshold.Value,
				Actual:    value,
				Timestamp: time.Now(),
			})
		}
	}
	return violations
}

func (e *Engine) execute(ctx context.Context, actions []Action, result *Result) {
	for _, a := range actions {
		if err := a.Execute(ctx); err != nil {
			result.Errors = append(result.Errors, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: a.Target,
			})
			trace.SpanFromContext(ctx).RecordError(err)
			e.logger.WarnContext(ctx, "chaos action failed", "action", a.Name, "target", a.Target, "error", err)
		}
	}
}

func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	if exp.Duration <= 0 {
		return
	}
	observeCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var violatedAt time.Time
	for {
		select {
		case <-observeCtx.Done():
			return
		case <-ticker.C:
			e.sample(ctx, exp.SteadyState, result, &violatedAt)
		}
	}
}

// sample records one observation per probe. When violatedAt is non-nil it tracks the first
// violation so the time to recover can be reported.
func (e *Engine) sample(ctx context.Context, probes []Probe, result *Result, violatedAt *time.Time) {
	for _, p := range probes {
		value, err := p.Query(ctx)
		if err != nil {
			result.Errors = append(result.Errors, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: p.Name,
			})
			continue
		}
		now := time.Now()
		result.Observations[p.Name] = append(result.Observations[p.Name], DataPoint{Timestamp: now, Value: value})

		if !p.Threshold.Holds(value) {
			result.Violations = append(result.Violations, Violation{
				Probe:     p.Name,
				Expected:  p.Threshold.Value,
				Actual:    value,
				Timestamp: now,
			})
			if violatedAt != nil && violatedAt.IsZero() {
				*violatedAt = now
			}
		} else if violatedAt != nil && !violatedAt.IsZero() && result.MTTR == nil {
			mttr := now.Sub(*violatedAt)
			result.MTTR = &mttr
		}
	}
}

func hypothesisHeld(probes []Probe, result *Result) bool {
	for _, p := range probes {
		obs := result.Observations[p.Name]
		if len(obs) == 0 || !p.Threshold.Holds(obs[len(obs)-1].Value) {
			return false
		}
	}
	return true
}

// Summary renders a one-line description of r.
func (r *Result) Summary() string {
	verdict := "held"
	if !r.HypothesisHeld {
		verdict = "violated"
	}
	return fmt.Sprintf("%s: hypothesis %s (%d violations, %d errors, %s)",
		r.Experiment, verdict, len(r.Violations), len(r.Errors), r.Duration.Round(time.Millisecond))
}
