package replay

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/oselotti/capreplay/rule"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusNavigated is the early-exit success state: a navigate step
	// unloads the execution context, so no further steps can run.
	StatusNavigated Status = "navigated"
)

// Result reports the outcome of one run.
type Result struct {
	OK         bool   `json:"ok"`
	Status     Status `json:"status"`
	Note       string `json:"note,omitempty"`
	Err        error  `json:"-"`
	Error      string `json:"error,omitempty"`
	FailedStep int    `json:"failed_step"` // index of the failing step, -1 when none
	StepsRun   int    `json:"steps_run"`
	OpenedTabs int    `json:"opened_tabs"`
}

// Config tunes the engine. The zero value gets sensible defaults.
type Config struct {
	// PollInterval between target resolution attempts. Default: 100ms.
	PollInterval time.Duration
	// ResolveTimeout is the total budget per target. Default: 8s.
	ResolveTimeout time.Duration
	// SettleDelay after each action, letting the page react before the
	// next step. Default: 150ms.
	SettleDelay time.Duration
	// MaxOpenTabs caps openTab steps per run; beyond it they are
	// skipped and logged, not fatal. Default: 20.
	MaxOpenTabs int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 8 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 150 * time.Millisecond
	}
	if c.MaxOpenTabs <= 0 {
		c.MaxOpenTabs = 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine replays rules one step at a time, strictly sequential: page
// state must settle between actions.
type Engine struct {
	cfg Config
}

// New creates an Engine.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg}
}

// Run executes the rule's steps against the page and returns when the
// run reaches a terminal state. A step failure aborts the remaining
// run; cancellation stops issuing further steps but a step already in
// flight runs to completion or timeout.
func (e *Engine) Run(ctx context.Context, page Page, r *rule.Rule) Result {
	log := e.cfg.Logger.With("rule_id", r.ID)
	log.Info("replay: run starting", "steps", len(r.Steps))

	res := Result{Status: StatusRunning, FailedStep: -1}
	for i, step := range r.Steps {
		if err := ctx.Err(); err != nil {
			return e.fail(log, res, i, err)
		}

		done, err := e.runStep(ctx, page, step, &res)
		if err != nil {
			return e.fail(log, res, i, fmt.Errorf("step %d (%s): %w", i, step.Kind, err))
		}
		res.StepsRun++
		if done {
			// Navigation unloads the execution context. Ending here is
			// expected, not an error.
			res.OK = true
			res.Status = StatusNavigated
			res.Note = "navigated"
			log.Info("replay: run ended by navigation", "steps_run", res.StepsRun)
			return res
		}
		e.settle(ctx)
	}

	res.OK = true
	res.Status = StatusCompleted
	log.Info("replay: run completed", "steps_run", res.StepsRun, "opened_tabs", res.OpenedTabs)
	return res
}

// runStep executes one step. done=true means the run ends successfully
// with no further steps.
func (e *Engine) runStep(ctx context.Context, page Page, step rule.Step, res *Result) (done bool, err error) {
	switch step.Kind {
	case rule.StepWait:
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Duration(step.WaitMS) * time.Millisecond):
			return false, nil
		}

	case rule.StepOpenTab:
		if res.OpenedTabs >= e.cfg.MaxOpenTabs {
			e.cfg.Logger.Warn("replay: open tab cap reached, skipping",
				"url", step.URL, "cap", e.cfg.MaxOpenTabs)
			return false, nil
		}
		if err := page.OpenTab(ctx, step.URL); err != nil {
			return false, err
		}
		res.OpenedTabs++
		return false, nil

	case rule.StepNavigate:
		if sameDestination(page.URL(), step.URL) {
			return false, nil
		}
		if err := page.Navigate(ctx, step.URL); err != nil {
			return false, err
		}
		return true, nil

	case rule.StepClick:
		el, err := resolve(ctx, page, step.Target, e.cfg.PollInterval, e.cfg.ResolveTimeout)
		if err != nil {
			return false, err
		}
		return false, el.Click(ctx)

	case rule.StepInput:
		el, err := resolve(ctx, page, step.Target, e.cfg.PollInterval, e.cfg.ResolveTimeout)
		if err != nil {
			return false, err
		}
		return false, el.SetValue(ctx, step.Value)

	case rule.StepSubmit:
		el, err := e.submitTarget(ctx, page, step.Target)
		if err != nil {
			return false, err
		}
		return false, el.Submit(ctx)

	default:
		return false, fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

// submitTarget resolves the form to submit: the explicit target if
// given, else the focused element's form, else the first form.
func (e *Engine) submitTarget(ctx context.Context, page Page, target string) (Element, error) {
	if target != "" {
		return resolve(ctx, page, target, e.cfg.PollInterval, e.cfg.ResolveTimeout)
	}
	if el, err := page.FocusedForm(); err != nil {
		return nil, err
	} else if el != nil {
		return el, nil
	}
	if el, err := page.FirstForm(); err != nil {
		return nil, err
	} else if el != nil {
		return el, nil
	}
	return nil, ErrNoFormFound
}

func (e *Engine) fail(log *slog.Logger, res Result, stepIdx int, err error) Result {
	res.OK = false
	res.Status = StatusFailed
	res.Err = err
	res.Error = err.Error()
	res.FailedStep = stepIdx
	log.Error("replay: run failed", "step", stepIdx, "error", err)
	return res
}

func (e *Engine) settle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(e.cfg.SettleDelay):
	}
}

// sameDestination reports whether two URLs address the same document:
// same origin, path, and query, ignoring the fragment.
func sameDestination(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ua.Scheme == ub.Scheme &&
		ua.Host == ub.Host &&
		ua.Path == ub.Path &&
		ua.RawQuery == ub.RawQuery
}
