// Command replay executes derived rules against a live browser or a
// saved HTML page.
//
// Usage:
//
//	replay -data ./data -list                    # list stored rules
//	replay -data ./data -rule rule_abc           # live run via Chrome
//	replay -rule-file rule.json -html page.html  # offline dry run
//	replay -data ./data -rule rule_abc -every 5m # periodic runs, hot reload
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	_ "modernc.org/sqlite"

	"github.com/oselotti/capreplay/dbopen"
	"github.com/oselotti/capreplay/observability"
	"github.com/oselotti/capreplay/replay"
	"github.com/oselotti/capreplay/rule"
	"github.com/oselotti/capreplay/watch"
)

func main() {
	dataDir := flag.String("data", "", "directory holding rules.db and obs.db")
	ruleID := flag.String("rule", "", "rule ID to replay from the store")
	ruleFile := flag.String("rule-file", "", "rule JSON file to replay")
	htmlFile := flag.String("html", "", "saved HTML page for an offline dry run")
	list := flag.Bool("list", false, "list stored rules and exit")
	every := flag.Duration("every", 0, "re-run the rule on this interval (live mode)")
	headful := flag.Bool("headful", false, "run Chrome with a visible window")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, options{
		dataDir:  *dataDir,
		ruleID:   *ruleID,
		ruleFile: *ruleFile,
		htmlFile: *htmlFile,
		list:     *list,
		every:    *every,
		headful:  *headful,
	}); err != nil {
		logger.Error("replay: fatal", "error", err)
		os.Exit(1)
	}
}

type options struct {
	dataDir  string
	ruleID   string
	ruleFile string
	htmlFile string
	list     bool
	every    time.Duration
	headful  bool
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	var store *rule.Store
	if opts.dataDir != "" {
		s, err := rule.OpenStore(filepath.Join(opts.dataDir, "rules.db"))
		if err != nil {
			return fmt.Errorf("open rule store: %w", err)
		}
		defer s.Close()
		store = s
	}

	if opts.list {
		if store == nil {
			return errors.New("-list requires -data")
		}
		return listRules(ctx, store)
	}

	r, err := loadRule(ctx, store, opts)
	if err != nil {
		return err
	}

	var runs *observability.RunLogger
	if opts.dataDir != "" {
		obsDB, err := dbopen.Open(filepath.Join(opts.dataDir, "obs.db"),
			dbopen.WithMkdirAll(),
			dbopen.WithSchema(observability.Schema),
		)
		if err != nil {
			return fmt.Errorf("open observability db: %w", err)
		}
		defer obsDB.Close()
		runs = observability.NewRunLogger(obsDB, 100)
		defer runs.Close()
	}

	engine := replay.New(replay.Config{Logger: logger})

	if opts.htmlFile != "" {
		return runOffline(ctx, logger, engine, runs, r, opts.htmlFile)
	}

	if opts.every > 0 {
		if store == nil || opts.ruleID == "" {
			return errors.New("-every requires -data and -rule")
		}
		return runPeriodic(ctx, logger, engine, runs, store, opts)
	}

	return runLive(ctx, logger, engine, runs, r, opts.headful)
}

func loadRule(ctx context.Context, store *rule.Store, opts options) (*rule.Rule, error) {
	switch {
	case opts.ruleFile != "":
		data, err := os.ReadFile(opts.ruleFile)
		if err != nil {
			return nil, fmt.Errorf("read rule file: %w", err)
		}
		var r rule.Rule
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode rule file: %w", err)
		}
		return &r, nil
	case opts.ruleID != "":
		if store == nil {
			return nil, errors.New("-rule requires -data")
		}
		r, err := store.Get(ctx, opts.ruleID)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, fmt.Errorf("rule %s not found", opts.ruleID)
		}
		return r, nil
	default:
		return nil, errors.New("one of -rule, -rule-file or -list is required")
	}
}

func listRules(ctx context.Context, store *rule.Store) error {
	rules, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, r := range rules {
		fmt.Printf("%s\t%s\t%d steps\n", r.ID, r.Name, len(r.Steps))
	}
	return nil
}

func runOffline(ctx context.Context, logger *slog.Logger, engine *replay.Engine, runs *observability.RunLogger, r *rule.Rule, htmlPath string) error {
	f, err := os.Open(htmlPath)
	if err != nil {
		return fmt.Errorf("open html: %w", err)
	}
	defer f.Close()

	doc, err := replay.ParseHTML(firstURL(r), f)
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	res := execute(ctx, engine, runs, r, doc)
	return printResult(res)
}

func runLive(ctx context.Context, logger *slog.Logger, engine *replay.Engine, runs *observability.RunLogger, r *rule.Rule, headful bool) error {
	browser, cleanup, err := launchBrowser(logger, headful)
	if err != nil {
		return err
	}
	defer cleanup()

	page, err := replay.OpenPage(ctx, browser, firstURL(r), logger)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}

	res := execute(ctx, engine, runs, r, page)
	return printResult(res)
}

// runPeriodic re-runs the rule on a fixed interval. A watcher on the
// rule database keeps the in-memory cache fresh, so edits to the stored
// rule take effect on the next run without a restart.
func runPeriodic(ctx context.Context, logger *slog.Logger, engine *replay.Engine, runs *observability.RunLogger, store *rule.Store, opts options) error {
	cache := rule.NewCache(store)
	if err := cache.Reload(ctx); err != nil {
		return err
	}

	w := watch.New(store.DB(), watch.Options{
		Interval: time.Second,
		Debounce: 250 * time.Millisecond,
		Logger:   logger,
	})
	go w.OnChange(ctx, func() error { return cache.Reload(ctx) })

	browser, cleanup, err := launchBrowser(logger, opts.headful)
	if err != nil {
		return err
	}
	defer cleanup()

	ticker := time.NewTicker(opts.every)
	defer ticker.Stop()

	for {
		r := cache.Get(opts.ruleID)
		if r == nil {
			logger.Warn("replay: rule missing from cache", "rule_id", opts.ruleID)
		} else {
			page, err := replay.OpenPage(ctx, browser, firstURL(r), logger)
			if err != nil {
				logger.Error("replay: open page", "error", err)
			} else {
				res := execute(ctx, engine, runs, r, page)
				logger.Info("replay: run finished",
					"rule_id", r.ID, "ok", res.OK, "status", res.Status, "steps_run", res.StepsRun)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func execute(ctx context.Context, engine *replay.Engine, runs *observability.RunLogger, r *rule.Rule, page replay.Page) replay.Result {
	start := time.Now()
	res := engine.Run(ctx, page, r)
	if runs != nil {
		runs.Record(observability.RunRecord{
			RuleID:     r.ID,
			Status:     string(res.Status),
			Note:       res.Note,
			Error:      res.Error,
			FailedStep: res.FailedStep,
			StepsRun:   res.StepsRun,
			OpenedTabs: res.OpenedTabs,
			DurationMS: time.Since(start).Milliseconds(),
			StartedAt:  start,
		})
	}
	return res
}

func printResult(res replay.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	os.Stdout.Write(data)
	os.Stdout.Write([]byte("\n"))
	if !res.OK {
		return fmt.Errorf("replay failed at step %d: %s", res.FailedStep, res.Error)
	}
	return nil
}

func firstURL(r *rule.Rule) string {
	for _, s := range r.Steps {
		if s.Kind == rule.StepNavigate && s.URL != "" {
			return s.URL
		}
	}
	return "about:blank"
}

func launchBrowser(logger *slog.Logger, headful bool) (*rod.Browser, func(), error) {
	l := launcher.New().Headless(!headful)
	l = l.Set("disable-blink-features", "AutomationControlled")

	u, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("browser launch: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, nil, fmt.Errorf("browser connect: %w", err)
	}
	if err := browser.IgnoreCertErrors(true); err != nil {
		logger.Warn("replay: ignore cert errors", "error", err)
	}

	cleanup := func() {
		if err := browser.Close(); err != nil {
			logger.Warn("replay: browser close", "error", err)
		}
		l.Cleanup()
	}
	return browser, cleanup, nil
}
