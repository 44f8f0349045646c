// Command capture is the capture pipeline daemon: it ingests browser
// events over HTTP, reassembles chunked artifact uploads, correlates
// artifacts to sessions, and serves rule derivation and replay.
//
// Usage:
//
//	capture -data ./data                    # defaults, HTTP on :8470
//	capture -data ./data -config cap.yaml   # tuned coordinator + sinks
//	capture -data ./data -mcp               # also expose MCP tools on stdio
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/oselotti/capreplay/artifact"
	"github.com/oselotti/capreplay/capture"
	"github.com/oselotti/capreplay/correlate"
	"github.com/oselotti/capreplay/dbopen"
	"github.com/oselotti/capreplay/observability"
	"github.com/oselotti/capreplay/replay"
	"github.com/oselotti/capreplay/rule"
	"github.com/oselotti/capreplay/server"
	"github.com/oselotti/capreplay/shield"
	"github.com/oselotti/capreplay/trace"
	"github.com/oselotti/capreplay/trailstore"
)

func main() {
	dataDir := flag.String("data", "./data", "directory for SQLite databases")
	configPath := flag.String("config", "", "path to capture.yaml config file")
	addr := flag.String("addr", ":8470", "HTTP listen address")
	mcpStdio := flag.Bool("mcp", false, "serve MCP tools on stdio")
	sqlTrace := flag.Bool("trace", false, "record SQL traces to traces.db")
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

	if err := run(ctx, logger, *dataDir, *configPath, *addr, *mcpStdio, *sqlTrace); err != nil {
		logger.Error("capture: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, dataDir, configPath, addr string, mcpStdio, sqlTrace bool) error {
	cfg := &capture.Config{}
	if configPath != "" {
		loaded, err := capture.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	// SQL tracing: pipeline DBs go through the wrapping driver, the
	// trace store itself stays on the raw driver.
	var storeOpts []dbopen.Option
	if sqlTrace {
		traceDB, err := dbopen.Open(filepath.Join(dataDir, "traces.db"),
			dbopen.WithMkdirAll(),
			dbopen.WithSchema(trace.Schema),
		)
		if err != nil {
			return fmt.Errorf("open trace db: %w", err)
		}
		defer traceDB.Close()

		traceStore := trace.NewStore(traceDB)
		trace.SetStore(traceStore)
		defer traceStore.Close()
		defer trace.SetStore(nil)

		storeOpts = append(storeOpts, dbopen.WithDriver("sqlite-trace"))
	}

	// Stores.
	trails, err := trailstore.Open(filepath.Join(dataDir, "trails.db"), storeOpts...)
	if err != nil {
		return fmt.Errorf("open trail store: %w", err)
	}
	defer trails.Close()

	artifacts, err := artifact.OpenStore(filepath.Join(dataDir, "artifacts.db"), storeOpts...)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}
	defer artifacts.Close()

	rules, err := rule.OpenStore(filepath.Join(dataDir, "rules.db"), storeOpts...)
	if err != nil {
		return fmt.Errorf("open rule store: %w", err)
	}
	defer rules.Close()

	obsDB, err := dbopen.Open(filepath.Join(dataDir, "obs.db"),
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(observability.Schema),
		dbopen.WithSchema(shield.Schema),
	)
	if err != nil {
		return fmt.Errorf("open observability db: %w", err)
	}
	defer obsDB.Close()

	events := observability.NewEventLogger(obsDB)
	metrics := observability.NewMetricsManager(obsDB, 500, 5*time.Second)
	defer metrics.Close()
	runs := observability.NewRunLogger(obsDB, 100)
	defer runs.Close()

	heartbeat := observability.NewHeartbeatWriter(obsDB, observability.DaemonCapture, 30*time.Second)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	// Capture coordinator with configured sinks plus the trail store.
	sinks := []capture.Sink{capture.NewStoreSink(trails)}
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, capture.NewStdoutSink(nil))
		case "webhook":
			sinks = append(sinks, capture.NewWebhookSink(sc.URL, logger))
		case "store":
			// Already wired above.
		default:
			logger.Warn("capture: unknown sink type", "type", sc.Type)
		}
	}
	coord := capture.New(*cfg, logger, sinks...)
	coord.Start(ctx)
	defer coord.Stop()

	// Artifact pipeline: reassembly, completion, correlation.
	corr := correlate.New(correlate.Config{}, logger)
	reasm, compl := server.WirePipeline(coord, trails, artifacts, corr, events, logger)

	// HTTP middleware stack: ingest gate, security headers, body
	// limits, request logging, rate limiting.
	stack, gate, limiter := shield.Stack(obsDB, logger)
	gate.StartReloader(ctx.Done())
	limiter.StartReloader(ctx.Done())

	srv := server.New(server.Config{Addr: addr, Logger: logger}, server.Deps{
		Capture:     coord,
		Reassembler: reasm,
		Completion:  compl,
		Trails:      trails,
		Rules:       rules,
		Artifacts:   artifacts,
		Engine:      replay.New(replay.Config{Logger: logger}),
		Events:      events,
		Metrics:     metrics,
		Runs:        runs,
		Shield:      stack,
	})

	if mcpStdio {
		tools := &rule.Tools{Sessions: trails, Rules: rules}
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "capreplay",
			Version: "1.0.0",
		}, nil)
		tools.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("capture: mcp stdio", "error", err)
			}
		}()
	}

	go retentionLoop(ctx, logger, events, metrics, obsDB)
	go queueStatsLoop(ctx, coord, metrics)

	errc := make(chan error, 1)
	go func() {
		logger.Info("capture: http starting", "addr", addr)
		errc <- srv.Start()
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("capture: shutdown", "error", err)
	}
	compl.Wait()
	return nil
}

// queueStatsLoop samples the coordinator's queue health into the
// metrics timeseries, so overflow losses are visible beyond the logs.
func queueStatsLoop(ctx context.Context, coord *capture.Coordinator, metrics *observability.MetricsManager) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st := coord.Stats()
		metrics.RecordSimple(observability.MetricQueueOverflow, float64(st.OverflowDrops), "count")
		metrics.RecordSimple("capture_queue_depth", float64(st.QueueLen), "count")
	}
}

// retentionLoop prunes old observability rows once a day.
func retentionLoop(ctx context.Context, logger *slog.Logger, events *observability.EventLogger, metrics *observability.MetricsManager, obsDB *sql.DB) {
	const retentionDays = 14
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := events.Cleanup(ctx, retentionDays); err != nil {
			logger.Warn("capture: event cleanup", "error", err)
		}
		if _, err := metrics.Cleanup(ctx, retentionDays); err != nil {
			logger.Warn("capture: metrics cleanup", "error", err)
		}
		if _, err := observability.CleanupHeartbeats(ctx, obsDB, retentionDays); err != nil {
			logger.Warn("capture: heartbeat cleanup", "error", err)
		}
	}
}
