// Command coordd runs the agent work coordination server and exposes a CLI
// over the same engine for scripts and cron jobs.
//
// Usage:
//
//	coordd serve
//	coordd register [-team T] [-capacity N] [-metadata JSON] <agent_id> [capabilities...]
//	coordd heartbeat <agent_id>
//	coordd submit <work_type> <priority> [payload-json]
//	coordd claim <work_item_id> <agent_id>
//	coordd start <work_item_id>
//	coordd complete <work_item_id> [result-json]
//	coordd fail <work_item_id> [result-json]
//	coordd reclaim [-timeout D]
//	coordd status
//	coordd log [-limit N]
//	coordd agents
//	coordd work [status]
//
// Every command prints JSON to stdout. Failures print a JSON error object to
// stderr with the error kind verbatim and exit non-zero: 2 for validation
// failures, 3 for missing agents or work items, 4 for state conflicts, 5
// when the store is unavailable.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/coordd/coord"
	"github.com/coordd/coord/internal/config"
	"github.com/coordd/coord/internal/coorderr"
	"github.com/coordd/coord/internal/engine"
	"github.com/coordd/coord/internal/metrics"
	"github.com/coordd/coord/internal/model"
	"github.com/coordd/coord/internal/storage"
	"github.com/coordd/coord/internal/telemetry"
	"github.com/coordd/coord/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	args := os.Args[1:]
	if len(args) == 0 || args[0] == "serve" {
		return runServe()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out, err := runCommand(ctx, args[0], args[1:])
	if err != nil {
		return exitError(err)
	}
	return printJSON(os.Stdout, out)
}

func runServe() int {
	level := slog.LevelInfo
	if os.Getenv("COORD_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := coord.New(coord.WithLogger(logger), coord.WithVersion(version))
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	if err := app.Run(ctx); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

// cliStack wires the engine against the configured base path for one-shot
// CLI commands. The CLI and a running server share the store safely; every
// mutation is its own transaction.
type cliStack struct {
	cfg config.Config
	eng *engine.Engine
	agg *metrics.Aggregator
}

func newCLIStack(ctx context.Context) (*cliStack, func(), error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	// CLI output is the JSON result; keep diagnostics on stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := os.MkdirAll(cfg.BasePath, 0o750); err != nil {
		return nil, nil, coorderr.Wrap(coorderr.KindStoreUnavailable, err, "create base path")
	}
	db, err := storage.Open(ctx, filepath.Join(cfg.BasePath, "coordination.db"), cfg.BusyTimeout, logger)
	if err != nil {
		return nil, nil, coorderr.Wrap(coorderr.KindStoreUnavailable, err, "open store")
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, nil, coorderr.Wrap(coorderr.KindStoreUnavailable, err, "migrations")
	}

	spans, err := telemetry.OpenSpanLog(filepath.Join(cfg.BasePath, "telemetry_spans.jsonl"))
	if err != nil {
		_ = db.Close()
		return nil, nil, coorderr.Wrap(coorderr.KindStoreUnavailable, err, "open span log")
	}

	eng := engine.New(db, telemetry.NewCorrelator(spans, logger), logger, engine.Config{
		DefaultCapacity: cfg.DefaultCapacity,
		MaxMapBytes:     cfg.MaxPayloadBytes,
	})
	agg := metrics.New(db, cfg.MetricsFreshness, logger)

	cleanup := func() {
		_ = spans.Close()
		_ = db.Close()
	}
	return &cliStack{cfg: cfg, eng: eng, agg: agg}, cleanup, nil
}

func runCommand(ctx context.Context, cmd string, args []string) (any, error) {
	s, cleanup, err := newCLIStack(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	// One-shot commands race the server and other invocations for the writer
	// lock; retry busy failures instead of surfacing them. Each command is a
	// single transaction, so a retried attempt starts from clean state.
	var out any
	err = storage.WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		var err error
		out, err = s.run(ctx, cmd, args)
		return err
	})
	return out, err
}

func (s *cliStack) run(ctx context.Context, cmd string, args []string) (any, error) {
	switch cmd {
	case "register":
		fs := flag.NewFlagSet("register", flag.ContinueOnError)
		team := fs.String("team", "", "team the agent belongs to")
		capacity := fs.Int("capacity", 0, "concurrent claim bound (0 = server default)")
		metadata := fs.String("metadata", "", "metadata as a JSON object")
		if err := fs.Parse(args); err != nil {
			return nil, usageErr("register [-team T] [-capacity N] [-metadata JSON] <agent_id> [capabilities...]")
		}
		rest := fs.Args()
		if len(rest) < 1 {
			return nil, usageErr("register [-team T] [-capacity N] [-metadata JSON] <agent_id> [capabilities...]")
		}
		var meta map[string]any
		if *metadata != "" {
			if err := json.Unmarshal([]byte(*metadata), &meta); err != nil {
				return nil, coorderr.New(coorderr.KindValidationFailed, "metadata must be a JSON object: %v", err)
			}
		}
		return s.eng.RegisterAgent(ctx, model.RegisterAgentRequest{
			AgentID:      rest[0],
			Team:         *team,
			Capabilities: rest[1:],
			Capacity:     *capacity,
			Metadata:     meta,
		})

	case "heartbeat":
		if len(args) != 1 {
			return nil, usageErr("heartbeat <agent_id>")
		}
		if err := s.eng.Heartbeat(ctx, args[0]); err != nil {
			return nil, err
		}
		return map[string]string{"agent_id": args[0], "status": "ok"}, nil

	case "submit":
		if len(args) < 2 || len(args) > 3 {
			return nil, usageErr("submit <work_type> <priority> [payload-json]")
		}
		payload, err := parseJSONArg(args, 2, "payload")
		if err != nil {
			return nil, err
		}
		return s.eng.SubmitWork(ctx, model.SubmitWorkRequest{
			WorkType: args[0],
			Priority: model.Priority(args[1]),
			Payload:  payload,
		})

	case "claim":
		if len(args) != 2 {
			return nil, usageErr("claim <work_item_id> <agent_id>")
		}
		return s.eng.ClaimWork(ctx, args[0], args[1])

	case "start":
		if len(args) != 1 {
			return nil, usageErr("start <work_item_id>")
		}
		return s.eng.StartWork(ctx, args[0])

	case "complete":
		if len(args) < 1 || len(args) > 2 {
			return nil, usageErr("complete <work_item_id> [result-json]")
		}
		result, err := parseJSONArg(args, 1, "result")
		if err != nil {
			return nil, err
		}
		return s.eng.CompleteWork(ctx, args[0], result)

	case "fail":
		if len(args) < 1 || len(args) > 2 {
			return nil, usageErr("fail <work_item_id> [result-json]")
		}
		result, err := parseJSONArg(args, 1, "result")
		if err != nil {
			return nil, err
		}
		return s.eng.FailWork(ctx, args[0], result)

	case "reclaim":
		fs := flag.NewFlagSet("reclaim", flag.ContinueOnError)
		timeoutFlag := fs.Duration("timeout", s.cfg.HeartbeatTimeout, "staleness threshold")
		if err := fs.Parse(args); err != nil || fs.NArg() != 0 {
			return nil, usageErr("reclaim [-timeout D]")
		}
		reclaimed, err := s.eng.ReclaimAbandoned(ctx, *timeoutFlag)
		if err != nil {
			return nil, err
		}
		if reclaimed == nil {
			reclaimed = []string{}
		}
		return model.ReclaimResponse{Reclaimed: reclaimed}, nil

	case "status":
		return s.agg.Snapshot(ctx)

	case "log":
		fs := flag.NewFlagSet("log", flag.ContinueOnError)
		limit := fs.Int("limit", 0, "maximum entries to return (0 = default)")
		if err := fs.Parse(args); err != nil || fs.NArg() != 0 || *limit < 0 {
			return nil, usageErr("log [-limit N]")
		}
		return s.eng.ListLog(ctx, *limit)

	case "agents":
		return s.eng.ListAgents(ctx)

	case "work":
		status := model.WorkStatus("")
		if len(args) == 1 {
			status = model.WorkStatus(args[0])
		}
		return s.eng.ListWork(ctx, status)

	default:
		return nil, usageErr("unknown command %q", cmd)
	}
}

func usageErr(format string, args ...any) error {
	return coorderr.New(coorderr.KindValidationFailed, "usage: coordd "+format, args...)
}

func parseJSONArg(args []string, idx int, name string) (map[string]any, error) {
	if len(args) <= idx {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(args[idx]), &m); err != nil {
		return nil, coorderr.New(coorderr.KindValidationFailed, "%s must be a JSON object: %v", name, err)
	}
	return m, nil
}

func printJSON(w *os.File, v any) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		return 1
	}
	return 0
}

// exitError prints a machine-parseable error object and maps the kind to a
// stable exit code.
func exitError(err error) int {
	kind, ok := coorderr.KindOf(err)
	if !ok {
		kind = ""
	}
	_ = json.NewEncoder(os.Stderr).Encode(map[string]any{
		"error": map[string]string{
			"code":    string(kind),
			"message": err.Error(),
		},
	})
	switch kind {
	case coorderr.KindValidationFailed:
		return 2
	case coorderr.KindAgentNotFound, coorderr.KindWorkItemNotFound:
		return 3
	case coorderr.KindDuplicateAgent, coorderr.KindAlreadyClaimed,
		coorderr.KindInvalidTransition, coorderr.KindAgentOverCapacity:
		return 4
	case coorderr.KindStoreUnavailable:
		return 5
	default:
		return 1
	}
}
