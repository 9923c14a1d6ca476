// Command cblt is the process entrypoint: load the Cbltfile (or, in
// MODE=docker, the orchestrator watcher's synthetic snapshots), compile a
// RoutingTable, and serve until an interrupt drains all listeners.
//
// Grounded in the teacher's cmd/stargate-node/main.go: stdlib flag parsing,
// a server started in a goroutine, and signal-driven graceful shutdown
// with a bounded context.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cbltio/cblt/internal/admin"
	"github.com/cbltio/cblt/internal/cbltfile"
	"github.com/cbltio/cblt/internal/cbltlog"
	"github.com/cbltio/cblt/internal/cbltmetrics"
	"github.com/cbltio/cblt/internal/edge"
	"github.com/cbltio/cblt/internal/orchestrator"
	"github.com/cbltio/cblt/internal/routing"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "./Cbltfile", "path to the Cbltfile")
	adminAddr := flag.String("admin-addr", "127.0.0.1:2019", "admin listener address (/healthz, /metrics, /debug/routing)")
	maxConns := flag.Int("max-connections", 4096, "global concurrent connection ceiling (spec.md C7 backpressure)")
	flag.Parse()

	log := cbltlog.New(os.Getenv("CBLT_DEV") == "1", envOr("CBLT_LOG_LEVEL", "info"))
	defer log.Sync()

	if err := run(*configPath, *adminAddr, *maxConns, log); err != nil {
		log.Error("fatal", zap.Error(err))
		os.Exit(1)
	}
}

func run(configPath, adminAddr string, maxConns int, log *zap.Logger) error {
	metrics := cbltmetrics.New()

	publisher, err := initialTable(configPath, log, metrics)
	if err != nil {
		return fmt.Errorf("cblt: initial config: %w", err)
	}

	edgeManager := edge.NewManager(publisher, maxConns, log, metrics)
	adminServer := admin.New(adminAddr, publisher, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := edgeManager.Start(ctx); err != nil {
		return fmt.Errorf("cblt: start listeners: %w", err)
	}

	go func() {
		if err := adminServer.Start(); err != nil {
			log.Warn("admin listener stopped", zap.Error(err))
		}
	}()

	var watcher *orchestrator.Watcher
	if os.Getenv("MODE") == "docker" {
		watcher, err = orchestrator.NewWatcher(log)
		if err != nil {
			return fmt.Errorf("cblt: orchestrator: %w", err)
		}
		go func() {
			err := watcher.Run(ctx, func(doc *cbltfile.Document) {
				republish(publisher, doc, log, metrics)
			})
			if err != nil && ctx.Err() == nil {
				log.Error("orchestrator watcher stopped", zap.Error(err))
			}
		}()
	}

	log.Info("cblt started", zap.String("config", configPath), zap.String("admin_addr", adminAddr))
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if watcher != nil {
		watcher.Close()
	}
	_ = adminServer.Shutdown(shutdownCtx)
	return edgeManager.Shutdown(shutdownCtx)
}

func initialTable(configPath string, log *zap.Logger, metrics *cbltmetrics.Registry) (*routing.Publisher, error) {
	src, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", configPath, err)
	}
	doc, err := cbltfile.Parse(string(src))
	if err != nil {
		return nil, err
	}
	table, pools, err := routing.Compile(doc, nil, log)
	if err != nil {
		return nil, err
	}
	for _, p := range pools {
		p.SetMetrics(metrics)
	}
	return routing.NewPublisher(table), nil
}

// republish recompiles doc against nothing (the orchestrator watcher
// generates a complete snapshot each time, so pool reuse across
// orchestrator-driven reloads is intentionally left to a future revision;
// see DESIGN.md) and publishes the resulting table.
func republish(publisher *routing.Publisher, doc *cbltfile.Document, log *zap.Logger, metrics *cbltmetrics.Registry) {
	table, pools, err := routing.Compile(doc, nil, log)
	if err != nil {
		log.Error("orchestrator: snapshot rejected", zap.Error(err))
		return
	}
	for _, p := range pools {
		p.SetMetrics(metrics)
	}
	publisher.Publish(table)
	log.Info("routing table republished from orchestrator snapshot", zap.Int("listeners", len(table.Listeners)))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
