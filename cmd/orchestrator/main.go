// Command orchestrator is a thin CLI shell around the runtime: it wires a
// Config, an agent pool seeded with one echo agent type, and an
// Orchestrator, then runs a single intent to completion and prints the
// result. Grounded on the teacher's core/cmd/example/main.go -- adapted
// from a single HTTP tool's Initialize/Start pair into the orchestrator's
// Execute/Shutdown pair, since this runtime has no standing HTTP surface
// of its own.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agentsys/orchestrator/internal/agentpool"
	"github.com/agentsys/orchestrator/internal/allocator"
	"github.com/agentsys/orchestrator/internal/collaborator"
	"github.com/agentsys/orchestrator/internal/eventsink"
	"github.com/agentsys/orchestrator/internal/orchestrator"
	"github.com/agentsys/orchestrator/internal/transport"
	"github.com/agentsys/orchestrator/pkg/config"
	"github.com/agentsys/orchestrator/pkg/logging"
	"github.com/agentsys/orchestrator/pkg/telemetry"
)

// Exit codes per the runtime's documented contract.
const (
	exitCompleted       = 0
	exitFailed          = 1
	exitInvalidConfig   = 2
	exitShutdownTimeout = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	intent := flag.String("intent", "", "user intent to execute")
	configFile := flag.String("config", "", "optional YAML config file")
	echoCount := flag.Int("echo-agents", 2, "number of echo agent instances to seed")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP/gRPC collector endpoint (empty = stdout exporter)")
	statusAddr := flag.String("status-addr", "", "optional address to serve a traced /status endpoint on, e.g. :8080")
	flag.Parse()

	logger := logging.NewStdLogger()

	telemetryCtx, telemetryCancel := context.WithTimeout(context.Background(), 5*time.Second)
	provider, err := telemetry.New(telemetryCtx, telemetry.Options{
		ServiceName:   "agentsys-orchestrator",
		OTLPEndpoint:  *otlpEndpoint,
		SamplingRatio: 1.0,
		Insecure:      true,
	})
	telemetryCancel()
	if err != nil {
		logger.Error("telemetry setup failed", map[string]interface{}{"error": err.Error()})
		return exitInvalidConfig
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()
	tracer := provider.Tracer()

	opts := []config.Option{}
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	cfg, err := config.New(opts...)
	if err != nil {
		logger.Error("invalid configuration", map[string]interface{}{"error": err.Error()})
		return exitInvalidConfig
	}

	if *intent == "" {
		fmt.Fprintln(os.Stderr, "usage: orchestrator -intent \"...\" [-config file.yaml] [-echo-agents N]")
		return exitInvalidConfig
	}

	pool := agentpool.New(cfg.HeartbeatInterval, logger)
	hub := transport.NewHub(transport.Config{
		QueueCapacity:            cfg.MaxQueueSize,
		AckTimeout:               cfg.Reliability.AckTimeout,
		RetryDelay:               cfg.Reliability.RetryDelay,
		MaxRetries:               cfg.Reliability.MaxRetries,
		ReliabilityCheckInterval: cfg.Reliability.CheckInterval,
	}, logger)

	instances := pool.CreateInstances("general", *echoCount,
		[]agentpool.Capability{{Name: "general", Complexity: 1, EstimatedTime: time.Second}},
		func() agentpool.Agent { return &agentpool.EchoAgent{Prefix: "handled: "} })
	for _, inst := range instances {
		t := hub.NewTransport(inst.ID)
		agentpool.NewRunner(inst, t)
		t.Run(context.Background())
	}

	alloc := allocator.New(pool, logger)
	alloc.RegisterCapability("general", "general")

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(runCtx)

	orch := orchestrator.New(cfg, pool, alloc, hub,
		&collaborator.StaticAnalyzer{}, collaborator.PassQualityAssessor{}, nil, logger)

	fanout := eventsink.NewFanout(orch.Events(), logger)
	defer fanout.Stop()

	if *statusAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(orch.Status())
		})
		srv := &http.Server{Addr: *statusAddr, Handler: otelhttp.NewHandler(mux, "orchestrator-status")}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("status server stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	execCtx, execCancel := context.WithTimeout(context.Background(), cfg.TaskTimeout+cfg.AllocationTimeout)
	defer execCancel()

	execCtx, span := tracer.Start(execCtx, "orchestrator.run")
	defer span.End()

	result, err := orch.Execute(execCtx, *intent, nil)
	if err != nil {
		logger.Error("execute failed to start", map[string]interface{}{"error": err.Error()})
		return exitFailed
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown did not complete in time", map[string]interface{}{"error": err.Error()})
		return exitShutdownTimeout
	}

	if result.Status != "completed" {
		return exitFailed
	}
	return exitCompleted
}
