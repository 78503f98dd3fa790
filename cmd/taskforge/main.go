// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command taskforge is the CLI entrypoint for the task orchestrator service.
//
// Usage:
//
//	taskforge serve --config config.yaml
//	taskforge validate --config config.yaml
//	taskforge version
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/arx88/taskforge/pkg/config"
	"github.com/arx88/taskforge/pkg/databases"
	"github.com/arx88/taskforge/pkg/embedders"
	"github.com/arx88/taskforge/pkg/engine"
	"github.com/arx88/taskforge/pkg/eventbus"
	"github.com/arx88/taskforge/pkg/intent"
	"github.com/arx88/taskforge/pkg/llm"
	"github.com/arx88/taskforge/pkg/logger"
	"github.com/arx88/taskforge/pkg/memory"
	"github.com/arx88/taskforge/pkg/observability"
	"github.com/arx88/taskforge/pkg/orchestrator"
	"github.com/arx88/taskforge/pkg/plan"
	"github.com/arx88/taskforge/pkg/ratelimit"
	"github.com/arx88/taskforge/pkg/server"
	"github.com/arx88/taskforge/pkg/tool"
)

// Exit codes per the endpoint/process contract: 0 success, 1 generic
// failure, 2 configuration/validation error, 3 a required dependency
// (database, embedder, LLM) could not be reached, 130 interrupted.
const (
	exitOK                = 0
	exitFailure           = 1
	exitValidation        = 2
	exitDependencyMissing = 3
	exitCancelled         = 130
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the orchestrator HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file without starting the server."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"taskforge.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("taskforge version %s\n", version)
	return nil
}

// ValidateCmd loads and validates a config file, reporting errors without
// starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(exitValidation)
	}
	fmt.Printf("configuration valid: %d llm(s), %d embedder(s), %d database(s)\n",
		len(cfg.LLMs), len(cfg.Embedders), len(cfg.Databases))
	return nil
}

// ServeCmd wires every component and starts the HTTP server.
type ServeCmd struct {
	Port    int  `help:"Port to listen on (overrides config)." default:"0"`
	Observe bool `help:"Enable observability (Prometheus metrics + OTLP tracing to localhost:4317)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(exitValidation)
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	obsMgr, err := observability.NewManager(ctx, observabilityConfig(c.Observe))
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer obsMgr.Shutdown(ctx)

	dbRegistry := databases.NewDatabaseRegistry()
	var db databases.DatabaseProvider
	if cfg.Memory.DatabaseName != "" {
		dbCfg, ok := cfg.Databases[cfg.Memory.DatabaseName]
		if !ok {
			fmt.Fprintf(os.Stderr, "memory.database %q not found in databases config\n", cfg.Memory.DatabaseName)
			os.Exit(exitDependencyMissing)
		}
		db, err = dbRegistry.CreateDatabaseFromConfig(cfg.Memory.DatabaseName, dbCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to database %q: %v\n", cfg.Memory.DatabaseName, err)
			os.Exit(exitDependencyMissing)
		}
	}

	embRegistry := embedders.NewEmbedderRegistry()
	var emb embedders.EmbedderProvider
	if cfg.Memory.EmbedderName != "" {
		embCfg, ok := cfg.Embedders[cfg.Memory.EmbedderName]
		if !ok {
			fmt.Fprintf(os.Stderr, "memory.embedder %q not found in embedders config\n", cfg.Memory.EmbedderName)
			os.Exit(exitDependencyMissing)
		}
		emb, err = embRegistry.CreateEmbedderFromConfig(cfg.Memory.EmbedderName, embCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to embedder %q: %v\n", cfg.Memory.EmbedderName, err)
			os.Exit(exitDependencyMissing)
		}
	}

	var memMgr *memory.Manager
	if db != nil && emb != nil {
		memMgr, err = memory.New(memory.Config{
			Embedder:           emb,
			Database:           db,
			WorkingCapacity:    cfg.Memory.WorkingCapacity,
			EpisodicCapacity:   cfg.Memory.EpisodicCapacity,
			ConceptCapacity:    cfg.Memory.ConceptCapacity,
			FactCapacity:       cfg.Memory.FactCapacity,
			ProceduralCapacity: cfg.Memory.ProceduralCapacity,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize memory manager: %w", err)
		}
		if err := memMgr.EnsureCollections(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to ensure memory collections: %v\n", err)
			os.Exit(exitDependencyMissing)
		}
	} else {
		slog.Warn("memory.database / memory.embedder not configured; running without long-term memory")
	}

	tools := tool.NewRegistry()
	for _, t := range []tool.Tool{
		&tool.ShellTool{},
		&tool.FileReadTool{Read: os.ReadFile},
		&tool.FileWriteTool{Write: func(path string, content []byte) error {
			return os.WriteFile(path, content, 0644)
		}},
	} {
		if err := tools.Register(t); err != nil {
			return fmt.Errorf("failed to register builtin tool: %w", err)
		}
	}

	var chatClient llm.Client
	if llmCfg, ok := cfg.LLMs["default"]; ok {
		chatClient, err = llm.NewFromConfig(ctx, llmCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize default LLM provider: %v\n", err)
			os.Exit(exitDependencyMissing)
		}
	} else {
		chatClient, err = llm.NewFromConfig(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize noop LLM client: %w", err)
		}
	}

	classifier := intent.New(intent.DefaultWordLists())

	planTimeout := time.Duration(cfg.Engine.PlanTimeoutSecs) * time.Second
	planner := plan.New(plan.DefaultTemplates(),
		plan.WithLLMClient(chatClient),
		plan.WithRegisteredTools(registeredToolSet(tools)),
		plan.WithConcurrencyDefaults(cfg.Engine.MaxParallelSteps, planTimeout),
	)

	bus := eventbus.New()
	eng := engine.New(tools, bus)

	orch := orchestrator.New(classifier, planner, eng, memMgr, bus, orchestrator.WithChatClient(chatClient))

	limiter, err := ratelimit.NewRateLimiterFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	srv := server.New(server.Options{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		Orchestrator:  orch,
		Memory:        memMgr,
		Observability: obsMgr,
		RateLimiter:   limiter,
	})

	fmt.Printf("taskforge server ready: http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("   health:  http://%s:%d/health\n", cfg.Server.Host, cfg.Server.Port)
	if obsMgr.MetricsEnabled() {
		fmt.Printf("   metrics: http://%s:%d%s\n", cfg.Server.Host, cfg.Server.Port, obsMgr.MetricsEndpoint())
	}
	fmt.Println("press Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, syscall.SIGINT, syscall.SIGTERM)

	if err := srv.Wait(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	select {
	case <-interrupted:
		return errCancelled
	default:
		return nil
	}
}

// errCancelled signals main() to exit with exitCancelled rather than
// exitOK/exitFailure, distinguishing an operator-initiated shutdown
// (Ctrl+C / SIGTERM) from a clean stop the caller requested some other way.
var errCancelled = errors.New("interrupted")

// loadConfig reads and validates the YAML config file at path.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(config.LoaderOptions{
		Type: config.ConfigTypeFile,
		Path: path,
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// observabilityConfig builds an observability.Config for --observe. When
// disabled both tracing and metrics stay off, so Manager methods degrade to
// their nil-safe no-op behavior.
func observabilityConfig(enabled bool) *observability.Config {
	cfg := &observability.Config{
		Tracing: observability.TracingConfig{
			Enabled:      enabled,
			ServiceName:  observability.DefaultServiceName,
			Endpoint:     observability.DefaultOTLPEndpoint,
			SamplingRate: observability.DefaultSamplingRate,
		},
		Metrics: observability.MetricsConfig{
			Enabled:  enabled,
			Endpoint: observability.DefaultMetricsPath,
		},
	}
	cfg.SetDefaults()
	return cfg
}

// registeredToolSet converts a tool registry's names into the set shape
// the planner uses to reject plans referencing unregistered tools.
func registeredToolSet(tools *tool.Registry) map[string]bool {
	set := make(map[string]bool, len(tools.Names()))
	for _, name := range tools.Names() {
		set[name] = true
	}
	return set
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("taskforge"),
		kong.Description("Task orchestrator service"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(exitValidation)
	}
	logger.Init(level, os.Stderr, cli.LogFormat)

	if err := kctx.Run(&cli); err != nil {
		if errors.Is(err, errCancelled) {
			os.Exit(exitCancelled)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFailure)
	}
}
