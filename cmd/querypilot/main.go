package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rahul/querypilot/internal/agent"
	"github.com/rahul/querypilot/internal/executor"
	"github.com/rahul/querypilot/internal/governance"
	"github.com/rahul/querypilot/internal/observability"
	"github.com/rahul/querypilot/internal/runner"
	"github.com/rahul/querypilot/internal/store"
	"github.com/rahul/querypilot/internal/tools"
	"github.com/rahul/querypilot/pkg/config"
)

var (
	configPath string
	showEvents bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "querypilot",
		Short: "QueryPilot - dependent multi-step SQL answering",
		Long: `QueryPilot turns a question into a validated plan of dependent SQL
queries, runs them in order against the configured database and reports
the results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.json", "Path to config file (.json, .yaml or .yml)")
	root.PersistentFlags().BoolVar(&showEvents, "events", false, "Write structured events to stderr")

	root.AddCommand(newAskCmd(), newRunCmd(), newSchemaCmd(), newHistoryCmd(), newServeCmd())
	return root
}

// app holds everything a command needs.
type app struct {
	cfg      *config.Config
	db       *store.Database
	history  *store.HistoryStore
	pipeline *agent.Pipeline
	logger   *observability.Logger
}

func (a *app) Close() {
	if a.history != nil {
		_ = a.history.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// newApp wires the engine. withLLM also builds the oracle, validator and the
// optional refiner and synthesizer from the default provider.
func newApp(ctx context.Context, events io.Writer, withLLM bool) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLoggerTo(events, cfg.App.LLMLogPath)

	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db, logger: logger}

	ex := executor.New(governance.NewReadOnlyPolicy(), db.Style)
	a.pipeline = &agent.Pipeline{
		Store:   db,
		Runner:  runner.New(ex, db.Dialect, cfg.Planner.StepTimeout.Duration, logger),
		Planner: cfg.Planner,
		Logger:  logger,
	}

	if !withLLM {
		return a, nil
	}

	a.history, err = store.NewHistoryStore(cfg.Memory.Path)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline.History = a.history

	model, name, err := newModel(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	llm := agent.NewLLM(model, name, logger)
	prompts := agent.NewPromptManager(cfg.App.PromptsDir)
	registry := tools.NewRegistry(
		tools.NewListTablesTool(db.Describe),
		tools.NewDescribeTablesTool(db.Describe),
	)

	a.pipeline.Oracle = agent.NewLLMOracle(llm, prompts, registry)
	a.pipeline.Validator = agent.NewLLMValidator(llm, prompts)
	if cfg.Planner.Refine {
		a.pipeline.Refiner = agent.NewLLMRefiner(llm, prompts)
	}
	if cfg.Planner.Synthesize {
		a.pipeline.Synthesizer = agent.NewLLMSynthesizer(llm, prompts)
	}
	return a, nil
}

// newModel builds the chat model of the default enabled provider.
func newModel(cfg *config.Config) (llms.Model, string, error) {
	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		return nil, "", fmt.Errorf("no enabled provider found in config")
	}

	switch pName {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(pCfg.APIKey),
			openai.WithModel(pCfg.Model),
		}
		if pCfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, "", err
		}
		return llm, pCfg.Model, nil
	default:
		return nil, "", fmt.Errorf("provider %s not yet implemented", pName)
	}
}

func eventWriter() io.Writer {
	if showEvents {
		return os.Stderr
	}
	return io.Discard
}

// startBackground runs the live dashboard and the heartbeat until ctx is done.
func startBackground(ctx context.Context, logger *observability.Logger) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.PrintLiveStatus()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
				logger.LogHeartbeat()
			}
		}
	}()

	log.Println("Background dashboard and heartbeat started")
}
