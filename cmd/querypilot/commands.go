package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rahul/querypilot/internal/agent"
	"github.com/rahul/querypilot/internal/gateway"
	"github.com/rahul/querypilot/internal/observability"
	"github.com/rahul/querypilot/internal/plan"
	"github.com/rahul/querypilot/internal/runner"
	"github.com/rahul/querypilot/internal/store"
	"github.com/rahul/querypilot/pkg/config"
)

func newAskCmd() *cobra.Command {
	var (
		chatID  string
		asJSON  bool
		showSQL bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question with a validated multi-step query plan",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, eventWriter(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			ans, err := a.pipeline.Ask(ctx, chatID, strings.Join(args, " "))
			if err != nil {
				var ee *agent.ExhaustedError
				if errors.As(err, &ee) {
					return fmt.Errorf("no valid plan after %d attempts, last problem: %s", ee.Attempts, ee.LastError)
				}
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, ans.Outputs)
			}
			if showSQL {
				fmt.Fprintf(out, "Plan (%d attempts):\n%s\n%s\n", len(ans.Attempts), ans.Plan.FormattedSQL(), observability.Rule())
			}
			fmt.Fprintln(out, ans.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "cli", "Chat id the question is recorded under")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print step outputs as JSON")
	cmd.Flags().BoolVar(&showSQL, "sql", false, "Print the accepted plan before the results")
	return cmd
}

func newRunCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run <plan.json>",
		Short: "Execute an execution plan from a file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			ep, err := plan.Parse(raw)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, eventWriter(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			outputs := a.pipeline.RunPlan(ctx, ep)

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, outputs)
			}
			fmt.Fprintln(out, agent.FormatOutputs(outputs))
			if failed := countFailed(outputs); failed > 0 {
				return fmt.Errorf("%d of %d steps failed", failed, len(outputs))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print step outputs as JSON")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	var overview bool

	cmd := &cobra.Command{
		Use:   "schema [table...]",
		Short: "Describe the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, eventWriter(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			schema, err := a.db.Describe(ctx)
			if err != nil {
				return err
			}
			if overview {
				fmt.Fprintln(cmd.OutOrStdout(), schema.Overview())
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), schema.Detail(args...))
			return nil
		},
	}
	cmd.Flags().BoolVar(&overview, "overview", false, "One line per table")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		chatID string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the latest questions asked in a chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			h, err := store.NewHistoryStore(cfg.Memory.Path)
			if err != nil {
				return err
			}
			defer h.Close()

			runs, err := h.RecentRuns(cmd.Context(), chatID, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintf(out, "No questions recorded for chat %q.\n", chatID)
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %-9s  attempts=%d steps=%d  %s\n",
					r.CreatedAt.Format(time.DateTime), r.Status, r.Attempts, r.Steps, r.Question)
				if r.LastError != "" {
					fmt.Fprintf(out, "    last problem: %s\n", r.LastError)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "cli", "Chat id to list")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of runs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Answer questions from the enabled chat gateways",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, stop)
		},
	}
}

func serve(ctx context.Context, stop context.CancelFunc) error {
	interactive := observability.IsInteractive()
	if interactive {
		observability.PrintBanner()
		observability.InitializeTerminal()
		defer observability.CleanupTerminal()

		// Route all log output through the terminal mutex so it never
		// interrupts the dashboard's cursor save/restore sequence.
		log.SetOutput(observability.NewTermWriter())
	}

	a, err := newApp(ctx, os.Stdout, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var messengers []gateway.Messenger
	if tgCfg, ok := a.cfg.GetGatewayConfig("telegram"); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, a.pipeline)
		if err != nil {
			return fmt.Errorf("telegram gateway: %w", err)
		}
		messengers = append(messengers, tg)
	}
	if dcCfg, ok := a.cfg.GetGatewayConfig("discord"); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, a.pipeline)
		if err != nil {
			return fmt.Errorf("discord gateway: %w", err)
		}
		messengers = append(messengers, dc)
	}
	if len(messengers) == 0 {
		return errors.New("no gateway is enabled with a token")
	}

	if addr := a.cfg.App.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server stopped: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Printf("Metrics available on %s/metrics", addr)
	}

	if interactive {
		startBackground(ctx, a.logger)
	}

	// Start gateways in goroutines so we can wait for context in the main loop
	for _, m := range messengers {
		go func(m gateway.Messenger) {
			if err := m.Start(ctx); err != nil {
				log.Printf("\033[91m[ FAIL ] GATEWAY CRITICAL ERROR: %v\033[0m", err)
				stop() // stop caller if gateway dies
			}
		}(m)
	}

	// Wait for shutdown signal
	<-ctx.Done()
	for _, m := range messengers {
		_ = m.Stop()
	}

	// Give a short time for final logs/syncs
	time.Sleep(500 * time.Millisecond)
	log.Println("\033[95m[ EXIT ] QUERYPILOT SHUT DOWN. GOODBYE.\033[0m")
	return nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func writeJSON(w io.Writer, outputs []runner.OutputRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(outputs)
}

func countFailed(outputs []runner.OutputRecord) int {
	n := 0
	for _, o := range outputs {
		if o.Failed() {
			n++
		}
	}
	return n
}
