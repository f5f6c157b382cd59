package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/hupe1980/runbridge/bot"
	"github.com/hupe1980/runbridge/bridge"
	"github.com/hupe1980/runbridge/chat/slack"
	"github.com/hupe1980/runbridge/config"
	"github.com/hupe1980/runbridge/logging"
	"github.com/hupe1980/runbridge/model"
	modelanthropic "github.com/hupe1980/runbridge/model/anthropic"
	modelopenai "github.com/hupe1980/runbridge/model/openai"
	"github.com/hupe1980/runbridge/pipeline"
	"github.com/hupe1980/runbridge/reconcile"
	"github.com/hupe1980/runbridge/search"
	"github.com/hupe1980/runbridge/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "runbridge",
		Short: "Human-gated research runs over chat",
		Long:  "Runbridge coordinates research pipeline runs with a human approval gate, streaming progress into chat threads.",
	}

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRunsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cmd *cobra.Command) *logging.RunLogger {
	level := logging.LogLevelInfo
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = logging.LogLevelDebug
	}

	return logging.NewSlogLogger(level, "json", false)
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and deadline reconciler",
		RunE:  runServe,
	}

	cmd.Flags().String("config", "runbridge.yaml", "path to the configuration file")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cmd)

	st, err := store.NewSQLite(cfg.DatabasePath, func(o *store.Options) {
		o.Logger = logger.WithComponent("store")
		o.Retry.MaxRetries = cfg.Store.RetryMax
		o.Retry.BaseDelay = cfg.Store.RetryBaseDelay
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	messenger := slack.New(cfg.Slack.BotToken, func(o *slack.Options) {
		if cfg.Slack.BaseURL != "" {
			o.BaseURL = cfg.Slack.BaseURL
		}
	})

	gen, err := newGenerator(cfg)
	if err != nil {
		return err
	}

	searchClient := search.New(cfg.Search.TavilyAPIKey, func(o *search.Options) {
		o.MaxResults = cfg.Search.MaxResults
	})

	pipe := pipeline.New(
		pipeline.NewModelPlanner(gen),
		pipeline.NewSearchGatherer(searchClient),
		pipeline.NewModelReporter(gen),
		func(o *pipeline.Options) {
			o.Logger = logger.WithComponent("pipeline")
		},
	)

	br := bridge.New(pipe, st, messenger, func(o *bridge.Options) {
		o.DeadlineWindow = cfg.Approval.DeadlineWindow
		o.Logger = logger.WithComponent("bridge")
	})

	reconciler := reconcile.New(st, messenger, br, func(o *reconcile.Options) {
		o.Interval = cfg.Approval.ReconcileInterval
		o.Logger = logger.WithComponent("reconciler")
	})

	handler := bot.NewHandler(br, st, messenger, func(o *bot.HandlerOptions) {
		o.Logger = logger.WithComponent("bot")
	})

	server := bot.NewServer(handler, func(o *bot.ServerOptions) {
		o.Logger = logger.WithComponent("http")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go reconciler.Start(ctx)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	logger.Info("server listening", "addr", cfg.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	}
}

func newGenerator(cfg config.Config) (model.Generator, error) {
	switch cfg.Model.Provider {
	case config.ProviderOpenAI:
		return modelopenai.New(func(o *modelopenai.Options) {
			if cfg.Model.Name != "" {
				o.Model = cfg.Model.Name
			}
		}), nil
	case config.ProviderAnthropic:
		return modelanthropic.New(func(o *modelanthropic.Options) {
			if cfg.Model.Name != "" {
				o.Model = anthropic.Model(cfg.Model.Name)
			}
			o.APIKey = cfg.Model.AnthropicAPIKey
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage persisted runs",
	}

	cmd.PersistentFlags().String("db", defaultDBPath(), "path to the SQLite database")

	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsDeleteCommand())

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a run's record and research content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			runID := args[0]

			rec, err := st.GetByRunID(ctx, runID)
			if err != nil {
				return fmt.Errorf("failed to load run: %w", err)
			}

			fmt.Printf("Run:        %s\n", rec.RunID)
			fmt.Printf("Channel:    %s\n", rec.ChannelID)
			fmt.Printf("Requester:  %s\n", rec.RequesterID)
			fmt.Printf("Parent:     %s\n", rec.ParentRef)
			fmt.Printf("Thread:     %s\n", rec.ThreadRef)
			fmt.Printf("Approval:   %s\n", rec.ApprovalRef)
			fmt.Printf("Deadline:   %s\n", formatMillis(rec.DeadlineAt))

			if rec.TimeoutNotifiedAt != nil {
				fmt.Printf("Timed out:  %s\n", formatMillis(*rec.TimeoutNotifiedAt))
			}

			fmt.Printf("Created:    %s\n", formatMillis(rec.CreatedAt))
			fmt.Printf("Updated:    %s\n", formatMillis(rec.UpdatedAt))

			if research, err := st.GetResearch(ctx, runID); err == nil {
				if research.Query != "" {
					fmt.Printf("\nQuery:\n%s\n", research.Query)
				}

				if research.Plan != "" {
					fmt.Printf("\nPlan:\n%s\n", research.Plan)
				}

				if research.Report != "" {
					fmt.Printf("\nReport:\n%s\n", research.Report)
				}
			}

			feedbacks, err := st.ListFeedback(ctx, runID)
			if err != nil || len(feedbacks) == 0 {
				return nil
			}

			fmt.Printf("\nFeedback:\n")

			for _, fb := range feedbacks {
				fmt.Printf("  %s by %s at %s\n", fb.Kind, fb.UserID, formatMillis(fb.CreatedAt))
			}

			return nil
		},
	}
}

func newRunsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its research content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteByRunID(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}

			fmt.Printf("Deleted run %s\n", args[0])

			return nil
		},
	}
}

func openStore(cmd *cobra.Command) (*store.SQLite, error) {
	path, _ := cmd.Flags().GetString("db")

	st, err := store.NewSQLite(path, func(o *store.Options) {
		o.Logger = newLogger(cmd)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return st, nil
}

func defaultDBPath() string {
	if v := os.Getenv("RUNBRIDGE_DB"); v != "" {
		return v
	}

	return "runbridge.db"
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Format(time.RFC3339)
}
