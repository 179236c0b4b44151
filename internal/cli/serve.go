package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/DavidSchwarz2/agentpipe/internal/agentclient"
	"github.com/DavidSchwarz2/agentpipe/internal/api"
	"github.com/DavidSchwarz2/agentpipe/internal/app"
	"github.com/DavidSchwarz2/agentpipe/internal/approval"
	"github.com/DavidSchwarz2/agentpipe/internal/broker"
	"github.com/DavidSchwarz2/agentpipe/internal/lifecycle"
	"github.com/DavidSchwarz2/agentpipe/internal/registry"
	"github.com/DavidSchwarz2/agentpipe/internal/runner"
	"github.com/DavidSchwarz2/agentpipe/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		addr         string
		clientKind   string
		agentBaseURL string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline orchestrator HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if v := os.Getenv("AGENTPIPE_AGENT_CLIENT"); v != "" && !cmd.Flags().Changed("agent-client") {
				clientKind = v
			}
			if v := os.Getenv("AGENTPIPE_AGENT_BASE_URL"); v != "" && !cmd.Flags().Changed("agent-base-url") {
				agentBaseURL = v
			}
			return runServe(cmd.Context(), addr, clientKind, agentBaseURL)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address for the HTTP API")
	cmd.Flags().StringVar(&clientKind, "agent-client", "http", "Agent backend: http or cli")
	cmd.Flags().StringVar(&agentBaseURL, "agent-base-url", "http://localhost:3284", "Base URL for the http agent client")

	return cmd
}

func runServe(ctx context.Context, addr, clientKind, agentBaseURL string) error {
	dbPath, _, err := app.ResolveDBPathDetailed()
	if err != nil {
		return fmt.Errorf("resolve db path: %w", err)
	}

	db, err := store.OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.CloseDB(db)

	if err := store.CheckSchemaVersion(db); err != nil {
		return err
	}

	agentsPath, err := app.AgentsPath()
	if err != nil {
		return err
	}
	templatesPath, err := app.TemplatesPath()
	if err != nil {
		return err
	}
	reg, err := registry.New(agentsPath, templatesPath)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	client, err := newAgentClient(clientKind, agentBaseURL)
	if err != nil {
		return err
	}

	settings := app.EffectiveRunnerSettings()
	signals := approval.New()
	run := runner.New(db, client, reg, signals, settings)
	lc := lifecycle.New(db, run)
	evt := broker.New(client, settings.ReconnectDelaySeconds, settings.SubscriberInboxCapacity)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if err := reg.Watch(watchCtx); err != nil {
		slog.Default().Warn("registry file watch unavailable, hot-reload disabled", "error", err.Error())
	} else {
		defer func() { _ = reg.Stop() }()
	}

	evt.Start(watchCtx)
	defer evt.Stop()

	if err := lc.Recover(); err != nil {
		slog.Default().Error("failed to recover active pipelines", "error", err.Error())
	}
	defer lc.Shutdown()

	server := api.NewServer(db, reg, run, signals, lc, evt, settings, nil)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		slog.Default().Info("serving", "addr", addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-sigCtx.Done():
		slog.Default().Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func newAgentClient(kind, baseURL string) (agentclient.Client, error) {
	switch kind {
	case "http":
		return agentclient.NewHTTPClient(baseURL), nil
	case "cli":
		return agentclient.NewCLIClient(), nil
	default:
		return nil, fmt.Errorf("unknown agent client kind %q (want http or cli)", kind)
	}
}
