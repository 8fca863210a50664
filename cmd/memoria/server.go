package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kovalev/memoria/internal/api"
	"github.com/kovalev/memoria/internal/config"
	"github.com/kovalev/memoria/internal/jobs"
	"github.com/kovalev/memoria/internal/provider"
	"github.com/kovalev/memoria/internal/search"
	"github.com/kovalev/memoria/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the memoria server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running memoria server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show memoria system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "memoria.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// buildRegistry maps the embedding config onto provider settings. All
// three providers are registered; unconfigured ones fail at resolution
// and show up as unhealthy in health sweeps.
func buildRegistry(cfg config.Config) *provider.Registry {
	settings := make(map[string]provider.Settings, 3)
	for _, name := range cfg.ProviderNames() {
		pc, _ := cfg.Provider(name)
		settings[name] = provider.Settings{
			Driver:     name,
			APIKey:     pc.APIKey,
			AccountID:  pc.AccountID,
			Model:      pc.Model,
			Dimensions: pc.Dimensions,
			BaseURL:    pc.BaseURL,
		}
	}
	return provider.NewRegistry(cfg.Embedding.Default, cfg.Embedding.Fallbacks, settings)
}

func buildPolicy(cfg config.Config) (jobs.Policy, error) {
	backoff, err := cfg.BackoffSchedule()
	if err != nil {
		return jobs.Policy{}, err
	}
	p := jobs.DefaultPolicy()
	p.MaxAttempts = cfg.Jobs.MaxAttempts
	p.Backoff = backoff
	p.RetryWindow = config.Duration(cfg.Jobs.RetryWindow, p.RetryWindow)
	p.EmbedTimeout = config.Duration(cfg.Jobs.Timeout, p.EmbedTimeout)
	return p, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "memoria version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// First run: mint a bearer token and persist it for the CLI.
	if cfg.API.Token == "" {
		cfg.API.Token = uuid.NewString()
		if err := config.SetKey("api.token", cfg.API.Token); err != nil {
			return fmt.Errorf("persisting API token: %w", err)
		}
		logger.Info("generated new API bearer token")
	}

	// Refuse to double-start. The health endpoint is the authority; the
	// PID file just names the culprit.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	registry := buildRegistry(cfg)
	policy, err := buildPolicy(cfg)
	if err != nil {
		return err
	}

	engine := search.NewEngine(store, registry, search.Defaults{
		Limit:        cfg.Search.Limit,
		Threshold:    cfg.Search.Threshold,
		VectorWeight: cfg.Search.VectorWeight,
		TextWeight:   cfg.Search.TextWeight,
		QueryTimeout: config.Duration(cfg.Search.QueryTimeout, 10*time.Second),
	}, logger)

	queue := jobs.NewQueue(store, registry, policy, logger)
	runner := jobs.NewRunner(store, registry, policy)
	worker := jobs.NewWorker(store, runner, policy,
		config.Duration(cfg.Jobs.PollInterval, 500*time.Millisecond), logger)
	go worker.Run(ctx)

	sweeper := jobs.NewSweeper(store, registry, logger)
	if err := sweeper.Start(ctx,
		config.Duration(cfg.Sweeps.HealthInterval, 5*time.Minute),
		config.Duration(cfg.Sweeps.CleanupInterval, time.Hour)); err != nil {
		return fmt.Errorf("starting sweeps: %w", err)
	}
	defer sweeper.Stop()

	handler := api.NewAppHandler(api.AppDeps{
		Store:      store,
		Engine:     engine,
		Queue:      queue,
		Sweeper:    sweeper,
		Token:      cfg.API.Token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Logger:     logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP over stdio, alongside HTTP.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:    store,
		Engine:   engine,
		Queue:    queue,
		Registry: registry,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("MCP stdio server error", "error", err)
		}
	}()
	logger.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		logger.Info("memoria listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("memoria is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop memoria (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to memoria (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := err == nil && resp.StatusCode == 200
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if running {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Default provider", "%s", cfg.Embedding.Default)
	if len(cfg.Embedding.Fallbacks) > 0 {
		printStatus("Fallbacks", "%s", strings.Join(cfg.Embedding.Fallbacks, ", "))
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	if running && cfg.API.Token != "" {
		c := &apiClient{baseURL: serverURL, token: cfg.API.Token, httpClient: client}
		if statsResp, err := c.get(context.Background(), "/jobs/stats"); err == nil {
			var stats map[string]int
			if decodeJSON(statsResp, &stats) == nil {
				printStatus("Jobs", "%d pending, %d processing, %d completed, %d failed",
					stats["pending"], stats["processing"], stats["completed"], stats["failed"])
			}
		}
	}

	return nil
}
