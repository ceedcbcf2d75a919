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

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/chatmem/chatmem/internal/api"
	"github.com/chatmem/chatmem/internal/config"
	"github.com/chatmem/chatmem/internal/engine"
	"github.com/chatmem/chatmem/internal/memory"
	"github.com/chatmem/chatmem/internal/profile"
	"github.com/chatmem/chatmem/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the chatmem server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running chatmem server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chatmem system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "chatmem.pid")
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

// newEngine builds the configured embedding backend and returns the model
// name to embed with.
func newEngine(cfg config.Config) (engine.Engine, string, error) {
	switch cfg.Embedding.Backend {
	case "openai":
		eng, err := engine.NewOpenAI(cfg.Embedding.OpenAIKey)
		return eng, cfg.Embedding.OpenAIModel, err
	default:
		return engine.NewOllama(cfg.Embedding.OllamaURL, cfg.Embedding.EmbedTimeout), cfg.Embedding.Model, nil
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "chatmem version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to start twice: probe the health endpoint before claiming
	// the PID file.
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

	// The embedding engine must be reachable before anything opens; a
	// session without working embeddings would silently produce an
	// unsearchable discussion.
	eng, model, err := newEngine(cfg)
	if err != nil {
		return fmt.Errorf("building embedding engine: %w", err)
	}
	if !eng.IsRunning(ctx) {
		return fmt.Errorf("embedding backend %q is not reachable", cfg.Embedding.Backend)
	}
	slog.Info("embedding backend ready", "backend", cfg.Embedding.Backend, "model", model)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	mem, err := memory.New(store, eng, memory.Options{
		Model:             model,
		Dimension:         cfg.Embedding.Dimension,
		MaxTokens:         cfg.Embedding.MaxTokens,
		IndexPath:         filepath.Join(cfg.Storage.DataDir, cfg.Storage.IndexFile),
		Timezone:          cfg.Storage.Timezone,
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
	})
	if err != nil {
		return fmt.Errorf("building memory store: %w", err)
	}

	token, discussionID, err := mem.OpenSession()
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	slog.Info("session opened", "session", token, "discussion", discussionID)

	profileMgr := profile.NewManager(store)

	appHandler := api.NewAppHandler(api.AppDeps{
		Memory:  mem,
		Profile: profileMgr,
		Token:   cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// MCP server over stdio, in parallel with the HTTP API.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Memory:  mem,
		Profile: profileMgr,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "chatmem listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Close the session before the process exits: final endtime plus an
	// index rebuild so this session's units are searchable next run.
	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := mem.CloseSession(closeCtx); err != nil {
		slog.Error("closing session", "error", err)
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
		printError("chatmem is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop chatmem (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to chatmem (PID %d)", pid)
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
	serverUp := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			serverUp = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	model := cfg.Embedding.Model
	if cfg.Embedding.Backend == "openai" {
		model = cfg.Embedding.OpenAIModel
	}
	printStatus("Embedding", "%s (%s, %d dims)", cfg.Embedding.Backend, model, cfg.Embedding.Dimension)

	if serverUp {
		apiClient, err := newAPIClient()
		if err == nil {
			statsResp, err := apiClient.post(context.Background(), "/statistics", map[string]any{
				"type":   "count",
				"entity": "dialogue_unit_id",
			})
			if err == nil {
				var rows []struct {
					Value any `json:"value"`
				}
				if decodeJSON(statsResp, &rows) == nil && len(rows) == 1 {
					printStatus("Dialogue units", "%v", rows[0].Value)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
