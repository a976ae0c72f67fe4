package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
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

	"github.com/kalambet/deskconf/internal/api"
	"github.com/kalambet/deskconf/internal/config"
	"github.com/kalambet/deskconf/internal/desktop"
	"github.com/kalambet/deskconf/internal/notify"
	"github.com/kalambet/deskconf/internal/packages"
	"github.com/kalambet/deskconf/internal/storage"
	"github.com/kalambet/deskconf/internal/viewmodel"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the settings server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running settings server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "deskconf.pid")
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

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "deskconf version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("deskconf is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("deskconf is already running on port %d", cfg.Server.Port)
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
			printWarning("closing storage: %v", err)
		}
	}()

	printStep("Scanning packages in %s", cfg.PackagesDir())
	pkgs, err := packages.Load(cfg.PackagesDir())
	if err != nil {
		return fmt.Errorf("loading packages: %w", err)
	}

	defaults, err := config.LoadDefaults(cfg.Desktop.DefaultsFile)
	if err != nil {
		return fmt.Errorf("loading defaults: %w", err)
	}

	broker := notify.NewBroker()
	hub := api.NewHub()
	broker.AddHook(hub)
	defer hub.Close()

	applier := desktop.Chain{
		desktop.NewCommand(strings.Fields(cfg.Desktop.ApplyCommand), 0),
		&desktop.Broadcast{Publisher: broker, Origin: "deskconf"},
	}

	sessions := api.NewSessions(api.SessionDeps{
		Store:    store,
		Config:   defaults,
		Packages: pkgs,
		Broker:   broker,
		Desktop:  applier,
		Coerce:   viewmodel.DefaultCoercions(),
	})
	defer sessions.CloseAll()

	appHandler := api.NewAppHandler(api.AppDeps{
		Sessions: sessions,
		Store:    store,
		Config:   defaults,
		Token:    apiToken,
		Events:   hub,
	})

	if cfg.Notify.Watch && cfg.Storage.DataDir != "" {
		go func() {
			err := notify.Watch(ctx, broker, cfg.Storage.DataDir, storage.DBFile, notify.WatchOptions{})
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("settings watcher stopped", "error", err)
			}
		}()
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Sessions: sessions,
			Store:    store,
			Config:   defaults,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "deskconf listening on %s\n", addr)
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
		printError("deskconf is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop deskconf (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to deskconf (PID %d)", pid)
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

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if pkgs, err := packages.Load(cfg.PackagesDir()); err == nil {
		printStatus("Themes", "%d", len(pkgs.Packages(packages.OfType(packages.TypeTheme))))
		printStatus("Icon sets", "%d", len(pkgs.Packages(packages.OfType(packages.TypeIcons))))
		printStatus("Sound sets", "%d", len(pkgs.Packages(packages.OfType(packages.TypeSounds))))
	}

	if running {
		token, err := config.GetAPIToken(config.NewKeychain())
		if err == nil {
			ac := &apiClient{baseURL: serverURL, token: token, httpClient: client}
			var revs []api.HistoryEntry
			if ac.call(context.Background(), http.MethodGet, "/settings/history?limit=100", nil, &revs) == nil {
				printStatus("Saved revisions", "%s", countLabel(len(revs), 100))
				if len(revs) > 0 {
					printStatus("Last save", "%s", revs[0].SavedAt.Local().Format(time.RFC1123))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Packages dir", "%s", cfg.PackagesDir())
	if cfg.Desktop.ApplyCommand != "" {
		printStatus("Apply command", "%s", cfg.Desktop.ApplyCommand)
	}
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
