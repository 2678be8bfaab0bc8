package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/regioncap/internal/api"
	"github.com/dgnsrekt/regioncap/internal/browser"
	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
	"github.com/dgnsrekt/regioncap/internal/config"
	"github.com/dgnsrekt/regioncap/internal/controller"
	"github.com/dgnsrekt/regioncap/internal/events"
	"github.com/dgnsrekt/regioncap/internal/netutil"
	"github.com/dgnsrekt/regioncap/internal/storage"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("regioncap config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.CDPURL(),
		"page_url_filter", cfg.PageURLFilter,
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"bind_auto_fallback", cfg.BindAutoFallback,
		"bind_candidates", cfg.BindCandidates,
		"data_dir", cfg.DataDir,
		"config_file", cfg.ConfigFile,
		"fps", cfg.Recording.FPS,
		"max_seconds", cfg.Recording.MaxSeconds,
		"max_bytes", cfg.Recording.MaxBytes,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.BindCandidates, cfg.BindAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress:  cfg.CDPAddress,
			CDPPort:     cfg.CDPPort,
			BrowserPath: cfg.BrowserPath,
			ProfileDir:  cfg.ProfileDir,
			WindowSize:  cfg.WindowSize,
			StartURLs:   cfg.StartURLs,
		})
		launchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := launcher.Launch(launchCtx)
		cancel()
		if err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	cdpClient := cdpcontrol.NewClient(cfg.CDPURL(), cfg.PageURLFilter, cfg.EvalTimeout())
	if err := cdpClient.Connect(context.Background()); err != nil {
		slog.Error("failed to connect CDP", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cdpClient.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()
	if v, err := cdpClient.BrowserVersion(context.Background()); err == nil {
		slog.Info("connected to browser", "product", v.Product, "protocol", v.ProtocolVersion)
	}

	store, err := storage.NewStore(cfg.DataDir)
	if err != nil {
		slog.Error("failed to create store", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	journal := storage.NewJournal(cfg.DataDir, 256, 25)
	defer func() {
		if err := journal.Close(); err != nil {
			slog.Debug("journal close failed", "error", err)
		}
	}()

	broker := events.NewBroker()
	svc := controller.NewService(controller.ClientBrowser{Client: cdpClient}, store, *cfg,
		controller.WithJournal(journal),
		controller.WithEventBroker(broker),
	)
	defer svc.Close()
	h := api.NewServer(svc, broker)

	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("regioncap listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("regioncap server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("regioncap shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
