// Command regioncap_record records one region of a live page and saves it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
	"github.com/dgnsrekt/regioncap/internal/config"
	"github.com/dgnsrekt/regioncap/internal/controller"
	"github.com/dgnsrekt/regioncap/internal/recorder"
	"github.com/dgnsrekt/regioncap/internal/region"
	"github.com/dgnsrekt/regioncap/internal/storage"
)

func main() {
	pageID := flag.String("page", "", "page id to record (default: first matching page)")
	mode := flag.String("mode", "area", "region source: area|element|full")
	seconds := flag.Float64("seconds", 0, "recording length in seconds (default: configured max)")
	fps := flag.Int("fps", 0, "frames per second (default: configured)")
	out := flag.String("out", "", "also write the video to this path")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel)

	if err := run(cfg, *pageID, *mode, *seconds, *fps, *out); err != nil {
		slog.Error("regioncap_record failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, pageID, mode string, seconds float64, fps int, out string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := cdpcontrol.NewClient(cfg.CDPURL(), cfg.PageURLFilter, cfg.EvalTimeout())
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.CDPURL(), err)
	}
	defer func() { _ = client.Close() }()

	store, err := storage.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}
	svc := controller.NewService(controller.ClientBrowser{Client: client}, store, *cfg)
	defer svc.Close()

	if pageID == "" {
		pages, err := svc.ListPages(ctx)
		if err != nil {
			return err
		}
		if len(pages) == 0 {
			return errors.New("no page targets match the URL filter")
		}
		pageID = pages[0].PageID
		slog.Info("recording first page", "page_id", pageID, "url", pages[0].URL)
	}

	req := controller.StartRequest{PageID: pageID, Options: recorder.Options{FPS: fps, MaxSeconds: seconds}}
	switch mode {
	case "full":
		req.FullScreen = true
	case "area", "element":
		var reg region.Region
		fmt.Fprintln(os.Stderr, "select the region on the page (Escape cancels)")
		if mode == "area" {
			reg, err = svc.PickArea(ctx, pageID)
		} else {
			reg, err = svc.PickElement(ctx, pageID)
		}
		if err != nil {
			return err
		}
		req.Region = &reg
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	rec, err := svc.StartRecording(ctx, req)
	if err != nil {
		return err
	}
	limit := cfg.Recording.MaxSeconds
	if seconds > 0 {
		limit = seconds
	}
	fmt.Fprintf(os.Stderr, "recording %s for up to %.1fs; Ctrl-C stops early\n", rec.ID, limit)

	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(limit*float64(time.Second)) + time.Second):
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	meta, err := svc.StopRecording(stopCtx, rec.ID)
	if err != nil {
		return err
	}
	slog.Info("recording saved",
		"recording_id", meta.ID, "mime_type", meta.MimeType, "size_bytes", meta.SizeBytes,
		"duration_ms", meta.DurationMS, "stop_reason", meta.StopReason, "truncated", meta.Truncated)

	if out != "" {
		data, _, err := svc.ReadVideo(stopCtx, meta.ID)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
	}
	fmt.Println(meta.ID)
	return nil
}

func setupLogger(level string) {
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
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})))
}
