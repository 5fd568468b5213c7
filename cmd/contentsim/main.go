// Package main runs a simulated content frame against a bridge host.
//
// The simulator dials the host's /v1/frames WebSocket, drives a video player
// or paged document through the same bridge and tracker a real frame embeds,
// and either completes or suspends depending on how much it consumed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-progress-bridge/internal/config"
	"github.com/JakeFAU/content-progress-bridge/internal/logging"
)

func main() {
	var opts options
	cfgPath := flag.String("config", "", "Path to config file")
	flag.StringVar(&opts.URL, "url", "ws://localhost:8080/v1/frames", "Host frames endpoint")
	flag.StringVar(&opts.LearnerID, "learner", "", "Learner id sent to the host")
	flag.StringVar(&opts.APIKey, "api-key", "", "API key when host auth is enabled")
	flag.StringVar(&opts.Kind, "kind", kindVideo, "Content kind: video or document")
	flag.StringVar(&opts.Policy, "policy", "", "Completion policy override: simple")
	flag.StringVar(&opts.ContentID, "content", "", "Content id (defaults per kind)")
	flag.StringVar(&opts.ContentVersion, "version", "1", "Content version")
	flag.Float64Var(&opts.Duration, "duration", 120, "Video length in seconds")
	flag.IntVar(&opts.Pages, "pages", 12, "Document page count")
	flag.Float64Var(&opts.Watch, "watch", 1, "Fraction of the content to consume before stopping")
	flag.DurationVar(&opts.Step, "step", 100*time.Millisecond, "Wall time per simulated second or page")
	flag.DurationVar(&opts.ReplyWait, "reply-wait", 2*time.Second, "How long to wait for SESSION and RESUME_DATA")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.Build(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := simulate(ctx, opts, cfg, logger.Named("contentsim"))
	if err != nil {
		logger.Error("simulation failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("simulation finished",
		zap.String("session_id", res.SessionID),
		zap.Bool("resumed", res.Resumed),
		zap.Bool("completed", res.Completed),
		zap.Bool("success", res.Outcome.Success),
		zap.Float64("score", res.Outcome.ScoreRaw),
		zap.Duration("active", res.Progress.Elapsed),
		zap.Int("visited", res.Progress.Visited.Len()),
	)
}
