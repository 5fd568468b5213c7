package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-progress-bridge/internal/bridge"
	"github.com/JakeFAU/content-progress-bridge/internal/config"
	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
	"github.com/JakeFAU/content-progress-bridge/internal/policy/coverage"
	"github.com/JakeFAU/content-progress-bridge/internal/policy/simple"
	"github.com/JakeFAU/content-progress-bridge/internal/policy/watchratio"
	"github.com/JakeFAU/content-progress-bridge/internal/tracker"
	"github.com/JakeFAU/content-progress-bridge/internal/tracker/document"
	"github.com/JakeFAU/content-progress-bridge/internal/tracker/video"
	"github.com/JakeFAU/content-progress-bridge/internal/transport/websocket"
)

const (
	kindVideo    = "video"
	kindDocument = "document"
)

type options struct {
	URL            string
	LearnerID      string
	APIKey         string
	Kind           string
	Policy         string
	ContentID      string
	ContentVersion string
	Duration       float64
	Pages          int
	Watch          float64
	Step           time.Duration
	ReplyWait      time.Duration
}

type result struct {
	SessionID string
	Resumed   bool
	Completed bool
	Outcome   tracker.CompletionResult
	Progress  tracker.Progress
}

// content is the part of a player or viewer the simulation loop drives.
type content interface {
	Tracker() *tracker.Tracker
	Suspend() error
	Complete() (tracker.CompletionResult, error)
}

func simulate(ctx context.Context, opts options, cfg config.Config, logger *zap.Logger) (result, error) {
	if opts.LearnerID == "" {
		return result{}, errors.New("learner id is required")
	}
	if opts.Watch <= 0 || opts.Watch > 1 {
		opts.Watch = 1
	}
	if opts.ContentID == "" {
		opts.ContentID = "sim-" + opts.Kind
	}
	endpoint, err := frameURL(opts)
	if err != nil {
		return result{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := websocket.Dial(runCtx, endpoint, nil, websocket.Config{Logger: logger.Named("ws")})
	if err != nil {
		return result{}, fmt.Errorf("dial host: %w", err)
	}
	defer func() { _ = conn.Close() }()
	go func() {
		if err := conn.Run(runCtx); err != nil {
			logger.Debug("connection ended", zap.Error(err))
		}
	}()

	meta := envelope.Meta{
		envelope.MetaContentID:      opts.ContentID,
		envelope.MetaContentVersion: opts.ContentVersion,
	}
	br, err := bridge.New(conn, bridge.Config{
		UserAgent:   cfg.Bridge.UserAgent,
		SendTimeout: config.Millis(cfg.Bridge.SendTimeoutMs),
		BaseContext: runCtx,
		Logger:      logger,
	})
	if err != nil {
		return result{}, fmt.Errorf("create bridge: %w", err)
	}

	var resumed atomic.Bool
	if err := br.OnResumeData(func(envelope.ResumeData) error {
		resumed.Store(true)
		return nil
	}); err != nil {
		return result{}, fmt.Errorf("register resume listener: %w", err)
	}

	var (
		c     content
		drive func(context.Context) (bool, error)
	)
	switch opts.Kind {
	case kindVideo:
		c, drive, err = newVideo(br, opts, cfg, logger)
	case kindDocument:
		c, drive, err = newDocument(br, opts, cfg, logger)
	default:
		err = fmt.Errorf("unknown content kind %q", opts.Kind)
	}
	if err != nil {
		return result{}, err
	}
	t := c.Tracker()
	if closer, ok := c.(interface{ Close() }); ok {
		// Viewers also hold a scroll debounce timer.
		defer closer.Close()
	} else {
		defer t.Close()
	}

	if err := br.Init(meta); err != nil {
		return result{}, fmt.Errorf("announce frame: %w", err)
	}
	if !waitFor(runCtx, opts.ReplyWait, func() bool { return t.SessionID() != "" }) {
		logger.Warn("no SESSION from host, continuing without a session id")
	}
	if err := t.RequestResume(); err != nil {
		return result{}, fmt.Errorf("request resume: %w", err)
	}
	waitFor(runCtx, opts.ReplyWait, resumed.Load)

	go t.Run(runCtx)
	finished, err := drive(runCtx)
	if err != nil {
		return result{}, err
	}

	res := result{SessionID: t.SessionID(), Resumed: resumed.Load()}
	if finished {
		res.Outcome, err = c.Complete()
		res.Completed = true
	} else {
		err = c.Suspend()
	}
	if err != nil {
		return result{}, fmt.Errorf("finish content: %w", err)
	}
	res.Progress = t.Progress()
	return res, nil
}

func newVideo(
	br *bridge.Bridge,
	opts options,
	cfg config.Config,
	logger *zap.Logger,
) (content, func(context.Context) (bool, error), error) {
	if opts.Duration <= 0 {
		return nil, nil, errors.New("video duration must be > 0")
	}
	policy, err := pickPolicy(opts.Policy, watchratio.New(cfg.Video.CompleteRatio))
	if err != nil {
		return nil, nil, err
	}
	p, err := video.New(br, video.Config{
		TelemetryInterval: cfg.Video.TelemetryInterval,
		PersistInterval:   cfg.Video.PersistInterval,
		TickInterval:      config.Millis(cfg.Tracker.TickIntervalMs),
		MaxTickDelta:      config.Millis(cfg.Tracker.MaxTickDeltaMs),
		Policy:            policy,
		Logger:            logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build video player: %w", err)
	}
	drive := func(ctx context.Context) (bool, error) {
		p.Loaded(opts.Duration)
		p.Play()
		target := opts.Duration * opts.Watch
		pos := p.Tracker().Progress().Position
		for pos < target {
			pos = math.Min(pos+p.Rate(), target)
			p.TimeUpdate(pos)
			if !sleep(ctx, opts.Step) {
				return false, nil
			}
		}
		if pos >= opts.Duration {
			p.Ended()
			return true, nil
		}
		p.Pause()
		return false, nil
	}
	return p, drive, nil
}

func newDocument(
	br *bridge.Bridge,
	opts options,
	cfg config.Config,
	logger *zap.Logger,
) (content, func(context.Context) (bool, error), error) {
	if opts.Pages <= 0 {
		return nil, nil, errors.New("document pages must be > 0")
	}
	minActive := time.Duration(cfg.Document.MinActiveSec) * time.Second
	if cfg.Document.MinActiveSec == 0 {
		// Zero in config means no minimum; coverage treats zero as unset.
		minActive = -1
	}
	policy, err := pickPolicy(opts.Policy, coverage.New(coverage.Config{
		MinVisitedRatio: cfg.Document.MinVisitedRatio,
		MinActive:       minActive,
	}))
	if err != nil {
		return nil, nil, err
	}
	v, err := document.New(br, document.Config{
		TelemetryInterval: cfg.Document.TelemetryIntervalSec,
		PersistInterval:   cfg.Document.PersistIntervalSec,
		TickInterval:      config.Millis(cfg.Tracker.TickIntervalMs),
		MaxTickDelta:      config.Millis(cfg.Tracker.MaxTickDeltaMs),
		Policy:            policy,
		Logger:            logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build document viewer: %w", err)
	}
	drive := func(ctx context.Context) (bool, error) {
		v.Loaded(opts.Pages)
		last := int(math.Ceil(float64(opts.Pages) * opts.Watch))
		for v.Page() < last {
			if !sleep(ctx, opts.Step) {
				break
			}
			v.Scroll(120)
			v.Next()
		}
		v.Pause()
		finished := opts.Watch >= 1 && v.Page() >= opts.Pages
		if finished {
			v.FlushScroll()
		}
		return finished, nil
	}
	return v, drive, nil
}

// pickPolicy returns the named completion policy, or fallback for "".
func pickPolicy(name string, fallback tracker.Policy) (tracker.Policy, error) {
	switch name {
	case "":
		return fallback, nil
	case "simple":
		return simple.New(), nil
	default:
		return nil, fmt.Errorf("unknown completion policy %q", name)
	}
}

func frameURL(opts options) (string, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse host url: %w", err)
	}
	q := u.Query()
	q.Set("learner_id", opts.LearnerID)
	if opts.APIKey != "" {
		q.Set("api_key", opts.APIKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// waitFor polls cond until it holds, d elapses or ctx ends.
func waitFor(ctx context.Context, d time.Duration, cond func() bool) bool {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return cond()
		case <-ticker.C:
		}
	}
	return true
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

