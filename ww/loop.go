package ww

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/roessland/wattwich/calendar"
	"github.com/roessland/wattwich/config"
)

const (
	// DefaultPollInterval is how often an unconfigured loop re-checks its configuration.
	DefaultPollInterval = 5 * time.Second
	// DefaultIdleInterval separates reconciliation cycles once configured.
	DefaultIdleInterval = time.Hour
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Loop runs reconciliation cycles until its context is cancelled
type Loop struct {
	store      ConfigStore
	pipeline   *Pipeline
	newArchive func(dir string) Archive
	logger     Logger
	reporter   Reporter

	// Setup is consulted when the configuration lacks credentials. Optional.
	Setup Setup
	// PollInterval is the wait while unconfigured.
	PollInterval time.Duration
	// IdleInterval is the wait after every configured cycle.
	IdleInterval time.Duration

	now   func() time.Time
	sleep SleepFunc
	newID func() string
}

// NewLoop creates a loop. newArchive opens the archive directory named by
// the configuration at the start of each cycle.
func NewLoop(store ConfigStore, pipeline *Pipeline, newArchive func(dir string) Archive, logger Logger, reporter Reporter) *Loop {
	if reporter == nil {
		reporter = noopReporter{}
	}
	return &Loop{
		store:        store,
		pipeline:     pipeline,
		newArchive:   newArchive,
		logger:       logger,
		reporter:     reporter,
		PollInterval: DefaultPollInterval,
		IdleInterval: DefaultIdleInterval,
		now:          time.Now,
		sleep:        Sleep,
		newID:        uuid.NewString,
	}
}

// Run repeats Cycle and sleeps between cycles. It only returns when ctx is
// done or the configuration file is corrupt.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("reconciliation loop started", "poll_interval", l.PollInterval, "idle_interval", l.IdleInterval)
	for {
		_, wait, err := l.Cycle(ctx)
		if err != nil {
			return err
		}
		if err := l.sleep(ctx, wait); err != nil {
			l.logger.Info("reconciliation loop stopped", "reason", err)
			return err
		}
	}
}

// Cycle performs one reconciliation pass and returns how long to wait before
// the next one. The summary is nil when no fetch was attempted because the
// configuration is incomplete.
func (l *Loop) Cycle(ctx context.Context) (*CycleSummary, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	cfg, err := l.store.Load()
	if errors.Is(err, config.ErrCorruptConfig) {
		l.logger.Error("configuration file is corrupt, fix or remove it", "error", err)
		return nil, 0, err
	}
	if err != nil {
		l.logger.Error("failed to load configuration", "error", err)
		l.reporter.Waiting("configuration unreadable", l.PollInterval)
		return nil, l.PollInterval, nil
	}

	if !config.IsComplete(cfg) {
		if cfg.Password != "" && !cfg.HasPassword() {
			l.logger.Error("stored password is unusable, re-enter credentials")
		}
		cfg = l.runSetup(ctx, cfg)
	}
	username, password, ok := cfg.Credentials()
	if !ok {
		l.logger.Info("waiting for configuration", "retry_in", l.PollInterval)
		l.reporter.Waiting("credentials missing", l.PollInterval)
		return nil, l.PollInterval, nil
	}

	cycleID := l.newID()
	archive := l.newArchive(cfg.ArchiveDir)
	today := calendar.Today(l.now())

	missing, err := archive.MissingDays(cfg.StartDate, today)
	if err != nil {
		l.logger.Error("failed to compute missing days", "cycle_id", cycleID, "archive_dir", cfg.ArchiveDir, "error", err)
		return &CycleSummary{ID: cycleID}, l.IdleInterval, nil
	}

	if len(missing) == 0 {
		l.logger.Info("archive is up to date", "cycle_id", cycleID, "start_date", cfg.StartDate.String(), "today", today.String())
		l.reporter.Idle(l.IdleInterval)
		return &CycleSummary{ID: cycleID}, l.IdleInterval, nil
	}

	l.logger.Info("reconciling missing days",
		"cycle_id", cycleID,
		"missing", len(missing),
		"first", missing[0].String(),
		"last", missing[len(missing)-1].String())

	summary := l.pipeline.Run(ctx, cycleID, username, password, archive, missing)

	completed := make([]string, len(summary.Completed))
	for i, d := range summary.Completed {
		completed[i] = d.String()
	}
	l.logger.Info("cycle finished",
		"cycle_id", cycleID,
		"missing", len(missing),
		"completed", completed,
		"upload_failures", summary.UploadFailures(),
		"auth_failed", summary.AuthError != nil,
		"next_cycle_in", l.IdleInterval)

	if err := ctx.Err(); err != nil {
		return summary, 0, err
	}
	return summary, l.IdleInterval, nil
}

// runSetup asks the Setup collaborator for missing fields and persists them.
// Fields supplied before a setup error are kept. It returns the configuration
// to use for this cycle.
func (l *Loop) runSetup(ctx context.Context, cfg config.Config) config.Config {
	if l.Setup == nil {
		return cfg
	}

	fields, err := l.Setup.MissingFields(ctx, cfg)
	if err != nil {
		l.logger.Warn("setup did not complete", "error", err)
	}
	if fields.Empty() {
		return cfg
	}

	next, err := l.store.ApplyMissingFields(cfg, fields)
	if err != nil {
		l.logger.Error("failed to save configuration", "error", err)
		return cfg
	}
	l.logger.Info("configuration updated", "username", next.Username)
	return next
}
