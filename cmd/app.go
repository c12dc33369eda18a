package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/roessland/wattwich/archive"
	"github.com/roessland/wattwich/calendar"
	"github.com/roessland/wattwich/config"
	"github.com/roessland/wattwich/parser"
	"github.com/roessland/wattwich/pkg/output"
	"github.com/roessland/wattwich/source"
	"github.com/roessland/wattwich/upload"
	"github.com/roessland/wattwich/ww"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// settings are the runtime values resolved from flags and environment
type settings struct {
	ConfigPath   string
	ArchiveDir   string
	PortalURL    string
	PollInterval time.Duration
	IdleInterval time.Duration
	JSON         bool
	Daemon       bool
	Username     string
	Password     string
}

func loadSettings() settings {
	return settings{
		ConfigPath:   cfgFile,
		ArchiveDir:   viper.GetString("archive_dir"),
		PortalURL:    viper.GetString("portal_url"),
		PollInterval: viper.GetDuration("poll_interval"),
		IdleInterval: viper.GetDuration("idle_interval"),
		JSON:         viper.GetBool("json"),
		Daemon:       viper.GetBool("daemon"),
		Username:     viper.GetString("username"),
		Password:     viper.GetString("password"),
	}
}

// mode picks interactive output only when a human is watching.
func (s settings) mode() output.OutputMode {
	switch {
	case s.JSON:
		return output.ModeJSON
	case s.Daemon || !term.IsTerminal(int(os.Stdout.Fd())):
		return output.ModeDaemon
	default:
		return output.ModeInteractive
	}
}

// canPrompt reports whether credentials may be asked for on the terminal.
func (s settings) canPrompt() bool {
	return s.mode() == output.ModeInteractive && term.IsTerminal(int(os.Stdin.Fd()))
}

// setup returns the chain consulted when credentials are missing.
func (s settings) setup() ww.Setup {
	chain := ww.SetupChain{ww.EnvSetup{Username: s.Username, Password: s.Password}}
	if s.canPrompt() {
		chain = append(chain, ww.NewPromptSetup())
	}
	return chain
}

// archiveOpener returns the archive for the configured directory, unless the
// archive_dir setting overrides it.
func (s settings) archiveOpener(fs afero.Fs) (func(dir string) ww.Archive, error) {
	override := ""
	if s.ArchiveDir != "" {
		dir, err := homedir.Expand(s.ArchiveDir)
		if err != nil {
			return nil, fmt.Errorf("failed to expand archive dir: %w", err)
		}
		override = dir
	}
	return func(dir string) ww.Archive {
		if override != "" {
			dir = override
		}
		return archive.New(fs, dir)
	}, nil
}

// runLoop wires the reconciliation loop and runs it until interrupted, or for
// a single cycle when once is set.
func runLoop(ctx context.Context, s settings, once bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ol, err := output.New(s.mode())
	if err != nil {
		return fmt.Errorf("failed to initialize output: %w", err)
	}

	fs := afero.NewOsFs()
	store, err := config.NewStore(fs, s.ConfigPath)
	if err != nil {
		return err
	}

	// Portal and transport are fixed for the lifetime of the process;
	// credentials and the archive location are re-read every cycle.
	cfg, err := store.Load()
	if err != nil {
		ol.LogAndShowError(err, "Failed to load configuration from %s", store.Path())
		return err
	}

	portalURL := cfg.PortalURL
	if s.PortalURL != "" {
		portalURL = s.PortalURL
	}
	client, err := source.New(portalURL, source.WithLogger(ol.Component("source").Slog()))
	if err != nil {
		return err
	}

	sink, err := upload.New(cfg.Transport, cfg.TransportConfig)
	if err != nil {
		ol.LogAndShowError(err, "Invalid transport configuration")
		return err
	}
	uploader := upload.NewAdapter(sink, ol.Component("upload").Slog())

	openArchive, err := s.archiveOpener(fs)
	if err != nil {
		return err
	}

	presenter := ww.NewPresentationService(ol)
	pipeline := ww.NewPipeline(client, parser.New(time.Local), uploader, ol.Component("pipeline"), presenter)
	loop := ww.NewLoop(store, pipeline, openArchive, ol.Component("loop"), presenter)
	loop.Setup = s.setup()
	if s.PollInterval > 0 {
		loop.PollInterval = s.PollInterval
	}
	if s.IdleInterval > 0 {
		loop.IdleInterval = s.IdleInterval
	}

	ol.Info("starting wattwich",
		"config", store.Path(),
		"portal_url", portalURL,
		"transport", uploader.Transport(),
		"mode", s.mode(),
		"once", once)

	if once {
		summary, _, err := loop.Cycle(ctx)
		if err != nil {
			return err
		}
		if summary != nil && summary.AuthError != nil {
			return summary.AuthError
		}
		return nil
	}

	err = loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		ol.Status("Stopped")
		return nil
	}
	return err
}

// showStatus prints the gap set without touching the network.
func showStatus(s settings) error {
	ol, err := output.New(s.mode())
	if err != nil {
		return fmt.Errorf("failed to initialize output: %w", err)
	}

	fs := afero.NewOsFs()
	store, err := config.NewStore(fs, s.ConfigPath)
	if err != nil {
		return err
	}
	cfg, err := store.Load()
	if err != nil {
		ol.LogAndShowError(err, "Failed to load configuration from %s", store.Path())
		return err
	}

	openArchive, err := s.archiveOpener(fs)
	if err != nil {
		return err
	}
	arch := openArchive(cfg.ArchiveDir)
	today := calendar.Today(time.Now())
	missing, err := arch.MissingDays(cfg.StartDate, today)
	if err != nil {
		ol.LogAndShowError(err, "Failed to read archive")
		return err
	}

	days := make([]string, len(missing))
	for i, d := range missing {
		days[i] = d.String()
	}

	ol.Status("Configuration: %s", store.Path())
	if !config.IsComplete(cfg) {
		ol.Warning("Credentials are missing, run 'wattwich setup'")
	}
	switch len(missing) {
	case 0:
		ol.Result("Archive is up to date (%s to %s)", cfg.StartDate, today.AddDays(-1))
	default:
		ol.Result("%d days missing: %s", len(missing), strings.Join(days, ", "))
	}

	return ol.JSON(map[string]any{
		"config":     store.Path(),
		"start_date": cfg.StartDate.String(),
		"today":      today.String(),
		"configured": config.IsComplete(cfg),
		"missing":    days,
	})
}

// runSetup collects credentials and settings and persists them once.
func runSetup(ctx context.Context, s settings, start string, reset bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ol, err := output.New(s.mode())
	if err != nil {
		return fmt.Errorf("failed to initialize output: %w", err)
	}

	store, err := config.NewStore(afero.NewOsFs(), s.ConfigPath)
	if err != nil {
		return err
	}
	cfg, err := store.Load()
	if err != nil {
		ol.LogAndShowError(err, "Failed to load configuration from %s", store.Path())
		return err
	}
	if reset {
		cfg.Username, cfg.Password = "", ""
	}

	fields, setupErr := s.setup().MissingFields(ctx, cfg)
	if setupErr != nil {
		ol.LogAndShowError(setupErr, "Setup was not completed")
		if fields.Empty() {
			return setupErr
		}
	}
	if s.ArchiveDir != "" {
		fields.ArchiveDir = s.ArchiveDir
	}
	if start != "" {
		day, err := calendar.ParseStart(start, calendar.Today(time.Now()))
		if err != nil {
			ol.ShowError("Invalid start date: %v", err)
			return err
		}
		fields.StartDate = day
	}

	if fields.Empty() && !reset {
		ol.Status("Nothing to change in %s", store.Path())
		return nil
	}

	next, err := store.ApplyMissingFields(cfg, fields)
	if err != nil {
		ol.LogAndShowError(err, "Failed to save configuration")
		return err
	}
	if !config.IsComplete(next) {
		ol.Warning("Credentials are still missing; set WW_USERNAME and WW_PASSWORD or run setup in a terminal")
	}
	ol.Result("Saved configuration to %s", store.Path())
	return setupErr
}
