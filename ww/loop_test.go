package ww

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/roessland/wattwich/archive"
	"github.com/roessland/wattwich/calendar"
	"github.com/roessland/wattwich/config"
	"github.com/roessland/wattwich/parser"
	"github.com/roessland/wattwich/vault"
	"github.com/spf13/afero"
)

type loopFixture struct {
	fs       afero.Fs
	store    *MockConfigStore
	src      *MockDataSource
	uploader *MockUploader
	logger   *MockLogger
	loop     *Loop
}

func newLoopFixture(cfg config.Config) *loopFixture {
	f := &loopFixture{
		fs:       afero.NewMemMapFs(),
		store:    &MockConfigStore{Config: cfg},
		src:      &MockDataSource{Payloads: map[calendar.Date][]byte{}},
		uploader: &MockUploader{},
		logger:   &MockLogger{},
	}
	pipeline := NewPipeline(f.src, parser.New(time.UTC), f.uploader, f.logger, nil)
	f.loop = NewLoop(f.store, pipeline, func(dir string) Archive { return archive.New(f.fs, dir) }, f.logger, nil)
	f.loop.now = func() time.Time { return time.Date(2023, 1, 4, 9, 30, 0, 0, time.UTC) }
	ids := 0
	f.loop.newID = func() string {
		ids++
		return fmt.Sprintf("cycle-%d", ids)
	}
	return f
}

func completeConfig() config.Config {
	return config.Config{
		Username:   "alice",
		Password:   vault.Encode("hunter2"),
		ArchiveDir: archiveDir,
		StartDate:  jan1,
	}
}

func TestCycle_FetchesAllMissingDays(t *testing.T) {
	// Empty archive, start 2023-01-01, today 2023-01-04
	f := newLoopFixture(completeConfig())
	for _, d := range []calendar.Date{jan1, jan2, jan3} {
		f.src.Payloads[d] = usagePayload(d)
	}

	summary, wait, err := f.loop.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if wait != time.Hour {
		t.Errorf("wait = %v, want 1h", wait)
	}
	if summary.ID != "cycle-1" {
		t.Errorf("ID = %q", summary.ID)
	}
	if len(summary.Missing) != 3 || summary.Missing[0] != jan1 || summary.Missing[2] != jan3 {
		t.Errorf("missing = %v", summary.Missing)
	}
	if len(summary.Completed) != 3 {
		t.Errorf("completed = %v", summary.Completed)
	}
	for _, d := range f.src.FetchCalls {
		if d == jan4 {
			t.Error("today must not be fetched")
		}
	}
	if f.src.LastPassword != "hunter2" {
		t.Errorf("login used %q, want decoded password", f.src.LastPassword)
	}
}

func TestCycle_SecondCycleOnlyRetriesIncompleteDays(t *testing.T) {
	f := newLoopFixture(completeConfig())
	f.src.Payloads[jan1] = usagePayload(jan1)
	f.src.Payloads[jan3] = usagePayload(jan3)

	if _, _, err := f.loop.Cycle(context.Background()); err != nil {
		t.Fatalf("first Cycle() error = %v", err)
	}

	f.src.FetchCalls = nil
	f.src.Payloads[jan2] = usagePayload(jan2)
	summary, _, err := f.loop.Cycle(context.Background())
	if err != nil {
		t.Fatalf("second Cycle() error = %v", err)
	}
	if len(f.src.FetchCalls) != 1 || f.src.FetchCalls[0] != jan2 {
		t.Errorf("second cycle fetched %v, want only 2023-01-02", f.src.FetchCalls)
	}
	if len(summary.Completed) != 1 {
		t.Errorf("completed = %v", summary.Completed)
	}
}

func TestCycle_IncompleteConfigDoesNoNetwork(t *testing.T) {
	f := newLoopFixture(config.Config{ArchiveDir: archiveDir, StartDate: jan1})

	summary, wait, err := f.loop.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if summary != nil {
		t.Errorf("summary = %+v, want nil", summary)
	}
	if wait != 5*time.Second {
		t.Errorf("wait = %v, want 5s", wait)
	}
	if f.src.NetworkCalls() != 0 {
		t.Errorf("expected no network calls, got %d", f.src.NetworkCalls())
	}
}

func TestRun_IncompleteConfigOnlySleepsAndRechecks(t *testing.T) {
	f := newLoopFixture(config.Config{Username: "alice", ArchiveDir: archiveDir, StartDate: jan1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := &recordingSleeper{limit: 3, cancel: cancel}
	f.loop.sleep = sleeper.Sleep

	err := f.loop.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if f.src.NetworkCalls() != 0 {
		t.Errorf("expected no network calls, got %d", f.src.NetworkCalls())
	}
	if f.store.LoadCalls != 3 {
		t.Errorf("config loaded %d times, want once per cycle (3)", f.store.LoadCalls)
	}
	for _, d := range sleeper.durations {
		if d != DefaultPollInterval {
			t.Errorf("slept %v, want short poll interval", d)
		}
	}
}

func TestCycle_SetupCompletesConfiguration(t *testing.T) {
	f := newLoopFixture(config.Config{ArchiveDir: archiveDir, StartDate: jan3})
	setup := &MockSetup{Fields: config.Fields{Username: "alice", Password: "hunter2"}}
	f.loop.Setup = setup
	f.src.Payloads[jan3] = usagePayload(jan3)

	summary, wait, err := f.loop.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if setup.Calls != 1 || len(f.store.SavedCalls) != 1 {
		t.Errorf("setup calls = %d, saves = %d", setup.Calls, len(f.store.SavedCalls))
	}
	if wait != time.Hour || summary == nil || len(summary.Completed) != 1 {
		t.Errorf("expected a full cycle after setup, got wait=%v summary=%+v", wait, summary)
	}
	if f.src.LastPassword != "hunter2" {
		t.Errorf("login used %q", f.src.LastPassword)
	}
}

func TestCycle_SetupNotConsultedWhenComplete(t *testing.T) {
	f := newLoopFixture(completeConfig())
	setup := &MockSetup{}
	f.loop.Setup = setup

	f.loop.Cycle(context.Background())

	if setup.Calls != 0 {
		t.Errorf("setup called %d times for a complete configuration", setup.Calls)
	}
}

func TestCycle_SetupSuppliesNothing(t *testing.T) {
	f := newLoopFixture(config.Config{ArchiveDir: archiveDir, StartDate: jan1})
	f.loop.Setup = &MockSetup{}

	_, wait, err := f.loop.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if wait != DefaultPollInterval || len(f.store.SavedCalls) != 0 {
		t.Errorf("wait = %v, saves = %d", wait, len(f.store.SavedCalls))
	}
}

func TestCycle_SetupErrorKeepsSuppliedFields(t *testing.T) {
	f := newLoopFixture(config.Config{ArchiveDir: archiveDir, StartDate: jan1})
	f.loop.Setup = &MockSetup{Fields: config.Fields{Username: "alice"}, Err: errors.New("interrupted")}

	summary, wait, err := f.loop.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if summary != nil || wait != DefaultPollInterval {
		t.Errorf("summary = %+v, wait = %v", summary, wait)
	}
	if len(f.store.SavedCalls) != 1 || f.store.Config.Username != "alice" {
		t.Errorf("username not persisted: saves = %v, config = %+v", f.store.SavedCalls, f.store.Config)
	}
	if len(f.logger.WarnCalls) != 1 || f.logger.WarnCalls[0].Arg("error") != "interrupted" {
		t.Errorf("expected the setup error to be logged, got %+v", f.logger.WarnCalls)
	}
}

func TestCycle_UndecodablePasswordAsksSetupAgain(t *testing.T) {
	cfg := completeConfig()
	cfg.Password = "not-a-vault-value"
	f := newLoopFixture(cfg)
	setup := &MockSetup{Fields: config.Fields{Password: "hunter2"}}
	f.loop.Setup = setup
	f.src.Payloads[jan1] = usagePayload(jan1)

	summary, _, err := f.loop.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if setup.Calls != 1 {
		t.Errorf("setup calls = %d, want 1", setup.Calls)
	}
	if summary == nil || f.src.LastPassword != "hunter2" {
		t.Errorf("expected a cycle with the new password, summary = %+v", summary)
	}
}

func TestCycle_EncodedEmptyPasswordIsIncomplete(t *testing.T) {
	cfg := completeConfig()
	cfg.Password = vault.Encode("")
	f := newLoopFixture(cfg)

	_, wait, err := f.loop.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if wait != DefaultPollInterval || f.src.NetworkCalls() != 0 {
		t.Errorf("wait = %v, network calls = %d", wait, f.src.NetworkCalls())
	}
}

func TestCycle_CorruptConfigIsReturned(t *testing.T) {
	f := newLoopFixture(config.Config{})
	f.store.LoadError = fmt.Errorf("%w: bad yaml", config.ErrCorruptConfig)

	_, _, err := f.loop.Cycle(context.Background())
	if !errors.Is(err, config.ErrCorruptConfig) {
		t.Fatalf("Cycle() error = %v, want ErrCorruptConfig", err)
	}
	if f.src.NetworkCalls() != 0 {
		t.Error("no network activity expected")
	}

	if err := f.loop.Run(context.Background()); !errors.Is(err, config.ErrCorruptConfig) {
		t.Errorf("Run() error = %v, want ErrCorruptConfig", err)
	}
}

func TestCycle_UnreadableConfigPolls(t *testing.T) {
	f := newLoopFixture(config.Config{})
	f.store.LoadError = errors.New("permission denied")

	_, wait, err := f.loop.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if wait != DefaultPollInterval {
		t.Errorf("wait = %v", wait)
	}
}

func TestCycle_UndecodablePasswordWaits(t *testing.T) {
	cfg := completeConfig()
	cfg.Password = "not-a-vault-value"
	f := newLoopFixture(cfg)

	_, wait, err := f.loop.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if wait != DefaultPollInterval || f.src.NetworkCalls() != 0 {
		t.Errorf("wait = %v, network calls = %d", wait, f.src.NetworkCalls())
	}
	if len(f.logger.ErrorCalls) != 1 {
		t.Errorf("expected the unreadable password to be reported, got %+v", f.logger.ErrorCalls)
	}
}

func TestCycle_UpToDateIsIdle(t *testing.T) {
	f := newLoopFixture(completeConfig())
	arch := archive.New(f.fs, archiveDir)
	for _, d := range []calendar.Date{jan1, jan2, jan3} {
		arch.Write(d, usagePayload(d))
	}

	summary, wait, err := f.loop.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if wait != time.Hour {
		t.Errorf("wait = %v, want 1h", wait)
	}
	if f.src.NetworkCalls() != 0 {
		t.Errorf("idle cycle made %d network calls", f.src.NetworkCalls())
	}
	if len(summary.Missing) != 0 {
		t.Errorf("missing = %v", summary.Missing)
	}
}

func TestCycle_StartDateTodayIsIdle(t *testing.T) {
	cfg := completeConfig()
	cfg.StartDate = jan4
	f := newLoopFixture(cfg)

	_, _, err := f.loop.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if f.src.NetworkCalls() != 0 {
		t.Errorf("expected no network calls, got %d", f.src.NetworkCalls())
	}
}

func TestRun_LoginFailureKeepsLooping(t *testing.T) {
	f := newLoopFixture(completeConfig())
	f.src.LoginError = errors.New("invalid credentials")
	f.src.Payloads[jan1] = usagePayload(jan1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := &recordingSleeper{limit: 2, cancel: cancel}
	f.loop.sleep = sleeper.Sleep

	err := f.loop.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if f.src.LoginCalls != 2 {
		t.Errorf("login attempted %d times, want once per cycle (2)", f.src.LoginCalls)
	}
	for _, d := range sleeper.durations {
		if d != DefaultIdleInterval {
			t.Errorf("slept %v after auth failure, want the long interval", d)
		}
	}
	if exists, _ := afero.DirExists(f.fs, archiveDir); exists {
		t.Error("no records expected after failed logins")
	}
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep did not return promptly on cancel")
	}
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep() error = %v", err)
	}
}
