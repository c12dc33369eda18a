package ww

import (
	"context"
	"fmt"
	"time"

	"github.com/roessland/wattwich/calendar"
	"github.com/roessland/wattwich/config"
	"github.com/roessland/wattwich/parser"
	"github.com/roessland/wattwich/vault"
)

// MockDataSource implements DataSource for testing
type MockDataSource struct {
	LoginError   error
	Payloads     map[calendar.Date][]byte
	FetchErrors  map[calendar.Date]error
	LoginCalls   int
	FetchCalls   []calendar.Date
	OnFetch      func(day calendar.Date) // called before returning a payload
	LastUsername string
	LastPassword string
}

func (m *MockDataSource) Login(ctx context.Context, username, password string) error {
	m.LoginCalls++
	m.LastUsername = username
	m.LastPassword = password
	return m.LoginError
}

func (m *MockDataSource) FetchRaw(ctx context.Context, day calendar.Date) ([]byte, error) {
	m.FetchCalls = append(m.FetchCalls, day)
	if m.OnFetch != nil {
		m.OnFetch(day)
	}
	if err := m.FetchErrors[day]; err != nil {
		return nil, err
	}
	return m.Payloads[day], nil
}

func (m *MockDataSource) NetworkCalls() int {
	return m.LoginCalls + len(m.FetchCalls)
}

// MockUploader implements Uploader for testing
type MockUploader struct {
	Fail  bool
	Calls []calendar.Date
}

func (m *MockUploader) Upload(ctx context.Context, day calendar.Date, samples parser.SampleSet) bool {
	m.Calls = append(m.Calls, day)
	return !m.Fail
}

// MockConfigStore implements ConfigStore for testing
type MockConfigStore struct {
	Config     config.Config
	LoadError  error
	SaveError  error
	LoadCalls  int
	SavedCalls []config.Fields
}

func (m *MockConfigStore) Load() (config.Config, error) {
	m.LoadCalls++
	if m.LoadError != nil {
		return config.Config{}, m.LoadError
	}
	return m.Config, nil
}

func (m *MockConfigStore) ApplyMissingFields(cfg config.Config, fields config.Fields) (config.Config, error) {
	m.SavedCalls = append(m.SavedCalls, fields)
	if m.SaveError != nil {
		return cfg, m.SaveError
	}
	next := cfg
	if fields.Username != "" {
		next.Username = fields.Username
	}
	if fields.Password != "" {
		next.Password = vault.Encode(fields.Password)
	}
	m.Config = next
	return next, nil
}

// MockSetup implements Setup for testing
type MockSetup struct {
	Fields config.Fields
	Err    error
	Calls  int
}

func (m *MockSetup) MissingFields(ctx context.Context, cfg config.Config) (config.Fields, error) {
	m.Calls++
	return m.Fields, m.Err
}

// MockLogger implements Logger for testing
type MockLogger struct {
	InfoCalls  []LogCall
	DebugCalls []LogCall
	WarnCalls  []LogCall
	ErrorCalls []LogCall
}

type LogCall struct {
	Message string
	Args    []any
}

func (m *MockLogger) Info(msg string, args ...any) {
	m.InfoCalls = append(m.InfoCalls, LogCall{Message: msg, Args: args})
}

func (m *MockLogger) Debug(msg string, args ...any) {
	m.DebugCalls = append(m.DebugCalls, LogCall{Message: msg, Args: args})
}

func (m *MockLogger) Warn(msg string, args ...any) {
	m.WarnCalls = append(m.WarnCalls, LogCall{Message: msg, Args: args})
}

func (m *MockLogger) Error(msg string, args ...any) {
	m.ErrorCalls = append(m.ErrorCalls, LogCall{Message: msg, Args: args})
}

// Arg returns the value logged under key, formatted with %v.
func (c LogCall) Arg(key string) string {
	for i := 0; i+1 < len(c.Args); i += 2 {
		if c.Args[i] == key {
			return fmt.Sprint(c.Args[i+1])
		}
	}
	return ""
}

// recordingSleeper records requested sleeps and cancels after limit calls.
type recordingSleeper struct {
	durations []time.Duration
	limit     int
	cancel    context.CancelFunc
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.durations = append(s.durations, d)
	if len(s.durations) >= s.limit {
		s.cancel()
		return ctx.Err()
	}
	return nil
}

const usageHeader = "TYPE,DATE,START TIME,END TIME,USAGE,UNITS\n"

// usagePayload returns a one-row export for day.
func usagePayload(day calendar.Date) []byte {
	return []byte(usageHeader + "Electric usage," + day.String() + ",00:00,00:59,0.52,kWh\n")
}
