package ww

import (
	"context"
	"time"

	"github.com/roessland/wattwich/calendar"
	"github.com/roessland/wattwich/config"
	"github.com/roessland/wattwich/parser"
)

// DataSource abstracts the utility portal for testing
type DataSource interface {
	Login(ctx context.Context, username, password string) error
	FetchRaw(ctx context.Context, day calendar.Date) ([]byte, error)
}

// SampleParser turns a raw payload into the day's readings
type SampleParser interface {
	Parse(day calendar.Date, payload []byte) (parser.SampleSet, error)
}

// Uploader forwards samples to the telemetry sink, reporting success
type Uploader interface {
	Upload(ctx context.Context, day calendar.Date, samples parser.SampleSet) bool
}

// Archive abstracts the day-by-day record directory
type Archive interface {
	MissingDays(start, today calendar.Date) ([]calendar.Date, error)
	Write(day calendar.Date, payload []byte) (string, error)
}

// ConfigStore abstracts persisted configuration
type ConfigStore interface {
	Load() (config.Config, error)
	ApplyMissingFields(cfg config.Config, fields config.Fields) (config.Config, error)
}

// Setup supplies fields missing from an incomplete configuration, typically
// by asking a human. Returning empty Fields means nothing was supplied.
type Setup interface {
	MissingFields(ctx context.Context, cfg config.Config) (config.Fields, error)
}

// Logger abstracts logging for testing
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Reporter receives progress for presentation. All methods are optional
// notifications; they must not block.
type Reporter interface {
	Waiting(reason string, retryIn time.Duration)
	Idle(nextCheck time.Duration)
	CycleStarted(summary *CycleSummary)
	DayFinished(result DayResult)
	CycleFinished(summary *CycleSummary)
}

// DayState is the terminal state of one day within a cycle
type DayState string

const (
	// DayCompleted means the archive record exists, regardless of upload outcome
	DayCompleted DayState = "completed"
	// DayIncomplete means the day stays in the gap set for a later cycle
	DayIncomplete DayState = "incomplete"
)

// Reasons a day ends incomplete
const (
	ReasonFetchFailed   = "fetch_failed"
	ReasonEmptyPayload  = "empty_payload"
	ReasonParseFailed   = "parse_failed"
	ReasonEmptySamples  = "empty_samples"
	ReasonPersistFailed = "persist_failed"
)

// DayResult represents the outcome for a single day
type DayResult struct {
	Day      calendar.Date `json:"day"`
	State    DayState      `json:"state"`
	Reason   string        `json:"reason,omitempty"`
	Path     string        `json:"path,omitempty"`
	Readings int           `json:"readings,omitempty"`
	Uploaded bool          `json:"uploaded"`
	Error    error         `json:"-"`
}

// CycleSummary represents the overall results of one reconciliation cycle
type CycleSummary struct {
	ID        string          `json:"cycle_id"`
	Missing   []calendar.Date `json:"missing"`
	Completed []calendar.Date `json:"completed"`
	Results   []DayResult     `json:"results"`
	AuthError error           `json:"-"`
}

// UploadFailures counts completed days whose upload did not succeed
func (s *CycleSummary) UploadFailures() int {
	n := 0
	for _, r := range s.Results {
		if r.State == DayCompleted && !r.Uploaded {
			n++
		}
	}
	return n
}

type noopReporter struct{}

func (noopReporter) Waiting(string, time.Duration) {}
func (noopReporter) Idle(time.Duration) {}
func (noopReporter) CycleStarted(*CycleSummary) {}
func (noopReporter) DayFinished(DayResult) {}
func (noopReporter) CycleFinished(*CycleSummary) {}
