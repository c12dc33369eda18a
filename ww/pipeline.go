package ww

import (
	"context"
	"fmt"

	"github.com/roessland/wattwich/calendar"
)

// Pipeline fetches, verifies, archives and uploads missing days, one at a time
type Pipeline struct {
	source   DataSource
	parser   SampleParser
	uploader Uploader
	auth     *AuthService
	logger   Logger
	reporter Reporter
}

// NewPipeline creates a new pipeline
func NewPipeline(src DataSource, p SampleParser, uploader Uploader, logger Logger, reporter Reporter) *Pipeline {
	if reporter == nil {
		reporter = noopReporter{}
	}
	return &Pipeline{
		source:   src,
		parser:   p,
		uploader: uploader,
		auth:     NewAuthService(src, logger),
		logger:   logger,
		reporter: reporter,
	}
}

// Run logs in once and processes days in the given order. A failed login
// abandons the whole batch with no day completed and nothing written.
// Cancelling ctx stops before the next day.
func (p *Pipeline) Run(ctx context.Context, cycleID, username, password string, archive Archive, days []calendar.Date) *CycleSummary {
	summary := &CycleSummary{ID: cycleID, Missing: days}
	p.reporter.CycleStarted(summary)

	if err := p.auth.Authenticate(ctx, cycleID, username, password); err != nil {
		summary.AuthError = err
		p.reporter.CycleFinished(summary)
		return summary
	}

	for _, day := range days {
		if ctx.Err() != nil {
			p.logger.Info("cycle interrupted", "cycle_id", cycleID, "next_day", day.String())
			break
		}

		result := p.ProcessDay(ctx, cycleID, archive, day)
		summary.Results = append(summary.Results, result)
		if result.State == DayCompleted {
			summary.Completed = append(summary.Completed, day)
		}
		p.reporter.DayFinished(result)
	}

	p.reporter.CycleFinished(summary)
	return summary
}

// ProcessDay runs one day through fetch, verify, persist and upload. The
// record is written before the upload is attempted, and a failed upload
// leaves the day completed.
func (p *Pipeline) ProcessDay(ctx context.Context, cycleID string, archive Archive, day calendar.Date) DayResult {
	log := []any{"cycle_id", cycleID, "day", day.String()}

	// Fetching
	payload, err := p.source.FetchRaw(ctx, day)
	if err != nil {
		p.logger.Warn("fetch failed, will retry next cycle", append(log, "error", err)...)
		return incomplete(day, ReasonFetchFailed, err)
	}
	if len(payload) == 0 {
		p.logger.Info("no data yet, will retry next cycle", log...)
		return incomplete(day, ReasonEmptyPayload, nil)
	}

	// Verifying
	samples, err := p.parser.Parse(day, payload)
	if err != nil {
		p.logger.Warn("payload did not parse, will retry next cycle", append(log, "bytes", len(payload), "error", err)...)
		return incomplete(day, ReasonParseFailed, err)
	}
	if samples.Len() == 0 {
		p.logger.Info("payload has no readings yet, will retry next cycle", append(log, "bytes", len(payload))...)
		return incomplete(day, ReasonEmptySamples, nil)
	}

	// Persisting
	path, err := archive.Write(day, payload)
	if err != nil {
		p.logger.Error("failed to archive day", append(log, "error", err)...)
		return incomplete(day, ReasonPersistFailed, fmt.Errorf("failed to archive %s: %w", day, err))
	}
	p.logger.Info("archived day", append(log, "path", path, "readings", samples.Len(), "kwh", samples.Total())...)

	// Uploading
	uploaded := p.uploader.Upload(ctx, day, samples)
	if !uploaded {
		p.logger.Warn("upload failed, day stays archived", log...)
	}

	return DayResult{
		Day:      day,
		State:    DayCompleted,
		Path:     path,
		Readings: samples.Len(),
		Uploaded: uploaded,
	}
}

func incomplete(day calendar.Date, reason string, err error) DayResult {
	return DayResult{Day: day, State: DayIncomplete, Reason: reason, Error: err}
}
