package ww

import (
	"time"

	"github.com/roessland/wattwich/pkg/output"
)

// PresentationService renders loop progress through the output logger
type PresentationService struct {
	ol *output.OutputLogger
}

// NewPresentationService creates a new presentation service
func NewPresentationService(ol *output.OutputLogger) *PresentationService {
	return &PresentationService{ol: ol}
}

func (ps *PresentationService) Waiting(reason string, retryIn time.Duration) {
	ps.ol.Warning("Waiting for configuration (%s), checking again in %s", reason, retryIn)
}

func (ps *PresentationService) Idle(nextCheck time.Duration) {
	ps.ol.Status("Archive is up to date, checking again in %s", nextCheck)
}

func (ps *PresentationService) CycleStarted(summary *CycleSummary) {
	if len(summary.Missing) == 0 {
		return
	}
	first := summary.Missing[0].String()
	last := summary.Missing[len(summary.Missing)-1].String()
	ps.ol.CycleHeader(first, last, len(summary.Missing))
}

// DayFinished displays the result of one day
func (ps *PresentationService) DayFinished(result DayResult) {
	state, detail := dayLineState(result)
	ps.ol.DayLine(result.Day.String(), state, detail)
}

func dayLineState(result DayResult) (output.DayState, string) {
	switch {
	case result.State == DayCompleted && result.Uploaded:
		return output.StateArchived, ""
	case result.State == DayCompleted:
		return output.StateArchivedUploadFailed, ""
	case result.Error != nil:
		return output.StateError, result.Reason
	default:
		return output.StateIncomplete, result.Reason
	}
}

// CycleFinished displays the cycle summary and emits it as JSON in JSON mode
func (ps *PresentationService) CycleFinished(summary *CycleSummary) {
	if summary.AuthError != nil {
		ps.ol.LogAndShowError(summary.AuthError, "Failed to log in to the portal, check your credentials")
	} else {
		ps.ol.Result("Cycle complete: %d of %d missing days archived", len(summary.Completed), len(summary.Missing))
	}

	completed := make([]string, len(summary.Completed))
	for i, d := range summary.Completed {
		completed[i] = d.String()
	}
	ps.ol.JSON(map[string]any{
		"cycle_id":        summary.ID,
		"missing":         len(summary.Missing),
		"completed":       completed,
		"upload_failures": summary.UploadFailures(),
		"auth_failed":     summary.AuthError != nil,
	})
}
