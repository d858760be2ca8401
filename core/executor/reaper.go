package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gpu-reaper/config"
	"gpu-reaper/core/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrJobGone means the scheduler no longer knows the job
var ErrJobGone = errors.New("job no longer exists")

// Scheduler replies that mean the job already left the queue
var jobGoneMarkers = []string{
	"Invalid job id specified",
	"already completing or completed",
	"Job has already finished",
}

// Reaper annotates and cancels idle jobs
type Reaper struct {
	runner            CommandRunner
	comment           string
	requireAnnotation bool
}

// NewReaper creates a reaper issuing privileged scheduler calls through runner
func NewReaper(runner CommandRunner, cfg config.Config) *Reaper {
	return &Reaper{
		runner: NewPrivilegedRunner(runner, cfg.PrivilegeCommand),
		comment: fmt.Sprintf("GPU utilization below threshold of %s for %d minutes",
			formatThreshold(cfg.MinUtilization), cfg.WindowMinutes),
		requireAnnotation: cfg.RequireAnnotation,
	}
}

// formatThreshold prints the threshold exactly, keeping one decimal for whole numbers
func formatThreshold(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Comment returns the admin comment recorded on reaped jobs
func (r *Reaper) Comment() string {
	return r.comment
}

// Reap records the reason on the job and cancels it. The cancel is attempted
// even when the annotation fails, unless annotation is required. Errors are
// reported in the result, never returned.
func (r *Reaper) Reap(ctx context.Context, jobID models.JobID) models.ReapResult {
	logger := log.Ctx(ctx).With().Stringer("job_id", jobID).Logger()
	result := models.ReapResult{JobID: jobID}

	err := r.annotate(ctx, jobID)
	switch {
	case err == nil:
		result.Annotated = true
	case errors.Is(err, ErrJobGone):
		result.AlreadyGone = true
		logger.Info().Msg("job already gone before annotation")
	default:
		result.Err = err
		logger.Error().Err(err).Msg("failed to annotate job")
		if r.requireAnnotation {
			return result
		}
	}

	err = r.cancel(ctx, jobID)
	switch {
	case err == nil:
		result.Cancelled = true
	case errors.Is(err, ErrJobGone):
		result.AlreadyGone = true
		logger.Info().Msg("job already gone before cancel")
	default:
		if result.Err == nil {
			result.Err = err
		}
		logger.Error().Err(err).Msg("failed to cancel job")
	}

	result.Success = result.Err == nil
	return result
}

func (r *Reaper) annotate(ctx context.Context, jobID models.JobID) error {
	_, err := r.runner.Run(ctx, "scontrol", "update", "job="+jobID.String(), "AdminComment="+r.comment)
	return classify(err, "annotate job %s", jobID)
}

func (r *Reaper) cancel(ctx context.Context, jobID models.JobID) error {
	_, err := r.runner.Run(ctx, "scancel", jobID.String())
	return classify(err, "cancel job %s", jobID)
}

func classify(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		for _, marker := range jobGoneMarkers {
			if strings.Contains(cmdErr.Stderr, marker) {
				return errors.Wrapf(ErrJobGone, format, args...)
			}
		}
	}
	return errors.Wrapf(err, format, args...)
}
