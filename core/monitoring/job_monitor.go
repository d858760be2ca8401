package monitoring

import (
	"context"
	"sort"

	"gpu-reaper/config"
	"gpu-reaper/core/models"
	"gpu-reaper/core/policy"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// JobSource discovers running GPU jobs and describes them
type JobSource interface {
	ListGPURunningJobs(ctx context.Context) []models.JobID
	DescribeJob(ctx context.Context, jobID models.JobID) models.JobInfo
}

// Sampler returns the utilization window of a job
type Sampler interface {
	Sample(ctx context.Context, jobID models.JobID) models.UtilizationSample
}

// Actuator reclaims a job
type Actuator interface {
	Reap(ctx context.Context, jobID models.JobID) models.ReapResult
}

// PassResult is everything one pass observed and did
type PassResult struct {
	Rows    []models.ReportRow
	Results []models.ReapResult
}

// JobMonitor runs one evaluate-then-reap pass over the running GPU jobs
type JobMonitor struct {
	jobs     JobSource
	sampler  Sampler
	actuator Actuator
	policy   policy.ReapPolicy
	report   *ReportWriter
	clock    clock.Clock
	cfg      config.Config
}

// NewJobMonitor creates a job monitor
func NewJobMonitor(
	jobs JobSource,
	sampler Sampler,
	actuator Actuator,
	report *ReportWriter,
	clk clock.Clock,
	cfg config.Config,
) *JobMonitor {
	if clk == nil {
		clk = clock.New()
	}
	return &JobMonitor{
		jobs:     jobs,
		sampler:  sampler,
		actuator: actuator,
		policy:   policy.New(cfg),
		report:   report,
		clock:    clk,
		cfg:      cfg,
	}
}

// RunPass evaluates every running GPU job, prints the report and, when
// reapEnabled is set, reaps the queued jobs in ascending id order. Nothing is
// reaped before the whole report has been written.
func (jm *JobMonitor) RunPass(ctx context.Context, reapEnabled bool) PassResult {
	now := jm.clock.Now()
	jobIDs := jm.jobs.ListGPURunningJobs(ctx)
	log.Ctx(ctx).Info().Int("jobs", len(jobIDs)).Bool("reap", reapEnabled).Msg("evaluating GPU jobs")

	rows := jm.evaluate(ctx, jobIDs)
	for i := range rows {
		rows[i].DurationHours = DurationHours(now, rows[i].Info.StartEpochSeconds)
	}

	if err := jm.report.WriteReport(now, rows); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to write report")
	}

	result := PassResult{Rows: rows}
	if !reapEnabled {
		log.Ctx(ctx).Debug().Msg("dry run, nothing reaped")
		return result
	}

	queue := NewCancelQueue()
	for _, row := range rows {
		if row.Queued() {
			queue.Enqueue(row.JobID)
		}
	}
	result.Results = jm.drain(ctx, queue)
	return result
}

// drain reaps every queued job; one failure never stops the rest
func (jm *JobMonitor) drain(ctx context.Context, queue *CancelQueue) []models.ReapResult {
	results := make([]models.ReapResult, 0, queue.Len())
	for {
		jobID, ok := queue.PopJob()
		if !ok {
			return results
		}
		if err := jm.report.WriteReaping(jobID); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to write report")
		}
		res := jm.actuator.Reap(ctx, jobID)
		if err := jm.report.WriteReapResult(res); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to write report")
		}
		results = append(results, res)
	}
}

// evaluate builds one row per job, in parallel up to cfg.Concurrency
func (jm *JobMonitor) evaluate(ctx context.Context, jobIDs []models.JobID) []models.ReportRow {
	rows := make([]models.ReportRow, len(jobIDs))

	limit := jm.cfg.Concurrency
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, jobID := range jobIDs {
		i, jobID := i, jobID
		g.Go(func() error {
			rows[i] = jm.evaluateJob(ctx, jobID)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].JobID < rows[j].JobID })
	return rows
}

func (jm *JobMonitor) evaluateJob(ctx context.Context, jobID models.JobID) models.ReportRow {
	sample := jm.sampler.Sample(ctx, jobID)
	info := jm.jobs.DescribeJob(ctx, jobID)
	decision := jm.policy.Decide(jobID, sample)

	row := models.ReportRow{
		JobID:    jobID,
		Info:     info,
		Sample:   sample,
		Complete: jm.policy.IsComplete(sample),
		Eligible: decision.Eligible,
	}

	if row.Eligible && !info.Resolved && !jm.cfg.ReapUnresolved {
		row.Held = true
		log.Ctx(ctx).Warn().Stringer("job_id", jobID).Msg("idle job held back: metadata unresolved")
	}
	return row
}
