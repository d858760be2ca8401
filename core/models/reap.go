package models

// ReapDecision is the policy outcome for one job
type ReapDecision struct {
	JobID    JobID
	Eligible bool
}

// ReapResult records the outcome of annotating and cancelling a job
type ReapResult struct {
	JobID     JobID
	Annotated bool
	Cancelled bool
	// AlreadyGone is set when the scheduler no longer knows the job,
	// e.g. it finished or an overlapping run cancelled it first.
	AlreadyGone bool
	Success     bool
	Err         error
}

// ReportRow is the evaluation of a single job in one pass
type ReportRow struct {
	JobID         JobID
	Info          JobInfo
	Sample        UtilizationSample
	DurationHours float64
	Complete      bool
	Eligible      bool
	// Held marks an eligible job that is not queued for cancellation
	// because its metadata could not be resolved.
	Held bool
}

// Queued reports whether the row's job goes to the cancellation queue
func (r ReportRow) Queued() bool {
	return r.Eligible && !r.Held
}
