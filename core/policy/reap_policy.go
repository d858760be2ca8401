package policy

import (
	"gpu-reaper/config"
	"gpu-reaper/core/models"
)

// ReapPolicy decides whether a job is idle enough to reclaim
type ReapPolicy struct {
	expectedSamples int
	minUtilization  float64
}

// New creates a policy from the sampling window and threshold in cfg
func New(cfg config.Config) ReapPolicy {
	return ReapPolicy{
		expectedSamples: cfg.ExpectedSampleCount(),
		minUtilization:  cfg.MinUtilization,
	}
}

// ExpectedSamples is the length of a complete sample
func (p ReapPolicy) ExpectedSamples() int {
	return p.expectedSamples
}

// IsComplete reports whether sample covers the whole window
func (p ReapPolicy) IsComplete(sample models.UtilizationSample) bool {
	return len(sample.Values) == p.expectedSamples
}

// ShouldReap reports whether a job with this sample is eligible for reaping.
// Partial samples are never eligible; the threshold is inclusive.
func (p ReapPolicy) ShouldReap(sample models.UtilizationSample) bool {
	return p.IsComplete(sample) && sample.Average <= p.minUtilization
}

// Decide wraps ShouldReap into a decision for jobID
func (p ReapPolicy) Decide(jobID models.JobID, sample models.UtilizationSample) models.ReapDecision {
	return models.ReapDecision{JobID: jobID, Eligible: p.ShouldReap(sample)}
}
