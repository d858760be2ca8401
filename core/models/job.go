package models

import "strconv"

// JobID is the scheduler-assigned identifier of a batch job
type JobID uint64

func (id JobID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// JobState is a scheduler job state token
type JobState string

const JobStateRunning JobState = "RUNNING"

// UnknownValue is displayed for job attributes that could not be resolved
const UnknownValue = "unknown"

// JobInfo holds the descriptive attributes of a running job
type JobInfo struct {
	Owner             string
	Partition         string // truncated for display
	Command           string // truncated for display
	GPUCount          int
	StartEpochSeconds int64
	// Resolved is false for the placeholder returned when the job detail
	// query failed. A zero GPUCount on such a record does not mean "no GPUs".
	Resolved bool
}

// UnknownJobInfo returns the placeholder used when job detail resolution fails
func UnknownJobInfo() JobInfo {
	return JobInfo{
		Owner:     UnknownValue,
		Partition: UnknownValue,
		Command:   UnknownValue,
	}
}
