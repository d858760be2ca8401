package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"gpu-reaper/config"
	"gpu-reaper/core/executor"
	"gpu-reaper/core/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNoGPUResource is returned when a job's allocation has no GPU entry
var ErrNoGPUResource = errors.New("no GPU resource in allocation")

const gpuResourceKey = "gres/gpu"

// squeueResponse is the subset of `squeue --json` / `scontrol show job --json` we read
type squeueResponse struct {
	Jobs []slurmJob `json:"jobs"`
}

type slurmJob struct {
	JobID        *uint64     `json:"job_id"`
	UserName     *string     `json:"user_name"`
	Partition    *string     `json:"partition"`
	Command      *string     `json:"command"`
	TresAllocStr string      `json:"tres_alloc_str"`
	JobState     []string    `json:"job_state"`
	StartTime    slurmNumber `json:"start_time"`
}

// slurmNumber is the data_parser encoding of an optional number
type slurmNumber struct {
	Set      bool  `json:"set"`
	Infinite bool  `json:"infinite"`
	Number   int64 `json:"number"`
}

// JobRepository reads job state from Slurm
type JobRepository struct {
	runner         executor.CommandRunner
	dataParser     string
	partitionWidth int
	commandWidth   int
}

// NewJobRepository creates a repository backed by the Slurm CLI
func NewJobRepository(runner executor.CommandRunner, cfg config.Config) *JobRepository {
	return &JobRepository{
		runner:         runner,
		dataParser:     cfg.SlurmDataParser,
		partitionWidth: cfg.PartitionWidth,
		commandWidth:   cfg.CommandWidth,
	}
}

// ListGPURunningJobs returns the ids of running jobs holding GPUs, ascending
// and without duplicates. Failures are logged and yield an empty list.
func (r *JobRepository) ListGPURunningJobs(ctx context.Context) []models.JobID {
	jobs, err := r.listJobs(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list jobs")
		return []models.JobID{}
	}

	seen := make(map[models.JobID]struct{}, len(jobs))
	ids := make([]models.JobID, 0, len(jobs))
	for _, job := range jobs {
		if job.JobID == nil || *job.JobID == 0 || !strings.Contains(job.TresAllocStr, gpuResourceKey) {
			continue
		}
		if len(job.JobState) == 0 || models.JobState(job.JobState[0]) != models.JobStateRunning {
			continue
		}
		id := models.JobID(*job.JobID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DescribeJob returns the attributes of a job. Failures are logged and yield
// models.UnknownJobInfo.
func (r *JobRepository) DescribeJob(ctx context.Context, jobID models.JobID) models.JobInfo {
	info, err := r.getJob(ctx, jobID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Stringer("job_id", jobID).Msg("failed to get job info")
		return models.UnknownJobInfo()
	}
	return info
}

func (r *JobRepository) listJobs(ctx context.Context) ([]slurmJob, error) {
	out, err := r.runner.Run(ctx, "squeue", "--json="+r.dataParser)
	if err != nil {
		return nil, errors.Wrap(err, "squeue failed")
	}
	resp, err := decodeJobs(out)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse squeue output")
	}
	return resp.Jobs, nil
}

func (r *JobRepository) getJob(ctx context.Context, jobID models.JobID) (models.JobInfo, error) {
	out, err := r.runner.Run(ctx, "scontrol", "show", "job", jobID.String(), "--json="+r.dataParser)
	if err != nil {
		return models.JobInfo{}, errors.Wrap(err, "scontrol show job failed")
	}
	resp, err := decodeJobs(out)
	if err != nil {
		return models.JobInfo{}, errors.Wrap(err, "failed to parse scontrol output")
	}
	if len(resp.Jobs) == 0 {
		return models.JobInfo{}, errors.Errorf("scontrol returned no job for %s", jobID)
	}
	job := resp.Jobs[0]

	gpus, err := ParseGPUCount(job.TresAllocStr)
	if err != nil {
		return models.JobInfo{}, errors.Wrapf(err, "job %s", jobID)
	}

	return models.JobInfo{
		Owner:             stringOrUnknown(job.UserName),
		Partition:         truncate(stringOrUnknown(job.Partition), r.partitionWidth),
		Command:           truncate(stringOrUnknown(job.Command), r.commandWidth),
		GPUCount:          gpus,
		StartEpochSeconds: job.StartTime.Number,
		Resolved:          true,
	}, nil
}

func decodeJobs(data []byte) (*squeueResponse, error) {
	var resp squeueResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if resp.Jobs == nil {
		return nil, errors.New("response has no jobs field")
	}
	return &resp, nil
}

// ParseGPUCount returns the first GPU count in a trackable resource string
// such as "cpu=8,mem=64G,node=1,gres/gpu=2" or "gres/gpu:a100=4".
func ParseGPUCount(tres string) (int, error) {
	for _, entry := range strings.Split(tres, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		if key != gpuResourceKey && !strings.HasPrefix(key, gpuResourceKey+":") {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			continue
		}
		return n, nil
	}
	return 0, ErrNoGPUResource
}

func stringOrUnknown(s *string) string {
	if s == nil {
		return models.UnknownValue
	}
	return *s
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width])
}
