package monitoring

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"gpu-reaper/config"
	"gpu-reaper/core/models"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
)

type fakeJobSource struct {
	ids   []models.JobID
	infos map[models.JobID]models.JobInfo
}

func (f *fakeJobSource) ListGPURunningJobs(context.Context) []models.JobID {
	return f.ids
}

func (f *fakeJobSource) DescribeJob(_ context.Context, jobID models.JobID) models.JobInfo {
	if info, ok := f.infos[jobID]; ok {
		return info
	}
	return models.UnknownJobInfo()
}

type fakeSampler struct {
	samples map[models.JobID]models.UtilizationSample
}

func (f *fakeSampler) Sample(_ context.Context, jobID models.JobID) models.UtilizationSample {
	if sample, ok := f.samples[jobID]; ok {
		return sample
	}
	return models.EmptySample()
}

// fakeActuator records reaps together with how much report output existed at the time
type fakeActuator struct {
	mu        sync.Mutex
	reaped    []models.JobID
	outputLen []int
	out       *bytes.Buffer
	fail      map[models.JobID]bool
}

func (f *fakeActuator) Reap(_ context.Context, jobID models.JobID) models.ReapResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reaped = append(f.reaped, jobID)
	f.outputLen = append(f.outputLen, f.out.Len())
	if f.fail[jobID] {
		return models.ReapResult{JobID: jobID, Err: context.DeadlineExceeded}
	}
	return models.ReapResult{JobID: jobID, Annotated: true, Cancelled: true, Success: true}
}

type JobMonitorSuite struct {
	suite.Suite
	out      *bytes.Buffer
	jobs     *fakeJobSource
	sampler  *fakeSampler
	actuator *fakeActuator
	clock    *clock.Mock
	cfg      config.Config
}

func TestJobMonitorSuite(t *testing.T) {
	suite.Run(t, new(JobMonitorSuite))
}

func idle() models.UtilizationSample {
	return models.NewUtilizationSample(repeat(61, 0.5))
}

func busy() models.UtilizationSample {
	return models.NewUtilizationSample(repeat(61, 80))
}

func resolved(owner string, start int64) models.JobInfo {
	return models.JobInfo{Owner: owner, Partition: "gpu", Command: "train.sh", GPUCount: 1, StartEpochSeconds: start, Resolved: true}
}

func (s *JobMonitorSuite) SetupTest() {
	s.out = &bytes.Buffer{}
	s.clock = clock.NewMock()
	s.clock.Set(time.Unix(1700003600, 0))
	s.cfg = config.Default()

	s.jobs = &fakeJobSource{
		ids: []models.JobID{3, 8, 15, 21},
		infos: map[models.JobID]models.JobInfo{
			3:  resolved("alice", 1700003600-3600),
			8:  resolved("bob", 1700003600-7200),
			15: resolved("carol", 1700003600-360),
		},
	}
	s.sampler = &fakeSampler{samples: map[models.JobID]models.UtilizationSample{
		3:  idle(),
		8:  busy(),
		15: idle(),
		21: idle(),
	}}
	s.actuator = &fakeActuator{out: s.out, fail: map[models.JobID]bool{}}
}

func (s *JobMonitorSuite) monitor() *JobMonitor {
	return NewJobMonitor(s.jobs, s.sampler, s.actuator, NewReportWriter(s.out), s.clock, s.cfg)
}

func (s *JobMonitorSuite) TestDryRunNeverReaps() {
	result := s.monitor().RunPass(context.Background(), false)

	s.Empty(s.actuator.reaped)
	s.Empty(result.Results)
	s.Len(result.Rows, 4)
	s.True(result.Rows[0].Eligible)
	s.NotContains(s.out.String(), "REAPING")
	s.Contains(s.out.String(), "REAP")
}

func (s *JobMonitorSuite) TestReapInAscendingOrderAfterReport() {
	s.jobs.infos[21] = resolved("dave", 1700000000)

	result := s.monitor().RunPass(context.Background(), true)

	s.Equal([]models.JobID{3, 15, 21}, s.actuator.reaped)
	s.Len(result.Results, 3)

	// the full report was written before the first reap
	reportEnd := strings.Index(s.out.String(), "REAPING 3")
	s.Require().Positive(reportEnd)
	s.Equal(reportEnd, s.actuator.outputLen[0]-len("REAPING 3\n"))
	s.Contains(s.out.String()[:reportEnd], "   21 ")
}

func (s *JobMonitorSuite) TestUnresolvedJobIsHeldByDefault() {
	result := s.monitor().RunPass(context.Background(), true)

	s.Equal([]models.JobID{3, 15}, s.actuator.reaped)
	row := result.Rows[3]
	s.Equal(models.JobID(21), row.JobID)
	s.True(row.Eligible)
	s.True(row.Held)
	s.Contains(s.out.String(), "HOLD")
}

func (s *JobMonitorSuite) TestUnresolvedJobReapedWhenConfigured() {
	s.cfg.ReapUnresolved = true

	s.monitor().RunPass(context.Background(), true)

	s.Equal([]models.JobID{3, 15, 21}, s.actuator.reaped)
}

func (s *JobMonitorSuite) TestMetricsFailureIsIsolated() {
	s.jobs.ids = []models.JobID{3, 4}
	s.jobs.infos[4] = resolved("erin", 1700003600-3600)
	// job 4 has no sample: the sampler degrades to an empty sample

	result := s.monitor().RunPass(context.Background(), true)

	s.Require().Len(result.Rows, 2)
	s.True(result.Rows[0].Eligible)
	s.True(result.Rows[0].Complete)
	s.Equal(0.5, result.Rows[0].Sample.Average)
	s.False(result.Rows[1].Eligible)
	s.False(result.Rows[1].Complete)
	s.Empty(result.Rows[1].Sample.Values)
	s.Equal([]models.JobID{3}, s.actuator.reaped)
}

func (s *JobMonitorSuite) TestActuationFailureDoesNotStopQueue() {
	s.cfg.ReapUnresolved = true
	s.actuator.fail[3] = true

	result := s.monitor().RunPass(context.Background(), true)

	s.Equal([]models.JobID{3, 15, 21}, s.actuator.reaped)
	s.False(result.Results[0].Success)
	s.Contains(s.out.String(), "Failed to reap job 3")
	s.Contains(s.out.String(), "Reaped job 15")
}

func (s *JobMonitorSuite) TestDurations() {
	result := s.monitor().RunPass(context.Background(), false)

	s.Equal(1.0, result.Rows[0].DurationHours)
	s.Equal(2.0, result.Rows[1].DurationHours)
	s.Equal(0.1, result.Rows[2].DurationHours)
}

func (s *JobMonitorSuite) TestNoJobs() {
	s.jobs.ids = []models.JobID{}

	result := s.monitor().RunPass(context.Background(), true)

	s.Empty(result.Rows)
	s.Empty(s.actuator.reaped)
	s.Contains(s.out.String(), "Job ID")
}

func (s *JobMonitorSuite) TestParallelEvaluationKeepsOrder() {
	s.cfg.Concurrency = 4
	s.cfg.ReapUnresolved = true

	ids := make([]models.JobID, 0, 40)
	for id := models.JobID(1); id <= 40; id++ {
		ids = append(ids, id)
		s.sampler.samples[id] = idle()
	}
	s.jobs.ids = ids

	result := s.monitor().RunPass(context.Background(), true)

	s.Require().Len(result.Rows, 40)
	for i, row := range result.Rows {
		s.Equal(models.JobID(i+1), row.JobID)
	}
	s.Equal(ids, s.actuator.reaped)
}
