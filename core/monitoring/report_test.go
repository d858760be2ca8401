package monitoring

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"gpu-reaper/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationHours(t *testing.T) {
	now := time.Unix(1700003600, 0)

	assert.Equal(t, 1.0, DurationHours(now, 1700003600-3600))
	assert.Equal(t, "1.0", FormatHours(DurationHours(now, 1700003600-3600)))
	assert.Equal(t, "0.0", FormatHours(DurationHours(now, 1700003600)))
	assert.Equal(t, "2.5", FormatHours(DurationHours(now, 1700003600-9000)))
	assert.Equal(t, "0.1", FormatHours(DurationHours(now, 1700003600-400)))
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	w := NewReportWriter(&buf)

	rows := []models.ReportRow{
		{
			JobID:         101,
			Info:          models.JobInfo{Owner: "alice", Partition: "gpu", Command: "train.sh", GPUCount: 4, Resolved: true},
			Sample:        models.UtilizationSample{Values: make([]float64, 61), Average: 1.234, Max: 9.5},
			DurationHours: 12.3,
			Complete:      true,
			Eligible:      true,
		},
		{
			JobID:         102,
			Info:          models.UnknownJobInfo(),
			Sample:        models.EmptySample(),
			DurationHours: 0.5,
		},
		{
			JobID:    103,
			Info:     models.UnknownJobInfo(),
			Complete: true,
			Eligible: true,
			Held:     true,
		},
	}

	require.NoError(t, w.WriteReport(time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC), rows))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "2026-10-19 08:30:00", lines[0])

	assert.Equal(t, []string{"Job", "ID", "Job", "Owner", "Partition", "Command", "GPUs", "Avg", "GPU", "Util",
		"Max", "GPU", "Util", "Duration", "(h)", "Full", "Data?", "Reap?"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"101", "alice", "gpu", "train.sh", "4", "1.23", "9.50", "12.3", "Y", "REAP"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"102", "unknown", "unknown", "unknown", "0", "0.00", "0.00", "0.5", "N"}, strings.Fields(lines[3]))
	assert.Equal(t, []string{"103", "unknown", "unknown", "unknown", "0", "0.00", "0.00", "0.0", "Y", "HOLD"}, strings.Fields(lines[4]))
}

func TestWriteReportRightAligns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewReportWriter(&buf).WriteReport(time.Unix(0, 0), []models.ReportRow{{JobID: 7}}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	header, row := lines[1], lines[2]
	assert.Equal(t, strings.Index(header, "Job ID")+len("Job ID"), strings.Index(row, "7")+1)
}

func TestWriteReportEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewReportWriter(&buf).WriteReport(time.Unix(0, 0).UTC(), nil))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[1], "Reap?")
}

func TestWriteReapResult(t *testing.T) {
	var buf bytes.Buffer
	w := NewReportWriter(&buf)

	require.NoError(t, w.WriteReaping(42))
	require.NoError(t, w.WriteReapResult(models.ReapResult{JobID: 42, Annotated: true, Cancelled: true, Success: true}))
	require.NoError(t, w.WriteReapResult(models.ReapResult{JobID: 43, AlreadyGone: true, Success: true}))
	require.NoError(t, w.WriteReapResult(models.ReapResult{JobID: 44, Err: errors.New("permission denied")}))

	assert.Equal(t, "REAPING 42\n"+
		"Reaped job 42\n"+
		"Job 43 already gone\n"+
		"Failed to reap job 44: permission denied\n", buf.String())
}
