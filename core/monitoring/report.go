package monitoring

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"gpu-reaper/core/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const timestampLayout = "2006-01-02 15:04:05"

// Report markers in the Reap? column
const (
	MarkerReap = "REAP"
	MarkerHold = "HOLD"
)

var reportStyle = func() table.Style {
	style := table.StyleDefault
	style.Name = "StyleReport"
	style.Options = table.Options{
		DrawBorder:      false,
		SeparateColumns: false,
		SeparateFooter:  false,
		SeparateHeader:  false,
		SeparateRows:    false,
	}
	style.Format.Header = text.FormatDefault
	return style
}()

// reportColumns mirrors the fixed-width layout operators are used to
var reportColumns = []struct {
	name  string
	width int
}{
	{"Job ID", 8},
	{"Job Owner", 18},
	{"Partition", 10},
	{"Command", 10},
	{"GPUs", 5},
	{"Avg GPU Util", 13},
	{"Max GPU Util", 13},
	{"Duration (h)", 13},
	{"Full Data?", 11},
	{"Reap?", 5},
}

// ReportWriter renders the pass report and actuation outcomes
type ReportWriter struct {
	out io.Writer
}

// NewReportWriter creates a report writer on out
func NewReportWriter(out io.Writer) *ReportWriter {
	return &ReportWriter{out: out}
}

// WriteReport prints the pass timestamp followed by one row per job
func (w *ReportWriter) WriteReport(at time.Time, rows []models.ReportRow) error {
	t := table.NewWriter()
	t.SetStyle(reportStyle)

	header := make(table.Row, 0, len(reportColumns))
	configs := make([]table.ColumnConfig, 0, len(reportColumns))
	for i, col := range reportColumns {
		header = append(header, col.name)
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       text.AlignRight,
			AlignHeader: text.AlignRight,
			WidthMin:    col.width,
		})
	}
	t.AppendHeader(header)
	t.SetColumnConfigs(configs)

	for _, row := range rows {
		t.AppendRow(table.Row{
			row.JobID.String(),
			row.Info.Owner,
			row.Info.Partition,
			row.Info.Command,
			strconv.Itoa(row.Info.GPUCount),
			fmt.Sprintf("%.2f", row.Sample.Average),
			fmt.Sprintf("%.2f", row.Sample.Max),
			FormatHours(row.DurationHours),
			yesNo(row.Complete),
			reapMarker(row),
		})
	}

	if _, err := fmt.Fprintln(w.out, at.Format(timestampLayout)); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w.out, t.Render())
	return err
}

// WriteReaping announces an actuation
func (w *ReportWriter) WriteReaping(jobID models.JobID) error {
	_, err := fmt.Fprintf(w.out, "REAPING %s\n", jobID)
	return err
}

// WriteReapResult prints the outcome of one actuation
func (w *ReportWriter) WriteReapResult(result models.ReapResult) error {
	var line string
	switch {
	case !result.Success:
		line = fmt.Sprintf("Failed to reap job %s: %v", result.JobID, result.Err)
	case result.AlreadyGone && !result.Cancelled:
		line = fmt.Sprintf("Job %s already gone", result.JobID)
	default:
		line = fmt.Sprintf("Reaped job %s", result.JobID)
	}
	_, err := fmt.Fprintln(w.out, line)
	return err
}

// DurationHours is the time since start rounded to one decimal place
func DurationHours(now time.Time, startEpochSeconds int64) float64 {
	seconds := float64(now.Unix() - startEpochSeconds)
	return math.Round(seconds/3600*10) / 10
}

// FormatHours renders a duration in hours with one decimal place
func FormatHours(hours float64) string {
	return strconv.FormatFloat(hours, 'f', 1, 64)
}

func yesNo(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

func reapMarker(row models.ReportRow) string {
	switch {
	case row.Queued():
		return MarkerReap
	case row.Held:
		return MarkerHold
	default:
		return ""
	}
}
