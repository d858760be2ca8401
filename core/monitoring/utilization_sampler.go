package monitoring

import (
	"context"
	"math"
	"time"

	"gpu-reaper/config"
	"gpu-reaper/core/models"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog/log"
)

// UtilizationSampler reads per-job GPU utilization from a Prometheus compatible backend
// (VictoriaMetrics serves the same API under /prometheus).
type UtilizationSampler struct {
	api     v1.API
	clock   clock.Clock
	cfg     config.Config
	timeout time.Duration
}

// NewUtilizationSampler creates a sampler for the configured metrics endpoint
func NewUtilizationSampler(cfg config.Config, clk clock.Clock) (*UtilizationSampler, error) {
	client, err := api.NewClient(api.Config{Address: cfg.MetricsEndpoint})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create metrics client")
	}
	if clk == nil {
		clk = clock.New()
	}

	return &UtilizationSampler{
		api:     v1.NewAPI(client),
		clock:   clk,
		cfg:     cfg,
		timeout: cfg.MetricsTimeout,
	}, nil
}

// Sample returns the trailing utilization window for a job. Any failure yields
// models.EmptySample, which can never be complete.
func (s *UtilizationSampler) Sample(ctx context.Context, jobID models.JobID) models.UtilizationSample {
	values, err := s.queryRange(ctx, jobID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Stringer("job_id", jobID).Msg("failed to query GPU utilization")
		return models.EmptySample()
	}
	if len(values) == 0 {
		log.Ctx(ctx).Debug().Stringer("job_id", jobID).Msg("no GPU utilization data")
		return models.EmptySample()
	}
	return models.NewUtilizationSample(values)
}

func (s *UtilizationSampler) queryRange(ctx context.Context, jobID models.JobID) ([]float64, error) {
	end := s.clock.Now()
	r := v1.Range{
		Start: end.Add(-s.cfg.Window()),
		End:   end,
		Step:  s.cfg.Step(),
	}

	// the per-job bound keeps a hanging backend from stalling the pass
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, warnings, err := s.api.QueryRange(ctx, s.cfg.QueryFor(jobID.String()), r)
	if err != nil {
		return nil, errors.Wrapf(err, "range query for job %s", jobID)
	}
	if len(warnings) > 0 {
		log.Ctx(ctx).Warn().Strs("warnings", warnings).Stringer("job_id", jobID).Msg("metrics backend returned warnings")
	}

	return matrixValues(result)
}

// matrixValues extracts the first series of a range query result in order
func matrixValues(result model.Value) ([]float64, error) {
	if result == nil {
		return nil, errors.New("empty response")
	}
	matrix, ok := result.(model.Matrix)
	if !ok {
		return nil, errors.Errorf("unexpected result type %s", result.Type())
	}
	if len(matrix) == 0 {
		return []float64{}, nil
	}

	points := matrix[0].Values
	values := make([]float64, 0, len(points))
	for _, p := range points {
		v := float64(p.Value)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Errorf("non-finite value at %s", p.Timestamp.Time().UTC().Format(time.RFC3339))
		}
		values = append(values, v)
	}
	return values, nil
}
