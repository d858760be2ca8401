package models

// UtilizationSample is a trailing window of GPU utilization readings for one job
type UtilizationSample struct {
	Values  []float64 // chronological, one per step
	Average float64
	Max     float64
}

// EmptySample returns the sample used when the metrics backend could not be read.
// It never satisfies the completeness check.
func EmptySample() UtilizationSample {
	return UtilizationSample{Values: []float64{}}
}

// NewUtilizationSample computes mean and max over values
func NewUtilizationSample(values []float64) UtilizationSample {
	if len(values) == 0 {
		return EmptySample()
	}

	sum := 0.0
	max := values[0]
	for _, v := range values {
		sum += v
		if v > max {
			max = v
		}
	}

	return UtilizationSample{
		Values:  values,
		Average: sum / float64(len(values)),
		Max:     max,
	}
}
