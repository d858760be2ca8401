package config

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// JobIDPlaceholder is replaced by the job id in MetricsQuery
const JobIDPlaceholder = "{job_id}"

// Config holds the reaper configuration. It is immutable once loaded.
type Config struct {
	// Sampling window
	StepMinutes    int     `yaml:"step_minutes"`
	WindowMinutes  int     `yaml:"window_minutes"`
	MinUtilization float64 `yaml:"min_utilization"`

	// Metrics backend (Prometheus HTTP API)
	MetricsEndpoint string        `yaml:"metrics_endpoint"`
	MetricsTimeout  time.Duration `yaml:"metrics_timeout"`
	MetricsQuery    string        `yaml:"metrics_query"`

	// Slurm
	SlurmDataParser  string `yaml:"slurm_data_parser"`
	PrivilegeCommand string `yaml:"privilege_command"`

	// Report
	PartitionWidth int `yaml:"partition_width"`
	CommandWidth   int `yaml:"command_width"`

	// Evaluation
	Concurrency       int  `yaml:"concurrency"`
	ReapUnresolved    bool `yaml:"reap_unresolved"`
	RequireAnnotation bool `yaml:"require_annotation"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		StepMinutes:      1,
		WindowMinutes:    60,
		MinUtilization:   5.0,
		MetricsEndpoint:  "http://localhost:8428/prometheus",
		MetricsTimeout:   3 * time.Second,
		MetricsQuery:     `avg(gpu_job_utilisation{job_id="` + JobIDPlaceholder + `"})`,
		SlurmDataParser:  "v0.0.40",
		PrivilegeCommand: "sudo",
		PartitionWidth:   7,
		CommandWidth:     10,
		Concurrency:      1,
	}
}

// Load loads configuration from defaults, the YAML file named by
// REAPER_CONFIG (if set) and REAPER_* environment variables, in that order.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("REAPER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ExpectedSampleCount is the number of points a complete window holds
func (c Config) ExpectedSampleCount() int {
	return c.WindowMinutes/c.StepMinutes + 1
}

// Step returns the sampling step as a duration
func (c Config) Step() time.Duration {
	return time.Duration(c.StepMinutes) * time.Minute
}

// Window returns the sampling window as a duration
func (c Config) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// QueryFor renders the metrics query for a job
func (c Config) QueryFor(jobID string) string {
	return strings.ReplaceAll(c.MetricsQuery, JobIDPlaceholder, jobID)
}

// Validate reports every invalid setting at once
func (c Config) Validate() error {
	var errs *multierror.Error

	if c.StepMinutes <= 0 {
		errs = multierror.Append(errs, errors.Errorf("step_minutes must be positive, got %d", c.StepMinutes))
	}
	if c.WindowMinutes <= 0 {
		errs = multierror.Append(errs, errors.Errorf("window_minutes must be positive, got %d", c.WindowMinutes))
	}
	if c.StepMinutes > 0 && c.WindowMinutes > 0 && c.WindowMinutes%c.StepMinutes != 0 {
		errs = multierror.Append(errs, errors.Errorf("window_minutes (%d) must be a multiple of step_minutes (%d)",
			c.WindowMinutes, c.StepMinutes))
	}
	if math.IsNaN(c.MinUtilization) || math.IsInf(c.MinUtilization, 0) {
		errs = multierror.Append(errs, errors.Errorf("min_utilization must be a finite number, got %v", c.MinUtilization))
	} else if c.MinUtilization < 0 {
		errs = multierror.Append(errs, errors.Errorf("min_utilization must not be negative, got %v", c.MinUtilization))
	}
	if c.MetricsEndpoint == "" {
		errs = multierror.Append(errs, errors.New("metrics_endpoint is required"))
	}
	if c.MetricsTimeout <= 0 {
		errs = multierror.Append(errs, errors.Errorf("metrics_timeout must be positive, got %s", c.MetricsTimeout))
	}
	if !strings.Contains(c.MetricsQuery, JobIDPlaceholder) {
		errs = multierror.Append(errs, errors.Errorf("metrics_query must contain %s", JobIDPlaceholder))
	}
	if c.SlurmDataParser == "" {
		errs = multierror.Append(errs, errors.New("slurm_data_parser is required"))
	}
	if c.PartitionWidth < 1 || c.CommandWidth < 1 {
		errs = multierror.Append(errs, errors.New("partition_width and command_width must be at least 1"))
	}
	if c.Concurrency < 1 {
		errs = multierror.Append(errs, errors.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}

	return errs.ErrorOrNil()
}

func (c *Config) applyEnv() error {
	var errs *multierror.Error

	setInt := func(key string, dst *int) {
		if value := os.Getenv(key); value != "" {
			n, err := strconv.Atoi(value)
			if err != nil {
				errs = multierror.Append(errs, errors.Wrap(err, key))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if value := os.Getenv(key); value != "" {
			b, err := strconv.ParseBool(value)
			if err != nil {
				errs = multierror.Append(errs, errors.Wrap(err, key))
				return
			}
			*dst = b
		}
	}

	setInt("REAPER_STEP_MINUTES", &c.StepMinutes)
	setInt("REAPER_WINDOW_MINUTES", &c.WindowMinutes)
	setInt("REAPER_PARTITION_WIDTH", &c.PartitionWidth)
	setInt("REAPER_COMMAND_WIDTH", &c.CommandWidth)
	setInt("REAPER_CONCURRENCY", &c.Concurrency)
	setBool("REAPER_REAP_UNRESOLVED", &c.ReapUnresolved)
	setBool("REAPER_REQUIRE_ANNOTATION", &c.RequireAnnotation)

	if value := os.Getenv("REAPER_MIN_UTILIZATION"); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "REAPER_MIN_UTILIZATION"))
		} else {
			c.MinUtilization = f
		}
	}
	if value := os.Getenv("REAPER_METRICS_TIMEOUT"); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "REAPER_METRICS_TIMEOUT"))
		} else {
			c.MetricsTimeout = d
		}
	}

	c.MetricsEndpoint = getEnv("REAPER_METRICS_ENDPOINT", c.MetricsEndpoint)
	c.MetricsQuery = getEnv("REAPER_METRICS_QUERY", c.MetricsQuery)
	c.SlurmDataParser = getEnv("REAPER_SLURM_DATA_PARSER", c.SlurmDataParser)
	if value, ok := os.LookupEnv("REAPER_PRIVILEGE_COMMAND"); ok {
		// an explicitly empty value disables privilege escalation
		c.PrivilegeCommand = value
	}

	return errs.ErrorOrNil()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
