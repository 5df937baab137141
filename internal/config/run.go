package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dshills/ragdoc/pkg/types"
)

// RunConfig is fixed for the lifetime of one processing run and passed by
// value to every component call. Two jobs with different RunConfigs can run
// side by side.
type RunConfig struct {
	// Embedding
	Dimension      int
	Provider       string
	EmbedMaxTokens int
	EmbedTimeout   time.Duration

	// Generation
	Generator       string
	GenerateTimeout time.Duration

	// Retrieval
	K            int
	Metric       types.DistanceMetric
	Backend      string
	ChromemPath  string
	ExcerptChars int

	Workers int
}

// DefaultRun returns the RunConfig derived from Default()
func DefaultRun() RunConfig {
	return Default().Run()
}

// Validate checks the run configuration
func (r RunConfig) Validate() error {
	var errs []error
	if r.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("dimension must be positive, got %d", r.Dimension))
	}
	if r.Provider == "" {
		errs = append(errs, errors.New("provider must be set"))
	}
	if r.K < 0 {
		errs = append(errs, fmt.Errorf("k cannot be negative, got %d", r.K))
	}
	if err := r.Metric.Validate(); err != nil {
		errs = append(errs, err)
	}
	if r.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", r.Workers))
	}
	return errors.Join(errs...)
}

// WithK returns a copy with K replaced
func (r RunConfig) WithK(k int) RunConfig {
	r.K = k
	return r
}
