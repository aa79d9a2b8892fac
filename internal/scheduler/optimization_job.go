package scheduler

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dfpersonal/cash-management/internal/modules/planning"
)

// Planner runs one optimization with the named allocation strategy.
type Planner interface {
	Run(mode string) (*planning.RunResult, error)
}

// OptimizationJob triggers a scheduled optimization run.
type OptimizationJob struct {
	planner Planner
	mode    string
	log     zerolog.Logger
}

// NewOptimizationJob creates the job. mode is the allocation strategy
// used for scheduled runs.
func NewOptimizationJob(planner Planner, mode string, log zerolog.Logger) *OptimizationJob {
	return &OptimizationJob{
		planner: planner,
		mode:    mode,
		log:     log.With().Str("job", "optimization").Logger(),
	}
}

// Name returns the job name.
func (j *OptimizationJob) Name() string {
	return "optimization"
}

// Run executes one optimization run.
func (j *OptimizationJob) Run() error {
	result, err := j.planner.Run(j.mode)
	if err != nil {
		return fmt.Errorf("scheduled optimization failed: %w", err)
	}

	j.log.Info().
		Str("run_id", result.RunID).
		Str("mode", j.mode).
		Int("recommendations", len(result.Recommendations)).
		Int("alerts", len(result.Alerts)).
		Msg("Scheduled optimization completed")
	return nil
}
