// Package jobs runs the command line tools' work as a named sequence of steps
// with status tracking and an optional progress bar.
package jobs

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/pkg/errors"

	"mlstages/internal/logging"
	"mlstages/internal/pipeline"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

const progressTemplate = `{{string . "step" | printf "%-24s"}} {{counters . }} {{bar . "[" "=" ">" " " "]"}} {{etime . }}`

type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

type StepResult struct {
	Name     string
	Duration time.Duration
	Err      error
}

type Job struct {
	ID    string
	Name  string
	Steps []Step
	// Progress receives a progress bar when set.
	Progress io.Writer

	mu        sync.RWMutex
	status    JobStatus
	results   []StepResult
	startTime time.Time
	endTime   time.Time
}

func New(name string, steps ...Step) *Job {
	return &Job{
		ID:     pipeline.NewUID("job_" + name),
		Name:   name,
		Steps:  steps,
		status: JobPending,
	}
}

// Add appends a step and returns the job for chaining.
func (j *Job) Add(name string, run func(ctx context.Context) error) *Job {
	j.Steps = append(j.Steps, Step{Name: name, Run: run})
	return j
}

// Run executes the steps in order and stops at the first failure. A cancelled
// context stops the job before its next step.
func (j *Job) Run(ctx context.Context) error {
	log := logging.For("jobs").With().Str("job", j.ID).Logger()

	j.mu.Lock()
	if j.status != JobPending {
		j.mu.Unlock()
		return errors.Errorf("job %s already %s", j.ID, j.status)
	}
	j.status = JobRunning
	j.startTime = time.Now()
	j.mu.Unlock()

	var bar *pb.ProgressBar
	if j.Progress != nil {
		bar = pb.ProgressBarTemplate(progressTemplate).New(len(j.Steps))
		bar.SetWriter(j.Progress)
		bar.Start()
		defer bar.Finish()
	}

	for _, step := range j.Steps {
		if err := ctx.Err(); err != nil {
			j.finish(JobCancelled)
			return errors.Wrapf(err, "job %s cancelled before %s", j.Name, step.Name)
		}
		if bar != nil {
			bar.Set("step", step.Name)
		}

		start := time.Now()
		err := step.Run(ctx)
		result := StepResult{Name: step.Name, Duration: time.Since(start), Err: err}
		j.mu.Lock()
		j.results = append(j.results, result)
		j.mu.Unlock()

		if err != nil {
			log.Error().Err(err).Str("step", step.Name).Msg("step failed")
			j.finish(JobFailed)
			return errors.Wrapf(err, "%s failed", step.Name)
		}
		log.Debug().Str("step", step.Name).Dur("took", result.Duration).Msg("step completed")
		if bar != nil {
			bar.Increment()
		}
	}

	j.finish(JobCompleted)
	return nil
}

func (j *Job) finish(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = status
	j.endTime = time.Now()
}

func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *Job) Results() []StepResult {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]StepResult, len(j.results))
	copy(out, j.results)
	return out
}

// Elapsed is the run time so far, or the total once finished.
func (j *Job) Elapsed() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()
	switch {
	case j.startTime.IsZero():
		return 0
	case j.endTime.IsZero():
		return time.Since(j.startTime)
	}
	return j.endTime.Sub(j.startTime)
}
