// Package scheduler runs housekeeping jobs on cron schedules.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job is a named function fired on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func()
}

// Scheduler fires jobs on their schedules.
type Scheduler struct {
	jobs []Job
	cron *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler for jobs.
func New(jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs: jobs,
		cron: cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers every job with a schedule and starts the cron ticker.
// Jobs with an invalid schedule are skipped and reported together.
func (s *Scheduler) Start() error {
	var errs []error
	for _, job := range s.jobs {
		if job.Schedule == "" || job.Run == nil {
			continue
		}

		name, run := job.Name, job.Run
		_, err := s.cron.AddFunc(job.Schedule, func() {
			slog.Debug("cron firing job", "name", name)
			run()
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", name, "schedule", job.Schedule, "error", err)
			errs = append(errs, fmt.Errorf("job %s: %w", name, err))
			continue
		}
		slog.Info("scheduled job", "name", name, "schedule", job.Schedule)
	}

	s.cron.Start()
	return errors.Join(errs...)
}

// Stop stops the cron ticker and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
