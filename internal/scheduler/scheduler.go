// Package scheduler provides cron-based scheduling for eventgate maintenance work.
//
// Deployments that want retention sweeps at fixed times of day (for example during
// the nightly batch window) use a cron expression instead of the sweeper's interval
// ticker.
package scheduler

import (
	"github.com/robfig/cron/v3"
)

// Scheduler runs registered jobs on cron expressions.
type Scheduler struct {
	cron *cron.Cron
}

// New creates and starts a cron scheduler. It uses the standard 5-field format
// (minute, hour, day of month, month, day of week) and recovers panicking jobs so a
// bad sweep cannot take the daemon down.
func New() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules task on the given cron expression. It returns an error if the
// expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
