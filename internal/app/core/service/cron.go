package service

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronService drives a fixed set of periodic ticks registered before Start
// through robfig/cron, the same scheduler the teacher uses for its own
// background sweeps. Proofwork uses it for two jobs: the lease reaper sweep
// and the metrics-gauge refresh (§4.3, §9 Observability); the outbox
// processors themselves stay on plain tickers since they free-run as fast
// as backlog allows rather than on a calendar schedule.
type CronService struct {
	InstanceName string
	log          *logrus.Entry
	cron         *cron.Cron
	jobs         []cronJob
}

type cronJob struct {
	spec string
	fn   func()
}

// NewCronService builds an empty service; register jobs with AddJob before
// calling Start.
func NewCronService(name string, log *logrus.Entry) *CronService {
	return &CronService{InstanceName: name, log: log}
}

// AddJob registers a job under a robfig/cron spec (standard 5-field cron,
// or "@every 30s"-style fixed intervals). Must be called before Start.
func (c *CronService) AddJob(spec string, fn func()) {
	c.jobs = append(c.jobs, cronJob{spec: spec, fn: fn})
}

func (c *CronService) Name() string { return c.InstanceName }

func (c *CronService) Start(ctx context.Context) error {
	c.cron = cron.New()
	for _, j := range c.jobs {
		if _, err := c.cron.AddFunc(j.spec, j.fn); err != nil {
			return err
		}
	}
	c.cron.Start()
	return nil
}

func (c *CronService) Stop(ctx context.Context) error {
	if c.cron == nil {
		return nil
	}
	stopCtx := c.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
