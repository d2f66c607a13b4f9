package worker

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/StoriqaTeam/billing-sub000/internal/acl"
	"github.com/StoriqaTeam/billing-sub000/internal/auth"
	"github.com/StoriqaTeam/billing-sub000/internal/service"
)

// Schedules runs the periodic billing jobs: nightly subscription
// collection and hourly wallet pool top-up. Snapshot creation stays on the
// HTTP trigger because the product counts live in the stores service.
type Schedules struct {
	cron *cron.Cron
	log  *logrus.Entry
}

// NewSchedules registers the cron jobs.
func NewSchedules(subscriptions *service.SubscriptionService, accounts *service.AccountService, log *logrus.Logger) (*Schedules, error) {
	entry := log.WithField("component", "schedules")
	runner := cron.New()
	jobCtx := auth.WithUser(context.Background(), acl.SystemUserID)

	if _, err := runner.AddFunc("0 3 * * *", func() {
		if err := subscriptions.PaySubscriptions(jobCtx); err != nil {
			entry.WithError(err).Error("scheduled subscription collection failed")
		}
	}); err != nil {
		return nil, err
	}
	if _, err := runner.AddFunc("@hourly", func() {
		if err := accounts.InitAccountPools(jobCtx); err != nil {
			entry.WithError(err).Error("scheduled pool top-up failed")
		}
	}); err != nil {
		return nil, err
	}
	return &Schedules{cron: runner, log: entry}, nil
}

// Start launches the schedules in their own goroutine.
func (s *Schedules) Start() {
	s.cron.Start()
	s.log.Info("schedules started")
}

// Stop halts the schedules and waits for running jobs.
func (s *Schedules) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("schedules stopped")
}
