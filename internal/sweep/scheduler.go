// Package sweep schedules the periodic expiration passes: retiring earned
// points past their per-transaction expiry and flipping stale redemptions.
package sweep

import (
	"context"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs the expiration sweeps on a cron spec.
type Scheduler struct {
	cron    *cron.Cron
	service *loyalty.Service
	logger  *zap.Logger
}

// New wires a Scheduler; schedule is a standard five-field cron expression.
// A firing that lands while the previous sweep is still running is skipped:
// the sweep is idempotent, so the next firing covers whatever remains.
func New(service *loyalty.Service, logger *zap.Logger, schedule string) (*Scheduler, error) {
	scheduler := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger}))),
		service: service,
		logger:  logger,
	}
	if _, err := scheduler.cron.AddFunc(schedule, scheduler.runSweep); err != nil {
		return nil, err
	}
	return scheduler, nil
}

// Start begins firing the schedule.
func (scheduler *Scheduler) Start() {
	scheduler.cron.Start()
	scheduler.logger.Info("expiration sweeper scheduled")
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (scheduler *Scheduler) Stop() {
	<-scheduler.cron.Stop().Done()
	scheduler.logger.Info("expiration sweeper stopped")
}

// cronLogger adapts zap to the cron.Logger contract the job chain logs through.
type cronLogger struct {
	logger *zap.Logger
}

func (adapter cronLogger) Info(message string, keysAndValues ...interface{}) {
	adapter.logger.Sugar().Infow(message, keysAndValues...)
}

func (adapter cronLogger) Error(err error, message string, keysAndValues ...interface{}) {
	adapter.logger.Sugar().Errorw(message, append([]interface{}{"error", err}, keysAndValues...)...)
}

// runSweep is one scheduled pass. Failures are logged only; the sweep is
// idempotent and retried on the next firing.
func (scheduler *Scheduler) runSweep() {
	ctx := context.Background()
	pointsExpired, err := scheduler.service.SweepExpired(ctx)
	if err != nil {
		scheduler.logger.Error("point expiration sweep failed", zap.Error(err))
	} else {
		scheduler.logger.Info("point expiration sweep finished", zap.Int64("points_expired", pointsExpired))
	}
	redemptionsExpired, err := scheduler.service.ExpireRedemptions(ctx)
	if err != nil {
		scheduler.logger.Error("redemption expiry pass failed", zap.Error(err))
		return
	}
	if redemptionsExpired > 0 {
		scheduler.logger.Info("redemptions expired", zap.Int64("count", redemptionsExpired))
	}
}
