// Package worker runs the cron-driven background jobs: the entitlement reset
// sweep and the balance-cache reconciler.
package worker

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/internal/config"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type SweepWorkerParam struct {
	fx.In

	LC           fx.Lifecycle
	Cfg          config.Config
	Log          *zap.Logger
	Clock        clock.Clock
	Entitlements entitlementdomain.Service
}

// RegisterSweepWorker schedules the reset sweep on the configured cron spec.
func RegisterSweepWorker(p SweepWorkerParam) {
	if p.Cfg.Sweep.Disabled {
		return
	}

	log := p.Log.Named("worker.sweep")
	runner := cron.New()

	_, err := runner.AddFunc(p.Cfg.Sweep.Spec, func() {
		ctx := context.Background()
		count, err := p.Entitlements.SweepDue(ctx, p.Clock.Now(), p.Cfg.Sweep.BatchSize)
		if err != nil {
			log.Error("reset sweep failed", zap.Error(err))
			return
		}
		if count > 0 {
			log.Info("reset sweep finished", zap.Int("resets", count))
		}
	})
	if err != nil {
		log.Error("invalid sweep schedule", zap.String("spec", p.Cfg.Sweep.Spec), zap.Error(err))
		return
	}

	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runner.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopCtx := runner.Stop()
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
}
