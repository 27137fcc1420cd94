package device

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Poller drives Registry.Poll on a fixed interval. Cron schedules have
// one-second granularity, so shorter intervals run every second. A poll
// still running when the next tick fires is skipped.
type Poller struct {
	reg      *Registry
	log      *zap.Logger
	interval time.Duration
	cron     *cron.Cron

	cancel context.CancelFunc
}

func NewPoller(reg *Registry, interval time.Duration, log *zap.Logger) *Poller {
	cl := cronLogger{log.Named("poller").Sugar()}
	return &Poller{
		reg:      reg,
		log:      log.Named("poller"),
		interval: interval,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
	}
}

func (p *Poller) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	schedule := fmt.Sprintf("@every %s", max(p.interval, time.Second))
	if _, err := p.cron.AddFunc(schedule, func() { p.reg.Poll(ctx) }); err != nil {
		p.cancel()
		return fmt.Errorf("schedule poll: %w", err)
	}
	p.cron.Start()
	p.log.Info("poll loop started", zap.String("schedule", schedule))
	return nil
}

// Stop halts scheduling and waits for a running poll to finish or ctx
// to expire.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	done := p.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.s.Errorw(msg, append(kv, "error", err)...)
}
