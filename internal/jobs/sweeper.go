package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// IdleResolver resolves conversations that have been quiet past their
// account's auto-resolve window.
type IdleResolver interface {
	AutoResolveIdle(ctx context.Context) (int, error)
}

// Sweeper runs periodic maintenance on a cron schedule. It backstops the
// timer-based queue: auto-resolve jobs lost to a restart are picked up on
// the next sweep.
type Sweeper struct {
	log      *slog.Logger
	cron     *cron.Cron
	resolver IdleResolver
	spec     string
}

func NewSweeper(log *slog.Logger, resolver IdleResolver, spec string) *Sweeper {
	return &Sweeper{
		log:      log.With(slog.String("service", "sweeper")),
		cron:     cron.New(),
		resolver: resolver,
		spec:     spec,
	}
}

func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.spec, s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("sweeper started", slog.String("spec", s.spec))
	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	resolved, err := s.resolver.AutoResolveIdle(ctx)
	if err != nil {
		s.log.Error("idle sweep failed", slog.Any("error", err))
		return
	}
	if resolved > 0 {
		s.log.Info("idle conversations resolved", slog.Int("count", resolved))
	}
}
