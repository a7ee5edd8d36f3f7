// Package scheduler re-runs profile refreshes for players whose cached data
// has gone stale. It is off unless a refresh interval is configured.
package scheduler

import (
	"context"
	"fmt"
	"rival-tracker/internal/config"
	"rival-tracker/internal/constants"
	"rival-tracker/internal/domain"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type StaleLister interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Player, error)
	MarkRefreshAttempted(ctx context.Context, userNum int64, at time.Time) error
}

type Refresher interface {
	RefreshProfile(ctx context.Context, nickname string) (*domain.Profile, error)
}

type Scheduler struct {
	players   StaleLister
	profiles  Refresher
	interval  time.Duration
	staleAge  time.Duration
	batch     int
	logger    zerolog.Logger
	now       func() time.Time
	scheduler gocron.Scheduler
}

func New(players StaleLister, profiles Refresher, cfg *config.Config, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		players:  players,
		profiles: profiles,
		interval: cfg.RefreshInterval,
		staleAge: cfg.RefreshStaleAfter,
		batch:    cfg.RefreshBatch,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
	}
}

func (s *Scheduler) Enabled() bool {
	return s.interval > 0 && s.batch > 0
}

func (s *Scheduler) Start() error {
	if !s.Enabled() {
		s.logger.Info().Msg("background refresh disabled")
		return nil
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), constants.RefreshTimeout)
			defer cancel()
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("stale refresh run failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule stale refresh: %w", err)
	}

	sched.Start()
	s.scheduler = sched
	s.logger.Info().
		Dur("interval", s.interval).
		Dur("stale_after", s.staleAge).
		Int("batch", s.batch).
		Msg("background refresh started")
	return nil
}

func (s *Scheduler) Stop() error {
	if s.scheduler == nil {
		return nil
	}
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return nil
}

// RunOnce refreshes one batch of stale players and returns how many
// succeeded. Every pick is stamped as attempted first, so players that fail
// or no longer resolve wait a full stale period before their next turn. A
// failed refresh is logged and does not stop the batch.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.players.ListStale(ctx, now.Add(-s.staleAge), s.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale players: %w", err)
	}
	if len(stale) == 0 {
		s.logger.Debug().Msg("no stale players")
		return 0, nil
	}

	var refreshed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.SchedulerConcurrency)

	for _, player := range stale {
		g.Go(func() error {
			log := s.logger.With().Int64("user_num", player.UserNum).Str("nickname", player.Nickname).Logger()
			if err := s.players.MarkRefreshAttempted(gctx, player.UserNum, now); err != nil {
				log.Warn().Err(err).Msg("failed to stamp refresh attempt")
			}
			profile, err := s.profiles.RefreshProfile(gctx, player.Nickname)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				log.Warn().Err(err).Msg("stale refresh failed")
				return nil
			}
			if profile.DoesNotExist {
				log.Info().Msg("player no longer resolves upstream")
				return nil
			}
			refreshed.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(refreshed.Load()), err
	}

	s.logger.Info().
		Int("stale", len(stale)).
		Int32("refreshed", refreshed.Load()).
		Msg("stale refresh run complete")
	return int(refreshed.Load()), nil
}
