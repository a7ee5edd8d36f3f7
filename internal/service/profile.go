package service

import (
	"context"
	"errors"
	"fmt"
	"rival-tracker/internal/api"
	"rival-tracker/internal/constants"
	"rival-tracker/internal/domain"
	"rival-tracker/internal/metrics"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type Upstream interface {
	LookupPlayer(ctx context.Context, nickname string) (*api.UserLookup, error)
	GetUserStats(ctx context.Context, userNum int64) (*domain.ShortProfile, error)
}

type PlayerStore interface {
	GetByNickname(ctx context.Context, nickname string) (*domain.Player, error)
	GetByUserNum(ctx context.Context, userNum int64) (*domain.Player, error)
	Upsert(ctx context.Context, player *domain.Player) error
	UpsertSummary(ctx context.Context, summary domain.ShortProfile) error
}

type MatchReader interface {
	GetByUserNum(ctx context.Context, userNum int64) ([]domain.Match, error)
}

type AggregateStore interface {
	Get(ctx context.Context, userNum int64) (*domain.RivalAggregate, error)
	Upsert(ctx context.Context, agg *domain.RivalAggregate) error
}

type refreshState string

const (
	stateResolving   refreshState = "resolving"
	stateNotFound    refreshState = "not_found"
	stateIngesting   refreshState = "ingesting"
	stateAggregating refreshState = "aggregating"
	statePersisting  refreshState = "persisting"
	stateDone        refreshState = "done"
)

type ProfileService struct {
	upstream   Upstream
	players    PlayerStore
	matches    MatchReader
	aggregates AggregateStore
	ingester   *Ingester
	locker     Locker
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
	lookups    singleflight.Group
}

func NewProfileService(
	upstream Upstream,
	players PlayerStore,
	matches MatchReader,
	aggregates AggregateStore,
	ingester *Ingester,
	locker Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *ProfileService {
	return &ProfileService{
		upstream:   upstream,
		players:    players,
		matches:    matches,
		aggregates: aggregates,
		ingester:   ingester,
		locker:     locker,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// GetProfile serves the cached profile. Unknown players are resolved
// upstream and returned in a zero state; nothing is written or ingested.
func (s *ProfileService) GetProfile(ctx context.Context, nickname string) (*domain.Profile, error) {
	nickname, err := cleanNickname(nickname)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	log := s.logger.With().Str("nickname", nickname).Logger()

	cached, err := s.players.GetByNickname(ctx, nickname)
	if err != nil {
		log.Warn().Err(err).Msg("cache lookup failed, resolving upstream")
		cached = nil
	}

	if cached != nil {
		agg, err := s.aggregates.Get(ctx, cached.UserNum)
		if err != nil {
			log.Warn().Err(err).Int64("user_num", cached.UserNum).Msg("failed to load cached aggregate")
			agg = nil
		}
		log.Info().Int64("user_num", cached.UserNum).Msg("returning cached profile")
		return profileFromCache(cached, agg), nil
	}

	log.Debug().Msg("player not cached, fetching from API")
	user, err := s.lookup(ctx, nickname)
	if errors.Is(err, domain.ErrUpstreamNotFound) {
		log.Info().Msg("player does not exist")
		return &domain.Profile{DoesNotExist: true}, nil
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve player")
		return nil, err
	}

	return &domain.Profile{
		UserNum:  user.UserNum,
		Nickname: nickname,
		Killers:  []domain.Rival{},
	}, nil
}

// RefreshProfile resolves the player upstream, syncs the full match history,
// recomputes the rival ranking and persists player and aggregate. Concurrent
// refreshes of one player are serialized by the locker.
func (s *ProfileService) RefreshProfile(ctx context.Context, nickname string) (*domain.Profile, error) {
	nickname, err := cleanNickname(nickname)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RefreshTimeout)
	defer cancel()

	start := s.now()
	log := s.logger.With().Str("nickname", nickname).Logger()
	transition := func(state refreshState) {
		log.Info().Str("state", string(state)).Msg("refresh state")
	}

	transition(stateResolving)
	user, err := s.lookup(ctx, nickname)
	if errors.Is(err, domain.ErrUpstreamNotFound) {
		transition(stateNotFound)
		s.metrics.Refresh(string(stateNotFound), time.Since(start))
		return &domain.Profile{DoesNotExist: true}, nil
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve player")
		s.metrics.Refresh("error", time.Since(start))
		return nil, err
	}
	log = log.With().Int64("user_num", user.UserNum).Logger()

	unlock, err := s.locker.Lock(ctx, user.UserNum)
	if err != nil {
		log.Error().Err(err).Msg("failed to acquire player lock")
		s.metrics.Refresh("error", time.Since(start))
		return nil, err
	}
	defer unlock()

	profile, err := s.refreshLocked(ctx, user, log, transition)
	if err != nil {
		s.metrics.Refresh("error", time.Since(start))
		return nil, err
	}

	result := string(stateDone)
	if profile.Partial {
		result = "partial"
	}
	s.metrics.Refresh(result, time.Since(start))
	return profile, nil
}

func (s *ProfileService) refreshLocked(ctx context.Context, user *api.UserLookup, log zerolog.Logger, transition func(refreshState)) (*domain.Profile, error) {
	transition(stateIngesting)
	synced, err := s.ingester.Sync(ctx, user.UserNum)
	if err != nil {
		log.Error().Err(err).Msg("failed to sync match history")
		return nil, fmt.Errorf("failed to sync match history: %w", err)
	}

	transition(stateAggregating)
	matches, err := s.matches.GetByUserNum(ctx, user.UserNum)
	if err != nil {
		log.Error().Err(err).Msg("failed to load stored matches")
		return nil, fmt.Errorf("failed to load matches: %w", err)
	}
	now := s.now().UTC()
	agg := BuildAggregate(user.UserNum, matches, now)
	summary := s.summary(ctx, user, log)

	transition(statePersisting)
	player := &domain.Player{
		UserNum:     user.UserNum,
		Nickname:    summary.Nickname,
		Character:   summary.Character,
		GameCount:   agg.GameCount,
		FirstSeenAt: agg.WindowStart,
		LastSeenAt:  agg.WindowEnd,
		UpdatedAt:   now,
	}
	if err := s.players.Upsert(ctx, player); err != nil {
		log.Error().Err(err).Msg("failed to persist player")
		return nil, fmt.Errorf("failed to persist player: %w", err)
	}
	if err := s.aggregates.Upsert(ctx, &agg); err != nil {
		log.Error().Err(err).Msg("failed to persist rival aggregate")
		return nil, fmt.Errorf("failed to persist rival aggregate: %w", err)
	}

	transition(stateDone)
	log.Info().
		Int("game_count", agg.GameCount).
		Int("rivals", len(agg.Rivals)).
		Int("inserted", synced.Inserted).
		Bool("partial", synced.Partial).
		Msg("profile refreshed")

	return &domain.Profile{
		UserNum:       user.UserNum,
		Nickname:      player.Nickname,
		Character:     player.Character,
		Killers:       agg.Rivals,
		GameCount:     agg.GameCount,
		StartDate:     domain.FormatDate(agg.WindowStart),
		EndDate:       domain.FormatDate(agg.WindowEnd),
		UpdateDate:    domain.FormatDate(&now),
		Partial:       synced.Partial,
		PartialReason: synced.Reason,
	}, nil
}

// GetShortProfile returns nickname and character for a user number, from the
// cache when possible. Upstream answers are cached opportunistically.
func (s *ProfileService) GetShortProfile(ctx context.Context, userNum int64) (*domain.ShortProfile, error) {
	if userNum <= 0 {
		return nil, fmt.Errorf("%w: user number must be positive", domain.ErrInvalidArgument)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	log := s.logger.With().Int64("user_num", userNum).Logger()

	cached, err := s.players.GetByUserNum(ctx, userNum)
	if err != nil {
		log.Warn().Err(err).Msg("cache lookup failed, resolving upstream")
	} else if cached != nil && cached.Nickname != "" {
		return &domain.ShortProfile{UserNum: cached.UserNum, Nickname: cached.Nickname, Character: cached.Character}, nil
	}

	summary, err := s.upstream.GetUserStats(ctx, userNum)
	if errors.Is(err, domain.ErrUpstreamNotFound) {
		return &domain.ShortProfile{UserNum: userNum, Nickname: constants.UnknownNickname}, nil
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch user stats")
		return nil, err
	}

	if err := s.players.UpsertSummary(ctx, *summary); err != nil {
		log.Warn().Err(err).Msg("failed to cache player summary")
	}
	return summary, nil
}

// lookup coalesces concurrent resolutions of one nickname. The shared call
// runs detached from any single caller so one caller leaving does not fail
// the others; each caller still stops waiting when its own ctx ends.
func (s *ProfileService) lookup(ctx context.Context, nickname string) (*api.UserLookup, error) {
	ch := s.lookups.DoChan(strings.ToUpper(nickname), func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.RequestTimeout)
		defer cancel()
		return s.upstream.LookupPlayer(shared, nickname)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*api.UserLookup), nil
	}
}

// summary fetches nickname and main character for a refresh. Failures fall
// back to the looked-up nickname and the last known character.
func (s *ProfileService) summary(ctx context.Context, user *api.UserLookup, log zerolog.Logger) domain.ShortProfile {
	fallback := domain.ShortProfile{UserNum: user.UserNum, Nickname: user.Nickname}
	if cached, err := s.players.GetByUserNum(ctx, user.UserNum); err == nil && cached != nil {
		fallback.Character = cached.Character
	}

	stats, err := s.upstream.GetUserStats(ctx, user.UserNum)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch user stats, keeping known summary")
		return fallback
	}
	if stats.Nickname == "" {
		stats.Nickname = fallback.Nickname
	}
	return *stats
}

func profileFromCache(player *domain.Player, agg *domain.RivalAggregate) *domain.Profile {
	profile := &domain.Profile{
		UserNum:    player.UserNum,
		Nickname:   player.Nickname,
		Character:  player.Character,
		Killers:    []domain.Rival{},
		GameCount:  player.GameCount,
		StartDate:  domain.FormatDate(player.FirstSeenAt),
		EndDate:    domain.FormatDate(player.LastSeenAt),
		UpdateDate: domain.FormatDate(&player.UpdatedAt),
	}
	if agg != nil && agg.Rivals != nil {
		profile.Killers = agg.Rivals
	}
	return profile
}

func cleanNickname(nickname string) (string, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return "", fmt.Errorf("%w: nickname must not be empty", domain.ErrInvalidArgument)
	}
	return nickname, nil
}
