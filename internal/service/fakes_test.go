package service

import (
	"context"
	"fmt"
	"rival-tracker/internal/api"
	"rival-tracker/internal/domain"
	"sort"
	"strings"
	"sync"
	"time"
)

type fakeUpstream struct {
	mu sync.Mutex

	users    map[string]int64
	stats    map[int64]domain.ShortProfile
	pages    map[string]*api.MatchPage
	failures map[string]int

	lookupCalls int
	pageCalls   []string
	statsErr    error

	// when set, LookupPlayer announces itself on lookupStarted and then
	// waits for lookupGate to close or its ctx to end
	lookupGate    chan struct{}
	lookupStarted chan struct{}
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		users:    map[string]int64{},
		stats:    map[int64]domain.ShortProfile{},
		pages:    map[string]*api.MatchPage{},
		failures: map[string]int{},
	}
}

func (f *fakeUpstream) LookupPlayer(ctx context.Context, nickname string) (*api.UserLookup, error) {
	f.mu.Lock()
	f.lookupCalls++
	gate, started := f.lookupGate, f.lookupStarted
	f.mu.Unlock()

	if gate != nil {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	userNum, ok := f.users[strings.ToUpper(nickname)]
	if !ok {
		return nil, fmt.Errorf("nickname: %w", domain.ErrUpstreamNotFound)
	}
	return &api.UserLookup{UserNum: userNum, Nickname: nickname}, nil
}

func (f *fakeUpstream) GetUserStats(_ context.Context, userNum int64) (*domain.ShortProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	s, ok := f.stats[userNum]
	if !ok {
		return nil, fmt.Errorf("stats: %w", domain.ErrUpstreamNotFound)
	}
	return &s, nil
}

func (f *fakeUpstream) FetchMatchPage(_ context.Context, _ int64, cursor string) (*api.MatchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls = append(f.pageCalls, cursor)
	if f.failures[cursor] > 0 {
		f.failures[cursor]--
		return nil, fmt.Errorf("games: %w", domain.ErrUpstreamUnavailable)
	}
	page, ok := f.pages[cursor]
	if !ok {
		return nil, fmt.Errorf("games: %w", domain.ErrUpstreamNotFound)
	}
	out := *page
	out.Matches = append([]domain.Match(nil), page.Matches...)
	return &out, nil
}

func (f *fakeUpstream) lookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookupCalls
}

func (f *fakeUpstream) callsFor(cursor string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.pageCalls {
		if c == cursor {
			n++
		}
	}
	return n
}

// memState backs the in-memory stores and counts every write.
type memState struct {
	mu         sync.Mutex
	players    map[int64]domain.Player
	matches    map[[2]int64]domain.Match
	aggregates map[int64]domain.RivalAggregate
	writes     int

	matchErr     error
	playerErr    error
	aggregateErr error
	summaryErr   error
}

func newMemState() *memState {
	return &memState{
		players:    map[int64]domain.Player{},
		matches:    map[[2]int64]domain.Match{},
		aggregates: map[int64]domain.RivalAggregate{},
	}
}

func (s *memState) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memState) matchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.matches)
}

type memPlayers struct{ *memState }

func (p memPlayers) GetByNickname(_ context.Context, nickname string) (*domain.Player, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pl := range p.players {
		if strings.EqualFold(pl.Nickname, nickname) {
			v := pl
			return &v, nil
		}
	}
	return nil, nil
}

func (p memPlayers) GetByUserNum(_ context.Context, userNum int64) (*domain.Player, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, ok := p.players[userNum]
	if !ok {
		return nil, nil
	}
	return &pl, nil
}

func (p memPlayers) Upsert(_ context.Context, player *domain.Player) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playerErr != nil {
		return p.playerErr
	}
	p.writes++
	p.players[player.UserNum] = *player
	return nil
}

func (p memPlayers) UpsertSummary(_ context.Context, summary domain.ShortProfile) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.summaryErr != nil {
		return p.summaryErr
	}
	p.writes++
	pl := p.players[summary.UserNum]
	pl.UserNum = summary.UserNum
	pl.Nickname = summary.Nickname
	pl.Character = summary.Character
	p.players[summary.UserNum] = pl
	return nil
}

type memMatches struct{ *memState }

func (m memMatches) InsertIgnoringDuplicates(_ context.Context, matches []domain.Match) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.matchErr != nil {
		return 0, m.matchErr
	}
	inserted := 0
	for _, match := range matches {
		key := [2]int64{match.GameID, match.UserNum}
		if _, ok := m.matches[key]; ok {
			continue
		}
		m.matches[key] = match
		m.writes++
		inserted++
	}
	return inserted, nil
}

func (m memMatches) HasGame(_ context.Context, userNum, gameID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.matches[[2]int64{gameID, userNum}]
	return ok, nil
}

func (m memMatches) GetByUserNum(_ context.Context, userNum int64) ([]domain.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Match{}
	for _, match := range m.matches {
		if match.UserNum == userNum {
			out = append(out, match)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

type memAggregates struct{ *memState }

func (a memAggregates) Get(_ context.Context, userNum int64) (*domain.RivalAggregate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	agg, ok := a.aggregates[userNum]
	if !ok {
		return nil, nil
	}
	return &agg, nil
}

func (a memAggregates) Upsert(_ context.Context, agg *domain.RivalAggregate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.aggregateErr != nil {
		return a.aggregateErr
	}
	a.writes++
	a.aggregates[agg.UserNum] = *agg
	return nil
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func game(id, userNum int64, hoursAgo int, killers ...int64) domain.Match {
	m := domain.Match{
		GameID:    id,
		UserNum:   userNum,
		StartedAt: baseTime.Add(-time.Duration(hoursAgo) * time.Hour),
	}
	if len(killers) > 0 {
		m.KillerUserNum = killers[0]
	}
	if len(killers) > 1 {
		m.KillerUserNum2 = killers[1]
	}
	if len(killers) > 2 {
		m.KillerUserNum3 = killers[2]
	}
	return m
}
