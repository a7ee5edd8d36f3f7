package service

import (
	"context"
	"fmt"
	"rival-tracker/internal/constants"
	"rival-tracker/internal/domain"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Locker serializes refreshes of one player. The returned func releases the
// lock and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, userNum int64) (func(), error)
}

// KeyedLocker is an in-process Locker. Entries live only while somebody holds
// or waits for them.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[int64]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[int64]*keyedLock)}
}

func (l *KeyedLocker) Lock(ctx context.Context, userNum int64) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[userNum]
	if !ok {
		entry = &keyedLock{sem: make(chan struct{}, 1)}
		l.locks[userNum] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(userNum, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.release(userNum, entry)
		})
	}, nil
}

func (l *KeyedLocker) release(userNum int64, entry *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, userNum)
	}
}

// Len reports how many players currently have a held or awaited lock.
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RedisLocker shares per-player locks between processes. A lock expires on
// its own after ttl so a crashed holder cannot block a player forever.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
	logger zerolog.Logger
}

func NewRedisLocker(rdb *redis.Client, logger zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		rdb:    rdb,
		prefix: "rivals:lock:player",
		ttl:    constants.LockTTL,
		poll:   constants.LockPollInterval,
		logger: logger,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, userNum int64) (func(), error) {
	token, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate lock token: %w", err)
	}
	key := fmt.Sprintf("%s:%d", l.prefix, userNum)

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire player lock: %w: %w", domain.ErrStorageUnavailable, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.rdb, []string{key}, token).Err(); err != nil {
				l.logger.Warn().Err(err).Int64("user_num", userNum).Msg("failed to release player lock")
			}
		})
	}, nil
}
