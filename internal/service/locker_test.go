package service

import (
	"context"
	"errors"
	"rival-tracker/internal/domain"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"
)

func TestKeyedLocker(t *testing.T) {
	Convey("Given a keyed locker", t, func() {
		locker := NewKeyedLocker()
		ctx := context.Background()

		Convey("When a player is locked", func() {
			unlock, err := locker.Lock(ctx, 1)
			So(err, ShouldBeNil)

			Convey("Then another player can still be locked", func() {
				other, err := locker.Lock(ctx, 2)
				So(err, ShouldBeNil)
				other()
				unlock()
			})

			Convey("Then a second waiter gives up when its context ends", func() {
				waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
				defer cancel()

				_, err := locker.Lock(waitCtx, 1)
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				So(locker.Len(), ShouldEqual, 1)
				unlock()
			})

			Convey("Then releasing twice is harmless and frees the entry", func() {
				unlock()
				unlock()
				So(locker.Len(), ShouldEqual, 0)
			})
		})

		Convey("When many goroutines contend for one player", func() {
			var (
				wg      sync.WaitGroup
				inside  atomic.Int32
				maxSeen atomic.Int32
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock, err := locker.Lock(ctx, 7)
					if err != nil {
						return
					}
					n := inside.Add(1)
					if n > maxSeen.Load() {
						maxSeen.Store(n)
					}
					time.Sleep(5 * time.Millisecond)
					inside.Add(-1)
					unlock()
				}()
			}
			wg.Wait()

			Convey("Then at most one holds the lock at a time", func() {
				So(maxSeen.Load(), ShouldEqual, 1)
				So(locker.Len(), ShouldEqual, 0)
			})
		})
	})
}

func TestRedisLockerUnavailable(t *testing.T) {
	Convey("Given a redis locker pointed at a closed port", t, func() {
		rdb := redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 100 * time.Millisecond,
			MaxRetries:  -1,
		})
		defer rdb.Close()
		locker := NewRedisLocker(rdb, zerolog.Nop())

		Convey("When locking", func() {
			_, err := locker.Lock(context.Background(), 1)

			Convey("Then the failure is reported as storage unavailable", func() {
				So(errors.Is(err, domain.ErrStorageUnavailable), ShouldBeTrue)
			})
		})
	})
}
