package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/proofledger/pkg/errors"
	"github.com/angelmondragon/proofledger/pkg/redis"
)

const (
	defaultLockTTL  = 30 * time.Second
	defaultLockWait = 10 * time.Second
	lockPollEvery   = 50 * time.Millisecond
)

// Locker serializes work on one report key. The returned unlock is safe to call
// more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// LockKey names the lock guarding one (organization, schema, month) report.
func LockKey(organizationID uuid.UUID, schema string, month time.Time) string {
	return fmt.Sprintf("%s:%s:%s", organizationID, schema, FormatMonth(month))
}

// LocalLocker is an in-process keyed mutex. Entries are dropped once nobody holds
// or waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, pkgerrors.Unavailable(ctx.Err(), "wait for report lock")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(key, kl)
		})
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// RedisLocker serializes a key across processes with SETNX plus an owner token.
// Acquisition polls until wait elapses; release deletes the key only while this
// owner still holds it, so an expired lock taken over by another process survives.
type RedisLocker struct {
	store redis.LockStore
	ttl   time.Duration
	wait  time.Duration
	poll  time.Duration
}

func NewRedisLocker(store redis.LockStore, ttl, wait time.Duration) (*RedisLocker, error) {
	if store == nil {
		return nil, errors.New("redis lock store required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &RedisLocker{store: store, ttl: ttl, wait: wait, poll: lockPollEvery}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.store.LockKey("reconcile", key)
	owner := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.store.SetNX(ctx, redisKey, owner, l.ttl)
		if err != nil {
			return nil, pkgerrors.Unavailable(err, "acquire report lock")
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, pkgerrors.Unavailable(ctx.Err(), "report lock busy")
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
			defer cancel()
			// a lost release only delays the next writer until the ttl expires
			_, _ = l.store.CompareAndDelete(releaseCtx, redisKey, owner)
		})
	}, nil
}

type chainLocker []Locker

// ChainLockers acquires every locker in order and releases them in reverse.
func ChainLockers(lockers ...Locker) Locker {
	out := make(chainLocker, 0, len(lockers))
	for _, l := range lockers {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func (c chainLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range c {
		unlock, err := l.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}
