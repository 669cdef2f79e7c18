package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSameKeySerializes(t *testing.T) {
	l := NewLocal()
	key := User("u1")

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), nil, key)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside, "only one holder at a time")
	assert.Equal(t, 0, l.held(key), "slot is cleaned up")
}

func TestLocalDifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()

	releaseA, err := l.Acquire(context.Background(), nil, User("a"))
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	releaseB, err := l.Acquire(ctx, nil, User("b"))
	require.NoError(t, err)
	releaseB()

	// Same id in another domain is a different lock.
	releaseStock, err := l.Acquire(ctx, nil, Prize("a"))
	require.NoError(t, err)
	releaseStock()
}

func TestLocalAcquireHonorsContext(t *testing.T) {
	l := NewLocal()
	key := Reward("r1")

	release, err := l.Acquire(context.Background(), nil, key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, nil, key)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, l.held(key))

	release()
	release()
	assert.Equal(t, 0, l.held(key))
}

func TestUnknownDomain(t *testing.T) {
	l := NewLocal()
	_, err := l.Acquire(context.Background(), nil, Key{Domain: "coupon", ID: "x"})
	assert.ErrorIs(t, err, ErrUnknownDomain)
}

func TestDomainRank(t *testing.T) {
	assert.Less(t, UserBalance.Rank(), PrizeStock.Rank())
	assert.Equal(t, PrizeStock.Rank(), RewardStock.Rank())
	assert.Equal(t, "prize_stock:p1", Prize("p1").String())
}
