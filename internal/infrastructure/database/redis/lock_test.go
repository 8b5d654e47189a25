package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutex_Lock_Unlock(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	lock := client.NewMutex("test-lock", WithLockTTL(time.Second))

	require.NoError(t, lock.Lock(ctx))
	assert.True(t, mr.Exists("oppo:lock:test-lock"))

	require.NoError(t, lock.Unlock(ctx))
	assert.False(t, mr.Exists("oppo:lock:test-lock"))
	assert.Equal(t, ErrLockNotHeld, lock.Unlock(ctx))
}

func TestMutex_Lock_Contention(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	lock1 := client.NewMutex("test-lock", WithRetryCount(1), WithRetryDelay(10*time.Millisecond))
	lock2 := client.NewMutex("test-lock", WithRetryCount(1), WithRetryDelay(10*time.Millisecond))

	require.NoError(t, lock1.Lock(ctx))
	assert.Equal(t, ErrLockNotAcquired, lock2.Lock(ctx))

	require.NoError(t, lock1.Unlock(ctx))
	assert.NoError(t, lock2.Lock(ctx))
}

func TestMutex_Extend(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	lock := client.NewMutex("test-lock", WithLockTTL(time.Second))
	require.NoError(t, lock.Lock(ctx))

	ok, err := lock.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("oppo:lock:test-lock"))

	mr.FastForward(2 * time.Minute)
	ok, err = lock.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCaseLocker_Serialises(t *testing.T) {
	client, _ := newTestClient(t)
	locker := NewCaseLocker(client, WithRetryDelay(time.Millisecond))
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "O/0001/24")
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
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestCaseLocker_ContextCancelled(t *testing.T) {
	client, _ := newTestClient(t)
	locker := NewCaseLocker(client, WithRetryDelay(time.Millisecond))

	unlock, err := locker.Lock(context.Background(), "O/0001/24")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "O/0001/24")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
