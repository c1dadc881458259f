package lock_manager_memory

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cernbox/griddav/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newManager() (api.LockManager, *clock) {
	c := &clock{t: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(&Options{Now: c.now, Logger: zap.NewNop()}), c
}

var info = &api.LockInfo{Owner: "alice", Scope: api.LockScopeExclusive, Type: api.LockTypeWrite, Depth: api.LockDepthZero}

func TestLockStateMachine(t *testing.T) {
	lm, _ := newManager()
	const f = "/zone/home/alice/f.txt"

	lt, err := lm.Lock(f, time.Minute, info)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(lt.Token, TokenPrefix))
	assert.Equal(t, "alice", lt.Info.Owner)

	_, err = lm.Lock(f, time.Minute, info)
	assert.True(t, api.IsErrorCode(err, api.AlreadyLockedErrorCode))

	err = lm.Unlock(TokenPrefix+"wrong", f)
	assert.True(t, api.IsErrorCode(err, api.NotAuthorizedForLockErrorCode))

	require.NoError(t, lm.Unlock(lt.Token, f))
	assert.Nil(t, lm.CurrentToken(f))

	// unlocking an unlocked resource is a no-op
	assert.NoError(t, lm.Unlock(lt.Token, f))

	again, err := lm.Lock(f, time.Minute, info)
	require.NoError(t, err)
	assert.NotEqual(t, lt.Token, again.Token)
}

func TestRefresh(t *testing.T) {
	lm, c := newManager()
	const f = "/zone/f"

	lt, err := lm.Lock(f, time.Minute, info)
	require.NoError(t, err)

	c.advance(50 * time.Second)
	refreshed, err := lm.Refresh(lt.Token, f, 0)
	require.NoError(t, err)
	assert.Equal(t, c.now().Add(time.Minute), refreshed.Expires)

	c.advance(50 * time.Second)
	assert.NotNil(t, lm.CurrentToken(f))

	_, err = lm.Refresh("unknown", f, time.Minute)
	assert.True(t, api.IsErrorCode(err, api.LockPreconditionFailedErrorCode))

	_, err = lm.Refresh(lt.Token, "/zone/other", time.Minute)
	assert.True(t, api.IsErrorCode(err, api.LockPreconditionFailedErrorCode))

	_, err = lm.Refresh(lt.Token, "", time.Minute)
	assert.NoError(t, err)
}

func TestExpiry(t *testing.T) {
	lm, c := newManager()
	const f = "/zone/f"

	lt, err := lm.Lock(f, time.Minute, info)
	require.NoError(t, err)
	assert.NotNil(t, lm.LookupToken(lt.Token))

	c.advance(time.Minute)
	assert.Nil(t, lm.CurrentToken(f))
	assert.Nil(t, lm.LookupToken(lt.Token))

	_, err = lm.Refresh(lt.Token, f, time.Minute)
	assert.True(t, api.IsErrorCode(err, api.LockPreconditionFailedErrorCode))

	_, err = lm.Lock(f, time.Minute, info)
	assert.NoError(t, err)
}

func TestDefaultTimeout(t *testing.T) {
	lm, c := newManager()
	lt, err := lm.Lock("/zone/f", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, lt.Timeout)
	assert.Equal(t, c.now().Add(time.Hour), lt.Expires)
}

func TestConcurrentLockIsExclusive(t *testing.T) {
	lm, _ := newManager()
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := lm.Lock("/zone/contended", time.Minute, info); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

func TestDepthInfinityConflicts(t *testing.T) {
	lm, _ := newManager()
	infinity := &api.LockInfo{Owner: "alice", Scope: api.LockScopeExclusive, Type: api.LockTypeWrite, Depth: api.LockDepthInfinity}

	member, err := lm.Lock("/zone/d/a.txt", time.Minute, info)
	require.NoError(t, err)

	// a member is locked, the collection cannot be locked in depth
	_, err = lm.Lock("/zone/d", time.Minute, infinity)
	assert.True(t, api.IsErrorCode(err, api.AlreadyLockedErrorCode))

	// a depth zero lock on the collection does not cover the member
	zero, err := lm.Lock("/zone/d", time.Minute, info)
	require.NoError(t, err)
	require.NoError(t, lm.Unlock(zero.Token, "/zone/d"))

	require.NoError(t, lm.Unlock(member.Token, "/zone/d/a.txt"))
	_, err = lm.Lock("/zone/d", time.Minute, infinity)
	require.NoError(t, err)

	// members of a depth infinity lock cannot be locked on their own
	_, err = lm.Lock("/zone/d/a.txt", time.Minute, info)
	assert.True(t, api.IsErrorCode(err, api.AlreadyLockedErrorCode))
	_, err = lm.Lock("/zone/d/sub/b.txt", time.Minute, info)
	assert.True(t, api.IsErrorCode(err, api.AlreadyLockedErrorCode))

	// siblings sharing a name prefix are not members
	_, err = lm.Lock("/zone/d2", time.Minute, info)
	assert.NoError(t, err)
}

func TestUnlockTree(t *testing.T) {
	lm, _ := newManager()
	for _, p := range []string{"/zone/d", "/zone/d/a.txt", "/zone/d/sub/b.txt", "/zone/d2"} {
		_, err := lm.Lock(p, time.Minute, info)
		require.NoError(t, err, p)
	}

	assert.Equal(t, 3, lm.UnlockTree("/zone/d"))
	assert.Nil(t, lm.CurrentToken("/zone/d"))
	assert.Nil(t, lm.CurrentToken("/zone/d/a.txt"))
	assert.Nil(t, lm.CurrentToken("/zone/d/sub/b.txt"))
	assert.NotNil(t, lm.CurrentToken("/zone/d2"))
	assert.Equal(t, 0, lm.UnlockTree("/zone/d"))
}
