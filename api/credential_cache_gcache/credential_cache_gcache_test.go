package credential_cache_gcache

import (
	"testing"
	"time"

	"github.com/cernbox/griddav/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPutGet(t *testing.T) {
	c, err := New(&Options{Size: 10, TTL: time.Minute, Logger: zap.NewNop()})
	require.NoError(t, err)

	key := api.CredentialKey("alice", "secret")
	_, ok := c.Get(key)
	assert.False(t, ok)

	id := &api.GridIdentity{User: "alice", Zone: "zone"}
	assert.Equal(t, id, c.Put(key, id))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "alice", got.User)

	_, ok = c.Get(api.CredentialKey("alice", "other"))
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c, err := New(&Options{Size: 10, TTL: 20 * time.Millisecond, Logger: zap.NewNop()})
	require.NoError(t, err)
	key := api.CredentialKey("alice", "secret")
	c.Put(key, &api.GridIdentity{User: "alice"})
	time.Sleep(50 * time.Millisecond)
	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestInvalidSize(t *testing.T) {
	_, err := New(&Options{Size: 0})
	assert.True(t, api.IsErrorCode(err, api.CacheInitializationErrorCode))
}

func TestCredentialKey(t *testing.T) {
	// md5("alice:secret")
	key := api.CredentialKey("alice", "secret")
	assert.Len(t, key, 32)
	assert.NotContains(t, key, "secret")
	assert.Equal(t, key, api.CredentialKey("alice", "secret"))
	assert.NotEqual(t, key, api.CredentialKey("alice:", "secret2"))
}

func TestFrequentIdentitiesSurviveEviction(t *testing.T) {
	c, err := New(&Options{Size: 2, TTL: time.Minute, Logger: zap.NewNop()})
	require.NoError(t, err)

	alice, bob, carol := api.CredentialKey("alice", "a"), api.CredentialKey("bob", "b"), api.CredentialKey("carol", "c")
	c.Put(alice, &api.GridIdentity{User: "alice"})
	for i := 0; i < 3; i++ {
		_, ok := c.Get(alice)
		require.True(t, ok)
	}
	c.Put(bob, &api.GridIdentity{User: "bob"})
	c.Put(carol, &api.GridIdentity{User: "carol"})

	// alice was used the most and outlives bob although bob is newer
	_, ok := c.Get(alice)
	assert.True(t, ok)
	_, ok = c.Get(bob)
	assert.False(t, ok)
}
