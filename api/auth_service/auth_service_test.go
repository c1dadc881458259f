package auth_service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/cernbox/griddav/api"
	"github.com/cernbox/griddav/api/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingGrid struct {
	mu    sync.Mutex
	calls int
	err   error
	seen  *api.GridIdentity
}

func (g *countingGrid) Authenticate(ctx context.Context, id *api.GridIdentity) (*api.GridIdentity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.seen = id
	if g.err != nil {
		return nil, g.err
	}
	return id, nil
}

func (g *countingGrid) Open(ctx context.Context, id *api.GridIdentity) (api.GridSession, error) {
	return nil, errors.New("not used")
}

type countingCache struct {
	gets, puts int
	m          map[string]*api.GridIdentity
}

func (c *countingCache) Get(key string) (*api.GridIdentity, bool) {
	c.gets++
	id, ok := c.m[key]
	return id, ok
}

func (c *countingCache) Put(key string, id *api.GridIdentity) *api.GridIdentity {
	c.puts++
	c.m[key] = id
	return id
}

func newService(t *testing.T, scheme string, grid api.Grid) (*Service, *countingCache) {
	t.Helper()
	cache := &countingCache{m: map[string]*api.GridIdentity{}}
	cfg := &config.WebDavConfig{Host: "grid", Port: 1247, Zone: "zone", DefaultResource: "demoResc", AuthScheme: scheme}
	s, err := New(&Options{Config: cfg, Grid: grid, Cache: cache, Logger: zap.NewNop()})
	require.NoError(t, err)
	return s, cache
}

func TestSecondAuthenticateHitsCache(t *testing.T) {
	grid := &countingGrid{}
	s, cache := newService(t, "", grid)

	id, err := s.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.User)
	assert.Equal(t, api.AuthSchemeStandard, id.AuthScheme)
	assert.Equal(t, "demoResc", id.DefaultResource)

	again, err := s.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, grid.calls)
	assert.Equal(t, 1, cache.puts)

	cached, ok := s.Lookup(api.CredentialKey("alice", "secret"))
	require.True(t, ok)
	assert.Equal(t, id, cached)
}

func TestEmptyCredentialsFailFast(t *testing.T) {
	grid := &countingGrid{}
	s, cache := newService(t, "", grid)

	for _, c := range [][2]string{{"", "secret"}, {"alice", ""}, {"", ""}} {
		_, err := s.Authenticate(context.Background(), c[0], c[1])
		assert.True(t, api.IsErrorCode(err, api.InvalidArgumentErrorCode))
	}
	assert.Equal(t, 0, grid.calls)
	assert.Equal(t, 0, cache.gets)
	assert.Equal(t, 0, cache.puts)
}

func TestSchemeSelection(t *testing.T) {
	grid := &countingGrid{}
	s, _ := newService(t, "PAM", grid)
	_, err := s.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, api.AuthSchemePAM, grid.seen.AuthScheme)

	grid = &countingGrid{}
	s, _ = newService(t, "OTP", grid)
	_, err = s.Authenticate(context.Background(), "alice", "secret")
	assert.True(t, api.IsErrorCode(err, api.ConfigurationErrorCode))
	assert.Equal(t, 0, grid.calls)
}

func TestAuthenticationFailedPropagates(t *testing.T) {
	grid := &countingGrid{err: api.NewError(api.AuthenticationFailedErrorCode)}
	s, cache := newService(t, "", grid)
	_, err := s.Authenticate(context.Background(), "alice", "wrong")
	assert.True(t, api.IsErrorCode(err, api.AuthenticationFailedErrorCode))
	assert.Equal(t, 0, cache.puts)
}

func TestTransportErrorWrapped(t *testing.T) {
	grid := &countingGrid{err: io.ErrUnexpectedEOF}
	s, _ := newService(t, "", grid)
	_, err := s.Authenticate(context.Background(), "alice", "secret")
	assert.True(t, api.IsErrorCode(err, api.TransportErrorCode))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(&Options{})
	assert.True(t, api.IsErrorCode(err, api.ConfigurationErrorCode))
}

func TestSessions(t *testing.T) {
	s, cache := newService(t, "", &countingGrid{})
	id, err := s.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	authID := api.CredentialKey("alice", "secret")

	sid, err := s.StartSession(authID)
	require.NoError(t, err)
	assert.NotEqual(t, authID, sid)
	assert.NotContains(t, sid, authID)

	other, err := s.StartSession(authID)
	require.NoError(t, err)
	assert.NotEqual(t, sid, other)

	got, gotAuthID, ok := s.ResumeSession(sid)
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.Equal(t, authID, gotAuthID)

	// the credential cache key is not a session id
	_, _, ok = s.ResumeSession(authID)
	assert.False(t, ok)
	_, _, ok = s.ResumeSession("")
	assert.False(t, ok)

	// a session does not outlive the identity it refers to
	delete(cache.m, authID)
	_, _, ok = s.ResumeSession(sid)
	assert.False(t, ok)

	_, err = s.StartSession("")
	assert.True(t, api.IsErrorCode(err, api.InvalidArgumentErrorCode))
}
