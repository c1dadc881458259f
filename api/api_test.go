package api

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAuthScheme(t *testing.T) {
	s, err := ParseAuthScheme("")
	require.NoError(t, err)
	assert.Equal(t, AuthSchemeStandard, s)

	s, err = ParseAuthScheme("pam")
	require.NoError(t, err)
	assert.Equal(t, AuthSchemePAM, s)

	s, err = ParseAuthScheme("STANDARD")
	require.NoError(t, err)
	assert.Equal(t, AuthSchemeStandard, s)

	_, err = ParseAuthScheme("KERBEROS")
	assert.True(t, IsErrorCode(err, ConfigurationErrorCode))
}

func TestCloneForUser(t *testing.T) {
	id := &GridIdentity{Host: "grid", Port: 1247, Zone: "zone", User: "alice", Password: "secret", DefaultResource: "demoResc"}
	c := id.CloneForUser("bob")
	assert.Equal(t, "bob", c.User)
	assert.Equal(t, "", c.Password)
	assert.Equal(t, "grid", c.Host)
	assert.Equal(t, "zone", c.Zone)
	assert.Equal(t, "demoResc", c.DefaultResource)
	assert.Equal(t, "alice", id.User)
	assert.Equal(t, "/zone/home/bob", c.HomeCollection())
}

func TestIsErrorCodeThroughWrap(t *testing.T) {
	err := errors.Wrap(NewError(NotFoundErrorCode), "stat")
	assert.True(t, IsErrorCode(err, NotFoundErrorCode))
	assert.False(t, IsErrorCode(errors.New("plain"), NotFoundErrorCode))
	assert.Equal(t, UnknownError, GetErrorCode(errors.New("plain")))

	wrapped := Wrap(errors.New("connection reset"), TransportErrorCode, "list")
	assert.True(t, IsErrorCode(wrapped, TransportErrorCode))
	assert.Contains(t, wrapped.Error(), "connection reset")

	kept := Wrap(NewError(AuthenticationFailedErrorCode), TransportErrorCode, "auth")
	assert.True(t, IsErrorCode(kept, AuthenticationFailedErrorCode))
}

func TestSessionBinderEmpty(t *testing.T) {
	_, err := ContextMustGetIdentity(context.Background())
	assert.True(t, IsErrorCode(err, NoActiveSessionErrorCode))

	_, err = ContextGetSession(context.Background())
	assert.True(t, IsErrorCode(err, NoActiveSessionErrorCode))
}

func TestSessionBinderIsolation(t *testing.T) {
	base := context.Background()
	var wg sync.WaitGroup
	for _, user := range []string{"alice", "bob", "carol", "dave"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			ctx := ContextSetIdentity(base, &GridIdentity{User: user})
			for i := 0; i < 100; i++ {
				id, err := ContextMustGetIdentity(ctx)
				if assert.NoError(t, err) {
					assert.Equal(t, user, id.User)
				}
			}
		}(user)
	}
	wg.Wait()

	_, ok := ContextGetIdentity(base)
	assert.False(t, ok)
}
