package token_manager_jwt

import (
	"context"
	"testing"
	"time"

	"github.com/cernbox/griddav/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestForgeAndDismantle(t *testing.T) {
	tm := New(&Options{SignSecret: "s3cr3t", Logger: zap.NewNop()})
	token, err := tm.ForgeSessionToken(context.Background(), &api.SessionClaims{User: "alice", SessionID: "abc"})
	require.NoError(t, err)
	assert.NotContains(t, token, "secret")

	claims, err := tm.DismantleSessionToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.User)
	assert.Equal(t, "abc", claims.SessionID)
}

func TestWrongSecret(t *testing.T) {
	token, err := New(&Options{SignSecret: "one", Logger: zap.NewNop()}).ForgeSessionToken(context.Background(), &api.SessionClaims{User: "alice", SessionID: "abc"})
	require.NoError(t, err)
	_, err = New(&Options{SignSecret: "two", Logger: zap.NewNop()}).DismantleSessionToken(context.Background(), token)
	assert.True(t, api.IsErrorCode(err, api.InvalidArgumentErrorCode))
}

func TestExpired(t *testing.T) {
	tm := New(&Options{SignSecret: "s", Expiration: -time.Minute, Logger: zap.NewNop()})
	// a negative expiration falls back to the default
	token, err := tm.ForgeSessionToken(context.Background(), &api.SessionClaims{User: "alice", SessionID: "abc"})
	require.NoError(t, err)
	_, err = tm.DismantleSessionToken(context.Background(), token)
	assert.NoError(t, err)

	tm = &tokenManager{signSecret: "s", expiration: -time.Minute, logger: zap.NewNop()}
	token, err = tm.ForgeSessionToken(context.Background(), &api.SessionClaims{User: "alice", SessionID: "abc"})
	require.NoError(t, err)
	_, err = tm.DismantleSessionToken(context.Background(), token)
	assert.Error(t, err)
}
