package grid_afero

import (
	"context"
	"errors"
	"io"
	"io/ioutil"
	"strings"
	"testing"

	"github.com/cernbox/griddav/api"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticAccounts map[string]string

func (a staticAccounts) Authenticate(ctx context.Context, user, password string) (*api.Account, error) {
	if user == "broken" {
		return nil, errors.New("connection refused")
	}
	if p, ok := a[user]; !ok || p != password {
		return nil, api.NewError(api.AuthenticationFailedErrorCode)
	}
	return &api.Account{User: user}, nil
}

var ctx = context.Background()

func newGrid(t *testing.T, pageSize int) (api.Grid, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	g, err := New(&Options{
		Fs:       fs,
		Host:     "grid",
		Port:     1247,
		Zone:     "zone",
		PageSize: pageSize,
		AccountManagers: map[api.AuthScheme]api.AccountManager{
			api.AuthSchemeStandard: staticAccounts{"alice": "secret", "broken": "x"},
		},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	return g, fs
}

func identity(user, password string) *api.GridIdentity {
	return &api.GridIdentity{Host: "grid", Port: 1247, Zone: "zone", User: user, Password: password, AuthScheme: api.AuthSchemeStandard}
}

func TestAuthenticate(t *testing.T) {
	g, fs := newGrid(t, 10)

	id, err := g.Authenticate(ctx, identity("alice", "secret"))
	require.NoError(t, err)
	assert.Equal(t, "alice", id.User)
	ok, _ := afero.DirExists(fs, "/zone/home/alice")
	assert.True(t, ok)

	_, err = g.Authenticate(ctx, identity("alice", "wrong"))
	assert.True(t, api.IsErrorCode(err, api.AuthenticationFailedErrorCode))

	_, err = g.Authenticate(ctx, identity("broken", "x"))
	assert.True(t, api.IsErrorCode(err, api.TransportErrorCode))

	pam := identity("alice", "secret")
	pam.AuthScheme = api.AuthSchemePAM
	_, err = g.Authenticate(ctx, pam)
	assert.True(t, api.IsErrorCode(err, api.ConfigurationErrorCode))

	other := identity("alice", "secret")
	other.Zone = "elsewhere"
	_, err = g.Authenticate(ctx, other)
	assert.True(t, api.IsErrorCode(err, api.AuthenticationFailedErrorCode))

	unreachable := identity("alice", "secret")
	unreachable.Port = 1
	_, err = g.Authenticate(ctx, unreachable)
	assert.True(t, api.IsErrorCode(err, api.TransportErrorCode))
}

func TestJoin(t *testing.T) {
	g, _ := newGrid(t, 10)
	s, err := g.Open(ctx, identity("alice", "secret"))
	require.NoError(t, err)
	defer s.Close()

	p, err := s.Join("/zone/home", "alice")
	require.NoError(t, err)
	assert.Equal(t, "/zone/home/alice", p)

	for _, bad := range []string{"", ".", "..", "a/b", "nul\x00"} {
		_, err := s.Join("/zone", bad)
		assert.Error(t, err, bad)
	}
	_, err = s.Join("relative", "x")
	assert.Error(t, err)
}

func TestPagedListing(t *testing.T) {
	g, _ := newGrid(t, 2)
	s, err := g.Open(ctx, identity("alice", "secret"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Mkdir(ctx, "/zone/home/alice"))
	for _, d := range []string{"c1", "c2", "c3"} {
		require.NoError(t, s.Mkdir(ctx, "/zone/home/alice/"+d))
	}
	for _, f := range []string{"f1", "f2"} {
		require.NoError(t, s.CreateFile(ctx, "/zone/home/alice/"+f))
	}

	page, err := s.ListCollections(ctx, "/zone/home/alice", 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c1", page[0].Name())
	assert.Equal(t, 2, page[1].Count)
	assert.False(t, page[1].LastResult)

	page, err = s.ListCollections(ctx, "/zone/home/alice", 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c3", page[0].Name())
	assert.True(t, page[0].LastResult)

	page, err = s.ListCollections(ctx, "/zone/home/alice", 3)
	require.NoError(t, err)
	assert.Empty(t, page)

	page, err = s.ListDataObjects(ctx, "/zone/home/alice", 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[1].LastResult)
	assert.Equal(t, "alice", page[0].Owner)

	children, err := s.List(ctx, "/zone/home/alice")
	require.NoError(t, err)
	assert.Len(t, children, 5)
}

func TestMkdirErrors(t *testing.T) {
	g, _ := newGrid(t, 10)
	s, _ := g.Open(ctx, identity("alice", "secret"))
	defer s.Close()

	err := s.Mkdir(ctx, "/zone/missing/child")
	assert.True(t, api.IsErrorCode(err, api.NotFoundErrorCode))

	require.NoError(t, s.Mkdir(ctx, "/zone/home/alice"))
	err = s.Mkdir(ctx, "/zone/home/alice")
	assert.True(t, api.IsErrorCode(err, api.AlreadyExistsErrorCode))
}

func TestStreamsMoveCopyDelete(t *testing.T) {
	g, _ := newGrid(t, 10)
	s, _ := g.Open(ctx, identity("alice", "secret"))
	defer s.Close()

	require.NoError(t, s.Mkdir(ctx, "/zone/home/alice"))
	require.NoError(t, s.Mkdir(ctx, "/zone/home/alice/d"))

	w, err := s.Writer(ctx, "/zone/home/alice/d/f.txt")
	require.NoError(t, err)
	_, err = io.Copy(w, strings.NewReader("hello grid"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	fi, err := s.Stat(ctx, "/zone/home/alice/d/f.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(10), fi.Size)
	assert.False(t, fi.IsDir)

	require.NoError(t, s.Copy(ctx, "/zone/home/alice/d", "/zone/home/alice/e"))
	r, err := s.Reader(ctx, "/zone/home/alice/e/f.txt")
	require.NoError(t, err)
	data, err := ioutil.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello grid", string(data))

	err = s.Copy(ctx, "/zone/home/alice/d", "/zone/home/alice/e")
	assert.True(t, api.IsErrorCode(err, api.AlreadyExistsErrorCode))
	err = s.Copy(ctx, "/zone/home/alice/d", "/zone/home/alice/d/inner")
	assert.True(t, api.IsErrorCode(err, api.InvalidArgumentErrorCode))

	require.NoError(t, s.Move(ctx, "/zone/home/alice/e/f.txt", "/zone/home/alice/g.txt"))
	_, err = s.Stat(ctx, "/zone/home/alice/e/f.txt")
	assert.True(t, api.IsErrorCode(err, api.NotFoundErrorCode))

	require.NoError(t, s.Delete(ctx, "/zone/home/alice/d"))
	_, err = s.Stat(ctx, "/zone/home/alice/d/f.txt")
	assert.True(t, api.IsErrorCode(err, api.NotFoundErrorCode))
	err = s.Delete(ctx, "/zone/home/alice/d")
	assert.True(t, api.IsErrorCode(err, api.NotFoundErrorCode))

	_, err = s.Reader(ctx, "/zone/home/alice")
	assert.True(t, api.IsErrorCode(err, api.InvalidArgumentErrorCode))
}

func TestCloseReleasesStreams(t *testing.T) {
	g, _ := newGrid(t, 10)
	s, _ := g.Open(ctx, identity("alice", "secret"))
	require.NoError(t, s.Mkdir(ctx, "/zone/home/alice"))
	require.NoError(t, s.CreateFile(ctx, "/zone/home/alice/f"))

	r, err := s.Reader(ctx, "/zone/home/alice/f")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	// closing again after the session released it is harmless
	assert.NoError(t, r.Close())
	assert.NoError(t, s.Close())

	_, err = s.Stat(ctx, "/zone/home/alice/f")
	assert.True(t, api.IsErrorCode(err, api.TransportErrorCode))
}
