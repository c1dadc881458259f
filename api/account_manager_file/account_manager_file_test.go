package account_manager_file

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/cernbox/griddav/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func hash(t *testing.T, password string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestAuthenticateFromFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "griddav-accounts")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	doc := "accounts:\n  - user: alice\n    password_hash: " + hash(t, "secret") + "\n"
	file := filepath.Join(dir, "accounts.yaml")
	require.NoError(t, ioutil.WriteFile(file, []byte(doc), 0600))

	am, err := New(&Options{File: file, Logger: zap.NewNop()})
	require.NoError(t, err)

	acct, err := am.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", acct.User)

	_, err = am.Authenticate(context.Background(), "alice", "wrong")
	assert.True(t, api.IsErrorCode(err, api.AuthenticationFailedErrorCode))

	_, err = am.Authenticate(context.Background(), "mallory", "secret")
	assert.True(t, api.IsErrorCode(err, api.AuthenticationFailedErrorCode))
}

func TestInlineAccountsAndHashPassword(t *testing.T) {
	h, err := HashPassword("pw")
	require.NoError(t, err)
	am, err := New(&Options{Accounts: []*Entry{{User: "bob", PasswordHash: h}}, Logger: zap.NewNop()})
	require.NoError(t, err)
	_, err = am.Authenticate(context.Background(), "bob", "pw")
	assert.NoError(t, err)
}

func TestInvalidTable(t *testing.T) {
	_, err := New(&Options{Accounts: []*Entry{{User: "bob"}}, Logger: zap.NewNop()})
	assert.True(t, api.IsErrorCode(err, api.ConfigurationErrorCode))

	_, err = New(&Options{File: "/does/not/exist.yaml", Logger: zap.NewNop()})
	assert.Error(t, err)
}
