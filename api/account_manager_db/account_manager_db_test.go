package account_manager_db

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/cernbox/griddav/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// The test needs a reachable MySQL server, e.g.
// GRIDDAV_TEST_MYSQL_DSN=root:secret@tcp(localhost:3306)/griddav
func TestAuthenticate(t *testing.T) {
	dsn := os.Getenv("GRIDDAV_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("GRIDDAV_TEST_MYSQL_DSN not set")
	}

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("create table if not exists griddav_test_accounts (user_name varchar(255) primary key, password_hash varchar(255) not null)")
	require.NoError(t, err)
	defer db.Exec("drop table griddav_test_accounts")

	h, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = db.Exec("replace into griddav_test_accounts (user_name, password_hash) values (?, ?)", "alice", string(h))
	require.NoError(t, err)

	am, err := New(&Options{DSN: dsn, Table: "griddav_test_accounts", Logger: zap.NewNop()})
	require.NoError(t, err)

	acct, err := am.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", acct.User)

	_, err = am.Authenticate(context.Background(), "alice", "wrong")
	assert.True(t, api.IsErrorCode(err, api.AuthenticationFailedErrorCode))

	_, err = am.Authenticate(context.Background(), "nobody", "secret")
	assert.True(t, api.IsErrorCode(err, api.AuthenticationFailedErrorCode))
}

func TestUnreachableDatabase(t *testing.T) {
	am, err := New(&Options{DBHost: "127.0.0.1", DBPort: 1, DBName: "x", DBUsername: "u", DBPassword: "p", Logger: zap.NewNop()})
	require.NoError(t, err)
	_, err = am.Authenticate(context.Background(), "alice", "secret")
	assert.True(t, api.IsErrorCode(err, api.TransportErrorCode))
}
