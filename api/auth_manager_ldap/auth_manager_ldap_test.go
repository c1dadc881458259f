package auth_manager_ldap

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/cernbox/griddav/api"
	"github.com/cernbox/griddav/api/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRefusePolicyRejected(t *testing.T) {
	_, err := New(&Options{Hostname: "ldap", SSLNegotiationPolicy: config.SSLNegotiationRefuse})
	assert.True(t, api.IsErrorCode(err, api.ConfigurationErrorCode))

	_, err = New(&Options{})
	assert.True(t, api.IsErrorCode(err, api.ConfigurationErrorCode))
}

func TestUnreachableServer(t *testing.T) {
	am, err := New(&Options{Hostname: "127.0.0.1", Port: 1, SSLNegotiationPolicy: config.SSLNoNegotiation, Logger: zap.NewNop()})
	require.NoError(t, err)
	_, err = am.Authenticate(context.Background(), "alice", "secret")
	require.Error(t, err)
	assert.False(t, api.IsErrorCode(err, api.AuthenticationFailedErrorCode))
}

// Needs a directory with a user matching GRIDDAV_TEST_LDAP_USER.
func TestAuthenticate(t *testing.T) {
	host := os.Getenv("GRIDDAV_TEST_LDAP_HOST")
	if host == "" {
		t.Skip("GRIDDAV_TEST_LDAP_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("GRIDDAV_TEST_LDAP_PORT"))
	am, err := New(&Options{
		Hostname:             host,
		Port:                 port,
		BaseDN:               os.Getenv("GRIDDAV_TEST_LDAP_BASEDN"),
		BindUsername:         os.Getenv("GRIDDAV_TEST_LDAP_BINDUSER"),
		BindPassword:         os.Getenv("GRIDDAV_TEST_LDAP_BINDPASSWORD"),
		SSLNegotiationPolicy: config.SSLNegotiationDontCare,
		InsecureSkipVerify:   true,
		Logger:               zap.NewNop(),
	})
	require.NoError(t, err)

	user := os.Getenv("GRIDDAV_TEST_LDAP_USER")
	acct, err := am.Authenticate(context.Background(), user, os.Getenv("GRIDDAV_TEST_LDAP_PASSWORD"))
	require.NoError(t, err)
	assert.Equal(t, user, acct.User)

	_, err = am.Authenticate(context.Background(), user, "definitely-wrong")
	assert.True(t, api.IsErrorCode(err, api.AuthenticationFailedErrorCode))
}
