package config

import (
	"strings"
	"testing"
	"time"

	"github.com/cernbox/griddav/api"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	return v
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(newViper(t, ""))
	require.NoError(t, err)
	assert.Equal(t, StartingLocationUserHome, c.StartingLocation)
	assert.Equal(t, "irods", c.GetRealm())
	assert.Equal(t, int64(0), c.MaxUploadBytes())
	assert.Equal(t, 5*time.Minute, c.CredentialCacheTTL)
	assert.Equal(t, time.Hour, c.LockTimeout)
}

func TestLoadFile(t *testing.T) {
	c, err := Load(newViper(t, `
host: grid.example.org
port: 1248
zone: cernZone
auth-scheme: pam
ssl-negotiation-policy: CS_NEG_REQUIRE
starting-location: provided
provided-starting-location: /cernZone/projects
max-upload-size-gb: 2
cache-file-demographics: true
credential-cache-ttl: 30s
`))
	require.NoError(t, err)
	assert.Equal(t, "grid.example.org", c.Host)
	assert.Equal(t, 1248, c.Port)
	assert.Equal(t, StartingLocationProvided, c.StartingLocation)
	assert.Equal(t, "/cernZone/projects", c.ProvidedStartingLocation)
	assert.Equal(t, int64(2*1024*1024*1024), c.MaxUploadBytes())
	assert.True(t, c.CacheFileDemographics)
	assert.Equal(t, 30*time.Second, c.CredentialCacheTTL)
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown starting location": "starting-location: SOMEWHERE",
		"provided without path":     "starting-location: PROVIDED",
		"provided relative path":    "starting-location: PROVIDED\nprovided-starting-location: relative/dir",
		"bad auth scheme":           "auth-scheme: KERBEROS",
		"bad ssl policy":            "ssl-negotiation-policy: MAYBE",
		"bad port":                  "port: 0",
		"relative context path":     "context-path: dav",
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(newViper(t, yaml))
			require.Error(t, err)
			assert.True(t, api.IsErrorCode(err, api.ConfigurationErrorCode), err.Error())
		})
	}
}
