// Package config holds the static configuration of the gateway. It is loaded
// once at startup and only read afterwards.
package config

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cernbox/griddav/api"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// StartingLocation decides what grid path a bare "/" maps to.
type StartingLocation string

const (
	StartingLocationRoot     StartingLocation = "ROOT"
	StartingLocationUserHome StartingLocation = "USER_HOME"
	StartingLocationProvided StartingLocation = "PROVIDED"
)

// SSL negotiation policies understood by the grid.
const (
	SSLNegotiationRefuse   = "CS_NEG_REFUSE"
	SSLNegotiationDontCare = "CS_NEG_DONT_CARE"
	SSLNegotiationRequire  = "CS_NEG_REQUIRE"
	SSLNoNegotiation       = "NO_NEGOTIATION"
)

const gigabyte = int64(1024 * 1024 * 1024)

type WebDavConfig struct {
	Host string `mapstructure:"host" validate:"required"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	Zone string `mapstructure:"zone" validate:"required"`

	// DefaultResource is the storage resource new data objects land on.
	DefaultResource string `mapstructure:"default-resource"`

	// AuthScheme is STANDARD or PAM. Empty means STANDARD.
	AuthScheme string `mapstructure:"auth-scheme"`

	SSLNegotiationPolicy string `mapstructure:"ssl-negotiation-policy" validate:"omitempty,oneof=CS_NEG_REFUSE CS_NEG_DONT_CARE CS_NEG_REQUIRE NO_NEGOTIATION"`

	// Realm is sent in the Basic challenge. Defaults to "irods".
	Realm string `mapstructure:"realm"`

	StartingLocation         StartingLocation `mapstructure:"starting-location" validate:"oneof=ROOT USER_HOME PROVIDED"`
	ProvidedStartingLocation string           `mapstructure:"provided-starting-location" validate:"required_if=StartingLocation PROVIDED"`

	// Size ceilings in gigabytes, 0 disables the check.
	MaxUploadSizeGB   int64 `mapstructure:"max-upload-size-gb" validate:"min=0"`
	MaxDownloadSizeGB int64 `mapstructure:"max-download-size-gb" validate:"min=0"`

	// CacheFileDemographics makes listings attach a snapshot of each child.
	CacheFileDemographics bool `mapstructure:"cache-file-demographics"`

	UsePackingStreams bool `mapstructure:"use-packing-streams"`
	PackingBufferSize int  `mapstructure:"packing-buffer-size" validate:"min=0"`

	// ContextPath is the URL prefix the gateway is mounted under.
	ContextPath string `mapstructure:"context-path"`

	// SSOPrefix is prepended to rendered child links.
	SSOPrefix string `mapstructure:"sso-prefix"`

	AllowDirectoryBrowsing bool `mapstructure:"allow-directory-browsing"`
	ComputeChecksum        bool `mapstructure:"compute-checksum"`

	CredentialCacheSize int           `mapstructure:"credential-cache-size" validate:"min=1"`
	CredentialCacheTTL  time.Duration `mapstructure:"credential-cache-ttl" validate:"gt=0"`
	LockTimeout         time.Duration `mapstructure:"lock-timeout" validate:"gt=0"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 1247)
	v.SetDefault("zone", "tempZone")
	v.SetDefault("default-resource", "")
	v.SetDefault("auth-scheme", string(api.AuthSchemeStandard))
	v.SetDefault("ssl-negotiation-policy", SSLNoNegotiation)
	v.SetDefault("realm", "irods")
	v.SetDefault("starting-location", string(StartingLocationUserHome))
	v.SetDefault("provided-starting-location", "")
	v.SetDefault("max-upload-size-gb", 0)
	v.SetDefault("max-download-size-gb", 0)
	v.SetDefault("cache-file-demographics", false)
	v.SetDefault("use-packing-streams", false)
	v.SetDefault("packing-buffer-size", 4*1024*1024)
	v.SetDefault("context-path", "")
	v.SetDefault("sso-prefix", "")
	v.SetDefault("allow-directory-browsing", true)
	v.SetDefault("compute-checksum", false)
	v.SetDefault("credential-cache-size", 1000)
	v.SetDefault("credential-cache-ttl", 5*time.Minute)
	v.SetDefault("lock-timeout", time.Hour)
}

// Load unmarshals and validates the configuration held by v. Any problem is
// reported as a ConfigurationErrorCode error.
func Load(v *viper.Viper) (*WebDavConfig, error) {
	c := &WebDavConfig{}
	if err := v.Unmarshal(c); err != nil {
		return nil, api.NewError(api.ConfigurationErrorCode).WithMessage(errors.Wrap(err, "unmarshal config").Error())
	}
	c.StartingLocation = StartingLocation(strings.ToUpper(string(c.StartingLocation)))
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the field constraints and the cross-field rules.
func (c *WebDavConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return api.NewError(api.ConfigurationErrorCode).WithMessage(err.Error())
	}
	if _, err := api.ParseAuthScheme(c.AuthScheme); err != nil {
		return err
	}
	if c.StartingLocation == StartingLocationProvided && !path.IsAbs(c.ProvidedStartingLocation) {
		return api.NewError(api.ConfigurationErrorCode).WithMessage(fmt.Sprintf("provided starting location %q is not absolute", c.ProvidedStartingLocation))
	}
	if c.ContextPath != "" && !strings.HasPrefix(c.ContextPath, "/") {
		return api.NewError(api.ConfigurationErrorCode).WithMessage(fmt.Sprintf("context path %q must start with /", c.ContextPath))
	}
	return nil
}

// GetRealm returns the Basic auth realm.
func (c *WebDavConfig) GetRealm() string {
	if c.Realm == "" {
		return "irods"
	}
	return c.Realm
}

// MaxUploadBytes returns the upload ceiling in bytes, 0 when unlimited.
func (c *WebDavConfig) MaxUploadBytes() int64 {
	return c.MaxUploadSizeGB * gigabyte
}

// MaxDownloadBytes returns the download ceiling in bytes, 0 when unlimited.
func (c *WebDavConfig) MaxDownloadBytes() int64 {
	return c.MaxDownloadSizeGB * gigabyte
}
