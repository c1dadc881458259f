package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/cernbox/griddav/api"
	"github.com/cernbox/griddav/api/account_manager_db"
	"github.com/cernbox/griddav/api/account_manager_file"
	"github.com/cernbox/griddav/api/auth_manager_ldap"
	"github.com/cernbox/griddav/api/auth_service"
	"github.com/cernbox/griddav/api/config"
	"github.com/cernbox/griddav/api/credential_cache_gcache"
	"github.com/cernbox/griddav/api/grid_afero"
	"github.com/cernbox/griddav/api/lock_manager_memory"
	"github.com/cernbox/griddav/api/resource"
	"github.com/cernbox/griddav/api/token_manager_jwt"
	"github.com/cernbox/griddav/griddavd/api/webdav"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func init() {
	config.SetDefaults(viper.GetViper())

	viper.SetDefault("address", ":8080")
	viper.SetDefault("applog", "stderr")
	viper.SetDefault("httplog", "stderr")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("signkey", "defaults are evil")
	viper.SetDefault("tls-enable", false)
	viper.SetDefault("tls-cert", "/etc/grid-security/hostcert.pem")
	viper.SetDefault("tls-key", "/etc/grid-security/hostkey.pem")
	viper.SetDefault("grid-root", "/var/lib/griddav")
	viper.SetDefault("grid-page-size", 500)
	viper.SetDefault("account-manager", "file")
	viper.SetDefault("accounts-file", "/etc/griddavd/accounts.yaml")
	viper.SetDefault("db-username", "griddav")
	viper.SetDefault("db-password", "")
	viper.SetDefault("db-hostname", "localhost")
	viper.SetDefault("db-port", 3306)
	viper.SetDefault("db-name", "griddav")
	viper.SetDefault("ldap-hostname", "")
	viper.SetDefault("ldap-port", 636)
	viper.SetDefault("ldap-base-dn", "")
	viper.SetDefault("ldap-filter", "(uid=%s)")
	viper.SetDefault("ldap-bind-username", "")
	viper.SetDefault("ldap-bind-password", "")
	viper.SetDefault("ldap-insecure-skip-verify", false)

	viper.SetConfigName("griddavd")
	viper.AddConfigPath("./")
	viper.AddConfigPath("/etc/griddavd")

	flag.String("address", ":8080", "Listen address for HTTP(S) connections")
	flag.String("config", "", "Configuration file to use")
	flag.String("applog", "stderr", "File where to log application data")
	flag.String("httplog", "stderr", "File where to log http requests")
	flag.String("log-level", "info", "Log level to use (debug, info, warn, error)")
	flag.String("signkey", "defaults are evil", "Key to sign session cookies")
	flag.Bool("tls-enable", false, "Enable TLS for encrypting connections")
	flag.String("tls-cert", "/etc/grid-security/hostcert.pem", "TLS certificate to encrypt connections")
	flag.String("tls-key", "/etc/grid-security/hostkey.pem", "TLS private key to encrypt connections")

	flag.String("host", "localhost", "Hostname of the grid")
	flag.Int("port", 1247, "Port of the grid")
	flag.String("zone", "tempZone", "Zone of the grid")
	flag.String("auth-scheme", "STANDARD", "Grid auth scheme (STANDARD or PAM)")
	flag.String("starting-location", "USER_HOME", "What / maps to (ROOT, USER_HOME or PROVIDED)")
	flag.String("context-path", "", "URL prefix the gateway is mounted under")
	flag.String("grid-root", "/var/lib/griddav", "Directory holding the grid namespace, or memory")
	flag.String("account-manager", "file", "Account manager for the STANDARD scheme (file or db)")
	flag.String("accounts-file", "/etc/griddavd/accounts.yaml", "Account table for the file account manager")

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
}

func main() {
	if viper.GetString("config") != "" {
		viper.SetConfigFile(viper.GetString("config"))
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error reading config file: %s", err))
		}
	}

	logger := newLogger()
	defer logger.Sync()

	c, err := config.Load(viper.GetViper())
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	grid, err := newGrid(c, logger)
	if err != nil {
		logger.Fatal("error creating grid", zap.Error(err))
	}

	cache, err := credential_cache_gcache.New(&credential_cache_gcache.Options{
		Size:   c.CredentialCacheSize,
		TTL:    c.CredentialCacheTTL,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("error creating credential cache", zap.Error(err))
	}

	authService, err := auth_service.New(&auth_service.Options{Config: c, Grid: grid, Cache: cache, Logger: logger})
	if err != nil {
		logger.Fatal("error creating auth service", zap.Error(err))
	}

	locks := lock_manager_memory.New(&lock_manager_memory.Options{DefaultTimeout: c.LockTimeout, Logger: logger})

	factory, err := resource.NewFactory(&resource.Options{Config: c, Locks: locks, Logger: logger})
	if err != nil {
		logger.Fatal("error creating resource factory", zap.Error(err))
	}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	_, err = webdav.New(&webdav.Options{
		Router:       router,
		Grid:         grid,
		AuthService:  authService,
		TokenManager: token_manager_jwt.New(&token_manager_jwt.Options{SignSecret: viper.GetString("signkey"), Logger: logger}),
		Locks:        locks,
		Factory:      factory,
		SecureCookie: viper.GetBool("tls-enable"),
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("error creating webdav handler", zap.Error(err))
	}

	err = router.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := route.GetMethods()
		logger.Debug("route", zap.String("path", pathTemplate), zap.String("methods", strings.Join(methods, ",")))
		return nil
	})
	if err != nil {
		logger.Warn("error walking routes", zap.Error(err))
	}

	out := getHTTPLoggerOut(viper.GetString("httplog"))
	loggedRouter := handlers.LoggingHandler(out, router)

	address := viper.GetString("address")
	logger.Info("griddavd started", zap.String("address", address), zap.String("zone", c.Zone), zap.String("starting_location", string(c.StartingLocation)))
	if viper.GetBool("tls-enable") {
		err = http.ListenAndServeTLS(address, viper.GetString("tls-cert"), viper.GetString("tls-key"), loggedRouter)
	} else {
		err = http.ListenAndServe(address, loggedRouter)
	}
	if err != nil {
		logger.Error("", zap.Error(err))
	}
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{viper.GetString("applog")}
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level.SetLevel(zap.InfoLevel)
	}
	cfg.Level = level
	logger, err := cfg.Build()
	if err != nil {
		log.Fatal(err)
	}
	return logger
}

// newGrid builds the grid over grid-root with one account manager per
// configured scheme.
func newGrid(c *config.WebDavConfig, logger *zap.Logger) (api.Grid, error) {
	var fs afero.Fs
	if root := viper.GetString("grid-root"); root == "memory" {
		logger.Warn("grid namespace is kept in memory")
		fs = afero.NewMemMapFs()
	} else {
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, err
		}
		fs = afero.NewBasePathFs(afero.NewOsFs(), root)
	}

	managers := map[api.AuthScheme]api.AccountManager{}

	var standard api.AccountManager
	var err error
	switch am := viper.GetString("account-manager"); am {
	case "file":
		standard, err = account_manager_file.New(&account_manager_file.Options{File: viper.GetString("accounts-file"), Logger: logger})
	case "db":
		standard, err = account_manager_db.New(&account_manager_db.Options{
			DBUsername: viper.GetString("db-username"),
			DBPassword: viper.GetString("db-password"),
			DBHost:     viper.GetString("db-hostname"),
			DBPort:     viper.GetInt("db-port"),
			DBName:     viper.GetString("db-name"),
			Logger:     logger,
		})
	default:
		err = api.NewError(api.ConfigurationErrorCode).WithMessage("unknown account manager " + am)
	}
	if err != nil {
		return nil, err
	}
	managers[api.AuthSchemeStandard] = standard

	if viper.GetString("ldap-hostname") != "" {
		pam, err := auth_manager_ldap.New(&auth_manager_ldap.Options{
			Hostname:             viper.GetString("ldap-hostname"),
			Port:                 viper.GetInt("ldap-port"),
			BaseDN:               viper.GetString("ldap-base-dn"),
			Filter:               viper.GetString("ldap-filter"),
			BindUsername:         viper.GetString("ldap-bind-username"),
			BindPassword:         viper.GetString("ldap-bind-password"),
			SSLNegotiationPolicy: c.SSLNegotiationPolicy,
			InsecureSkipVerify:   viper.GetBool("ldap-insecure-skip-verify"),
			Logger:               logger,
		})
		if err != nil {
			return nil, err
		}
		managers[api.AuthSchemePAM] = pam
	} else if scheme, _ := api.ParseAuthScheme(c.AuthScheme); scheme == api.AuthSchemePAM {
		return nil, api.NewError(api.ConfigurationErrorCode).WithMessage("PAM auth scheme needs ldap-hostname")
	}

	return grid_afero.New(&grid_afero.Options{
		Fs:              fs,
		Host:            c.Host,
		Port:            c.Port,
		Zone:            c.Zone,
		PageSize:        viper.GetInt("grid-page-size"),
		AccountManagers: managers,
		Logger:          logger,
	})
}

func getHTTPLoggerOut(filename string) *os.File {
	if filename == "stderr" {
		return os.Stderr
	} else if filename == "stdout" {
		return os.Stdout
	} else {
		fd, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal(err)
		}
		return fd
	}
}
