package auth_service

import (
	"context"
	"time"

	"github.com/bluele/gcache"
	"github.com/cernbox/griddav/api"
	"github.com/cernbox/griddav/api/config"
	"github.com/gofrs/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "griddav",
		Name:      "credential_cache_lookups_total",
		Help:      "Credential cache lookups by result.",
	}, []string{"result"})

	handshakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "griddav",
		Name:      "grid_handshakes_total",
		Help:      "Grid authentication handshakes by outcome.",
	}, []string{"outcome"})
)

type Options struct {
	Config *config.WebDavConfig
	Grid   api.Grid
	Cache  api.CredentialCache
	Logger *zap.Logger
}

func (opt *Options) init() {
	if opt.Logger == nil {
		opt.Logger, _ = zap.NewProduction()
	}
}

// Service turns user credentials into validated grid identities. It also
// keeps the browser sessions: random session ids mapped to the credential
// cache key of the login that started them. The key never leaves the
// server.
type Service struct {
	config   *config.WebDavConfig
	grid     api.Grid
	cache    api.CredentialCache
	sessions gcache.Cache
	logger   *zap.Logger
}

func New(opt *Options) (*Service, error) {
	if opt == nil {
		opt = &Options{}
	}
	opt.init()
	if opt.Config == nil {
		return nil, api.NewError(api.ConfigurationErrorCode).WithMessage("missing webdav config")
	}
	if opt.Grid == nil {
		return nil, api.NewError(api.ConfigurationErrorCode).WithMessage("missing grid")
	}
	if opt.Cache == nil {
		return nil, api.NewError(api.ConfigurationErrorCode).WithMessage("missing credential cache")
	}

	size, ttl := opt.Config.CredentialCacheSize, opt.Config.CredentialCacheTTL
	if size <= 0 {
		size = 1000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		config:   opt.Config,
		grid:     opt.Grid,
		cache:    opt.Cache,
		sessions: gcache.New(size).LRU().Expiration(ttl).Build(),
		logger:   opt.Logger,
	}, nil
}

// Authenticate returns the grid identity for username and password.
//
// A cached identity for the same credentials is trusted until the cache
// expires it; no handshake is performed for it. On a miss the identity is
// built from the configuration, validated by the grid and cached.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*api.GridIdentity, error) {
	if username == "" {
		return nil, api.NewError(api.InvalidArgumentErrorCode).WithMessage("empty username")
	}
	if password == "" {
		return nil, api.NewError(api.InvalidArgumentErrorCode).WithMessage("empty password")
	}

	key := api.CredentialKey(username, password)
	if id, ok := s.cache.Get(key); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		s.logger.Debug("identity found in credential cache", zap.String("user", username))
		return id, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	candidate, err := s.candidate(username, password)
	if err != nil {
		return nil, err
	}

	id, err := s.grid.Authenticate(ctx, candidate)
	if err != nil {
		switch api.GetErrorCode(err) {
		case api.AuthenticationFailedErrorCode:
			handshakes.WithLabelValues("rejected").Inc()
			s.logger.Warn("grid rejected credentials", zap.String("user", username))
			return nil, err
		case api.ConfigurationErrorCode, api.InvalidArgumentErrorCode:
			handshakes.WithLabelValues("error").Inc()
			return nil, err
		default:
			handshakes.WithLabelValues("error").Inc()
			s.logger.Error("error authenticating against grid", zap.String("user", username), zap.Error(err))
			return nil, api.Wrap(err, api.TransportErrorCode, "grid handshake")
		}
	}
	handshakes.WithLabelValues("accepted").Inc()
	s.logger.Info("user authenticated against grid", zap.String("user", id.User), zap.String("zone", id.Zone))
	return s.cache.Put(key, id), nil
}

// Lookup returns the identity cached under authID, the key of a previous
// successful authentication.
func (s *Service) Lookup(authID string) (*api.GridIdentity, bool) {
	if authID == "" {
		return nil, false
	}
	return s.cache.Get(authID)
}

// StartSession registers a session for the identity cached under authID
// and returns its id.
func (s *Service) StartSession(authID string) (string, error) {
	if authID == "" {
		return "", api.NewError(api.InvalidArgumentErrorCode).WithMessage("empty auth id")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", api.Wrap(err, api.UnknownError, "generate session id")
	}
	if err := s.sessions.Set(id.String(), authID); err != nil {
		return "", api.Wrap(err, api.UnknownError, "store session")
	}
	return id.String(), nil
}

// ResumeSession returns the identity and auth id behind a session id. It
// fails when the session or the identity it refers to expired.
func (s *Service) ResumeSession(sessionID string) (*api.GridIdentity, string, bool) {
	if sessionID == "" {
		return nil, "", false
	}
	v, err := s.sessions.Get(sessionID)
	if err != nil {
		if err != gcache.KeyNotFoundError {
			s.logger.Error("error reading session", zap.Error(err))
		}
		return nil, "", false
	}
	authID, ok := v.(string)
	if !ok {
		return nil, "", false
	}
	id, ok := s.Lookup(authID)
	if !ok {
		s.sessions.Remove(sessionID)
		return nil, "", false
	}
	return id, authID, true
}

func (s *Service) candidate(username, password string) (*api.GridIdentity, error) {
	scheme, err := api.ParseAuthScheme(s.config.AuthScheme)
	if err != nil {
		return nil, err
	}
	return &api.GridIdentity{
		Host:            s.config.Host,
		Port:            s.config.Port,
		Zone:            s.config.Zone,
		User:            username,
		Password:        password,
		DefaultResource: s.config.DefaultResource,
		AuthScheme:      scheme,
	}, nil
}
