package credential_cache_gcache

import (
	"fmt"
	"time"

	"github.com/bluele/gcache"
	"github.com/cernbox/griddav/api"
	"go.uber.org/zap"
)

type Options struct {
	// Size is the maximum number of identities kept. Must be positive.
	Size int

	// TTL is how long an identity stays cached after it was stored.
	// Defaults to 5 minutes.
	TTL time.Duration

	Logger *zap.Logger
}

func (opt *Options) init() {
	if opt.Logger == nil {
		opt.Logger, _ = zap.NewProduction()
	}
	if opt.TTL <= 0 {
		opt.TTL = 5 * time.Minute
	}
}

type credentialCache struct {
	cache  gcache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// New builds the credential cache. It is meant to be built once by the
// process and handed to the services that need it.
func New(opt *Options) (api.CredentialCache, error) {
	if opt == nil {
		opt = &Options{}
	}
	opt.init()
	if opt.Size <= 0 {
		return nil, api.NewError(api.CacheInitializationErrorCode).WithMessage(fmt.Sprintf("invalid cache size %d", opt.Size))
	}
	return &credentialCache{
		cache:  gcache.New(opt.Size).LFU().Build(),
		ttl:    opt.TTL,
		logger: opt.Logger,
	}, nil
}

func (c *credentialCache) Get(key string) (*api.GridIdentity, bool) {
	v, err := c.cache.Get(key)
	if err != nil {
		if err != gcache.KeyNotFoundError {
			c.logger.Error("error reading credential cache", zap.Error(err))
		}
		return nil, false
	}
	id, ok := v.(*api.GridIdentity)
	return id, ok
}

func (c *credentialCache) Put(key string, id *api.GridIdentity) *api.GridIdentity {
	if err := c.cache.SetWithExpire(key, id, c.ttl); err != nil {
		c.logger.Error("error storing identity in credential cache", zap.Error(err), zap.String("user", id.User))
	}
	return id
}
