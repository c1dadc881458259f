// Package lock_manager_memory keeps WebDAV locks in process memory. At most
// one lock exists per grid file identity and a depth infinity lock excludes
// locks on its members. Every operation runs under a single mutex so
// acquisition is a test-and-set.
package lock_manager_memory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cernbox/griddav/api"
	"github.com/gofrs/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// TokenPrefix is the URI scheme of the lock tokens.
const TokenPrefix = "opaquelocktoken:"

var activeLocks = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "griddav",
	Name:      "active_locks",
	Help:      "Locks currently held.",
})

type Options struct {
	// DefaultTimeout applies when a lock or refresh asks for none.
	// Defaults to one hour.
	DefaultTimeout time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	Logger *zap.Logger
}

func (opt *Options) init() {
	if opt.Logger == nil {
		opt.Logger, _ = zap.NewProduction()
	}
	if opt.DefaultTimeout <= 0 {
		opt.DefaultTimeout = time.Hour
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
}

type lockManager struct {
	mu         sync.Mutex
	byIdentity map[string]*api.LockToken
	byToken    map[string]*api.LockToken

	defaultTimeout time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

func New(opt *Options) api.LockManager {
	if opt == nil {
		opt = &Options{}
	}
	opt.init()
	return &lockManager{
		byIdentity:     map[string]*api.LockToken{},
		byToken:        map[string]*api.LockToken{},
		defaultTimeout: opt.DefaultTimeout,
		now:            opt.Now,
		logger:         opt.Logger,
	}
}

func (lm *lockManager) Lock(identity string, timeout time.Duration, info *api.LockInfo) (*api.LockToken, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	depth := api.LockDepthZero
	if info != nil {
		depth = info.Depth
	}
	if cur := lm.conflict(identity, depth); cur != nil {
		lm.logger.Debug("already locked", zap.String("identity", identity), zap.String("held_on", cur.Identity), zap.String("token", cur.Token))
		return nil, api.NewError(api.AlreadyLockedErrorCode).WithMessage(fmt.Sprintf("%s: held on %s", identity, cur.Identity))
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, api.Wrap(err, api.UnknownError, "generate lock token")
	}
	if timeout <= 0 {
		timeout = lm.defaultTimeout
	}
	lt := &api.LockToken{
		Token:    TokenPrefix + id.String(),
		Identity: identity,
		Timeout:  timeout,
		Expires:  lm.now().Add(timeout),
	}
	if info != nil {
		lt.Info = *info
	}
	lm.byIdentity[identity] = lt
	lm.byToken[lt.Token] = lt
	activeLocks.Inc()
	lm.logger.Debug("lock acquired", zap.String("identity", identity), zap.String("token", lt.Token), zap.Duration("timeout", timeout))
	c := *lt
	return &c, nil
}

// Refresh extends the lock from now. An empty identity matches the lock
// of any identity.
func (lm *lockManager) Refresh(token, identity string, timeout time.Duration) (*api.LockToken, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lt := lm.lookup(token)
	if lt == nil || (identity != "" && lt.Identity != identity) {
		lm.logger.Debug("cannot refresh, no such lock", zap.String("token", token), zap.String("identity", identity))
		return nil, api.NewError(api.LockPreconditionFailedErrorCode).WithMessage(fmt.Sprintf("no lock %s", token))
	}
	if timeout <= 0 {
		timeout = lt.Timeout
	}
	lt.Timeout = timeout
	lt.Expires = lm.now().Add(timeout)
	c := *lt
	return &c, nil
}

func (lm *lockManager) Unlock(token, identity string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	cur := lm.current(identity)
	if cur == nil {
		lm.logger.Debug("not locked", zap.String("identity", identity))
		return nil
	}
	if cur.Token != token {
		return api.NewError(api.NotAuthorizedForLockErrorCode).WithMessage(identity)
	}
	lm.remove(cur)
	lm.logger.Debug("lock released", zap.String("identity", identity), zap.String("token", token))
	return nil
}

// UnlockTree drops the locks of identity and of every identity below it.
// It returns how many were dropped.
func (lm *lockManager) UnlockTree(identity string) int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	n := 0
	for id, lt := range lm.byIdentity {
		if id == identity || isBelow(id, identity) {
			lm.remove(lt)
			n++
		}
	}
	if n > 0 {
		lm.logger.Debug("lock tree released", zap.String("identity", identity), zap.Int("count", n))
	}
	return n
}

func (lm *lockManager) CurrentToken(identity string) *api.LockToken {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	cur := lm.current(identity)
	if cur == nil {
		return nil
	}
	c := *cur
	return &c
}

func (lm *lockManager) LookupToken(token string) *api.LockToken {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lt := lm.lookup(token)
	if lt == nil {
		return nil
	}
	c := *lt
	return &c
}

// conflict returns the live lock that prevents a new lock of the given
// depth on identity: a lock on identity itself, a depth infinity lock on
// an ancestor, or, for a depth infinity request, any lock below identity.
// Callers hold lm.mu.
func (lm *lockManager) conflict(identity string, depth api.LockDepth) *api.LockToken {
	if cur := lm.current(identity); cur != nil {
		return cur
	}
	for id := range lm.byIdentity {
		held := lm.current(id)
		if held == nil {
			continue
		}
		if held.Info.Depth == api.LockDepthInfinity && isBelow(identity, id) {
			return held
		}
		if depth == api.LockDepthInfinity && isBelow(id, identity) {
			return held
		}
	}
	return nil
}

// isBelow reports whether p is a strict descendant of ancestor.
func isBelow(p, ancestor string) bool {
	return strings.HasPrefix(p, strings.TrimSuffix(ancestor, "/")+"/")
}

// current and lookup drop expired entries as they find them.
// Callers hold lm.mu.
func (lm *lockManager) current(identity string) *api.LockToken {
	lt, ok := lm.byIdentity[identity]
	if !ok {
		return nil
	}
	if !lm.now().Before(lt.Expires) {
		lm.remove(lt)
		return nil
	}
	return lt
}

func (lm *lockManager) lookup(token string) *api.LockToken {
	lt, ok := lm.byToken[token]
	if !ok {
		return nil
	}
	return lm.current(lt.Identity)
}

func (lm *lockManager) remove(lt *api.LockToken) {
	if _, ok := lm.byToken[lt.Token]; !ok {
		lm.logger.Warn("lock not found", zap.String("token", lt.Token))
		return
	}
	delete(lm.byToken, lt.Token)
	delete(lm.byIdentity, lt.Identity)
	activeLocks.Dec()
}
