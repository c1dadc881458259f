package webdav

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/cernbox/griddav/api"
	"github.com/cernbox/griddav/api/resource"
	"go.uber.org/zap"
	"golang.org/x/net/webdav"
)

var lockTokenRE = regexp.MustCompile(`<(opaquelocktoken:[^>]+)>`)

// submittedTokens returns the lock tokens named in the If header.
func submittedTokens(r *http.Request) []string {
	tokens := []string{}
	for _, m := range lockTokenRE.FindAllStringSubmatch(r.Header.Get("If"), -1) {
		tokens = append(tokens, m[1])
	}
	return tokens
}

// covers reports whether the lock applies to gridPath, either directly or
// as a depth infinity lock on an ancestor.
func covers(lt *api.LockToken, gridPath string) bool {
	if lt.Identity == gridPath {
		return true
	}
	return lt.Info.Depth == api.LockDepthInfinity && isBelow(gridPath, lt.Identity)
}

// isBelow reports whether p is a strict descendant of ancestor.
func isBelow(p, ancestor string) bool {
	return strings.HasPrefix(p, strings.TrimSuffix(ancestor, "/")+"/")
}

// confirm fails with AlreadyLockedErrorCode when a lock covers gridPath and
// its token is not among tokens.
func confirm(locks api.LockManager, gridPath string, tokens []string) error {
	for p := gridPath; ; p = path.Dir(p) {
		if lt := locks.CurrentToken(p); lt != nil && covers(lt, gridPath) && !contains(tokens, lt.Token) {
			return api.NewError(api.AlreadyLockedErrorCode).WithMessage(fmt.Sprintf("%s is locked by %s", gridPath, lt.Identity))
		}
		if p == "/" || p == "." {
			return nil
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (p *proxy) confirmLocks(r *http.Request, gridPath string) error {
	return confirm(p.locks, gridPath, submittedTokens(r))
}

// lockSystem adapts the lock manager to the protocol engine. The engine
// does not pass a context to lock operations, so an instance is bound to
// the context of one request.
type lockSystem struct {
	ctx     context.Context
	factory *resource.Factory
	locks   api.LockManager
	logger  *zap.Logger
}

var _ webdav.LockSystem = (*lockSystem)(nil)

func (ls *lockSystem) Confirm(now time.Time, name0, name1 string, conditions ...webdav.Condition) (func(), error) {
	tokens := []string{}
	for _, c := range conditions {
		if !c.Not && c.Token != "" {
			tokens = append(tokens, c.Token)
		}
	}
	for _, name := range []string{name0, name1} {
		if name == "" {
			continue
		}
		gridPath, err := ls.factory.ResolvePath(ls.ctx, name)
		if err != nil {
			return nil, err
		}
		if err := confirm(ls.locks, gridPath, tokens); err != nil {
			ls.logger.Info("lock confirmation failed", zap.Error(err))
			return nil, webdav.ErrConfirmationFailed
		}
	}
	return func() {}, nil
}

func (ls *lockSystem) Create(now time.Time, details webdav.LockDetails) (string, error) {
	gridPath, err := ls.factory.ResolvePath(ls.ctx, details.Root)
	if err != nil {
		return "", err
	}
	info := &api.LockInfo{
		Owner: details.OwnerXML,
		Scope: api.LockScopeExclusive,
		Type:  api.LockTypeWrite,
		Depth: api.LockDepthInfinity,
	}
	if details.ZeroDepth {
		info.Depth = api.LockDepthZero
	}

	lt, err := ls.locks.Lock(gridPath, details.Duration, info)
	if err != nil {
		if api.IsErrorCode(err, api.AlreadyLockedErrorCode) {
			return "", webdav.ErrLocked
		}
		return "", err
	}
	ls.logger.Info("lock created", zap.String("path", gridPath), zap.String("token", lt.Token))
	return lt.Token, nil
}

func (ls *lockSystem) Refresh(now time.Time, token string, duration time.Duration) (webdav.LockDetails, error) {
	lt := ls.locks.LookupToken(token)
	if lt == nil {
		return webdav.LockDetails{}, webdav.ErrNoSuchLock
	}
	refreshed, err := ls.locks.Refresh(token, lt.Identity, duration)
	if err != nil {
		ls.logger.Info("lock refresh failed", zap.String("token", token), zap.Error(err))
		return webdav.LockDetails{}, webdav.ErrNoSuchLock
	}
	root, err := ls.factory.HrefOf(ls.ctx, refreshed.Identity)
	if err != nil {
		return webdav.LockDetails{}, err
	}
	return webdav.LockDetails{
		Root:      root,
		Duration:  refreshed.Timeout,
		OwnerXML:  refreshed.Info.Owner,
		ZeroDepth: refreshed.Info.Depth == api.LockDepthZero,
	}, nil
}

func (ls *lockSystem) Unlock(now time.Time, token string) error {
	lt := ls.locks.LookupToken(token)
	if lt == nil {
		return webdav.ErrNoSuchLock
	}
	if err := ls.locks.Unlock(token, lt.Identity); err != nil {
		if api.IsErrorCode(err, api.NotAuthorizedForLockErrorCode) {
			return webdav.ErrForbidden
		}
		return err
	}
	return nil
}
