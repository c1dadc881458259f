// Package resource maps WebDAV paths to grid collections and data objects
// and implements the WebDAV operations on them. Capabilities are small
// interfaces; *Collection and *Object implement the ones that apply.
package resource

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/cernbox/griddav/api"
	"go.uber.org/zap"
)

// Resource is a resolved grid entry.
type Resource interface {
	Name() string
	// GridPath is the absolute grid path, also the file identity locks
	// are keyed by.
	GridPath() string
	Host() string
	// Entry is the listing snapshot the resource was built from, if any.
	Entry() *api.ListingEntry
	SSOPrefix() string
	ModTime(ctx context.Context) (time.Time, error)
	// Owner returns the principal owning the entry.
	Owner(ctx context.Context) (*api.GridIdentity, error)
}

// Getter can render its content.
type Getter interface {
	ContentType(accepts string) string
	ContentLength(ctx context.Context) (int64, error)
	SendContent(ctx context.Context, w io.Writer, rng *Range, contentType string) error
}

// Replacer can overwrite its content.
type Replacer interface {
	ReplaceContent(ctx context.Context, in io.Reader, length int64) error
}

// Deleter can be removed.
type Deleter interface {
	Delete(ctx context.Context) error
}

// Mover can be moved into a collection under a new name.
type Mover interface {
	MoveTo(ctx context.Context, dest Resource, name string) error
}

// Copier can be copied into a collection under a new name.
type Copier interface {
	CopyTo(ctx context.Context, dest Resource, name string) error
}

// Locker can be locked.
type Locker interface {
	Lock(timeout time.Duration, info *api.LockInfo) (*api.LockToken, error)
	RefreshLock(token string, timeout time.Duration) (*api.LockToken, error)
	Unlock(token string) error
	CurrentLock() *api.LockToken
}

// CollectionResource holds children.
type CollectionResource interface {
	Resource
	Child(ctx context.Context, name string) (Resource, error)
	ListChildren(ctx context.Context) ([]Resource, error)
	CreateCollection(ctx context.Context, name string) (*Collection, error)
	CreateNew(ctx context.Context, name string, in io.Reader, length int64, contentType string) (Resource, error)
}

// base holds what collections and objects share.
type base struct {
	factory   *Factory
	host      string
	path      string
	entry     *api.ListingEntry
	ssoPrefix string
}

func (b *base) Name() string { return path.Base(b.path) }
func (b *base) GridPath() string { return b.path }
func (b *base) Host() string { return b.host }
func (b *base) Entry() *api.ListingEntry { return b.entry }
func (b *base) SSOPrefix() string { return b.ssoPrefix }
func (b *base) logger() *zap.Logger { return b.factory.logger }
func (b *base) locks() api.LockManager { return b.factory.locks }
func (b *base) content() *ContentService { return b.factory.content }

// info returns the snapshot when there is one, else queries the grid.
func (b *base) info(ctx context.Context) (*api.FileInfo, error) {
	if b.entry != nil {
		return &b.entry.FileInfo, nil
	}
	sess, err := api.ContextGetSession(ctx)
	if err != nil {
		return nil, err
	}
	return sess.Stat(ctx, b.path)
}

func (b *base) ModTime(ctx context.Context) (time.Time, error) {
	fi, err := b.info(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return fi.Mtime, nil
}

func (b *base) Owner(ctx context.Context) (*api.GridIdentity, error) {
	fi, err := b.info(ctx)
	if err != nil {
		return nil, err
	}
	id, err := api.ContextMustGetIdentity(ctx)
	if err != nil {
		return nil, err
	}
	return id.CloneForUser(fi.Owner), nil
}

func (b *base) Lock(timeout time.Duration, info *api.LockInfo) (*api.LockToken, error) {
	return b.locks().Lock(b.path, timeout, info)
}

func (b *base) RefreshLock(token string, timeout time.Duration) (*api.LockToken, error) {
	return b.locks().Refresh(token, b.path, timeout)
}

func (b *base) Unlock(token string) error {
	return b.locks().Unlock(token, b.path)
}

func (b *base) CurrentLock() *api.LockToken {
	return b.locks().CurrentToken(b.path)
}

// destination returns the grid path of name under dest, which must be a
// collection of this package.
func (b *base) destination(ctx context.Context, dest Resource, name string) (api.GridSession, string, error) {
	coll, ok := dest.(*Collection)
	if !ok {
		return nil, "", api.NewError(api.UnsupportedDestinationTypeErrorCode).WithMessage(fmt.Sprintf("destination %T is not a grid collection", dest))
	}
	sess, err := api.ContextGetSession(ctx)
	if err != nil {
		return nil, "", err
	}
	p, err := sess.Join(coll.path, name)
	if err != nil {
		return nil, "", api.NewError(api.PathResolutionErrorCode).WithMessage(err.Error())
	}
	return sess, p, nil
}

func (b *base) MoveTo(ctx context.Context, dest Resource, name string) error {
	sess, p, err := b.destination(ctx, dest, name)
	if err != nil {
		return err
	}
	b.logger().Info("move", zap.String("src", b.path), zap.String("dst", p))
	if err := sess.Move(ctx, b.path, p); err != nil {
		return api.Wrap(err, api.TransportErrorCode, "move")
	}
	return nil
}

func (b *base) CopyTo(ctx context.Context, dest Resource, name string) error {
	sess, p, err := b.destination(ctx, dest, name)
	if err != nil {
		return err
	}
	b.logger().Info("copy", zap.String("src", b.path), zap.String("dst", p))
	if err := sess.Copy(ctx, b.path, p); err != nil {
		return api.Wrap(err, api.TransportErrorCode, "copy")
	}
	return nil
}

func (b *base) Delete(ctx context.Context) error {
	sess, err := api.ContextGetSession(ctx)
	if err != nil {
		return err
	}
	b.logger().Info("delete", zap.String("path", b.path))
	if err := sess.Delete(ctx, b.path); err != nil {
		if api.IsErrorCode(err, api.NotFoundErrorCode) {
			return err
		}
		return api.NewError(api.DeletionErrorCode).WithMessage(fmt.Sprintf("%s: %s", b.path, err.Error()))
	}
	return nil
}
