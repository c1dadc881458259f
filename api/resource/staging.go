package resource

import (
	"context"
	"fmt"
	"path"

	"github.com/cernbox/griddav/api"
	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// stagingPath returns an unused hidden sibling of p.
func stagingPath(sess api.GridSession, p, tag string) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", api.Wrap(err, api.UnknownError, "generate staging name")
	}
	name := fmt.Sprintf(".%s.%s-%s", path.Base(p), tag, id.String())
	tmp, err := sess.Join(path.Dir(p), name)
	if err != nil {
		return "", api.NewError(api.PathResolutionErrorCode).WithMessage(err.Error())
	}
	return tmp, nil
}

// Aside is an entry renamed to a hidden sibling while an operation that
// replaces it runs. Restore puts it back, Discard removes it for good.
type Aside struct {
	sess   api.GridSession
	orig   string
	tmp    string
	logger *zap.Logger
}

func setAside(ctx context.Context, sess api.GridSession, p string, logger *zap.Logger) (*Aside, error) {
	tmp, err := stagingPath(sess, p, "aside")
	if err != nil {
		return nil, err
	}
	if err := sess.Move(ctx, p, tmp); err != nil {
		return nil, api.Wrap(err, api.TransportErrorCode, "set aside")
	}
	logger.Debug("entry set aside", zap.String("path", p), zap.String("aside", tmp))
	return &Aside{sess: sess, orig: p, tmp: tmp, logger: logger}, nil
}

// SetAside moves res out of its path until Restore or Discard is called.
func (f *Factory) SetAside(ctx context.Context, res Resource) (*Aside, error) {
	sess, err := api.ContextGetSession(ctx)
	if err != nil {
		return nil, err
	}
	return setAside(ctx, sess, res.GridPath(), f.logger)
}

// Restore moves the entry back, replacing whatever a failed operation left
// at its path.
func (a *Aside) Restore(ctx context.Context) error {
	if _, err := a.sess.Stat(ctx, a.orig); err == nil {
		if err := a.sess.Delete(ctx, a.orig); err != nil {
			a.logger.Error("error removing leftover before restore", zap.String("path", a.orig), zap.Error(err))
		}
	}
	if err := a.sess.Move(ctx, a.tmp, a.orig); err != nil {
		a.logger.Error("error restoring entry", zap.String("path", a.orig), zap.String("aside", a.tmp), zap.Error(err))
		return api.Wrap(err, api.TransportErrorCode, "restore")
	}
	return nil
}

// Discard deletes the entry. A failure leaves a hidden sibling behind and is
// only logged, the operation it made room for already succeeded.
func (a *Aside) Discard(ctx context.Context) {
	if err := a.sess.Delete(ctx, a.tmp); err != nil {
		a.logger.Warn("error discarding entry set aside", zap.String("aside", a.tmp), zap.Error(err))
	}
}
