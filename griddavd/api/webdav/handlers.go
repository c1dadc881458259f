package webdav

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cernbox/griddav/api"
	"github.com/cernbox/griddav/api/resource"
	"go.uber.org/zap"
)

func (p *proxy) get(w http.ResponseWriter, r *http.Request) {
	p.sendContent(w, r, true)
}

func (p *proxy) head(w http.ResponseWriter, r *http.Request) {
	p.sendContent(w, r, false)
}

func (p *proxy) sendContent(w http.ResponseWriter, r *http.Request, body bool) {
	ctx := r.Context()
	res, err := p.factory.Resolve(ctx, r.Host, r.URL.Path)
	if err != nil {
		p.writeError(w, r, err)
		return
	}
	g, ok := res.(resource.Getter)
	if !ok {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	contentType := g.ContentType(r.Header.Get("Accept"))
	length, err := g.ContentLength(ctx)
	if err != nil {
		p.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	if mtime, err := res.ModTime(ctx); err == nil && !mtime.IsZero() {
		w.Header().Set("Last-Modified", mtime.UTC().Format(http.TimeFormat))
		if _, isObject := res.(*resource.Object); isObject {
			w.Header().Set("ETag", etag(mtime, length))
		}
	}

	status := http.StatusOK
	var rng *resource.Range
	if length >= 0 {
		w.Header().Set("Accept-Ranges", "bytes")
		rng, err = parseRange(r.Header.Get("Range"), length)
		if err != nil {
			p.logger.Warn("unsatisfiable range", zap.String("range", r.Header.Get("Range")), zap.Error(err))
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", length))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if rng != nil {
			status = http.StatusPartialContent
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, length))
			w.Header().Set("Content-Length", strconv.FormatInt(rng.End-rng.Start+1, 10))
		} else {
			w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		}
	}

	if !body {
		w.WriteHeader(status)
		return
	}

	lw := &lazyWriter{w: w, status: status}
	if err := g.SendContent(ctx, lw, rng, contentType); err != nil {
		if lw.wrote {
			// the status line is gone, the client sees a short body
			p.logger.Error("error sending content", zap.String("path", r.URL.Path), zap.Error(err))
			return
		}
		w.Header().Del("Content-Length")
		w.Header().Del("Content-Range")
		w.Header().Del("ETag")
		p.writeError(w, r, err)
		return
	}
	if !lw.wrote {
		w.WriteHeader(status)
	}
}

// lazyWriter delays the status line until the first byte, so failures
// that happen before any content can still be reported.
type lazyWriter struct {
	w      http.ResponseWriter
	status int
	wrote  bool
}

func (l *lazyWriter) Write(b []byte) (int, error) {
	if !l.wrote {
		l.wrote = true
		l.w.WriteHeader(l.status)
	}
	return l.w.Write(b)
}

func etag(mtime time.Time, size int64) string {
	return fmt.Sprintf(`"%x%x"`, mtime.UnixNano(), size)
}

// parseRange parses a single byte range. Multiple ranges are not
// supported and yield the whole content.
func parseRange(header string, length int64) (*resource.Range, error) {
	if header == "" {
		return nil, nil
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return nil, fmt.Errorf("invalid range %q", header)
	}
	value := strings.TrimSpace(header[len(prefix):])
	if strings.Contains(value, ",") {
		return nil, nil
	}
	i := strings.Index(value, "-")
	if i < 0 {
		return nil, fmt.Errorf("invalid range %q", header)
	}
	start, end := strings.TrimSpace(value[:i]), strings.TrimSpace(value[i+1:])

	rng := &resource.Range{}
	if start == "" {
		// suffix range, the last n bytes
		n, err := strconv.ParseInt(end, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid range %q", header)
		}
		if n > length {
			n = length
		}
		rng.Start = length - n
		rng.End = length - 1
	} else {
		s, err := strconv.ParseInt(start, 10, 64)
		if err != nil || s < 0 {
			return nil, fmt.Errorf("invalid range %q", header)
		}
		rng.Start = s
		rng.End = length - 1
		if end != "" {
			e, err := strconv.ParseInt(end, 10, 64)
			if err != nil || e < s {
				return nil, fmt.Errorf("invalid range %q", header)
			}
			if e < length {
				rng.End = e
			}
		}
	}
	if rng.Start >= length {
		return nil, fmt.Errorf("range %q starts beyond %d bytes", header, length)
	}
	return rng, nil
}

func (p *proxy) put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Header.Get("Content-Range") != "" {
		p.logger.Warn("partial uploads are not supported")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	gridPath, err := p.factory.ResolvePath(ctx, r.URL.Path)
	if err != nil {
		p.writeError(w, r, err)
		return
	}
	if err := p.confirmLocks(r, gridPath); err != nil {
		p.writeError(w, r, err)
		return
	}

	var (
		status int
		digest string
	)
	existing, err := p.factory.ResolveGridPath(ctx, r.Host, gridPath)
	switch {
	case err == nil:
		obj, ok := existing.(*resource.Object)
		if !ok {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := obj.ReplaceContent(ctx, r.Body, r.ContentLength); err != nil {
			p.writeError(w, r, err)
			return
		}
		status, digest = http.StatusNoContent, obj.Checksum()

	case api.IsErrorCode(err, api.NotFoundErrorCode):
		parent, ok := p.parentCollection(w, r, gridPath)
		if !ok {
			return
		}
		created, err := parent.CreateNew(ctx, path.Base(gridPath), r.Body, r.ContentLength, r.Header.Get("Content-Type"))
		if err != nil {
			p.writeError(w, r, err)
			return
		}
		status = http.StatusCreated
		if obj, ok := created.(*resource.Object); ok {
			digest = obj.Checksum()
		}

	default:
		p.writeError(w, r, err)
		return
	}

	if digest != "" {
		w.Header().Set("Digest", "SHA-256="+digest)
	}
	w.WriteHeader(status)
}

// parentCollection resolves the collection gridPath would be created in.
// A missing parent is a conflict.
func (p *proxy) parentCollection(w http.ResponseWriter, r *http.Request, gridPath string) (resource.CollectionResource, bool) {
	parent, err := p.factory.ResolveGridPath(r.Context(), r.Host, path.Dir(gridPath))
	if err != nil {
		if api.IsErrorCode(err, api.NotFoundErrorCode) {
			w.WriteHeader(http.StatusConflict)
			return nil, false
		}
		p.writeError(w, r, err)
		return nil, false
	}
	coll, ok := parent.(resource.CollectionResource)
	if !ok {
		w.WriteHeader(http.StatusConflict)
		return nil, false
	}
	return coll, true
}

func (p *proxy) mkcol(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.ContentLength > 0 {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	gridPath, err := p.factory.ResolvePath(ctx, r.URL.Path)
	if err != nil {
		p.writeError(w, r, err)
		return
	}
	if err := p.confirmLocks(r, gridPath); err != nil {
		p.writeError(w, r, err)
		return
	}

	if _, err := p.factory.ResolveGridPath(ctx, r.Host, gridPath); err == nil {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	} else if !api.IsErrorCode(err, api.NotFoundErrorCode) {
		p.writeError(w, r, err)
		return
	}

	parent, ok := p.parentCollection(w, r, gridPath)
	if !ok {
		return
	}
	if _, err := parent.CreateCollection(ctx, path.Base(gridPath)); err != nil {
		p.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (p *proxy) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := p.factory.Resolve(ctx, r.Host, r.URL.Path)
	if err != nil {
		p.writeError(w, r, err)
		return
	}
	if err := p.confirmLocks(r, res.GridPath()); err != nil {
		p.writeError(w, r, err)
		return
	}

	d, ok := res.(resource.Deleter)
	if !ok {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := d.Delete(ctx); err != nil {
		p.writeError(w, r, err)
		return
	}
	p.releaseLock(res)
	w.WriteHeader(http.StatusNoContent)
}

// releaseLock drops the locks of a resource that no longer exists and of
// everything that was below it.
func (p *proxy) releaseLock(res resource.Resource) {
	if n := p.locks.UnlockTree(res.GridPath()); n > 0 {
		p.logger.Debug("released locks of removed resource", zap.String("path", res.GridPath()), zap.Int("count", n))
	}
}

func (p *proxy) copy(w http.ResponseWriter, r *http.Request) {
	p.transfer(w, r, false)
}

func (p *proxy) move(w http.ResponseWriter, r *http.Request) {
	p.transfer(w, r, true)
}

func (p *proxy) transfer(w http.ResponseWriter, r *http.Request, move bool) {
	ctx := r.Context()

	destination := r.Header.Get("Destination")
	if destination == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	destinationURL, err := url.Parse(destination)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if destinationURL.Host != "" && destinationURL.Host != r.Host {
		p.writeError(w, r, api.NewError(api.UnsupportedDestinationTypeErrorCode).WithMessage("destination is on another server: "+destinationURL.Host))
		return
	}

	overwrite := strings.ToUpper(r.Header.Get("Overwrite"))
	if overwrite == "" {
		overwrite = "T"
	}
	if overwrite != "T" && overwrite != "F" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	src, err := p.factory.Resolve(ctx, r.Host, r.URL.Path)
	if err != nil {
		p.writeError(w, r, err)
		return
	}
	dstPath, err := p.factory.ResolvePath(ctx, destinationURL.Path)
	if err != nil {
		p.writeError(w, r, err)
		return
	}
	if dstPath == src.GridPath() {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	if move {
		if err := p.confirmLocks(r, src.GridPath()); err != nil {
			p.writeError(w, r, err)
			return
		}
	}
	if err := p.confirmLocks(r, dstPath); err != nil {
		p.writeError(w, r, err)
		return
	}

	if isBelow(dstPath, src.GridPath()) || isBelow(src.GridPath(), dstPath) {
		p.writeError(w, r, api.NewError(api.InvalidArgumentErrorCode).WithMessage(fmt.Sprintf("cannot transfer %s onto %s", src.GridPath(), dstPath)))
		return
	}

	var transfer func(ctx context.Context, dest resource.Resource, name string) error
	if move {
		mover, ok := src.(resource.Mover)
		if !ok {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		transfer = mover.MoveTo
	} else {
		copier, ok := src.(resource.Copier)
		if !ok {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		transfer = copier.CopyTo
	}

	parent, ok := p.parentCollection(w, r, dstPath)
	if !ok {
		return
	}

	// the destination is only set aside, it is restored if the transfer
	// fails
	var aside *resource.Aside
	if existing, err := p.factory.ResolveGridPath(ctx, r.Host, dstPath); err == nil {
		if overwrite == "F" {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		if _, ok := existing.(resource.Deleter); !ok {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if aside, err = p.factory.SetAside(ctx, existing); err != nil {
			p.writeError(w, r, err)
			return
		}
	} else if !api.IsErrorCode(err, api.NotFoundErrorCode) {
		p.writeError(w, r, err)
		return
	}

	if err := transfer(ctx, parent, path.Base(dstPath)); err != nil {
		if aside != nil {
			if rerr := aside.Restore(ctx); rerr != nil {
				p.logger.Error("destination could not be restored after failed transfer", zap.String("path", dstPath), zap.Error(rerr))
			}
		}
		p.writeError(w, r, err)
		return
	}
	if aside != nil {
		aside.Discard(ctx)
	}
	if move {
		p.releaseLock(src)
	}

	if aside != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (p *proxy) unlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := strings.TrimSpace(r.Header.Get("Lock-Token"))
	token = strings.TrimSuffix(strings.TrimPrefix(token, "<"), ">")
	if token == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	res, err := p.factory.Resolve(ctx, r.Host, r.URL.Path)
	if err != nil {
		p.writeError(w, r, err)
		return
	}

	// a depth infinity lock may be released through any member
	if lt := p.locks.LookupToken(token); lt != nil && lt.Identity != res.GridPath() && covers(lt, res.GridPath()) {
		err = p.locks.Unlock(token, lt.Identity)
	} else if l, ok := res.(resource.Locker); ok {
		err = l.Unlock(token)
	} else {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		p.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
