package webdav

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/cernbox/griddav/api"
	"github.com/cernbox/griddav/api/resource"
	"go.uber.org/zap"
	"golang.org/x/net/webdav"
)

// dav serves the XML methods through the protocol engine.
func (p *proxy) dav(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h := &webdav.Handler{
		FileSystem: &fileSystem{factory: p.factory, host: r.Host, logger: p.logger, known: map[string]resource.Resource{}},
		LockSystem: &lockSystem{ctx: ctx, factory: p.factory, locks: p.locks, logger: p.logger},
		Logger: func(r *http.Request, err error) {
			if err != nil {
				p.logger.Warn("webdav", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
			}
		},
	}
	h.ServeHTTP(w, r)
}

// toOSError turns the taxonomy into the errors the protocol engine
// understands.
func toOSError(err error) error {
	switch api.GetErrorCode(err) {
	case api.NotFoundErrorCode:
		return os.ErrNotExist
	case api.AlreadyExistsErrorCode:
		return os.ErrExist
	case api.NotAuthorizedForLockErrorCode:
		return os.ErrPermission
	default:
		return err
	}
}

// fileSystem exposes the resources of the bound grid session. Names are
// URL paths, context path included. It lives for one request.
type fileSystem struct {
	factory *resource.Factory
	host    string
	logger  *zap.Logger

	// known holds the resources resolved or listed during the request by
	// grid path. The engine stats and opens every listed child by name,
	// these lookups reuse the resource built by the listing together with
	// its snapshot.
	known map[string]resource.Resource
}

var _ webdav.FileSystem = (*fileSystem)(nil)

func (fs *fileSystem) resolve(ctx context.Context, name string) (resource.Resource, error) {
	p, err := fs.factory.ResolvePath(ctx, name)
	if err != nil {
		return nil, toOSError(err)
	}
	if res, ok := fs.known[p]; ok {
		return res, nil
	}
	res, err := fs.factory.ResolveGridPath(ctx, fs.host, p)
	if err != nil {
		return nil, toOSError(err)
	}
	fs.remember(res)
	return res, nil
}

func (fs *fileSystem) remember(res resource.Resource) {
	if fs.known == nil {
		fs.known = map[string]resource.Resource{}
	}
	fs.known[res.GridPath()] = res
}

// forget drops what was learned, the namespace changed.
func (fs *fileSystem) forget() {
	fs.known = nil
}

func (fs *fileSystem) parent(ctx context.Context, name string) (resource.CollectionResource, string, error) {
	name = strings.TrimSuffix(name, "/")
	res, err := fs.resolve(ctx, path.Dir(name))
	if err != nil {
		return nil, "", err
	}
	coll, ok := res.(resource.CollectionResource)
	if !ok {
		return nil, "", os.ErrNotExist
	}
	return coll, path.Base(name), nil
}

func (fs *fileSystem) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	if _, err := fs.resolve(ctx, name); err == nil {
		return os.ErrExist
	}
	parent, base, err := fs.parent(ctx, name)
	if err != nil {
		return err
	}
	fs.forget()
	_, err = parent.CreateCollection(ctx, base)
	return toOSError(err)
}

func (fs *fileSystem) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	res, err := fs.resolve(ctx, name)
	if err != nil && os.IsNotExist(err) && flag&os.O_CREATE != 0 {
		// a lock on an unmapped URL creates an empty data object
		parent, base, perr := fs.parent(ctx, name)
		if perr != nil {
			return nil, perr
		}
		fs.forget()
		res, err = parent.CreateNew(ctx, base, bytes.NewReader(nil), 0, "")
		err = toOSError(err)
	}
	if err != nil {
		return nil, err
	}
	fi, err := newFileInfo(ctx, res)
	if err != nil {
		return nil, err
	}
	return &file{ctx: ctx, fs: fs, res: res, info: fi}, nil
}

func (fs *fileSystem) RemoveAll(ctx context.Context, name string) error {
	res, err := fs.resolve(ctx, name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	d, ok := res.(resource.Deleter)
	if !ok {
		return os.ErrPermission
	}
	fs.forget()
	return toOSError(d.Delete(ctx))
}

func (fs *fileSystem) Rename(ctx context.Context, oldName, newName string) error {
	res, err := fs.resolve(ctx, oldName)
	if err != nil {
		return err
	}
	parent, base, err := fs.parent(ctx, newName)
	if err != nil {
		return err
	}
	m, ok := res.(resource.Mover)
	if !ok {
		return os.ErrPermission
	}
	fs.forget()
	return toOSError(m.MoveTo(ctx, parent, base))
}

func (fs *fileSystem) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	res, err := fs.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return newFileInfo(ctx, res)
}

// fileInfo is a snapshot of a resource taken when it was resolved.
type fileInfo struct {
	res         resource.Resource
	size        int64
	modTime     time.Time
	isDir       bool
	contentType string
}

var (
	_ webdav.ContentTyper = (*fileInfo)(nil)
	_ webdav.ETager       = (*fileInfo)(nil)
)

func newFileInfo(ctx context.Context, res resource.Resource) (*fileInfo, error) {
	fi := &fileInfo{res: res}
	mtime, err := res.ModTime(ctx)
	if err != nil {
		return nil, toOSError(err)
	}
	fi.modTime = mtime
	if _, ok := res.(resource.CollectionResource); ok {
		fi.isDir = true
		return fi, nil
	}
	if g, ok := res.(resource.Getter); ok {
		size, err := g.ContentLength(ctx)
		if err != nil {
			return nil, toOSError(err)
		}
		fi.size = size
		fi.contentType = g.ContentType("")
	}
	return fi, nil
}

func (fi *fileInfo) Name() string { return fi.res.Name() }
func (fi *fileInfo) Size() int64 { return fi.size }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool { return fi.isDir }
func (fi *fileInfo) Sys() interface{} { return fi.res }

func (fi *fileInfo) Mode() os.FileMode {
	if fi.isDir {
		return os.ModeDir | 0755
	}
	return 0644
}

func (fi *fileInfo) ContentType(ctx context.Context) (string, error) {
	if fi.contentType == "" {
		return "", webdav.ErrNotImplemented
	}
	return fi.contentType, nil
}

func (fi *fileInfo) ETag(ctx context.Context) (string, error) {
	return etag(fi.modTime, fi.size), nil
}

// file is an open resource. Content is read lazily through the content
// service; writes go through PUT only.
type file struct {
	ctx  context.Context
	fs   *fileSystem
	res  resource.Resource
	info *fileInfo

	in       io.ReadCloser
	children []os.FileInfo
	listed   bool
}

var _ webdav.DeadPropsHolder = (*file)(nil)

func (f *file) open() error {
	if f.in != nil {
		return nil
	}
	if f.info.isDir {
		return os.ErrInvalid
	}
	in, err := f.fs.factory.Content().GetFileContent(f.ctx, f.res.GridPath())
	if err != nil {
		return toOSError(err)
	}
	f.in = in
	return nil
}

func (f *file) Read(b []byte) (int, error) {
	if err := f.open(); err != nil {
		return 0, err
	}
	return f.in.Read(b)
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	if err := f.open(); err != nil {
		return 0, err
	}
	s, ok := f.in.(io.Seeker)
	if !ok {
		return 0, webdav.ErrNotImplemented
	}
	return s.Seek(offset, whence)
}

func (f *file) Write(b []byte) (int, error) {
	return 0, webdav.ErrNotImplemented
}

func (f *file) Readdir(count int) ([]os.FileInfo, error) {
	coll, ok := f.res.(resource.CollectionResource)
	if !ok {
		return nil, os.ErrInvalid
	}
	if !f.listed {
		children, err := coll.ListChildren(f.ctx)
		if err != nil {
			return nil, toOSError(err)
		}
		for _, child := range children {
			f.fs.remember(child)
			fi, err := newFileInfo(f.ctx, child)
			if err != nil {
				continue
			}
			f.children = append(f.children, fi)
		}
		f.listed = true
	}

	if count <= 0 {
		out := f.children
		f.children = nil
		return out, nil
	}
	if len(f.children) == 0 {
		return nil, io.EOF
	}
	if count > len(f.children) {
		count = len(f.children)
	}
	out := f.children[:count]
	f.children = f.children[count:]
	return out, nil
}

func (f *file) Stat() (os.FileInfo, error) {
	return f.info, nil
}

func (f *file) Close() error {
	if f.in == nil {
		return nil
	}
	err := f.in.Close()
	f.in = nil
	return err
}

var ownerName = xml.Name{Space: "DAV:", Local: "owner"}

// DeadProps exposes the owner of the entry as DAV:owner.
func (f *file) DeadProps() (map[xml.Name]webdav.Property, error) {
	owner, err := f.res.Owner(f.ctx)
	if err != nil {
		return nil, toOSError(err)
	}
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(owner.User)); err != nil {
		return nil, err
	}
	return map[xml.Name]webdav.Property{
		ownerName: {XMLName: ownerName, InnerXML: buf.Bytes()},
	}, nil
}

// Patch refuses every change, the grid keeps no dead properties.
func (f *file) Patch(patches []webdav.Proppatch) ([]webdav.Propstat, error) {
	pstat := webdav.Propstat{Status: http.StatusForbidden}
	for _, patch := range patches {
		for _, prop := range patch.Props {
			pstat.Props = append(pstat.Props, webdav.Property{XMLName: prop.XMLName})
		}
	}
	return []webdav.Propstat{pstat}, nil
}
