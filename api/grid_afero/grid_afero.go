// Package grid_afero implements the grid catalog on top of an afero
// filesystem. Every path of the filesystem is a grid path: collections are
// directories and data objects are regular files. Accounts are validated by
// one AccountManager per auth scheme.
package grid_afero

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/cernbox/griddav/api"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type Options struct {
	// Fs holds the grid namespace. Defaults to an in-memory filesystem.
	Fs afero.Fs

	// Host and Port the grid answers on. When Host is empty any
	// identity host is accepted.
	Host string
	Port int

	// Zone served by this grid.
	Zone string

	// PageSize is the number of entries returned per listing page.
	// Defaults to 500.
	PageSize int

	// AdminUser owns every path outside the home collections.
	// Defaults to "rods".
	AdminUser string

	AccountManagers map[api.AuthScheme]api.AccountManager

	Logger *zap.Logger
}

func (opt *Options) init() {
	if opt.Logger == nil {
		opt.Logger, _ = zap.NewProduction()
	}
	if opt.Fs == nil {
		opt.Fs = afero.NewMemMapFs()
	}
	if opt.PageSize <= 0 {
		opt.PageSize = 500
	}
	if opt.AdminUser == "" {
		opt.AdminUser = "rods"
	}
	if opt.AccountManagers == nil {
		opt.AccountManagers = map[api.AuthScheme]api.AccountManager{}
	}
}

type grid struct {
	fs        afero.Fs
	host      string
	port      int
	zone      string
	pageSize  int
	adminUser string
	managers  map[api.AuthScheme]api.AccountManager
	logger    *zap.Logger
}

func New(opt *Options) (api.Grid, error) {
	if opt == nil {
		opt = &Options{}
	}
	opt.init()
	if opt.Zone == "" {
		return nil, api.NewError(api.ConfigurationErrorCode).WithMessage("grid zone is empty")
	}

	g := &grid{
		fs:        opt.Fs,
		host:      opt.Host,
		port:      opt.Port,
		zone:      opt.Zone,
		pageSize:  opt.PageSize,
		adminUser: opt.AdminUser,
		managers:  opt.AccountManagers,
		logger:    opt.Logger,
	}

	if err := g.fs.MkdirAll(path.Join("/", g.zone, "home"), 0755); err != nil {
		return nil, errors.Wrap(err, "grid_afero: error creating zone collections")
	}
	return g, nil
}

func (g *grid) Authenticate(ctx context.Context, id *api.GridIdentity) (*api.GridIdentity, error) {
	if id == nil || id.User == "" {
		return nil, api.NewError(api.InvalidArgumentErrorCode).WithMessage("empty identity")
	}
	if g.host != "" && (id.Host != g.host || id.Port != g.port) {
		return nil, api.NewError(api.TransportErrorCode).WithMessage(fmt.Sprintf("cannot reach grid at %s:%d", id.Host, id.Port))
	}
	if id.Zone != g.zone {
		return nil, api.NewError(api.AuthenticationFailedErrorCode).WithMessage(fmt.Sprintf("unknown zone %q", id.Zone))
	}

	am, ok := g.managers[id.AuthScheme]
	if !ok {
		return nil, api.NewError(api.ConfigurationErrorCode).WithMessage(fmt.Sprintf("no account manager for scheme %q", id.AuthScheme))
	}

	account, err := am.Authenticate(ctx, id.User, id.Password)
	if err != nil {
		return nil, api.Wrap(err, api.TransportErrorCode, "account handshake")
	}

	accepted := *id
	accepted.User = account.User
	home := accepted.HomeCollection()
	if err := g.fs.MkdirAll(home, 0755); err != nil {
		return nil, api.Wrap(err, api.TransportErrorCode, "provision home collection")
	}
	g.logger.Debug("account accepted", zap.String("user", accepted.User), zap.String("home", home))
	return &accepted, nil
}

func (g *grid) Open(ctx context.Context, id *api.GridIdentity) (api.GridSession, error) {
	if id == nil {
		return nil, api.NewError(api.InvalidArgumentErrorCode).WithMessage("nil identity")
	}
	return &session{
		grid:    g,
		id:      id,
		streams: map[*stream]struct{}{},
		logger:  g.logger.With(zap.String("user", id.User)),
	}, nil
}

// ownerOf returns the user whose home collection holds p.
func (g *grid) ownerOf(p string) string {
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	if len(parts) >= 3 && parts[0] == g.zone && parts[1] == "home" && parts[2] != "" {
		return parts[2]
	}
	return g.adminUser
}

func convertError(err error, msg, p string) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(errors.Cause(err)) {
		return api.NewError(api.NotFoundErrorCode).WithMessage(p)
	}
	if os.IsExist(errors.Cause(err)) {
		return api.NewError(api.AlreadyExistsErrorCode).WithMessage(p)
	}
	return api.Wrap(err, api.TransportErrorCode, msg)
}

type session struct {
	grid   *grid
	id     *api.GridIdentity
	logger *zap.Logger

	mu      sync.Mutex
	closed  bool
	streams map[*stream]struct{}
}

func (s *session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return api.NewError(api.TransportErrorCode).WithMessage("grid session closed")
	}
	return nil
}

func (s *session) Join(parent, name string) (string, error) {
	if !path.IsAbs(parent) {
		return "", errors.Errorf("grid_afero: parent %q is not absolute", parent)
	}
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return "", errors.Errorf("grid_afero: invalid path segment %q", name)
	}
	return path.Join(parent, name), nil
}

func (s *session) Stat(ctx context.Context, p string) (*api.FileInfo, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	fi, err := s.grid.fs.Stat(p)
	if err != nil {
		return nil, convertError(err, "stat", p)
	}
	return s.convertFileInfo(fi, p), nil
}

func (s *session) convertFileInfo(fi os.FileInfo, p string) *api.FileInfo {
	info := &api.FileInfo{
		Path:  path.Clean(p),
		Owner: s.grid.ownerOf(p),
		Mtime: fi.ModTime(),
		IsDir: fi.IsDir(),
	}
	if !fi.IsDir() {
		info.Size = fi.Size()
	}
	return info
}

func (s *session) List(ctx context.Context, p string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	fis, err := afero.ReadDir(s.grid.fs, p)
	if err != nil {
		return nil, convertError(err, "list", p)
	}
	children := make([]string, 0, len(fis))
	for _, fi := range fis {
		children = append(children, path.Join(p, fi.Name()))
	}
	return children, nil
}

func (s *session) ListCollections(ctx context.Context, p string, offset int) ([]*api.ListingEntry, error) {
	return s.listPage(p, offset, true)
}

func (s *session) ListDataObjects(ctx context.Context, p string, offset int) ([]*api.ListingEntry, error) {
	return s.listPage(p, offset, false)
}

// listPage returns up to one page of the children of p of one kind,
// starting at offset.
func (s *session) listPage(p string, offset int, collections bool) ([]*api.ListingEntry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	fis, err := afero.ReadDir(s.grid.fs, p)
	if err != nil {
		return nil, convertError(err, "list page", p)
	}

	matching := []os.FileInfo{}
	for _, fi := range fis {
		if fi.IsDir() == collections {
			matching = append(matching, fi)
		}
	}

	entries := []*api.ListingEntry{}
	if offset < 0 {
		offset = 0
	}
	for i := offset; i < len(matching) && i < offset+s.grid.pageSize; i++ {
		fi := matching[i]
		entries = append(entries, &api.ListingEntry{
			FileInfo:   *s.convertFileInfo(fi, path.Join(p, fi.Name())),
			Count:      i + 1,
			LastResult: i+1 == len(matching),
		})
	}
	return entries, nil
}

func (s *session) checkParent(p string) error {
	parent := path.Dir(p)
	fi, err := s.grid.fs.Stat(parent)
	if err != nil {
		return convertError(err, "stat parent", parent)
	}
	if !fi.IsDir() {
		return api.NewError(api.NotFoundErrorCode).WithMessage(fmt.Sprintf("%s is not a collection", parent))
	}
	return nil
}

func (s *session) exists(p string) (bool, error) {
	ok, err := afero.Exists(s.grid.fs, p)
	if err != nil {
		return false, convertError(err, "stat", p)
	}
	return ok, nil
}

func (s *session) Mkdir(ctx context.Context, p string) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.checkParent(p); err != nil {
		return err
	}
	if ok, err := s.exists(p); err != nil {
		return err
	} else if ok {
		return api.NewError(api.AlreadyExistsErrorCode).WithMessage(p)
	}
	s.logger.Debug("mkdir", zap.String("path", p))
	return convertError(s.grid.fs.Mkdir(p, 0755), "mkdir", p)
}

func (s *session) CreateFile(ctx context.Context, p string) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.checkParent(p); err != nil {
		return err
	}
	f, err := s.grid.fs.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return convertError(err, "create", p)
	}
	return convertError(f.Close(), "create", p)
}

func (s *session) Delete(ctx context.Context, p string) error {
	if err := s.check(); err != nil {
		return err
	}
	if ok, err := s.exists(p); err != nil {
		return err
	} else if !ok {
		return api.NewError(api.NotFoundErrorCode).WithMessage(p)
	}
	s.logger.Debug("delete", zap.String("path", p))
	return convertError(s.grid.fs.RemoveAll(p), "delete", p)
}

func (s *session) prepareTransfer(src, dst string) (os.FileInfo, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	fi, err := s.grid.fs.Stat(src)
	if err != nil {
		return nil, convertError(err, "stat source", src)
	}
	if dst == src || strings.HasPrefix(dst, strings.TrimSuffix(src, "/")+"/") {
		return nil, api.NewError(api.InvalidArgumentErrorCode).WithMessage(fmt.Sprintf("cannot transfer %s into itself", src))
	}
	if err := s.checkParent(dst); err != nil {
		return nil, err
	}
	if ok, err := s.exists(dst); err != nil {
		return nil, err
	} else if ok {
		return nil, api.NewError(api.AlreadyExistsErrorCode).WithMessage(dst)
	}
	return fi, nil
}

func (s *session) Move(ctx context.Context, src, dst string) error {
	if _, err := s.prepareTransfer(src, dst); err != nil {
		return err
	}
	s.logger.Debug("move", zap.String("src", src), zap.String("dst", dst))
	return convertError(s.grid.fs.Rename(src, dst), "move", src)
}

func (s *session) Copy(ctx context.Context, src, dst string) error {
	fi, err := s.prepareTransfer(src, dst)
	if err != nil {
		return err
	}
	s.logger.Debug("copy", zap.String("src", src), zap.String("dst", dst))
	return s.copyTree(fi, src, dst)
}

func (s *session) copyTree(fi os.FileInfo, src, dst string) error {
	if !fi.IsDir() {
		return s.copyFile(fi, src, dst)
	}
	if err := s.grid.fs.Mkdir(dst, 0755); err != nil {
		return convertError(err, "copy", dst)
	}
	children, err := afero.ReadDir(s.grid.fs, src)
	if err != nil {
		return convertError(err, "copy", src)
	}
	for _, child := range children {
		if err := s.copyTree(child, path.Join(src, child.Name()), path.Join(dst, child.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) copyFile(fi os.FileInfo, src, dst string) error {
	in, err := s.grid.fs.Open(src)
	if err != nil {
		return convertError(err, "copy", src)
	}
	defer in.Close()

	out, err := s.grid.fs.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return convertError(err, "copy", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return convertError(err, "copy", dst)
	}
	if err := out.Close(); err != nil {
		return convertError(err, "copy", dst)
	}
	return convertError(s.grid.fs.Chtimes(dst, fi.ModTime(), fi.ModTime()), "copy", dst)
}

func (s *session) Reader(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	fi, err := s.grid.fs.Stat(p)
	if err != nil {
		return nil, convertError(err, "open", p)
	}
	if fi.IsDir() {
		return nil, api.NewError(api.InvalidArgumentErrorCode).WithMessage(fmt.Sprintf("%s is a collection", p))
	}
	f, err := s.grid.fs.Open(p)
	if err != nil {
		return nil, convertError(err, "open", p)
	}
	return s.track(f), nil
}

func (s *session) Writer(ctx context.Context, p string) (io.WriteCloser, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := s.checkParent(p); err != nil {
		return nil, err
	}
	if fi, err := s.grid.fs.Stat(p); err == nil && fi.IsDir() {
		return nil, api.NewError(api.InvalidArgumentErrorCode).WithMessage(fmt.Sprintf("%s is a collection", p))
	}
	f, err := s.grid.fs.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, convertError(err, "open", p)
	}
	return s.track(f), nil
}

// Close releases the session and every stream still open on it.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if len(s.streams) > 0 {
		s.logger.Warn("closing streams left open", zap.Int("count", len(s.streams)))
	}
	var firstErr error
	for st := range s.streams {
		if err := st.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.streams = map[*stream]struct{}{}
	return firstErr
}

func (s *session) track(f afero.File) *stream {
	st := &stream{File: f, session: s}
	s.mu.Lock()
	s.streams[st] = struct{}{}
	s.mu.Unlock()
	return st
}

func (s *session) untrack(st *stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[st]; !ok {
		return false
	}
	delete(s.streams, st)
	return true
}

// stream is a grid file handle owned by a session. It can seek, which lets
// ranged reads skip bytes without reading them.
type stream struct {
	afero.File
	session *session
}

func (st *stream) Close() error {
	if !st.session.untrack(st) {
		// already released by the session
		return nil
	}
	return st.File.Close()
}
