package resource

import (
	"context"
	"strings"

	"github.com/cernbox/griddav/api"
	"github.com/cernbox/griddav/api/config"
	"go.uber.org/zap"
)

type Options struct {
	Config  *config.WebDavConfig
	Locks   api.LockManager
	Content *ContentService
	Logger  *zap.Logger
}

func (opt *Options) init() {
	if opt.Logger == nil {
		opt.Logger, _ = zap.NewProduction()
	}
	if opt.Content == nil && opt.Config != nil {
		opt.Content = NewContentService(&ContentOptions{
			MaxUploadBytes:    opt.Config.MaxUploadBytes(),
			MaxDownloadBytes:  opt.Config.MaxDownloadBytes(),
			UsePackingStreams: opt.Config.UsePackingStreams,
			BufferSize:        opt.Config.PackingBufferSize,
			ComputeChecksum:   opt.Config.ComputeChecksum,
			Logger:            opt.Logger,
		})
	}
}

// Factory builds resources for WebDAV paths.
type Factory struct {
	config   *config.WebDavConfig
	resolver *PathResolver
	locks    api.LockManager
	content  *ContentService
	logger   *zap.Logger
}

func NewFactory(opt *Options) (*Factory, error) {
	if opt == nil {
		opt = &Options{}
	}
	opt.init()
	if opt.Config == nil {
		return nil, api.NewError(api.ConfigurationErrorCode).WithMessage("missing webdav config")
	}
	if opt.Locks == nil {
		return nil, api.NewError(api.ConfigurationErrorCode).WithMessage("missing lock manager")
	}
	return &Factory{
		config:   opt.Config,
		resolver: NewPathResolver(opt.Config),
		locks:    opt.Locks,
		content:  opt.Content,
		logger:   opt.Logger,
	}, nil
}

func (f *Factory) Resolver() *PathResolver { return f.resolver }
func (f *Factory) Content() *ContentService { return f.content }
func (f *Factory) Config() *config.WebDavConfig { return f.config }

// StripContext removes the configured context path from url.
func (f *Factory) StripContext(url string) string {
	cp := strings.TrimSuffix(f.config.ContextPath, "/")
	if cp == "" {
		return url
	}
	if url == cp {
		return "/"
	}
	if strings.HasPrefix(url, cp+"/") {
		return url[len(cp):]
	}
	return url
}

// ResolvePath returns the grid path of url without checking that it exists.
func (f *Factory) ResolvePath(ctx context.Context, url string) (string, error) {
	return f.resolver.Resolve(ctx, f.StripContext(url))
}

// Resolve returns the resource at url. A missing entry fails with
// NotFoundErrorCode.
func (f *Factory) Resolve(ctx context.Context, host, url string) (Resource, error) {
	p, err := f.ResolvePath(ctx, url)
	if err != nil {
		return nil, err
	}
	return f.ResolveGridPath(ctx, host, p)
}

// ResolveGridPath builds the resource for an absolute grid path.
func (f *Factory) ResolveGridPath(ctx context.Context, host, p string) (Resource, error) {
	sess, err := api.ContextGetSession(ctx)
	if err != nil {
		return nil, err
	}
	fi, err := sess.Stat(ctx, p)
	if err != nil {
		if !api.IsErrorCode(err, api.NotFoundErrorCode) {
			f.logger.Error("error resolving file", zap.String("path", p), zap.Error(err))
		}
		return nil, err
	}
	return f.newResource(host, fi.IsDir, p, nil), nil
}

func (f *Factory) newResource(host string, isDir bool, p string, entry *api.ListingEntry) Resource {
	b := base{factory: f, host: host, path: p, entry: entry, ssoPrefix: f.config.SSOPrefix}
	if isDir {
		return &Collection{base: b}
	}
	return &Object{base: b}
}

// Href returns the URL path of the resource, context path included.
func (f *Factory) Href(ctx context.Context, r Resource) (string, error) {
	return f.HrefOf(ctx, r.GridPath())
}

// HrefOf returns the URL path under which gridPath is reachable.
func (f *Factory) HrefOf(ctx context.Context, gridPath string) (string, error) {
	rel, err := f.resolver.Relative(ctx, gridPath)
	if err != nil {
		return "", err
	}
	cp := strings.TrimSuffix(f.config.ContextPath, "/")
	if rel == "/" && cp != "" {
		return cp + "/", nil
	}
	return cp + rel, nil
}
