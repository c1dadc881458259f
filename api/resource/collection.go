package resource

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"path"

	"github.com/cernbox/griddav/api"
	"go.uber.org/zap"
)

// Collection is a grid collection.
type Collection struct {
	base
}

var (
	_ CollectionResource = (*Collection)(nil)
	_ Getter             = (*Collection)(nil)
	_ Deleter            = (*Collection)(nil)
	_ Mover              = (*Collection)(nil)
	_ Copier             = (*Collection)(nil)
	_ Locker             = (*Collection)(nil)
)

func (c *Collection) Child(ctx context.Context, name string) (Resource, error) {
	sess, err := api.ContextGetSession(ctx)
	if err != nil {
		return nil, err
	}
	p, err := sess.Join(c.path, name)
	if err != nil {
		return nil, api.NewError(api.PathResolutionErrorCode).WithMessage(err.Error())
	}
	return c.factory.ResolveGridPath(ctx, c.host, p)
}

// ListChildren returns the children of the collection. With cached
// demographics every child carries the snapshot of the listing.
func (c *Collection) ListChildren(ctx context.Context) ([]Resource, error) {
	if c.factory.config.CacheFileDemographics {
		return c.listChildrenCached(ctx)
	}
	return c.listChildren(ctx)
}

func (c *Collection) listChildren(ctx context.Context) ([]Resource, error) {
	sess, err := api.ContextGetSession(ctx)
	if err != nil {
		return nil, err
	}
	paths, err := sess.List(ctx, c.path)
	if err != nil {
		return nil, api.Wrap(err, api.TransportErrorCode, "list")
	}
	children := make([]Resource, 0, len(paths))
	for _, p := range paths {
		child, err := c.factory.ResolveGridPath(ctx, c.host, p)
		if err != nil {
			c.logger().Error("could not resolve child, skipping", zap.String("path", p), zap.Error(err))
			continue
		}
		children = append(children, child)
	}
	return children, nil
}

type pageFunc func(ctx context.Context, p string, offset int) ([]*api.ListingEntry, error)

func (c *Collection) listChildrenCached(ctx context.Context) ([]Resource, error) {
	sess, err := api.ContextGetSession(ctx)
	if err != nil {
		return nil, err
	}
	children := []Resource{}
	// collections first, then data objects
	for _, kind := range []struct {
		isDir bool
		page  pageFunc
	}{
		{true, sess.ListCollections},
		{false, sess.ListDataObjects},
	} {
		count := 0
		for more := true; more; {
			c.logger().Debug("querying children", zap.String("parent", c.path), zap.Bool("collections", kind.isDir), zap.Int("offset", count))
			entries, err := kind.page(ctx, c.path, count)
			if err != nil {
				return nil, api.Wrap(err, api.TransportErrorCode, "list page")
			}
			if len(entries) == 0 {
				break
			}
			for _, e := range entries {
				children = append(children, c.factory.newResource(c.host, kind.isDir, e.Path, e))
				if e.LastResult {
					more = false
				}
				count = e.Count
			}
		}
	}
	return children, nil
}

func (c *Collection) CreateCollection(ctx context.Context, name string) (*Collection, error) {
	sess, err := api.ContextGetSession(ctx)
	if err != nil {
		return nil, err
	}
	p, err := sess.Join(c.path, name)
	if err != nil {
		return nil, api.NewError(api.PathResolutionErrorCode).WithMessage(err.Error())
	}
	c.logger().Info("create collection", zap.String("path", p))
	if err := sess.Mkdir(ctx, p); err != nil {
		return nil, api.NewError(api.DirectoryCreationErrorCode).WithMessage(fmt.Sprintf("%s: %s", p, err.Error()))
	}
	return &Collection{base: base{factory: c.factory, host: c.host, path: p, ssoPrefix: c.ssoPrefix}}, nil
}

func (c *Collection) CreateNew(ctx context.Context, name string, in io.Reader, length int64, contentType string) (Resource, error) {
	sess, err := api.ContextGetSession(ctx)
	if err != nil {
		return nil, err
	}
	p, err := sess.Join(c.path, name)
	if err != nil {
		return nil, api.NewError(api.PathResolutionErrorCode).WithMessage(err.Error())
	}
	c.logger().Info("create data object", zap.String("path", p), zap.Int64("length", length), zap.String("content_type", contentType))
	digest, err := c.content().SetFileContent(ctx, p, in, length)
	if err != nil {
		return nil, uploadError(err)
	}
	r, err := c.factory.ResolveGridPath(ctx, c.host, p)
	if err != nil {
		return nil, err
	}
	if o, ok := r.(*Object); ok {
		o.checksum = digest
	}
	return r, nil
}

func (c *Collection) ContentType(accepts string) string {
	return "text/html; charset=utf-8"
}

// ContentLength is unknown for generated listings.
func (c *Collection) ContentLength(ctx context.Context) (int64, error) {
	return -1, nil
}

var listingTemplate = template.Must(template.New("listing").Parse(`<html>
<head><title>{{.Path}}</title></head>
<body>
<h1>{{.Path}}</h1>
<table>
<tr><th>Name</th><th>Size</th><th>Modified</th></tr>
{{range .Rows}}<tr><td><a href="{{.Href}}">{{.Name}}</a></td><td>{{.Size}}</td><td>{{.Modified}}</td></tr>
{{end}}</table>
</body>
</html>
`))

type listingRow struct {
	Href     string
	Name     string
	Size     string
	Modified string
}

// SendContent renders an HTML listing of the children.
func (c *Collection) SendContent(ctx context.Context, w io.Writer, rng *Range, contentType string) error {
	if !c.factory.config.AllowDirectoryBrowsing {
		_, err := io.WriteString(w, "<html><body>Directory browsing is disabled</body></html>\n")
		return err
	}
	children, err := c.ListChildren(ctx)
	if err != nil {
		return err
	}
	rows := make([]listingRow, 0, len(children))
	for _, child := range children {
		href, err := c.factory.Href(ctx, child)
		if err != nil {
			return err
		}
		row := listingRow{Href: path.Join("/", c.ssoPrefix, href), Name: child.Name()}
		if _, ok := child.(*Collection); ok {
			row.Href += "/"
			row.Name += "/"
		} else if g, ok := child.(Getter); ok {
			if n, err := g.ContentLength(ctx); err == nil {
				row.Size = fmt.Sprintf("%d", n)
			}
		}
		if mt, err := child.ModTime(ctx); err == nil {
			row.Modified = mt.UTC().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, row)
	}
	return listingTemplate.Execute(w, struct {
		Path string
		Rows []listingRow
	}{c.path, rows})
}
