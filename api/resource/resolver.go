package resource

import (
	"context"
	"fmt"
	"strings"

	"github.com/cernbox/griddav/api"
	"github.com/cernbox/griddav/api/config"
)

// PathResolver maps WebDAV paths to grid paths under the starting-location
// policy. It does not collapse ".." segments itself; every segment goes
// through the grid path constructor, which rejects them.
type PathResolver struct {
	config *config.WebDavConfig
}

func NewPathResolver(c *config.WebDavConfig) *PathResolver {
	return &PathResolver{config: c}
}

// BasePath returns the grid path a bare "/" maps to for the identity bound
// to ctx.
func (r *PathResolver) BasePath(ctx context.Context) (string, error) {
	switch r.config.StartingLocation {
	case config.StartingLocationRoot:
		return "/", nil
	case config.StartingLocationUserHome:
		id, err := api.ContextMustGetIdentity(ctx)
		if err != nil {
			return "", err
		}
		return id.HomeCollection(), nil
	case config.StartingLocationProvided:
		if r.config.ProvidedStartingLocation == "" {
			return "", api.NewError(api.ConfigurationErrorCode).WithMessage("provided starting location is empty")
		}
		return r.config.ProvidedStartingLocation, nil
	default:
		return "", api.NewError(api.ConfigurationErrorCode).WithMessage(fmt.Sprintf("unknown starting location %q", r.config.StartingLocation))
	}
}

// Resolve returns the grid path of requested. A path equal to the base path
// is returned as is. A path under the base path is taken relative to it and
// any other path is treated as relative to the base.
func (r *PathResolver) Resolve(ctx context.Context, requested string) (string, error) {
	base, err := r.BasePath(ctx)
	if err != nil {
		return "", err
	}
	if requested == base {
		return base, nil
	}

	sess, err := api.ContextGetSession(ctx)
	if err != nil {
		return "", err
	}

	rel := requested
	if base != "/" && strings.HasPrefix(requested, base+"/") {
		rel = requested[len(base):]
	}

	resolved := base
	for _, segment := range strings.Split(rel, "/") {
		if segment == "" {
			continue
		}
		resolved, err = sess.Join(resolved, segment)
		if err != nil {
			return "", api.NewError(api.PathResolutionErrorCode).WithMessage(fmt.Sprintf("%s: %s", requested, err.Error()))
		}
	}
	return resolved, nil
}

// Relative is the inverse of Resolve: it returns the WebDAV path, without
// context prefix, under which gridPath is reachable.
func (r *PathResolver) Relative(ctx context.Context, gridPath string) (string, error) {
	base, err := r.BasePath(ctx)
	if err != nil {
		return "", err
	}
	switch {
	case base == "/":
		return gridPath, nil
	case gridPath == base:
		return "/", nil
	case strings.HasPrefix(gridPath, base+"/"):
		return gridPath[len(base):], nil
	default:
		return gridPath, nil
	}
}
