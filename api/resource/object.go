package resource

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/cernbox/griddav/api"
	"go.uber.org/zap"
)

const defaultContentType = "application/octet-stream"

// Object is a grid data object.
type Object struct {
	base
	checksum string
}

var (
	_ Getter   = (*Object)(nil)
	_ Replacer = (*Object)(nil)
	_ Deleter  = (*Object)(nil)
	_ Mover    = (*Object)(nil)
	_ Copier   = (*Object)(nil)
	_ Locker   = (*Object)(nil)
)

// Checksum is the base64 SHA-256 digest of the last content written through
// this resource, empty when none was computed.
func (o *Object) Checksum() string { return o.checksum }

func (o *Object) ContentLength(ctx context.Context) (int64, error) {
	fi, err := o.info(ctx)
	if err != nil {
		return 0, err
	}
	return fi.Size, nil
}

// ContentType guesses the type from the file extension and checks it
// against the Accept header. Types the client does not accept fall back to
// application/octet-stream.
func (o *Object) ContentType(accepts string) string {
	ct := mime.TypeByExtension(path.Ext(o.path))
	if ct == "" {
		return defaultContentType
	}
	if accepts == "" || acceptable(ct, accepts) {
		return ct
	}
	return defaultContentType
}

func acceptable(ct, accepts string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	major := strings.SplitN(mt, "/", 2)[0]
	for _, a := range strings.Split(accepts, ",") {
		a = strings.TrimSpace(a)
		if i := strings.Index(a, ";"); i >= 0 {
			a = strings.TrimSpace(a[:i])
		}
		switch a {
		case mt, major + "/*", "*/*":
			return true
		}
	}
	return false
}

// SendContent writes the content, or the requested range of it, to w.
func (o *Object) SendContent(ctx context.Context, w io.Writer, rng *Range, contentType string) error {
	in, err := o.content().GetFileContent(ctx, o.path)
	if err != nil {
		return err
	}
	defer in.Close()

	if rng != nil {
		err = CopyRange(w, in, rng)
	} else {
		_, err = io.Copy(w, in)
	}
	if err != nil {
		o.logger().Error("error sending content", zap.String("path", o.path), zap.Error(err))
		return api.Wrap(err, api.TransportErrorCode, "send content")
	}
	return nil
}

// ReplaceContent overwrites the content. A failed upload keeps the previous
// content.
func (o *Object) ReplaceContent(ctx context.Context, in io.Reader, length int64) error {
	digest, err := o.content().SetFileContent(ctx, o.path, in, length)
	if err != nil {
		return uploadError(err)
	}
	o.checksum = digest
	o.entry = nil
	return nil
}

// uploadError classifies a failed upload. Stream failures are reported as
// bad requests since they are most likely caused by the client.
func uploadError(err error) error {
	switch api.GetErrorCode(err) {
	case api.FileSizeExceedsMaximumErrorCode, api.NoActiveSessionErrorCode, api.NotFoundErrorCode,
		api.PathResolutionErrorCode, api.InvalidArgumentErrorCode:
		return err
	}
	return api.NewError(api.BadRequestErrorCode).WithMessage(err.Error())
}
