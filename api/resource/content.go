package resource

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"io"
	"io/ioutil"

	"github.com/cernbox/griddav/api"
	"go.uber.org/zap"
)

type ContentOptions struct {
	// MaxUploadBytes and MaxDownloadBytes are the size ceilings, 0
	// disables them.
	MaxUploadBytes   int64
	MaxDownloadBytes int64

	// UsePackingStreams buffers grid streams with BufferSize bytes.
	UsePackingStreams bool
	BufferSize        int

	// ComputeChecksum makes uploads return a SHA-256 digest.
	ComputeChecksum bool

	Logger *zap.Logger
}

func (opt *ContentOptions) init() {
	if opt.Logger == nil {
		opt.Logger, _ = zap.NewProduction()
	}
	if opt.BufferSize <= 0 {
		opt.BufferSize = 4 * 1024 * 1024
	}
}

// ContentService moves bytes between HTTP bodies and grid streams.
type ContentService struct {
	maxUpload   int64
	maxDownload int64
	packing     bool
	bufferSize  int
	checksum    bool
	logger      *zap.Logger
}

func NewContentService(opt *ContentOptions) *ContentService {
	if opt == nil {
		opt = &ContentOptions{}
	}
	opt.init()
	return &ContentService{
		maxUpload:   opt.MaxUploadBytes,
		maxDownload: opt.MaxDownloadBytes,
		packing:     opt.UsePackingStreams,
		bufferSize:  opt.BufferSize,
		checksum:    opt.ComputeChecksum,
		logger:      opt.Logger,
	}
}

type packedReader struct {
	*bufio.Reader
	io.Closer
}

// GetFileContent opens the data object at p for reading. The caller must
// close the returned stream.
func (cs *ContentService) GetFileContent(ctx context.Context, p string) (io.ReadCloser, error) {
	sess, err := api.ContextGetSession(ctx)
	if err != nil {
		return nil, err
	}
	fi, err := sess.Stat(ctx, p)
	if err != nil {
		if api.IsErrorCode(err, api.NotFoundErrorCode) {
			cs.logger.Error("did not find file", zap.String("path", p))
		}
		return nil, err
	}
	if fi.IsDir {
		return nil, api.NewError(api.InvalidArgumentErrorCode).WithMessage(fmt.Sprintf("%s is a collection", p))
	}
	if cs.maxDownload > 0 && fi.Size > cs.maxDownload {
		return nil, api.NewError(api.FileSizeExceedsMaximumErrorCode).WithMessage(fmt.Sprintf("%s has %d bytes, download limit is %d", p, fi.Size, cs.maxDownload))
	}

	r, err := sess.Reader(ctx, p)
	if err != nil {
		return nil, err
	}
	if cs.packing {
		return &packedReader{Reader: bufio.NewReaderSize(r, cs.bufferSize), Closer: r}, nil
	}
	return r, nil
}

// SetFileContent overwrites the data object at p with in, creating it when
// missing. length is the announced size, negative when unknown. The bytes
// are staged in a hidden sibling and only replace p once fully written, so
// a failed upload leaves p as it was. The returned digest is empty unless
// checksums are enabled.
func (cs *ContentService) SetFileContent(ctx context.Context, p string, in io.Reader, length int64) (string, error) {
	if in == nil {
		return "", api.NewError(api.InvalidArgumentErrorCode).WithMessage("nil input stream")
	}
	if cs.maxUpload > 0 && length > cs.maxUpload {
		return "", api.NewError(api.FileSizeExceedsMaximumErrorCode).WithMessage(fmt.Sprintf("upload of %d bytes exceeds limit of %d", length, cs.maxUpload))
	}
	sess, err := api.ContextGetSession(ctx)
	if err != nil {
		return "", err
	}

	if fi, err := sess.Stat(ctx, p); err == nil && fi.IsDir {
		return "", api.NewError(api.InvalidArgumentErrorCode).WithMessage(fmt.Sprintf("%s is a collection", p))
	}

	tmp, err := stagingPath(sess, p, "upload")
	if err != nil {
		return "", err
	}
	digest, err := cs.write(ctx, sess, tmp, in)
	if err == nil {
		err = cs.install(ctx, sess, tmp, p)
	}
	if err != nil {
		if _, serr := sess.Stat(ctx, tmp); serr == nil {
			if derr := sess.Delete(ctx, tmp); derr != nil {
				cs.logger.Warn("error removing staged upload", zap.String("path", tmp), zap.Error(derr))
			}
		}
		return "", err
	}
	return digest, nil
}

// write streams in to a new data object at p.
func (cs *ContentService) write(ctx context.Context, sess api.GridSession, p string, in io.Reader) (string, error) {
	w, err := sess.Writer(ctx, p)
	if err != nil {
		return "", err
	}
	defer w.Close()

	src := in
	if cs.maxUpload > 0 {
		src = &ceilingReader{r: in, remaining: cs.maxUpload}
	}

	var dst io.Writer = w
	var packed *bufio.Writer
	if cs.packing {
		packed = bufio.NewWriterSize(w, cs.bufferSize)
		dst = packed
	}

	var h hash.Hash
	if cs.checksum {
		h = sha256.New()
		dst = io.MultiWriter(dst, h)
	}

	n, err := io.Copy(dst, src)
	if err != nil {
		cs.logger.Error("error streaming to file", zap.String("path", p), zap.Int64("written", n), zap.Error(err))
		return "", err
	}
	if packed != nil {
		if err := packed.Flush(); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	cs.logger.Debug("file content staged", zap.String("path", p), zap.Int64("bytes", n))

	if h == nil {
		return "", nil
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// install moves the staged object tmp to p. An existing object at p is set
// aside first and restored if the move fails.
func (cs *ContentService) install(ctx context.Context, sess api.GridSession, tmp, p string) error {
	var aside *Aside
	if _, err := sess.Stat(ctx, p); err == nil {
		if aside, err = setAside(ctx, sess, p, cs.logger); err != nil {
			return err
		}
	} else if !api.IsErrorCode(err, api.NotFoundErrorCode) {
		return err
	}

	if err := sess.Move(ctx, tmp, p); err != nil {
		if aside != nil {
			aside.Restore(ctx)
		}
		return err
	}
	if aside != nil {
		aside.Discard(ctx)
	}
	return nil
}

// ceilingReader fails once more than remaining bytes were read.
type ceilingReader struct {
	r         io.Reader
	remaining int64
}

func (c *ceilingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, api.NewError(api.FileSizeExceedsMaximumErrorCode).WithMessage("upload exceeds size limit")
	}
	return n, err
}

// Range is an inclusive byte range. End is -1 for an open range.
type Range struct {
	Start int64
	End   int64
}

func (r *Range) String() string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// CopyRange writes the bytes of rng from in to w. Streams that can seek skip
// the leading bytes, the others read and discard them.
func CopyRange(w io.Writer, in io.Reader, rng *Range) error {
	if rng.Start > 0 {
		if s, ok := in.(io.Seeker); ok {
			if _, err := s.Seek(rng.Start, io.SeekStart); err != nil {
				return err
			}
		} else if _, err := io.CopyN(ioutil.Discard, in, rng.Start); err != nil {
			return err
		}
	}
	if rng.End < 0 {
		_, err := io.Copy(w, in)
		return err
	}
	_, err := io.CopyN(w, in, rng.End-rng.Start+1)
	if err == io.EOF {
		return nil
	}
	return err
}
