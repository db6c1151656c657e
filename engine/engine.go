// Package engine streams the body of a fetched URL straight to a file on
// disk without buffering the whole payload in memory. A Session owns one
// download attempt: it acquires the byte stream lazily, validates the
// destination, then drains the stream chunk by chunk with optional digest
// accumulation and progress reporting.
package engine

import (
	"context"
	"crypto/sha256"
	"hash"
	"io"
	"os"
	"path/filepath"

	spoolhttp "github.com/spool-dl/spool/fetchers/http"
	"github.com/spool-dl/spool/utils"
)

// ChunkSize is the fixed read size of the copy loop.
const ChunkSize = 8 * 1024

// Fetcher resolves a URL into a readable byte stream plus the advertised
// content length, or -1 when the length is unknown. Implementations must
// fail on non-success transport statuses before returning a stream.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// ProgressFunc receives the cumulative number of bytes written so far. It
// runs synchronously inside the copy loop, so it must not block for long.
type ProgressFunc func(downloaded int64)

// Session is one download attempt bound to a single URL and destination.
// It is not safe for concurrent use; run independent sessions for
// concurrent downloads.
type Session struct {
	url      string
	dir      string
	filename string
	fetcher  Fetcher

	body          io.ReadCloser
	contentLength int64
	fetched       bool
	consumed      bool
}

type Option func(*Session)

// WithFetcher replaces the default HTTP fetcher, e.g. with the s3 fetcher
// or a test double.
func WithFetcher(f Fetcher) Option {
	return func(s *Session) {
		s.fetcher = f
	}
}

// NewSession builds a session for url that will write dir/filename. The
// destination is not touched until Download runs.
func NewSession(url string, dir string, filename string, opts ...Option) *Session {
	s := &Session{
		url:           url,
		dir:           dir,
		filename:      filename,
		contentLength: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetcher == nil {
		s.fetcher = spoolhttp.NewFetcher(nil, "", nil)
	}
	return s
}

// URL returns the source URL the session was built with.
func (s *Session) URL() string { return s.url }

// TargetPath returns the destination file path (dir joined with filename).
func (s *Session) TargetPath() string { return filepath.Join(s.dir, s.filename) }

// Fetch acquires the byte stream now instead of on the first Download,
// letting callers inspect ContentLength before committing to disk work.
// It is a no-op when the stream is already held. Transport failures are
// surfaced opaquely (KindOther) with the underlying error preserved for
// inspection.
func (s *Session) Fetch(ctx context.Context) error {
	if s.consumed {
		return &Error{Kind: KindIO, Path: s.url, Err: ErrStreamConsumed}
	}
	if s.fetched {
		return nil
	}
	body, length, err := s.fetcher.Fetch(ctx, s.url)
	if err != nil {
		return &Error{Kind: KindOther, Path: s.url, Err: err}
	}
	s.body = body
	if length >= 0 {
		s.contentLength = length
	}
	s.fetched = true
	return nil
}

// ContentLength returns the length advertised by the transport, with
// ok=false before the stream is acquired or when the server did not send
// a parsable value. The value is advisory only and never verified against
// the bytes actually transferred.
func (s *Session) ContentLength() (int64, bool) {
	return s.contentLength, s.contentLength >= 0
}

// Download drains the stream into the destination file. progress may be
// nil. See run for the pre-flight checks and loop semantics.
func (s *Session) Download(ctx context.Context, progress ProgressFunc) error {
	_, err := s.run(ctx, progress, nil)
	return err
}

// DownloadSHA256 behaves like Download and additionally returns the
// SHA-256 digest of exactly the bytes written, in stream order.
func (s *Session) DownloadSHA256(ctx context.Context, progress ProgressFunc) ([]byte, error) {
	return s.run(ctx, progress, sha256.New())
}

// run is the single copy loop shared by both download variants; digest and
// progress are independently optional per-chunk hooks.
//
// Pre-flight order: lazy fetch, no-clobber check, directory check,
// exclusive create. A failure at any of these leaves no new file on disk.
// Mid-transfer failures abort immediately and may leave a truncated file;
// no cleanup or rollback is attempted.
func (s *Session) run(ctx context.Context, progress ProgressFunc, digest hash.Hash) ([]byte, error) {
	log := utils.GetLogger("engine")
	if s.consumed {
		return nil, &Error{Kind: KindIO, Path: s.url, Err: ErrStreamConsumed}
	}
	if !s.fetched {
		// The fetcher's specific error is deliberately collapsed into the
		// single invalid-response signal here.
		if err := s.Fetch(ctx); err != nil {
			log.Debug().Str("url", s.url).Err(err).Msg("Stream acquisition failed")
			return nil, &Error{Kind: KindInvalidResponse, Path: s.url}
		}
	}

	target := s.TargetPath()
	if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() {
		return nil, &Error{Kind: KindFileExists, Path: target}
	}
	if info, err := os.Stat(s.dir); err != nil || !info.IsDir() {
		return nil, &Error{Kind: KindDirectoryMissing, Path: s.dir}
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, Classify(err, target)
	}
	defer out.Close()

	// The copy loop starts here: the stream handle is consumed and the
	// session cannot run a second attempt.
	body := s.body
	s.body = nil
	s.consumed = true
	defer body.Close()

	buf := make([]byte, ChunkSize)
	var total int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return nil, Classify(writeErr, target)
			}
			total += int64(n)
			if digest != nil {
				digest.Write(buf[:n])
			}
			if progress != nil {
				progress(total)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return nil, Classify(readErr, s.url)
		}
	}
	log.Debug().Str("file", target).Int64("totalDownloaded", total).Msg("Download completed")
	if digest != nil {
		return digest.Sum(nil), nil
	}
	return nil, nil
}
