package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	mrand "math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	spoolhttp "github.com/spool-dl/spool/fetchers/http"
)

// chunkedReader yields the fixture in bounded chunks so tests can exercise
// read boundaries both aligned and misaligned with the engine's buffer.
type chunkedReader struct {
	data  []byte
	chunk int
	off   int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := r.chunk
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.data)-r.off {
		n = len(r.data) - r.off
	}
	copy(p, r.data[r.off:r.off+n])
	r.off += n
	return n, nil
}

type fakeFetcher struct {
	data      []byte
	chunkSize int
	length    int64
	err       error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	if f.err != nil {
		return nil, -1, f.err
	}
	return io.NopCloser(&chunkedReader{data: f.data, chunk: f.chunkSize}), f.length, nil
}

func fixture(size int) []byte {
	data := make([]byte, size)
	mrand.New(mrand.NewSource(42)).Read(data)
	return data
}

func TestDownloadRefusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(target, []byte("precious"), 0644))

	session := NewSession("http://example.com/out.bin", dir, "out.bin",
		WithFetcher(&fakeFetcher{data: []byte("new content"), chunkSize: 4, length: 11}))
	err := session.Download(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindFileExists))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, []byte("precious"), got, "existing file must not be modified")
}

func TestDownloadMissingDirectory(t *testing.T) {
	base := t.TempDir()
	notThere := filepath.Join(base, "missing")

	session := NewSession("http://example.com/a", notThere, "a.bin",
		WithFetcher(&fakeFetcher{data: fixture(100), chunkSize: 10, length: 100}))
	err := session.Download(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDirectoryMissing))
	_, statErr := os.Stat(filepath.Join(notThere, "a.bin"))
	assert.True(t, os.IsNotExist(statErr), "no output file may be created")
}

func TestDownloadDirectoryIsAFile(t *testing.T) {
	base := t.TempDir()
	fakeDir := filepath.Join(base, "actually-a-file")
	require.NoError(t, os.WriteFile(fakeDir, []byte("x"), 0644))

	session := NewSession("http://example.com/a", fakeDir, "a.bin",
		WithFetcher(&fakeFetcher{data: fixture(100), chunkSize: 10, length: 100}))
	err := session.Download(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDirectoryMissing))
}

func TestByteExactTransfer(t *testing.T) {
	data := fixture(256*1024 + 3)
	for _, chunkSize := range []int{1, 8191, 8192, 20000} {
		t.Run(fmt.Sprintf("chunk-%d", chunkSize), func(t *testing.T) {
			dir := t.TempDir()
			name := fmt.Sprintf("out-%d.bin", chunkSize)
			session := NewSession("http://example.com/big", dir, name,
				WithFetcher(&fakeFetcher{data: data, chunkSize: chunkSize, length: int64(len(data))}))
			require.NoError(t, session.Download(context.Background(), nil))

			got, err := os.ReadFile(filepath.Join(dir, name))
			require.NoError(t, err)
			assert.True(t, bytes.Equal(data, got), "destination bytes must match the stream exactly")
		})
	}
}

func TestDownloadSHA256(t *testing.T) {
	data := fixture(1024*1024 + 17)
	dir := t.TempDir()
	session := NewSession("http://example.com/big", dir, "out.bin",
		WithFetcher(&fakeFetcher{data: data, chunkSize: 20000, length: int64(len(data))}))

	digest, err := session.DownloadSHA256(context.Background(), nil)
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	require.NoError(t, err)
	want := sha256.Sum256(written)
	assert.Equal(t, want[:], digest, "digest must equal the hash of the written file")
	assert.Equal(t, data, written)
}

func TestProgressMonotonic(t *testing.T) {
	data := fixture(100*1024 + 5)
	dir := t.TempDir()
	session := NewSession("http://example.com/big", dir, "out.bin",
		WithFetcher(&fakeFetcher{data: data, chunkSize: 8191, length: int64(len(data))}))

	var reported []int64
	require.NoError(t, session.Download(context.Background(), func(downloaded int64) {
		reported = append(reported, downloaded)
	}))

	require.NotEmpty(t, reported)
	for i := 1; i < len(reported); i++ {
		assert.GreaterOrEqual(t, reported[i], reported[i-1], "progress must never decrease")
	}
	assert.Equal(t, int64(len(data)), reported[len(reported)-1], "final progress must equal total bytes written")
}

func TestUnknownLengthStillDownloads(t *testing.T) {
	data := fixture(50 * 1024)
	dir := t.TempDir()
	session := NewSession("http://example.com/big", dir, "out.bin",
		WithFetcher(&fakeFetcher{data: data, chunkSize: 8192, length: -1}))

	require.NoError(t, session.Fetch(context.Background()))
	_, ok := session.ContentLength()
	assert.False(t, ok, "length must be reported unknown")

	require.NoError(t, session.Download(context.Background(), nil))
	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestContentLengthAdvisory(t *testing.T) {
	dir := t.TempDir()
	session := NewSession("http://example.com/big", dir, "out.bin",
		WithFetcher(&fakeFetcher{data: fixture(64), chunkSize: 8, length: 64}))

	_, ok := session.ContentLength()
	assert.False(t, ok, "length is unknown before the stream is acquired")

	require.NoError(t, session.Fetch(context.Background()))
	length, ok := session.ContentLength()
	assert.True(t, ok)
	assert.Equal(t, int64(64), length)

	// Fetch is idempotent once the stream is held.
	require.NoError(t, session.Fetch(context.Background()))
}

func TestLazyFetchFailureIsInvalidResponse(t *testing.T) {
	dir := t.TempDir()
	session := NewSession("http://example.com/broken", dir, "out.bin",
		WithFetcher(&fakeFetcher{err: errors.New("connection refused")}))

	err := session.Download(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidResponse))
	_, statErr := os.Stat(filepath.Join(dir, "out.bin"))
	assert.True(t, os.IsNotExist(statErr), "no output file may be created")
}

func TestExplicitFetchSurfacesTransportError(t *testing.T) {
	cause := errors.New("unexpected status code: 503")
	session := NewSession("http://example.com/broken", t.TempDir(), "out.bin",
		WithFetcher(&fakeFetcher{err: cause}))

	err := session.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindOther))
	assert.True(t, errors.Is(err, cause), "explicit pre-fetch keeps the transport error inspectable")
}

func TestStreamConsumedExactlyOnce(t *testing.T) {
	data := fixture(1024)
	dir := t.TempDir()
	session := NewSession("http://example.com/big", dir, "out.bin",
		WithFetcher(&fakeFetcher{data: data, chunkSize: 100, length: int64(len(data))}))

	require.NoError(t, session.Download(context.Background(), nil))

	err := session.Download(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStreamConsumed))

	err = session.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStreamConsumed))
}

func TestMidTransferReadFailure(t *testing.T) {
	dir := t.TempDir()
	failing := io.MultiReader(bytes.NewReader(fixture(10000)), &failingReader{})
	session := NewSession("http://example.com/big", dir, "out.bin",
		WithFetcher(&readerFetcher{body: io.NopCloser(failing)}))

	err := session.Download(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIO))
	// A truncated partial file may remain; the engine makes no cleanup promise.
}

type failingReader struct{}

func (r *failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("stream reset")
}

type readerFetcher struct {
	body io.ReadCloser
}

func (f *readerFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	return f.body, -1, nil
}

func TestDownloadFromHTTPServer(t *testing.T) {
	data := fixture(300*1024 + 11)

	t.Run("with content length", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", fmt.Sprint(len(data)))
			w.Write(data)
		}))
		defer srv.Close()

		dir := t.TempDir()
		session := NewSession(srv.URL+"/file.bin", dir, "file.bin",
			WithFetcher(spoolhttp.NewFetcher(srv.Client(), "spool-test", nil)))
		require.NoError(t, session.Fetch(context.Background()))
		length, ok := session.ContentLength()
		require.True(t, ok)
		assert.Equal(t, int64(len(data)), length)

		require.NoError(t, session.Download(context.Background(), nil))
		got, err := os.ReadFile(filepath.Join(dir, "file.bin"))
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("chunked response without content length", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			flusher := w.(http.Flusher)
			for off := 0; off < len(data); off += 10000 {
				end := off + 10000
				if end > len(data) {
					end = len(data)
				}
				w.Write(data[off:end])
				flusher.Flush()
			}
		}))
		defer srv.Close()

		dir := t.TempDir()
		session := NewSession(srv.URL+"/file.bin", dir, "file.bin",
			WithFetcher(spoolhttp.NewFetcher(srv.Client(), "spool-test", nil)))
		require.NoError(t, session.Download(context.Background(), nil))
		got, err := os.ReadFile(filepath.Join(dir, "file.bin"))
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("non-success status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gone", http.StatusNotFound)
		}))
		defer srv.Close()

		dir := t.TempDir()
		session := NewSession(srv.URL+"/file.bin", dir, "file.bin",
			WithFetcher(spoolhttp.NewFetcher(srv.Client(), "spool-test", nil)))
		err := session.Download(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindInvalidResponse))
		_, statErr := os.Stat(filepath.Join(dir, "file.bin"))
		assert.True(t, os.IsNotExist(statErr))
	})
}
