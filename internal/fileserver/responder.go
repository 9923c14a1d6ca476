// Package fileserver implements C3 (spec.md §4.3): resolving a filesystem
// path under a configured Root, negotiating range and gzip compression,
// and streaming the body in bounded chunks. Grounded in
// original_source/src/file_server.rs's file_directive, reworked onto
// net/http's ResponseWriter/Request instead of a raw socket + hand-rolled
// http::Response, matching the teacher's choice (internal/proxy) of
// building on net/http rather than a custom wire codec.
package fileserver

import (
	"compress/gzip"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cbltio/cblt/internal/cblterr"
)

// compressionThreshold is spec.md §4.3 step 6's "the resource size is
// below a threshold (e.g. 1 MiB)".
const compressionThreshold = 1 << 20

// Serve resolves requestPath under root (with fallback for SPA-style
// missing files) and writes the file response, honoring Range and
// Accept-Encoding: gzip per spec.md §4.3. It returns a *cblterr.Error on
// any condition that should be reported to the caller as a status code;
// the caller (the connection loop) is responsible for writing that status
// if Serve itself hasn't already written a response.
func Serve(w http.ResponseWriter, r *http.Request, root, fallback string, log *zap.Logger) error {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		return cblterr.New(cblterr.KindMethodNotAllowed, r.Method)
	}

	full, err := resolve(root, r.URL.Path)
	if err != nil {
		return err
	}

	if fi, statErr := os.Stat(full); statErr == nil && fi.IsDir() {
		full = filepath.Join(full, "index.html")
	}

	f, openErr := os.Open(full)
	servedFallback := false
	if openErr != nil {
		if !os.IsNotExist(openErr) {
			return cblterr.Wrap(cblterr.KindIO, "open file", openErr)
		}
		if fallback == "" {
			return cblterr.New(cblterr.KindNotFound, r.URL.Path)
		}
		fallbackFull, ferr := resolve(root, "/"+strings.TrimPrefix(fallback, "/"))
		if ferr != nil {
			return cblterr.New(cblterr.KindNotFound, r.URL.Path)
		}
		f, openErr = os.Open(fallbackFull)
		if openErr != nil {
			return cblterr.New(cblterr.KindNotFound, r.URL.Path)
		}
		full = fallbackFull
		servedFallback = true
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return cblterr.Wrap(cblterr.KindIO, "stat file", err)
	}
	size := info.Size()
	mime := mimeForPath(full)

	w.Header().Set("Date", time.Now().UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Type", mime)

	rangeHeader := r.Header.Get("Range")

	// gzip and range are mutually exclusive (spec.md §9 open-question
	// decision): a Range header disables compression consideration
	// entirely, checked before anything else.
	if rangeHeader == "" && acceptsGzip(r) && size < compressionThreshold && compressible(mime) {
		return serveCompressed(w, r, f, mime)
	}

	if rangeHeader != "" {
		return serveRange(w, r, f, size, rangeHeader)
	}

	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return nil
	}
	if servedFallback && log != nil {
		log.Debug("served spa fallback", zap.String("path", r.URL.Path), zap.String("fallback", fallback))
	}
	return streamAll(w, f)
}

func acceptsGzip(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(enc) == "gzip" {
			return true
		}
	}
	return false
}

func serveRange(w http.ResponseWriter, r *http.Request, f *os.File, size int64, rangeHeader string) error {
	br, err := parseRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		return err
	}

	w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(br.Start, 10)+"-"+strconv.FormatInt(br.End, 10)+"/"+strconv.FormatInt(size, 10))
	w.Header().Set("Content-Length", strconv.FormatInt(br.Len(), 10))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := f.Seek(br.Start, io.SeekStart); err != nil {
		return cblterr.Wrap(cblterr.KindIO, "seek range", err)
	}
	return streamN(w, f, br.Len())
}

// serveCompressed implements spec.md §4.3 step 6: compress in-memory and
// stream with Content-Encoding: gzip, using chunked transfer (no
// predetermined length) since the compressed size isn't known up front.
func serveCompressed(w http.ResponseWriter, r *http.Request, f *os.File, mime string) error {
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return nil
	}

	gz := gzip.NewWriter(w)
	chunk := getChunk()
	defer putChunk(chunk)
	if _, err := io.CopyBuffer(gz, f, chunk); err != nil {
		gz.Close()
		return cblterr.Wrap(cblterr.KindIO, "compress response", err)
	}
	if err := gz.Close(); err != nil {
		return cblterr.Wrap(cblterr.KindIO, "flush compressed response", err)
	}
	return nil
}

func streamAll(w io.Writer, f *os.File) error {
	chunk := getChunk()
	defer putChunk(chunk)
	_, err := io.CopyBuffer(w, f, chunk)
	if err != nil {
		return cblterr.Wrap(cblterr.KindIO, "stream file", err)
	}
	return nil
}

func streamN(w io.Writer, f *os.File, n int64) error {
	chunk := getChunk()
	defer putChunk(chunk)
	_, err := io.CopyBuffer(w, io.LimitReader(f, n), chunk)
	if err != nil {
		return cblterr.Wrap(cblterr.KindIO, "stream range", err)
	}
	return nil
}
