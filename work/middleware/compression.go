package middleware

import (
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"iptv-gateway/work/logger"
)

// gzipWriterPool holds BestSpeed writers shared by every compressed response.
// API answers are small and latency bound, so ratio matters less than speed.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

// compressWriter defers the decision to compress until the handler commits
// its status and headers. Only then is it known whether there is a body at
// all, what type it has, and whether the handler already encoded it.
type compressWriter struct {
	http.ResponseWriter
	gz      *gzip.Writer // nil until a compressed body starts
	decided bool
	path    string
}

// WriteHeader picks plain or gzip for the body that follows and commits the
// status. A gzip writer is only taken from the pool when it will be used.
func (w *compressWriter) WriteHeader(status int) {
	if w.decided {
		return
	}
	w.decided = true

	h := w.ResponseWriter.Header()
	if compressible(status, h) {
		h.Set("Content-Encoding", "gzip")
		h.Del("Content-Length")
		gz := gzipWriterPool.Get().(*gzip.Writer)
		gz.Reset(w.ResponseWriter)
		w.gz = gz
	}
	w.ResponseWriter.WriteHeader(status)
}

// Write sends b through gzip when the body is compressed. A handler that
// never called WriteHeader gets 200 OK, as with the plain ResponseWriter.
func (w *compressWriter) Write(b []byte) (int, error) {
	if !w.decided {
		w.WriteHeader(http.StatusOK)
	}
	if w.gz != nil {
		return w.gz.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// Flush pushes whatever gzip holds, then flushes the connection, so
// incremental responses reach the client in order.
func (w *compressWriter) Flush() {
	if w.gz != nil {
		if err := w.gz.Flush(); err != nil {
			logger.Debug("{middleware/compression - Flush} Failed to flush gzip stream for %s: %v", w.path, err)
		}
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// finish closes the gzip stream, writing its trailer, and returns the writer
// to the pool.
func (w *compressWriter) finish(method string) {
	if w.gz == nil {
		return
	}
	if err := w.gz.Close(); err != nil {
		logger.Error("{middleware/compression - GzipMiddleware} Failed to close gzip writer for %s %s: %v", method, w.path, err)
	}
	gzipWriterPool.Put(w.gz)
	w.gz = nil
}

// compressible reports whether a response with this status and these headers
// carries a textual body worth compressing. Bodiless statuses, bodies the
// handler already encoded and media types are sent as they are.
func compressible(status int, h http.Header) bool {
	if status < http.StatusOK || status == http.StatusNoContent || status == http.StatusNotModified {
		return false
	}
	if h.Get("Content-Encoding") != "" {
		return false
	}

	mediaType, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mediaType, "text/"),
		mediaType == "application/json",
		mediaType == "application/vnd.apple.mpegurl",
		mediaType == "application/x-mpegurl":
		return true
	}
	return false
}

// GzipMiddleware compresses textual responses for clients that send
// Accept-Encoding: gzip. Other clients and HEAD requests get the handler's
// response untouched.
//
// Vary is set up front because the answer depends on the request header even
// when this particular response ends up plain. The pooled writer is returned
// when the handler finishes, including when it never wrote a body.
func GzipMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		if r.Method == http.MethodHead || !acceptsGzip(r.Header.Get("Accept-Encoding")) {
			next(w, r)
			return
		}

		cw := &compressWriter{ResponseWriter: w, path: r.URL.Path}
		defer cw.finish(r.Method)

		next(cw, r)
	}
}

// acceptsGzip checks the Accept-Encoding list for gzip with a non-zero
// quality.
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "gzip") {
			continue
		}
		q := strings.ReplaceAll(strings.TrimSpace(params), " ", "")
		return q != "q=0" && q != "q=0.0" && q != "q=0.00" && q != "q=0.000"
	}
	return false
}
