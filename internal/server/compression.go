package server

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Editor round trips are latency bound; the shell and previews are small.
const gzipLevel = gzip.BestSpeed

var gzipPool = sync.Pool{
	New: func() any {
		gz, _ := gzip.NewWriterLevel(io.Discard, gzipLevel)
		return gz
	},
}

// gzipWriter decides on the first header write whether the body is
// compressed. Bodiless statuses go out as is.
type gzipWriter struct {
	http.ResponseWriter
	gz      *gzip.Writer
	started bool
	encode  bool
}

func (w *gzipWriter) WriteHeader(status int) {
	if w.started {
		return
	}
	w.started = true

	h := w.ResponseWriter.Header()
	h.Add("Vary", "Accept-Encoding")
	if status != http.StatusNoContent && status != http.StatusNotModified && h.Get("Content-Encoding") == "" {
		w.encode = true
		h.Set("Content-Encoding", "gzip")
		h.Del("Content-Length")
		w.gz.Reset(w.ResponseWriter)
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *gzipWriter) Write(b []byte) (int, error) {
	if !w.started {
		w.WriteHeader(http.StatusOK)
	}
	if !w.encode {
		return w.ResponseWriter.Write(b)
	}
	return w.gz.Write(b)
}

func (w *gzipWriter) finish() {
	if w.encode {
		_ = w.gz.Close()
	}
	w.gz.Reset(io.Discard)
	gzipPool.Put(w.gz)
}

func acceptsGzip(r *http.Request) bool {
	if r.Method == http.MethodHead {
		return false
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") || r.URL.Path == "/metrics" {
		return false
	}
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

// WithCompression gzips responses for clients that ask for it. Websocket
// upgrades and metric scrapes are passed through.
func WithCompression(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !acceptsGzip(r) {
			next.ServeHTTP(w, r)
			return
		}
		gw := &gzipWriter{ResponseWriter: w, gz: gzipPool.Get().(*gzip.Writer)}
		defer gw.finish()
		next.ServeHTTP(gw, r)
	})
}
