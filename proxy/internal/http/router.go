package httpx

import (
	"errors"
	"io"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/minivercel/pkg/blobstore"
	"github.com/splax/minivercel/pkg/build"
	"github.com/splax/minivercel/pkg/health"
)

const notFoundBody = "File not found"

// Check probes one dependency.
type Check = health.Check

// Options tunes artifact lookup.
type Options struct {
	// DefaultProject serves requests whose host is a bare "localhost".
	DefaultProject string
	// StripPrefixes are removed from the front of the request path.
	StripPrefixes []string
}

// Router serves build artifacts by mapping the first host label to a
// project and the request path to a key under that project.
type Router struct {
	store  blobstore.Store
	logger *slog.Logger
	opts   Options

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	bytesServed        prometheus.Counter
}

// New returns the artifact router.
func New(logger *slog.Logger, store blobstore.Store, opts Options) *Router {
	prefixes := make([]string, 0, len(opts.StripPrefixes))
	for _, p := range opts.StripPrefixes {
		if p = strings.Trim(strings.TrimSpace(p), "/"); p != "" {
			prefixes = append(prefixes, "/"+p)
		}
	}
	opts.StripPrefixes = prefixes
	r := &Router{store: store, logger: logger, opts: opts}
	r.initMetrics()
	return r
}

// ServeHTTP answers every method and path.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	outcome := r.serve(w, req)
	r.recordRequest(outcome, time.Since(start))
}

func (r *Router) serve(w http.ResponseWriter, req *http.Request) string {
	projectID, ok := ProjectFromHost(req.Host, r.opts.DefaultProject)
	if !ok {
		r.logger.Debug("unroutable host", "host", req.Host)
		notFound(w)
		return "unroutable"
	}
	key := blobstore.ArtifactKey(projectID, ResolvePath(req.URL.Path, r.opts.StripPrefixes))

	obj, err := r.store.Get(req.Context(), key)
	if err != nil {
		notFound(w)
		if errors.Is(err, blobstore.ErrNotFound) {
			r.logger.Debug("artifact missing", "key", key)
			return "miss"
		}
		r.logger.Warn("artifact lookup failed", "key", key, "error", err)
		return "error"
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = blobstore.DefaultContentType
	}
	headers := w.Header()
	headers.Set("Content-Type", contentType)
	if obj.Size >= 0 {
		headers.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodHead {
		return "hit"
	}
	n, err := io.Copy(w, obj.Body)
	r.recordBytes(n)
	if err != nil {
		r.logger.Warn("artifact stream interrupted", "key", key, "bytes", n, "error", err)
	}
	return "hit"
}

// ProjectFromHost returns the first label of host, port removed. A bare
// localhost maps to defaultProject.
func ProjectFromHost(host, defaultProject string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	label, _, _ := strings.Cut(host, ".")
	if host == "localhost" {
		label = defaultProject
	}
	if build.ValidateProjectID(label) != nil {
		return "", false
	}
	return label, true
}

// ResolvePath maps a request path onto the file it names inside the build
// output. Directory paths resolve to their index.html.
func ResolvePath(p string, stripPrefixes []string) string {
	for _, prefix := range stripPrefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			p = strings.TrimPrefix(p, prefix)
			break
		}
	}
	dir := p == "" || strings.HasSuffix(p, "/")
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	if rel == "" {
		return "index.html"
	}
	if dir {
		return rel + "/index.html"
	}
	return rel
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, notFoundBody)
}

// MetricsHandler serves /metrics and /healthz for the metrics listener.
func MetricsHandler(logger *slog.Logger, checks map[string]Check) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.Handler(logger, checks))
	return mux
}
