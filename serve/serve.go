// Package serve exposes a zarr store over HTTP so a browser viewer can fetch
// metadata and chunks by key.
package serve

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	zarr "github.com/figpack/zarr-go"
)

// Server answers GET /{key} with the raw bytes stored under key
type Server struct {
	Store zarr.Store

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	bytesOut prometheus.Counter
}

func New(store zarr.Store) *Server {
	s := &Server{
		Store:    store,
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zpyramid_http_requests_total",
			Help: "Store requests by status code and method",
		}, []string{"code", "method"}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zpyramid_http_response_bytes_total",
			Help: "Bytes of store values served",
		}),
	}
	s.registry.MustRegister(s.requests, s.bytesOut)
	return s
}

// Router wires the health, metrics and store endpoints
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	keys := r.PathPrefix("/").Subrouter()
	keys.Use(s.statsMiddleware)
	keys.PathPrefix("/").HandlerFunc(s.keyHandler).Methods(http.MethodGet, http.MethodHead)
	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "store": s.Store.Type()})
}

func (s *Server) keyHandler(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	if key == "" {
		http.NotFound(w, r)
		return
	}

	f, err := s.Store.Get(key)
	if errors.Is(err, zarr.ErrNotfound) {
		http.NotFound(w, r)
		return
	}
	if errors.Is(err, zarr.ErrInvalidKey) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	d, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ct := "application/octet-stream"
	if _, isMeta := zarr.KeyMetaType(key); isMeta || strings.HasSuffix(key, string(zarr.MTMetadata)) {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(d)))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodHead {
		return
	}
	n, _ := w.Write(d)
	s.bytesOut.Add(float64(n))
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) statsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &respWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.requests.WithLabelValues(strconv.Itoa(wrapped.status), r.Method).Inc()
	})
}
