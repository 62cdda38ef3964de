package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router thin wrapper over http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler registers a plain http.Handler, e.g. the metrics exporter
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// getOnly rejects everything but GET/HEAD
func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// RegisterStatusRoutes controller status and learned patterns
func (r *Router) RegisterStatusRoutes(s *StatusHandler) {
	r.Handle("/status", getOnly(s.Status))
	r.Handle("/patterns/occupancy", getOnly(s.OccupancyPatterns))
	r.Handle("/patterns/sleep", getOnly(s.SleepPatterns))
}

func (r *Router) RegisterHealthRoutes(h *HealthHandler) {
	r.Handle("/health", getOnly(h.HealthCheck))
	r.Handle("/healthz", getOnly(h.HealthCheck))
}

func (r *Router) RegisterMetrics(h http.Handler) {
	r.HandleHandler("/metrics", h)
}
