package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pysakki/internal/config"
	"pysakki/internal/proxy"
	"pysakki/internal/push"
	"pysakki/internal/relay"
	"pysakki/internal/rooms"
	"pysakki/internal/vehicle"
)

// server holds what the HTTP routes read.
type server struct {
	cfg      config.Config
	store    *vehicle.Store
	rooms    *rooms.Registry
	relay    *relay.Relay
	push     *push.Server
	proxy    *proxy.Proxy
	registry *prometheus.Registry
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withLogging)

	// Upgrades need the raw connection, so the socket sits outside
	// compression and CORS.
	r.Handle(s.cfg.SocketPath, s.push)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins(),
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"*"},
		}))

		r.Route("/api", func(r chi.Router) {
			r.Get("/", handleHello)
			r.Get("/health", s.handleHealth)
			r.Get("/vehicles.geojson", s.handleVehicles)
			s.proxy.Mount(r)
		})
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

		if s.cfg.Production {
			logger.Infof("serving frontend from %s", s.cfg.StaticDir)
			r.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
		}
	})
	return r
}

func handleHello(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("Hello world."))
}

type health struct {
	Status      string     `json:"status"`
	Vehicles    int        `json:"vehicles"`
	Subscribers int        `json:"subscribers"`
	Clients     int        `json:"clients"`
	LastPoll    *time.Time `json:"lastPoll"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := health{
		Status:      "ok",
		Vehicles:    s.relay.Vehicles(),
		Subscribers: s.rooms.Subscribers(),
		Clients:     s.push.Clients(),
	}
	if t := s.relay.LastCycle(); !t.IsZero() {
		t = t.UTC()
		h.LastPoll = &t
	}
	writeJSON(w, "application/json", h)
}

func (s *server) handleVehicles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, "application/geo+json", s.store.FeatureCollection())
}

func writeJSON(w http.ResponseWriter, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warningf("writing response: %v", err)
	}
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debugf("%s %s %d %v", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
