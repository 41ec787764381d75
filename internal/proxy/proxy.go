// Package proxy serves the transit authority's static and stop monitoring
// endpoints through a read-through cache.
package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/go-chi/chi/v5"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"pysakki/internal/metrics"
)

var logger = loggo.GetLogger("pysakki.proxy")

// IDParam is the route parameter substituted into upstream templates.
const IDParam = "id"

// Endpoint maps one route onto an upstream URL.
type Endpoint struct {
	// Name labels cache keys and metrics.
	Name string
	// Pattern is the chi route pattern, relative to the mount point.
	Pattern string
	// Upstream is the upstream URL. "{id}" is replaced by the escaped
	// route parameter.
	Upstream string
	TTL      time.Duration
}

// DefaultEndpoints returns the Föli API routes. Listings and schedules
// change rarely and use long; live stop monitoring uses short.
func DefaultEndpoints(long, short time.Duration) []Endpoint {
	return []Endpoint{
		{Name: "stops", Pattern: "/stops", Upstream: "http://data.foli.fi/gtfs/stops", TTL: long},
		{Name: "stop", Pattern: "/stops/{id}", Upstream: "https://data.foli.fi/siri/sm/{id}", TTL: short},
		{Name: "stoptimes", Pattern: "/stops/{id}/times", Upstream: "https://data.foli.fi/gtfs/stop_times/stop/{id}", TTL: long},
		{Name: "routes", Pattern: "/routes", Upstream: "https://data.foli.fi/gtfs/routes", TTL: long},
		{Name: "trip", Pattern: "/trips/trip/{id}", Upstream: "http://data.foli.fi/gtfs/trips/trip/{id}", TTL: long},
		{Name: "shape", Pattern: "/shapes/{id}", Upstream: "https://data.foli.fi/gtfs/shapes/{id}", TTL: long},
	}
}

// Config configures a Proxy.
type Config struct {
	Endpoints []Endpoint
	// CacheSize bounds the number of cached bodies.
	CacheSize int
	Header    http.Header
	Timeout   time.Duration
	Metrics   *metrics.Metrics
	Clock     clock.Clock
}

// Proxy is a read-through cache in front of the upstream API.
type Proxy struct {
	endpoints  []Endpoint
	cache      gcache.Cache
	header     http.Header
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// New returns a proxy for cfg.Endpoints.
func New(cfg Config) (*Proxy, error) {
	if cfg.CacheSize <= 0 {
		return nil, errors.NotValidf("cache size %d", cfg.CacheSize)
	}
	for _, ep := range cfg.Endpoints {
		if ep.Name == "" || ep.Upstream == "" {
			return nil, errors.NotValidf("endpoint %q", ep.Pattern)
		}
		if ep.TTL <= 0 {
			return nil, errors.NotValidf("endpoint %s ttl %v", ep.Name, ep.TTL)
		}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Proxy{
		endpoints:  cfg.Endpoints,
		cache:      gcache.New(cfg.CacheSize).LRU().Clock(clk).Build(),
		header:     cfg.Header.Clone(),
		httpClient: &http.Client{Timeout: timeout},
		metrics:    cfg.Metrics,
	}, nil
}

// Mount registers every endpoint on r. Each pattern also answers with a
// trailing slash.
func (p *Proxy) Mount(r chi.Router) {
	for _, ep := range p.endpoints {
		h := p.Handler(ep)
		r.Get(ep.Pattern, h)
		r.Get(ep.Pattern+"/", h)
	}
}

// Handler serves ep from the cache, fetching on a miss. Any upstream
// failure answers 500 and caches nothing.
func (p *Proxy) Handler(ep Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, IDParam)
		key := ep.Name
		if id != "" {
			key += "-" + id
		}

		if v, err := p.cache.Get(key); err == nil {
			p.metrics.CacheLookup(ep.Name, metrics.CacheHit)
			writeJSON(w, v.(json.RawMessage))
			return
		}

		body, err := p.fetch(r.Context(), upstreamURL(ep.Upstream, id))
		if err != nil {
			p.metrics.CacheLookup(ep.Name, metrics.CacheError)
			logger.Warningf("%s: %v", ep.Name, err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		p.metrics.CacheLookup(ep.Name, metrics.CacheMiss)
		if err := p.cache.SetWithExpire(key, body, ep.TTL); err != nil {
			logger.Warningf("caching %s: %v", key, err)
		}
		writeJSON(w, body)
	}
}

func upstreamURL(template, id string) string {
	return strings.ReplaceAll(template, "{"+IDParam+"}", url.PathEscape(id))
}

func (p *Proxy) fetch(ctx context.Context, u string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for k, vs := range p.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Annotatef(err, "fetching %s", u)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetching %s: http status %d", u, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Annotatef(err, "reading %s", u)
	}
	if !json.Valid(body) {
		return nil, errors.NotValidf("response from %s", u)
	}
	return json.RawMessage(body), nil
}

func writeJSON(w http.ResponseWriter, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
