package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"pysakki/internal/config"
	"pysakki/internal/feed"
	"pysakki/internal/metrics"
	"pysakki/internal/proxy"
	"pysakki/internal/push"
	"pysakki/internal/relay"
	"pysakki/internal/rooms"
	"pysakki/internal/vehicle"
)

var logger = loggo.GetLogger("pysakki")

var (
	configPath = flag.String("config", "", "YAML configuration file")
	envFile    = flag.String("env", ".env", "dotenv file loaded into the environment")
	httpPort   = flag.Int("port", 0, "HTTP port, overrides configuration")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		logger.Errorf("%v", errors.ErrorStack(err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		return errors.Trace(err)
	}
	if *httpPort != 0 {
		cfg.Port = *httpPort
	}
	if err := loggo.ConfigureLoggers(cfg.Logging); err != nil {
		return errors.Annotate(err, "configuring logging")
	}
	header := cfg.Header()
	if header.Get("User-Agent") == "" {
		logger.Warningf("%s not set; read https://data.foli.fi/doc/linjaukset-en", config.EnvUserAgent)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store := vehicle.NewStore(clock.WallClock)
	registry := rooms.NewRegistry()
	rel := relay.New(relay.Config{
		Store:   store,
		Rooms:   registry,
		Metrics: m,
		Clock:   clock.WallClock,
	})

	src, err := feed.New(cfg.Feed.Format, feed.Params{
		URL:     cfg.Feed.URL,
		Timeout: cfg.Feed.Timeout,
		Header:  header,
	})
	if err != nil {
		return errors.Trace(err)
	}
	prox, err := proxy.New(proxy.Config{
		Endpoints: proxy.DefaultEndpoints(cfg.Proxy.LongTTL, cfg.Proxy.ShortTTL),
		CacheSize: cfg.Proxy.CacheSize,
		Header:    header,
		Timeout:   cfg.Proxy.Timeout,
		Metrics:   m,
	})
	if err != nil {
		return errors.Trace(err)
	}
	pushSrv := push.NewServer(push.Config{
		Handler:        rel,
		Metrics:        m,
		QueueSize:      cfg.Push.QueueSize,
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	s := &server{
		cfg:      cfg,
		store:    store,
		rooms:    registry,
		relay:    rel,
		push:     pushSrv,
		proxy:    prox,
		registry: reg,
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("backend up on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- errors.Annotate(err, "serving http")
		}
		close(serveErr)
	}()

	poller, err := relay.NewPoller(relay.PollerConfig{
		Source:   src,
		Applier:  rel,
		Clock:    clock.WallClock,
		Metrics:  m,
		Interval: cfg.Feed.PollInterval,
		Timeout:  cfg.Feed.Timeout,
	})
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("polling %s (%s) every %v", cfg.Feed.URL, cfg.Feed.Format, cfg.Feed.PollInterval)

	var sweeper *relay.Sweeper
	if cfg.Relay.StaleAfter > 0 {
		if sweeper, err = relay.StartSweeper(rel, cfg.Relay.SweepSchedule, cfg.Relay.StaleAfter); err != nil {
			poller.Kill()
			return errors.Trace(err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	var runErr error
	select {
	case <-ctx.Done():
		logger.Infof("shutdown initiated")
	case err, ok := <-serveErr:
		if ok {
			runErr = err
		}
	}

	poller.Kill()
	if err := poller.Wait(); err != nil {
		logger.Warningf("poller: %v", err)
	}
	if sweeper != nil {
		sweeper.Stop()
	}
	pushSrv.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warningf("http server shutdown: %v", err)
	} else {
		logger.Infof("http server shut down")
	}
	return runErr
}
