package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type metrics struct {
	connections prometheus.Counter
	inFlight    prometheus.Gauge
	filesSent   prometheus.Counter
	notFound    prometheus.Counter
	bytesSent   prometheus.Counter
	failures    prometheus.Counter
}

func newMetrics(registry prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lenxfer",
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Accepted client connections.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lenxfer",
			Subsystem: "server",
			Name:      "connections_in_flight",
			Help:      "Connections currently being served.",
		}),
		filesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lenxfer",
			Subsystem: "server",
			Name:      "files_sent_total",
			Help:      "Files written completely to a client.",
		}),
		notFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lenxfer",
			Subsystem: "server",
			Name:      "files_not_found_total",
			Help:      "Connections answered with the not found marker.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lenxfer",
			Subsystem: "server",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to clients, length prefixes included.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lenxfer",
			Subsystem: "server",
			Name:      "transfer_failures_total",
			Help:      "Connections whose transfer failed.",
		}),
	}

	for _, c := range []prometheus.Collector{m.connections, m.inFlight, m.filesSent, m.notFound, m.bytesSent, m.failures} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// startMetrics serves the registry on /metrics until ctx is done. Binding
// happens before it returns so a bad address fails Serve.
func (server *Server) startMetrics(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", server.options.MetricsAddress)
	if err != nil {
		return fmt.Errorf("listen for metrics on %v: %w", server.options.MetricsAddress, err)
	}

	server.mu.Lock()
	server.metricsAddr = listener.Addr()
	server.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(server.registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("Address", listener.Addr().String()).Info("Serving metrics")
		err := httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics endpoint stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Could not shut down metrics endpoint")
		}
	}()

	return nil
}
