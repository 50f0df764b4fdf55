package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Pablu23/lenxfer/internal/common"
)

const maxAcceptBackoff = time.Second

type Server struct {
	options  *Options
	sem      *semaphore.Weighted
	registry *prometheus.Registry
	metrics  *metrics

	mu          sync.Mutex
	addr        net.Addr
	metricsAddr net.Addr
	conns       map[net.Conn]struct{}
	closing     bool
	wg          sync.WaitGroup
}

func New(opts ...func(*Options)) (*Server, error) {
	options := NewDefaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	if options.MaxConnections < 1 {
		return nil, fmt.Errorf("max connections must be at least 1, got %d", options.MaxConnections)
	}
	if options.SourcePath == "" {
		return nil, errors.New("no source file configured")
	}

	registry := prometheus.NewRegistry()
	m, err := newMetrics(registry)
	if err != nil {
		return nil, err
	}

	server := &Server{
		options:  options,
		sem:      semaphore.NewWeighted(options.MaxConnections),
		registry: registry,
		metrics:  m,
		conns:    make(map[net.Conn]struct{}),
	}

	return server, nil
}

// Addr returns the listening address, or nil before Serve has started.
func (server *Server) Addr() net.Addr {
	server.mu.Lock()
	defer server.mu.Unlock()
	return server.addr
}

// MetricsAddr returns the bound metrics address, or nil when metrics are
// disabled or not yet listening.
func (server *Server) MetricsAddr() net.Addr {
	server.mu.Lock()
	defer server.mu.Unlock()
	return server.metricsAddr
}

func (server *Server) Metrics() *prometheus.Registry {
	return server.registry
}

func (server *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", server.options.Address)
	if err != nil {
		return fmt.Errorf("listen on %v: %w", server.options.Address, err)
	}
	return server.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled. Every
// connection is handled on its own goroutine; at most MaxConnections run at
// once and the accept loop waits for a free slot before accepting more.
// A failing connection is logged and never stops the loop. On cancellation
// the listener is closed and every live connection is cut off before Serve
// returns.
func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	server.mu.Lock()
	server.addr = listener.Addr()
	server.closing = false
	server.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		<-ctx.Done()
		err := listener.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			log.WithError(err).Error("Could not close TCP listener")
		}
		server.abortConnections()
		close(stopped)
	}()

	if server.options.MetricsAddress != "" {
		if err := server.startMetrics(ctx); err != nil {
			cancel()
			<-stopped
			return err
		}
	}

	log.WithFields(log.Fields{
		"Address": listener.Addr().String(),
		"File":    server.options.SourcePath,
	}).Info("Server is listening")

	err := server.acceptLoop(ctx, listener)

	cancel()
	<-stopped
	server.wg.Wait()

	if err == nil {
		log.Info("Server is shutting down")
	}
	return err
}

func (server *Server) acceptLoop(ctx context.Context, listener net.Listener) error {
	var backoff time.Duration

	for {
		if err := server.sem.Acquire(ctx, 1); err != nil {
			return nil
		}

		conn, err := listener.Accept()
		if err != nil {
			server.sem.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			log.WithError(err).WithField("Retry", backoff).Warn("Could not accept TCP connection")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		server.wg.Add(1)
		go func() {
			defer server.wg.Done()
			defer server.sem.Release(1)
			server.handleConnection(conn)
		}()
	}
}

// track registers a live connection. Connections arriving after shutdown
// started are cut off right away.
func (server *Server) track(conn net.Conn, logger *log.Entry) {
	server.mu.Lock()
	defer server.mu.Unlock()

	server.conns[conn] = struct{}{}
	if server.closing {
		if err := conn.SetDeadline(time.Now()); err != nil {
			logger.WithError(err).Debug("Could not expire connection deadline")
		}
	}
}

func (server *Server) untrack(conn net.Conn) {
	server.mu.Lock()
	delete(server.conns, conn)
	server.mu.Unlock()
}

// abortConnections expires the deadline of every live connection so that
// handlers blocked on a stalled peer return.
func (server *Server) abortConnections() {
	server.mu.Lock()
	defer server.mu.Unlock()

	server.closing = true
	for conn := range server.conns {
		if err := conn.SetDeadline(time.Now()); err != nil {
			log.WithError(err).WithField("Remote", conn.RemoteAddr().String()).Debug("Could not expire connection deadline")
		}
	}
}

func (server *Server) handleConnection(conn net.Conn) {
	logger := log.WithFields(log.Fields{
		"ConnID": uuid.New().String(),
		"Remote": conn.RemoteAddr().String(),
	})

	defer func(conn net.Conn) {
		server.untrack(conn)
		err := conn.Close()
		if err != nil {
			logger.WithError(err).Error("Could not close TCP connection")
		}
	}(conn)

	server.metrics.connections.Inc()
	server.metrics.inFlight.Inc()
	defer server.metrics.inFlight.Dec()

	logger.Info("Client connected")

	if timeout := server.options.IOTimeout; timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			logger.WithError(err).Warn("Could not set connection deadline")
		}
	}
	server.track(conn, logger)

	if err := server.sendFile(conn, logger); err != nil {
		server.metrics.failures.Inc()
		logger.WithError(err).Error("Transfer failed")
	}
}

// sendFile reads the source file fresh and writes it framed to w. A missing
// file is answered with the not found marker.
func (server *Server) sendFile(w io.Writer, logger *log.Entry) error {
	path := server.options.SourcePath
	logger = logger.WithField("File Path", path)

	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("File not found")
		if err := common.WriteHeader(w, common.NotFound); err != nil {
			return err
		}
		server.metrics.bytesSent.Add(common.HeaderSize)
		server.metrics.notFound.Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %v: %w", path, err)
	}

	logger = logger.WithFields(log.Fields{
		"Size":   len(content),
		"Digest": common.Digest(content),
	})
	logger.Info("Sending file")

	if err := common.WriteFile(w, content); err != nil {
		return err
	}

	server.metrics.bytesSent.Add(float64(common.HeaderSize + len(content)))
	server.metrics.filesSent.Inc()
	logger.Info("File sent successfully")
	return nil
}
