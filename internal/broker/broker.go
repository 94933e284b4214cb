// ABOUTME: Broker orchestrator that wires pinning, heap, resolution, and invocation together
// ABOUTME: Manages the loopback HTTP server lifecycle and graceful shutdown

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marrowdev/marrow/internal/auth"
	"github.com/marrowdev/marrow/internal/config"
	"github.com/marrowdev/marrow/internal/events"
	"github.com/marrowdev/marrow/internal/heap"
	"github.com/marrowdev/marrow/internal/invoke"
	"github.com/marrowdev/marrow/internal/pinned"
	"github.com/marrowdev/marrow/internal/resolve"
	"github.com/marrowdev/marrow/internal/typeres"
)

// defaultIdleTimeout bounds a single request read and idle keep-alive
// connections when server.idle_timeout is not configured.
const defaultIdleTimeout = 2 * time.Minute

// Options configures a Broker. Types and HeapSource are supplied by the host
// process embedding the agent.
type Options struct {
	Config     *config.Config
	Types      *typeres.Resolver
	HeapSource heap.SourceFactory
	Logger     *slog.Logger
}

// Broker orchestrates the marrow agent components. It owns the pinned object
// registry, the heap snapshot manager, the reflection surface, and the event
// bridge, and serves the controller API over a loopback HTTP listener.
type Broker struct {
	config     *config.Config
	pins       *pinned.Registry
	types      *typeres.Resolver
	heapMgr    *heap.Manager
	resolver   *resolve.Materializer
	surface    *invoke.Surface
	bridge     *events.Bridge
	httpServer *http.Server
	logger     *slog.Logger

	// verifier is nil when auth is disabled (no jwt_secret configured)
	verifier *auth.JWTVerifier

	// clients tracks registered controller processes by client ID
	mu      sync.RWMutex
	clients map[string]clientEntry

	// dieCh is closed by the /die handler to request shutdown
	dieCh   chan struct{}
	dieOnce sync.Once

	// addr holds the bound listener address once Run has started
	addrMu sync.Mutex
	addr   string
}

type clientEntry struct {
	name         string
	registeredAt time.Time
}

// New creates a new Broker instance with the given options.
func New(opts Options) (*Broker, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Types == nil {
		return nil, errors.New("type resolver is required")
	}

	pins := pinned.NewRegistry(cfg.Pinning.UnpinQueueSize, logger)
	heapMgr := heap.NewManager(opts.HeapSource, logger)
	resolver := resolve.NewMaterializer(pins, heapMgr, cfg.Resolver.MaxAttempts, cfg.Resolver.RetryBackoff, logger)
	surface := invoke.NewSurface(pins, opts.Types, logger)
	bridge := events.NewBridge(pins, cfg.Events.MonitorInterval, cfg.Events.QueueSize, logger)

	b := &Broker{
		config:   cfg,
		pins:     pins,
		types:    opts.Types,
		heapMgr:  heapMgr,
		resolver: resolver,
		surface:  surface,
		bridge:   bridge,
		logger:   logger.With("component", "broker"),
		clients:  make(map[string]clientEntry),
		dieCh:    make(chan struct{}),
	}

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		b.verifier = verifier
	}

	mux := http.NewServeMux()
	b.registerRoutes(mux, logger)

	idleTimeout := cfg.Server.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	b.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       idleTimeout,
		IdleTimeout:       idleTimeout,
	}

	return b, nil
}

// registerRoutes registers all API routes on the mux with or without auth middleware.
func (b *Broker) registerRoutes(mux *http.ServeMux, logger *slog.Logger) {
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, b.recoverMiddleware(h))
	}

	// Liveness and registration never require auth: a controller needs
	// /register_client to obtain its token in the first place.
	handle("/ping", b.handlePing)
	handle("/register_client", b.handleRegisterClient)

	protect := func(h http.HandlerFunc) http.HandlerFunc {
		if b.verifier == nil {
			return h
		}
		mw := auth.HTTPAuthMiddleware(b.verifier, logger)
		wrapped := mw(h)
		return wrapped.ServeHTTP
	}

	handle("/die", protect(b.handleDie))
	handle("/unregister_client", protect(b.handleUnregisterClient))
	handle("/heap", protect(b.handleHeap))
	handle("/types/resolve", protect(b.handleTypeResolve))
	handle("/types/dump", protect(b.handleTypeDump))
	handle("/object", protect(b.handleObject))
	handle("/create_object", protect(b.handleCreateObject))
	handle("/create_array", protect(b.handleCreateArray))
	handle("/invoke", protect(b.handleInvoke))
	handle("/get_field", protect(b.handleGetField))
	handle("/set_field", protect(b.handleSetField))
	handle("/get_item", protect(b.handleGetItem))
	handle("/unpin", protect(b.handleUnpin))
	handle("/batch/members", protect(b.handleBatchMembers))
	handle("/batch/collection", protect(b.handleBatchCollection))
	handle("/event/subscribe", protect(b.handleSubscribe))
	handle("/event/unsubscribe", protect(b.handleUnsubscribe))

	if b.verifier != nil {
		logger.Info("HTTP auth middleware enabled")
	} else {
		logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}
}

// Addr returns the bound listener address, or the configured address before
// Run has started.
func (b *Broker) Addr() string {
	b.addrMu.Lock()
	defer b.addrMu.Unlock()
	if b.addr != "" {
		return b.addr
	}
	return b.config.Server.Addr
}

// Run starts the broker server and blocks until the context is canceled, the
// /die operation fires, or the server fails.
// Returns nil on graceful shutdown, or an error if the server fails.
func (b *Broker) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.config.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on broker address: %w", err)
	}

	b.addrMu.Lock()
	b.addr = ln.Addr().String()
	b.addrMu.Unlock()

	errCh := b.startServer(ln)
	serverErr := b.waitForShutdownSignal(ctx, errCh)

	shutdownErr := b.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServer starts the HTTP server in a goroutine, returning an error channel.
func (b *Broker) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		b.logger.Info("broker listening", "addr", ln.Addr().String())
		if err := b.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation, a die request, or a
// server error.
func (b *Broker) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		b.logger.Info("context canceled, initiating shutdown")
		return nil
	case <-b.dieCh:
		b.logger.Info("die requested, initiating shutdown")
		return nil
	case err := <-errCh:
		b.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (b *Broker) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the server and releases every broker-held
// resource: in-flight requests drain first, then event registrations are
// detached, the heap snapshot is disposed, and all pins are dropped.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.logger.Info("shutting down broker")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", b.httpServer.Shutdown(ctx))

	b.bridge.Close()
	b.heapMgr.Dispose()
	b.pins.UnpinAll()
	b.pins.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// requestDie asks the run loop to shut down. Safe to call multiple times.
func (b *Broker) requestDie() {
	b.dieOnce.Do(func() {
		close(b.dieCh)
	})
}
