package client

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"webview-proxy-go/internal/config"
	"webview-proxy-go/internal/metrics"
	"webview-proxy-go/internal/model"
)

// Builder constructs one backend.
type Builder struct {
	Name  string
	Build func(ctx context.Context) (Executor, error)
}

// Manager owns the active backend. It builds it lazily on first use, tries
// builders in order and keeps the first that succeeds. Recreate and Shutdown
// are exclusive with construction.
type Manager struct {
	builders    []Builder
	initTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu      sync.Mutex
	current atomic.Pointer[active]
	closed  bool
}

// active is one built backend and the exchanges currently using it.
type active struct {
	exec   Executor
	caps   Capabilities
	logger *slog.Logger

	mu       sync.Mutex
	refs     int
	retired  bool
	closeErr error
}

// acquire takes a reference for one exchange. It fails once a is retired.
func (a *active) acquire() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.retired {
		return false
	}
	a.refs++
	return true
}

func (a *active) release() {
	a.mu.Lock()
	a.refs--
	last := a.retired && a.refs == 0
	if last {
		a.closeLocked()
	}
	a.mu.Unlock()
}

// retire refuses new exchanges and closes the backend as soon as no
// exchange holds it. It reports whether the backend is already closed.
func (a *active) retire() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.retired {
		return a.refs == 0
	}
	a.retired = true
	if a.refs > 0 {
		return false
	}
	a.closeLocked()
	return true
}

func (a *active) closeLocked() {
	if a.closeErr = a.exec.Close(); a.closeErr != nil {
		a.logger.Warn("backend close failed", "backend", a.exec.Name(), "err", a.closeErr)
	}
}

// session is the Executor handed out by Get.
type session struct {
	m    *Manager
	name string
	caps Capabilities
}

func (s *session) Name() string               { return s.name }
func (s *session) Capabilities() Capabilities { return s.caps }

func (s *session) Execute(ctx context.Context, req *model.ProxyRequest) (*model.ProxyResponse, error) {
	return s.m.Execute(ctx, req)
}

// Close is a no-op; the Manager owns backend lifetime.
func (s *session) Close() error { return nil }

// leasedBody releases its backend reference on the first Close.
type leasedBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *leasedBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}

// NewManager creates a Manager for the configured backend preference.
// "classic" uses only the HTTP/1.1 backend; "auto" and "multiplexed" prefer
// the multiplexed backend and fall back to classic.
func NewManager(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Manager {
	opts := OptionsFromConfig(cfg)
	return NewManagerWithBuilders(Builders(cfg.Transport.Backend, opts, logger, m), opts.InitTimeout, logger, m)
}

// NewManagerWithBuilders creates a Manager over explicit builders.
func NewManagerWithBuilders(builders []Builder, initTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if initTimeout <= 0 {
		initTimeout = 5 * time.Second
	}
	return &Manager{
		builders:    builders,
		initTimeout: initTimeout,
		logger:      logger.With("component", "backend_manager"),
		metrics:     m,
	}
}

// Builders returns the ordered builders for a backend preference.
func Builders(preference string, opts Options, logger *slog.Logger, m *metrics.Metrics) []Builder {
	classic := Builder{
		Name: ClassicName,
		Build: func(context.Context) (Executor, error) {
			return NewClassicClient(opts, logger, m), nil
		},
	}
	if preference == ClassicName {
		return []Builder{classic}
	}
	multiplexed := Builder{
		Name: MultiplexedName,
		Build: func(ctx context.Context) (Executor, error) {
			o, err := installProvider(ctx, opts, logger)
			if err != nil {
				return nil, err
			}
			return NewMultiplexedClient(o, logger, m)
		},
	}
	return []Builder{multiplexed, classic}
}

// installProvider prepares what the multiplexed backend needs before it can
// be built: the system trust store and, for HTTP/3, a usable UDP socket.
// Transient failures are retried until ctx expires. A missing UDP path only
// disables HTTP/3.
func installProvider(ctx context.Context, opts Options, logger *slog.Logger) (Options, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		if opts.TLSConfig != nil && opts.TLSConfig.RootCAs != nil {
			return nil
		}
		if _, err := x509.SystemCertPool(); err != nil {
			return fmt.Errorf("load system roots: %w", err)
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return opts, err
	}

	if opts.EnableHTTP3 {
		pc, err := net.ListenPacket("udp", ":0")
		if err != nil {
			logger.Warn("udp unavailable; http3 disabled", "err", err)
			opts.EnableHTTP3 = false
		} else {
			_ = pc.Close()
		}
	}
	return opts, nil
}

// Get returns an Executor bound to the manager, building the backend on
// first use. Each exchange runs on the backend that is live when it starts
// and keeps that backend open until the response body is closed.
func (m *Manager) Get(ctx context.Context) (Executor, error) {
	a, err := m.ensure(ctx)
	if err != nil {
		return nil, err
	}
	return &session{m: m, name: a.exec.Name(), caps: a.caps}, nil
}

// ensure returns the live backend, building it under mu if there is none.
func (m *Manager) ensure(ctx context.Context) (*active, error) {
	if a := m.current.Load(); a != nil {
		return a, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if a := m.current.Load(); a != nil {
		return a, nil
	}
	if m.closed {
		return nil, model.NewError(model.KindUnsupported, "backend", model.ErrNoBackend)
	}
	a, err := m.build(ctx)
	if err != nil {
		return nil, err
	}
	m.current.Store(a)
	return a, nil
}

// acquire takes an exchange reference on the live backend. A backend retired
// between the load and the reference is skipped for its replacement.
func (m *Manager) acquire(ctx context.Context) (*active, error) {
	for {
		a, err := m.ensure(ctx)
		if err != nil {
			return nil, err
		}
		if a.acquire() {
			return a, nil
		}
	}
}

// Execute runs req on the live backend.
func (m *Manager) Execute(ctx context.Context, req *model.ProxyRequest) (*model.ProxyResponse, error) {
	a, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := a.exec.Execute(ctx, req)
	if err != nil {
		a.release()
		return nil, err
	}
	if resp.Body == nil {
		a.release()
		return resp, nil
	}
	resp.Body = &leasedBody{ReadCloser: resp.Body, release: a.release}
	return resp, nil
}

// Active reports the current backend name and capabilities without building one.
func (m *Manager) Active() (string, Capabilities, bool) {
	a := m.current.Load()
	if a == nil {
		return "", Capabilities{}, false
	}
	return a.exec.Name(), a.caps, true
}

// Recreate retires the current backend and builds a new one. Exchanges
// already running on the old backend finish on it; it is closed once the
// last of them releases it.
func (m *Manager) Recreate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.NewError(model.KindUnsupported, "backend", model.ErrNoBackend)
	}
	_ = m.retireCurrent()
	a, err := m.build(ctx)
	if err != nil {
		return err
	}
	m.current.Store(a)
	m.logger.Info("backend recreated", "backend", a.exec.Name())
	return nil
}

// Shutdown retires the active backend. Later calls to Get fail.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.retireCurrent()
}

// retireCurrent must be called with mu held. It reports a close error only
// when the backend was idle and closed immediately.
func (m *Manager) retireCurrent() error {
	a := m.current.Swap(nil)
	if a == nil {
		return nil
	}
	if !a.retire() {
		m.logger.Info("backend draining", "backend", a.exec.Name())
		return nil
	}
	if err := a.closeErr; err != nil {
		return fmt.Errorf("close %s backend: %w", a.exec.Name(), err)
	}
	return nil
}

// build must be called with mu held.
func (m *Manager) build(ctx context.Context) (*active, error) {
	var errs []error
	for _, b := range m.builders {
		bctx, cancel := context.WithTimeout(ctx, m.initTimeout)
		exec, err := b.Build(bctx)
		cancel()
		if err != nil {
			m.count(b.Name, "failed")
			m.logger.Warn("backend init failed", "backend", b.Name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
			continue
		}
		m.count(b.Name, "ok")
		caps := exec.Capabilities()
		m.logger.Info("backend ready", "backend", exec.Name(),
			"http2", caps.HTTP2, "http3", caps.HTTP3, "brotli", caps.Brotli, "zstd", caps.Zstd)
		return &active{exec: exec, caps: caps, logger: m.logger}, nil
	}
	return nil, model.NewError(model.KindUnsupported, "backend",
		errors.Join(append([]error{model.ErrNoBackend}, errs...)...))
}

func (m *Manager) count(name, outcome string) {
	if m.metrics != nil {
		m.metrics.BackendBuilds.WithLabelValues(name, outcome).Inc()
	}
}
