// Package callback runs the one-shot local HTTPS server that receives the
// OAuth redirect.
//
// Every run generates its own self-signed certificate, binds the fixed
// redirect port, accepts exactly one redirect whose state matches the session
// nonce and then releases the port. Requests with a wrong state are answered
// with an error page and the run keeps waiting.
package callback

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fldc/twitch-indicator/internal/domain"
	"github.com/fldc/twitch-indicator/internal/metrics"
	"github.com/fldc/twitch-indicator/internal/platform/correlation"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultTimeout  = 5 * time.Minute
	defaultBindHost = "127.0.0.1"
	shutdownTimeout = 2 * time.Second
)

// ProviderError is an error the provider reported through the redirect,
// e.g. access_denied when the user declines.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("provider returned %s", e.Code)
	}
	return fmt.Sprintf("provider returned %s: %s", e.Code, e.Description)
}

type Listener struct {
	timeout  time.Duration
	clock    clockwork.Clock
	bindHost string
}

type Option func(*Listener)

func WithClock(clock clockwork.Clock) Option {
	return func(l *Listener) { l.clock = clock }
}

func WithBindHost(host string) Option {
	return func(l *Listener) { l.bindHost = host }
}

func NewListener(timeout time.Duration, opts ...Option) *Listener {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	l := &Listener{
		timeout:  timeout,
		clock:    clockwork.NewRealClock(),
		bindHost: defaultBindHost,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start binds the port and blocks until a valid redirect arrives, the timeout
// elapses or ctx is cancelled.
func (l *Listener) Start(ctx context.Context, session domain.AuthorizationSession) (domain.AuthorizationArtifact, error) {
	run, err := l.Listen(ctx, session)
	if err != nil {
		return domain.AuthorizationArtifact{}, err
	}
	return run.Wait(ctx)
}

// Listen binds the port and starts serving. Bind failures are reported here,
// before any browser is opened. The returned run must be finished with Wait or Close.
func (l *Listener) Listen(ctx context.Context, session domain.AuthorizationSession) (*Run, error) {
	addr := net.JoinHostPort(l.bindHost, strconv.Itoa(session.Port))

	cert, err := GenerateCertificate(l.clock.Now(), "localhost", "127.0.0.1", "::1")
	if err != nil {
		return nil, fmt.Errorf("callback certificate: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (is another instance running?): %w", domain.ErrPortUnavailable, addr, err)
	}

	logger := slog.Default().With("component", "callback")
	if id, ok := correlation.ID(ctx); ok {
		logger = logger.With("correlation_id", id)
	}

	r := &Run{
		session:  session,
		timeout:  l.timeout,
		deadline: l.clock.NewTimer(l.timeout),
		leaf:     cert.Leaf,
		addr:     ln.Addr(),
		log:      logger,
		results:  make(chan result, 1),
		serveErr: make(chan error, 1),
		served:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", r.handle)
	r.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
	}

	tlsLn := tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})

	go func() {
		defer close(r.served)
		if err := r.server.Serve(tlsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.serveErr <- err
		}
	}()

	logger.Info("Callback listener started", "addr", r.addr.String(), "path", session.CallbackPath, "timeout", l.timeout)
	return r, nil
}

type result struct {
	artifact domain.AuthorizationArtifact
	err      error
}

// Run is one bound listener serving a single authorization session.
type Run struct {
	session  domain.AuthorizationSession
	server   *http.Server
	timeout  time.Duration
	deadline clockwork.Timer
	leaf     *x509.Certificate
	addr     net.Addr
	log      *slog.Logger

	results  chan result
	serveErr chan error
	served   chan struct{}

	deliverOnce  sync.Once
	shutdownOnce sync.Once
}

// Addr is the bound address; useful when the session asked for port 0.
func (r *Run) Addr() net.Addr { return r.addr }

// Certificate is the self-signed leaf served by this run.
func (r *Run) Certificate() *x509.Certificate { return r.leaf }

// Wait blocks for the outcome of the run. The port is released before Wait returns.
func (r *Run) Wait(ctx context.Context) (domain.AuthorizationArtifact, error) {
	defer r.shutdown()

	select {
	case res := <-r.results:
		return res.artifact, res.err
	case <-r.deadline.Chan():
		r.log.Info("Callback listener timed out", "timeout", r.timeout)
		return domain.AuthorizationArtifact{}, fmt.Errorf("%w after %s", domain.ErrTimedOut, r.timeout)
	case <-ctx.Done():
		return domain.AuthorizationArtifact{}, fmt.Errorf("%w: %w", domain.ErrCancelled, ctx.Err())
	case err := <-r.serveErr:
		return domain.AuthorizationArtifact{}, fmt.Errorf("callback listener stopped: %w", err)
	}
}

// Close abandons the run and releases the port.
func (r *Run) Close() {
	r.deliver(result{err: domain.ErrCancelled})
	r.shutdown()
}

func (r *Run) shutdown() {
	r.shutdownOnce.Do(func() {
		r.deadline.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := r.server.Shutdown(ctx); err != nil {
			_ = r.server.Close()
		}
		<-r.served
		r.log.Debug("Callback listener stopped", "addr", r.addr.String())
	})
}

// deliver hands the first outcome to Wait; later ones are dropped.
func (r *Run) deliver(res result) bool {
	delivered := false
	r.deliverOnce.Do(func() {
		r.results <- res
		delivered = true
	})
	return delivered
}

func (r *Run) handle(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != r.session.CallbackPath {
		metrics.CallbackRequestsTotal.WithLabelValues("not_found").Inc()
		http.NotFound(w, req)
		return
	}
	if req.Method != http.MethodGet {
		metrics.CallbackRequestsTotal.WithLabelValues("method_not_allowed").Inc()
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	query := req.URL.Query()

	// Implicit flow: the token sits in the fragment, which never reaches the
	// server. The relay page re-requests this path with it as the query.
	if len(query) == 0 {
		metrics.CallbackRequestsTotal.WithLabelValues("relay").Inc()
		render(w, http.StatusOK, pageRelay)
		return
	}

	state := query.Get("state")
	if subtle.ConstantTimeCompare([]byte(state), []byte(r.session.StateNonce)) != 1 {
		metrics.CallbackRequestsTotal.WithLabelValues("state_mismatch").Inc()
		r.log.Warn("Callback: rejected redirect with mismatched state", "remote", req.RemoteAddr)
		render(w, http.StatusBadRequest, pageBadState)
		return
	}

	var (
		res     result
		outcome string
		resp    page
	)
	switch {
	case query.Get("error") != "":
		res.err = &ProviderError{Code: query.Get("error"), Description: query.Get("error_description")}
		outcome, resp = "provider_error", pageDenied
	case query.Get("code") != "":
		res.artifact = domain.AuthorizationArtifact{Code: query.Get("code"), Scope: query.Get("scope")}
		outcome, resp = "accepted", pageSuccess
	case query.Get("access_token") != "":
		res.artifact = domain.AuthorizationArtifact{AccessToken: query.Get("access_token"), Scope: query.Get("scope")}
		outcome, resp = "accepted", pageSuccess
	default:
		metrics.CallbackRequestsTotal.WithLabelValues("malformed").Inc()
		render(w, http.StatusBadRequest, pageMalformed)
		return
	}

	if !r.deliver(res) {
		metrics.CallbackRequestsTotal.WithLabelValues("duplicate").Inc()
		render(w, http.StatusGone, pageDuplicate)
		return
	}

	metrics.CallbackRequestsTotal.WithLabelValues(outcome).Inc()
	r.log.Info("Callback: redirect received", "outcome", outcome)
	render(w, http.StatusOK, resp)
}
