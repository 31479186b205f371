// Package api provides the HTTP surface of chatflow: the Twilio WhatsApp
// webhook, a health probe, and token-guarded admin endpoints for sending
// messages and exercising the reply generator.
package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/dadabora/chatflow/internal/genai"
	"github.com/dadabora/chatflow/internal/history"
	"github.com/dadabora/chatflow/internal/identity"
	"github.com/dadabora/chatflow/internal/models"
	"github.com/dadabora/chatflow/internal/ratelimit"
	"github.com/dadabora/chatflow/internal/store"
	"github.com/dadabora/chatflow/internal/twiliowhatsapp"
)

const (
	defaultAddr = ":8080"

	readTimeout  = 15 * time.Second
	writeTimeout = 120 * time.Second
	idleTimeout  = 60 * time.Second
)

// ClientFactory builds a WhatsApp client from the channel configuration
// loaded for the current request. Tests substitute a mock.
type ClientFactory func(cfg models.ChannelConfig) (twiliowhatsapp.Client, error)

// SignatureValidator checks a webhook signature against the reconstructed
// request URL and form parameters.
type SignatureValidator func(authToken, url string, params map[string]string, signature string) bool

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	AdminToken    string
	PublicBaseURL string
	HistoryWindow int
	ClientFactory ClientFactory
	Validator     SignatureValidator
	SenderOpts    []twiliowhatsapp.SenderOption
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAdminToken sets the bearer token guarding the admin endpoints. When
// empty, those endpoints refuse every request.
func WithAdminToken(token string) Option {
	return func(o *Opts) { o.AdminToken = token }
}

// WithPublicBaseURL sets the externally visible base URL used to
// reconstruct webhook URLs for signature validation. Needed when the
// service sits behind a proxy that rewrites Host.
func WithPublicBaseURL(base string) Option {
	return func(o *Opts) { o.PublicBaseURL = strings.TrimSuffix(base, "/") }
}

// WithHistoryWindow overrides how many recent messages feed the language
// model's context window.
func WithHistoryWindow(n int) Option {
	return func(o *Opts) { o.HistoryWindow = n }
}

// WithClientFactory overrides how WhatsApp clients are built, used by tests.
func WithClientFactory(f ClientFactory) Option {
	return func(o *Opts) { o.ClientFactory = f }
}

// WithSignatureValidator overrides webhook signature checking, used by tests.
func WithSignatureValidator(v SignatureValidator) Option {
	return func(o *Opts) { o.Validator = v }
}

// WithSenderOpts passes options through to outbound senders, used by tests
// to remove inter-chunk delays.
func WithSenderOpts(opts ...twiliowhatsapp.SenderOption) Option {
	return func(o *Opts) { o.SenderOpts = opts }
}

// Server wires the webhook pipeline together over injected dependencies.
type Server struct {
	store     store.Store
	limiter   ratelimit.Limiter
	generator *genai.Generator
	mapper    *identity.Mapper
	opts      Opts
}

// NewServer creates a server over the given store, rate limiter and reply
// generator.
func NewServer(st store.Store, limiter ratelimit.Limiter, generator *genai.Generator, opts ...Option) *Server {
	cfg := Opts{Addr: defaultAddr, HistoryWindow: history.DefaultWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HistoryWindow < 1 {
		cfg.HistoryWindow = history.DefaultWindow
	}
	if cfg.ClientFactory == nil {
		cfg.ClientFactory = func(c models.ChannelConfig) (twiliowhatsapp.Client, error) {
			return twiliowhatsapp.NewTwilioClient(c)
		}
	}
	if cfg.Validator == nil {
		cfg.Validator = func(authToken, url string, params map[string]string, signature string) bool {
			v := twilioclient.NewRequestValidator(authToken)
			return v.Validate(url, params, signature)
		}
	}
	return &Server{
		store:     st,
		limiter:   limiter,
		generator: generator,
		mapper:    identity.NewMapper(st),
		opts:      cfg,
	}
}

// Handler returns the server's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	// GET on the webhook path doubles as a reachability probe, which is
	// handy when wiring the URL into the Twilio console.
	mux.HandleFunc("/api/whatsapp/webhook", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			s.healthHandler(w, r)
			return
		}
		s.webhookHandler(w, r)
	})
	mux.HandleFunc("/api/whatsapp/send", s.sendHandler)
	mux.HandleFunc("/api/ai/test", s.aiTestHandler)
	mux.HandleFunc("/api/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down API server: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	}
}

// allow applies a named rate limit keyed by client IP.
func (s *Server) allow(r *http.Request, scope string, limit int) bool {
	key := scope + ":" + clientIP(r)
	return s.limiter.Allow(r.Context(), key, limit, ratelimit.DefaultWindow)
}

// authorized checks the Authorization bearer token against the configured
// admin token. An unset admin token disables the admin endpoints entirely.
func (s *Server) authorized(r *http.Request) bool {
	if s.opts.AdminToken == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AdminToken)) == 1
}

// webhookURL reconstructs the URL Twilio signed. Behind a proxy the
// configured public base URL wins; otherwise the URL is rebuilt from
// forwarding headers and the request.
func (s *Server) webhookURL(r *http.Request) string {
	if s.opts.PublicBaseURL != "" {
		return s.opts.PublicBaseURL + r.URL.RequestURI()
	}
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		if r.TLS != nil {
			proto = "https"
		} else {
			proto = "http"
		}
	}
	return proto + "://" + r.Host + r.URL.RequestURI()
}

// clientIP extracts the caller's address for rate limiting, trusting
// forwarding headers before falling back to the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
