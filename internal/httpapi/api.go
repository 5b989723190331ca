package httpapi

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/mux"

	"clientdesk.org/internal/account"
	"clientdesk.org/internal/auth"
	"clientdesk.org/internal/authz"
	"clientdesk.org/internal/obs"
)

// LoginService authenticates credentials, normally *account.Authenticator.
type LoginService interface {
	Login(ctx context.Context, req account.LoginRequest) (account.LoginResult, error)
}

// RecoveryService starts password recovery, normally *account.PasswordRecovery.
type RecoveryService interface {
	Request(ctx context.Context, email string, ip netip.Addr, captchaToken string) error
}

// TokenParser validates bearer tokens, normally *auth.Issuer.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// Pinger is a readiness dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the API serves.
type Deps struct {
	Login     LoginService
	Recovery  RecoveryService
	Tokens    TokenParser
	Roles     authz.RoleFinder
	Verifiers *authz.Set
	Ready     []Pinger
	Version   string
}

// API is the HTTP layer.
type API struct {
	router  *mux.Router
	deps    Deps
	limiter *RateLimiter
	ips     *IPResolver
	maxBody int64
}

// Option configures the API.
type Option func(*API)

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) { a.limiter = NewRateLimiter(perSecond, burst) }
}

// WithTrustedProxies sets the proxies whose X-Forwarded-For header is honoured.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.ips = NewIPResolver(prefixes) }
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

func New(deps Deps, opts ...Option) *API {
	a := &API{
		router:  mux.NewRouter(),
		deps:    deps,
		limiter: NewRateLimiter(20, 40),
		ips:     NewIPResolver(nil),
		maxBody: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.router.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	a.router.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	a.router.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	// Keep on the root router: subrouters bypass its 404 and 405 handlers.
	a.router.HandleFunc("/v1/auth/login", a.handleLogin).Methods(http.MethodPost)
	a.router.HandleFunc("/v1/auth/password-recovery", a.handlePasswordRecovery).Methods(http.MethodPost)
	a.router.Handle("/v1/authz/{resource}/check", a.authenticate(http.HandlerFunc(a.handleAuthzCheck))).
		Methods(http.MethodPost)

	a.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	a.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return a
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = a.limiter.Middleware(a.ips, h)
	h = MaxBodyBytes(h, a.maxBody)
	h = SecurityHeaders(h)
	h = Logging(a.ips, h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "clientdesk-api",
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, p := range a.deps.Ready {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
