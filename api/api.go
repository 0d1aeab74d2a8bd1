// Package api exposes the certificate orchestrator over a small REST
// surface: bootstrap, client issuance and revocation, CRL publication,
// and the audit trail. It is a management API for one operator, not a
// public service; authentication is a single bearer token and every
// mutating route serializes on the PKI store gate underneath.
package api

import (
	"context"
	"crypto/x509"
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/vpnforge/vpnforge/audit"
	"github.com/vpnforge/vpnforge/pki"
)

// Orchestrator is the lifecycle surface the handlers drive. *pki.Manager
// implements it.
type Orchestrator interface {
	Status() pki.State
	EnsureBootstrapped(ctx context.Context, actor string) error
	IssueClient(ctx context.Context, name, actor string) (string, error)
	RevokeClient(ctx context.Context, name, actor string) (string, error)
	RefreshCRL(ctx context.Context, actor string) (string, error)
	EnsureTLSAuthKey(ctx context.Context, actor string) (string, error)
	ListClients(ctx context.Context) ([]pki.ClientInfo, error)
	CheckCertificate(ctx context.Context, path, actor string) (pki.CertStatus, *x509.Certificate, error)
	Store() *pki.Store
	OutputDir() string
	ServerName() string
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	orch       Orchestrator
	logger     *slog.Logger
	token      string
	auditStore audit.Trail
	limiter    *ipRateLimiter
	reload     func()
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger. A default text logger writing to
// stderr is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithToken protects every non-documentation route with a bearer token.
// Without a token the API runs open, which is only sane on loopback.
func WithToken(token string) Option {
	return func(a *API) { a.token = token }
}

// WithAuditStore enables the audit inspection routes over the persistent
// trail (bbolt or postgres backed).
func WithAuditStore(store audit.Trail) Option {
	return func(a *API) { a.auditStore = store }
}

// WithRateLimit throttles requests per client address.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *API) { a.limiter = newIPRateLimiter(rps, burst) }
}

// WithReloadHook registers a callback invoked after the published CRL
// changes, so a supervised VPN server can pick up the new list.
func WithReloadHook(fn func()) Option {
	return func(a *API) { a.reload = fn }
}

// New creates an API over the given orchestrator.
func New(orch Orchestrator, opts ...Option) *API {
	a := &API{orch: orch}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)

	r.Get("/healthz", a.Health)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Group(func(r chi.Router) {
		if a.limiter != nil {
			r.Use(a.limiter.middleware)
		}
		r.Use(a.requireAuth)
		r.Use(withIdentity)

		r.Get("/status", a.StatusHandler)
		r.Post("/bootstrap", a.Bootstrap)

		r.Get("/clients", a.ListClientsHandler)
		r.Post("/clients", a.IssueClientHandler)
		r.Delete("/clients/{name}", a.RevokeClientHandler)
		r.Get("/clients/{name}/profile", a.DownloadProfile)

		r.Get("/crl", a.DownloadCRL)
		r.Post("/crl", a.RefreshCRLHandler)
		r.Post("/tlsauth", a.TLSAuthHandler)
		r.Get("/certificates/{name}", a.CheckCertificateHandler)

		r.Get("/audit", a.ListAuditEvents)
		r.Get("/audit/verify", a.VerifyAuditChain)
	})

	return r
}
