// Package api exposes the credits engine to the web application: profile
// and balance reads, consumption, and the provider webhook endpoints, behind
// bearer-token auth and a per-user rate limit.
package api

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/plan"
	"github.com/DimensionCoin/credits/user"
)

// Ledger is the engine surface the API drives. *credits.Engine satisfies it.
type Ledger interface {
	EnsureUser(ctx context.Context, externalID string, profile user.Profile) (*user.User, error)
	GetUser(ctx context.Context, externalID string) (*user.User, error)
	UpdateProfile(ctx context.Context, externalID string, upd user.ProfileUpdate) (*user.User, error)
	TopSelections(ctx context.Context, externalID string) ([]string, error)
	SetTopSelections(ctx context.Context, externalID string, selections []string) (*user.User, error)
	Consume(ctx context.Context, externalID string, amount int64, meta user.UsageMeta) (*user.User, error)
	HasBalance(ctx context.Context, externalID string, required int64) (bool, error)
	Catalog() *plan.Catalog
}

// Server builds the HTTP handler tree.
type Server struct {
	ledger   Ledger
	verifier TokenVerifier
	logger   zerolog.Logger
	validate *validator.Validate

	origins []string
	rps     float64
	burst   int

	stripeHook http.Handler
	clerkHook  http.Handler
	metrics    http.Handler
	health     func(context.Context) error

	checkout  billing.CheckoutStarter
	portalURL string
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCORS allows browser calls from origins.
func WithCORS(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithRateLimit bounds requests per authenticated user. rps <= 0 disables
// limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		s.rps = rps
		s.burst = burst
	}
}

// WithStripeWebhook mounts h at POST /webhooks/stripe.
func WithStripeWebhook(h http.Handler) Option {
	return func(s *Server) { s.stripeHook = h }
}

// WithClerkWebhook mounts h at POST /webhooks/clerk.
func WithClerkWebhook(h http.Handler) Option {
	return func(s *Server) { s.clerkHook = h }
}

// WithCheckout enables POST /v1/billing/checkout.
func WithCheckout(c billing.CheckoutStarter) Option {
	return func(s *Server) { s.checkout = c }
}

// WithPortalURL sets the customer portal link served at
// GET /v1/billing/portal.
func WithPortalURL(u string) Option {
	return func(s *Server) { s.portalURL = u }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHealthCheck sets the readiness check behind /healthz.
func WithHealthCheck(fn func(context.Context) error) Option {
	return func(s *Server) { s.health = fn }
}

// NewServer returns a server for ledger, authenticating with verifier.
func NewServer(ledger Ledger, verifier TokenVerifier, opts ...Option) *Server {
	s := &Server{
		ledger:   ledger,
		verifier: verifier,
		logger:   zerolog.Nop(),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Routes returns the complete handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.RequestIDHandler("request_id", "X-Request-ID"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", size).
			Dur("duration", d).
			Msg("request")
	}))
	r.Use(chimiddleware.Recoverer)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Public
	r.Get("/healthz", s.healthz)
	r.Get("/v1/plans", s.listPlans)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	if s.stripeHook != nil {
		r.Method(http.MethodPost, "/webhooks/stripe", s.stripeHook)
	}
	if s.clerkHook != nil {
		r.Method(http.MethodPost, "/webhooks/clerk", s.clerkHook)
	}

	// Authenticated
	r.Group(func(r chi.Router) {
		r.Use(authenticate(s.verifier))
		r.Use(rateLimit(s.rps, s.burst))

		r.Route("/v1/me", func(r chi.Router) {
			r.Get("/", s.getMe)
			r.Patch("/", s.patchMe)
			r.Get("/history", s.getHistory)
			r.Get("/selections", s.getSelections)
			r.Put("/selections", s.putSelections)
		})

		r.Route("/v1/credits", func(r chi.Router) {
			r.Get("/balance", s.getBalance)
			r.Post("/consume", s.consume)
		})

		r.Route("/v1/billing", func(r chi.Router) {
			r.Post("/checkout", s.startCheckout)
			r.Get("/portal", s.billingPortal)
		})
	})

	return r
}
