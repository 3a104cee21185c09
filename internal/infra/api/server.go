package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"fleet-billing/internal/config"
	"fleet-billing/internal/infra/i18n"
	infraredis "fleet-billing/internal/infra/redis"
	"fleet-billing/internal/infra/security"
	"fleet-billing/internal/usecase"
)

var purchaseKey = infraredis.PurchaseKey

// Limiter is the fixed-window rate limiter used on purchases.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// CatalogLister serves the public price list.
type CatalogLister interface {
	List(ctx context.Context) (*usecase.Catalog, error)
}

// Deps are the use cases and guards the API serves.
type Deps struct {
	Payments  usecase.PaymentUseCase
	Verifier  usecase.VerificationUseCase
	Reconcile usecase.ReconcileUseCase
	Retention  usecase.RetentionUseCase
	Expiration usecase.ExpirationSynchronizer
	Wallet     usecase.WalletUseCase
	Catalog    CatalogLister

	Tokens     *security.TokenManager
	AdminKey   string
	Limiter    Limiter // nil disables purchase rate limiting
	Translator *i18n.Translator

	PurchaseLimit  int
	PurchaseWindow time.Duration
	RequestTimeout time.Duration

	// Health reports readiness of the backing stores.
	Health func(ctx context.Context) error
}

type Server struct {
	payments  usecase.PaymentUseCase
	verifier  usecase.VerificationUseCase
	reconcile usecase.ReconcileUseCase
	retention  usecase.RetentionUseCase
	expiration usecase.ExpirationSynchronizer
	wallet     usecase.WalletUseCase
	catalog    CatalogLister

	tokens         *security.TokenManager
	adminKey       string
	limiter        Limiter
	purchaseLimit  int
	purchaseWindow time.Duration
	timeout        time.Duration
	health         func(ctx context.Context) error

	tr       *i18n.Translator
	validate *validator.Validate
	log      *zerolog.Logger
	srv      *http.Server
}

func NewServer(d Deps, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "API").Logger()
	s := &Server{
		payments:       d.Payments,
		verifier:       d.Verifier,
		reconcile:      d.Reconcile,
		retention:      d.Retention,
		expiration:     d.Expiration,
		wallet:         d.Wallet,
		catalog:        d.Catalog,
		tokens:         d.Tokens,
		adminKey:       d.AdminKey,
		limiter:        d.Limiter,
		purchaseLimit:  d.PurchaseLimit,
		purchaseWindow: d.PurchaseWindow,
		timeout:        d.RequestTimeout,
		health:         d.Health,
		tr:             d.Translator,
		validate:       validator.New(),
		log:            &l,
	}
	if s.purchaseLimit <= 0 {
		s.purchaseLimit = 10
	}
	if s.purchaseWindow <= 0 {
		s.purchaseWindow = time.Minute
	}
	if s.timeout <= 0 {
		s.timeout = 45 * time.Second
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(s.timeout))

		r.Get("/catalog", s.handleCatalog)
		r.Post("/payment/verify", s.handleVerify)
		r.Get("/payment/callback/{deviceID}", s.handleCallback)

		r.Group(func(r chi.Router) {
			r.Use(s.RequireUser)
			r.With(s.LimitPurchases).Post("/purchase", s.handlePurchase)
			r.Get("/wallet", s.handleWallet)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.RequireAdmin)
			r.Post("/payments/{id}/reverify", s.handleReverify)
			r.Post("/payments/reverify-all", s.handleReverifyAll)
			r.Post("/payments/retry-fulfillment", s.handleRetryFulfillment)
			r.Post("/shadow/{kind}/{id}/reset", s.handleShadowReset)
			r.Post("/tracking-users/{id}/extend", s.handleExtendTrackingUser)
		})
	})
	return r
}

// Run serves on cfg.Port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, cfg config.HTTPConfig) error {
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", cfg.Port).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	s.log.Info().Msg("http server shutting down")
	return s.srv.Shutdown(shCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, envelope{Code: "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}
