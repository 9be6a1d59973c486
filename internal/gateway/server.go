// Package gateway wires configuration, trust management and the HTTP
// surface into a runnable edge server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wearforce/gateway/internal/auth"
	"github.com/wearforce/gateway/internal/config"
	"github.com/wearforce/gateway/internal/deviceflow"
	"github.com/wearforce/gateway/internal/health"
	"github.com/wearforce/gateway/internal/middleware"
	"github.com/wearforce/gateway/internal/observability"
	"github.com/wearforce/gateway/internal/ratelimit"
	ratelimitstore "github.com/wearforce/gateway/internal/ratelimit/store"
	gatewaytls "github.com/wearforce/gateway/internal/tls"
	"github.com/wearforce/gateway/internal/wsproxy"
)

// Version is stamped at build time.
var Version = "dev"

// Server is the assembled gateway.
type Server struct {
	cfg    *config.Config
	logger observability.Logger

	tlsManager *gatewaytls.Manager
	redis      redis.UniversalClient
	issuer     *auth.Issuer
	deviceFlow *deviceflow.Manager
	registry   *wsproxy.Registry
	proxy      *wsproxy.Proxy
	reaper     *wsproxy.Reaper
	checker    *health.Checker
	limiters   map[string]ratelimit.Limiter

	httpServer    *http.Server
	metricsServer *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(logger observability.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRedisClient replaces the client built from configuration.
func WithRedisClient(client redis.UniversalClient) ServerOption {
	return func(s *Server) {
		s.redis = client
	}
}

// New assembles a Server from configuration.
func New(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Auth.SigningKey == "" {
		return nil, fmt.Errorf("auth.signingKey is required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   observability.NopLogger(),
		limiters: make(map[string]ratelimit.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}

	tlsManager, err := gatewaytls.NewManager(gatewaytls.Config{
		Mode:             gatewaytls.Mode(cfg.TLS.Mode),
		CertFile:         cfg.TLS.CertFile,
		KeyFile:          cfg.TLS.KeyFile,
		MinVersion:       cfg.TLS.MinVersion,
		CipherSuites:     cfg.TLS.CipherSuites,
		CurvePreferences: cfg.TLS.CurvePreferences,
		ALPN:             cfg.TLS.ALPN,
		ACMEDomains:      cfg.TLS.ACME.Domains,
		ACMEEmail:        cfg.TLS.ACME.Email,
		ACMECacheDir:     cfg.TLS.ACME.CacheDir,
		AllowDevelopment: cfg.TLS.AllowDevelopment,
	}, gatewaytls.WithManagerLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.tlsManager = tlsManager

	if s.redis == nil {
		s.redis = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout.Duration(),
			ReadTimeout:  cfg.Redis.ReadTimeout.Duration(),
			WriteTimeout: cfg.Redis.WriteTimeout.Duration(),
		})
	}

	issuer, err := auth.NewIssuer(cfg.Auth.Issuer,
		[]byte(cfg.Auth.SigningKey), cfg.Auth.AccessTTL.Duration())
	if err != nil {
		return nil, err
	}
	s.issuer = issuer

	s.deviceFlow = deviceflow.NewManager(deviceflow.Config{
		VerificationURI: cfg.DeviceFlow.VerificationURI,
		Expiry:          cfg.DeviceFlow.Expiry.Duration(),
		PollInterval:    cfg.DeviceFlow.PollInterval.Duration(),
		AllowedClients:  cfg.DeviceFlow.AllowedClients,
	}, deviceflow.NewRedisStore(s.redis), issuer, deviceflow.WithLogger(s.logger))

	if cfg.RateLimit.Enabled {
		store := ratelimitstore.NewRedisStore(s.redis)
		for name, class := range cfg.RateLimit.Classes {
			limiterCfg := ratelimit.Config{
				Requests:  class.Requests,
				Window:    class.Window.Duration(),
				Algorithm: class.Algorithm,
			}
			primary, err := ratelimit.New(store, limiterCfg)
			if err != nil {
				return nil, fmt.Errorf("rate limit class %s: %w", name, err)
			}
			s.limiters[name] = ratelimit.NewResilientLimiter(name, primary, limiterCfg, s.logger)
		}
	}

	s.registry = wsproxy.NewRegistry(cfg.WebSocket.MaxConnections)
	s.proxy = wsproxy.NewProxy(s.registry, issuer,
		cfg.WebSocket.IdleTimeout.Duration(),
		wsproxy.WithProxyLogger(s.logger))
	s.reaper = wsproxy.NewReaper(s.registry,
		cfg.WebSocket.IdleTimeout.Duration(),
		cfg.WebSocket.CleanupInterval.Duration(), s.logger)

	s.checker = health.NewChecker(Version)
	s.checker.Register("redis", func(ctx context.Context) error {
		return s.redis.Ping(ctx).Err()
	})
	s.checker.Register("certificate", func(context.Context) error {
		info, err := s.tlsManager.CertificateInfo()
		if errors.Is(err, gatewaytls.ErrCertificateNotFound) {
			// ACME issues on demand; absence is not a failure.
			return nil
		}
		if err != nil {
			return err
		}
		if time.Now().After(info.NotAfter) {
			return fmt.Errorf("certificate expired at %s", info.NotAfter)
		}
		return nil
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      s.Handler(),
		TLSConfig:    tlsManager.ServerTLSConfig(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:  cfg.Server.IdleTimeout.Duration(),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.Observability.MetricsPath, promhttp.Handler())
	s.metricsServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Observability.MetricsPort),
		Handler:     metricsMux,
		ReadTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler builds the routed, middleware-wrapped HTTP surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	deviceLimited := s.limited("device")
	apiLimited := s.limited("api")

	mux.Handle("POST /oauth/device_authorization",
		deviceLimited(http.HandlerFunc(s.handleDeviceAuthorization)))
	mux.Handle("POST /oauth/token",
		deviceLimited(http.HandlerFunc(s.handleToken)))

	mux.Handle("GET /device/verify",
		apiLimited(http.HandlerFunc(s.handleDeviceVerify)))
	mux.Handle("POST /device/authorize",
		apiLimited(middleware.RequireAuth(s.issuer)(http.HandlerFunc(s.handleDeviceAuthorize))))
	mux.Handle("GET /device/status/{user_code}",
		apiLimited(http.HandlerFunc(s.handleDeviceStatus)))

	mux.HandleFunc("GET /ws", s.proxy.HandleUpgrade)
	mux.Handle("GET /ws/stats",
		middleware.RequireAuth(s.issuer)(http.HandlerFunc(s.handleWSStats)))

	mux.Handle("GET /healthz", s.checker.LivenessHandler())
	mux.Handle("GET /readyz", s.checker.ReadinessHandler())

	chain := middleware.RequestID(
		middleware.Recovery(s.logger)(
			middleware.ClientIP(false)(
				middleware.Logging(s.logger)(mux))))
	return chain
}

// limited wraps a handler with the named rate limit class, or returns
// it unchanged when the class is not configured.
func (s *Server) limited(class string) func(http.Handler) http.Handler {
	limiter, ok := s.limiters[class]
	if !ok {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimit(limiter, s.logger)
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 4)

	go func() {
		if err := s.tlsManager.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("tls manager: %w", err)
		}
	}()
	go func() {
		if err := s.reaper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("reaper: %w", err)
		}
	}()
	go func() {
		s.logger.Info("metrics listening",
			observability.String("address", s.metricsServer.Addr))
		if err := s.metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	go func() {
		s.logger.Info("gateway listening",
			observability.String("address", s.httpServer.Addr),
			observability.String("tlsMode", s.cfg.TLS.Mode))
		// Certificates come from TLSConfig.GetCertificate.
		if err := s.httpServer.ListenAndServeTLS("", ""); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return s.shutdown()
}

// shutdown drains both listeners within the configured timeout.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(),
		s.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	// Shutdown does not touch hijacked connections; close the
	// remaining WebSockets explicitly.
	if n := s.registry.CloseAll("server shutting down"); n > 0 {
		s.logger.Info("closed remaining websocket connections",
			observability.Int("count", n))
	}
	if err := s.metricsServer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.tlsManager.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, limiter := range s.limiters {
		if err := limiter.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.redis.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
