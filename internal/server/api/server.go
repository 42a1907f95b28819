// Package api exposes the biometric protocol over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dmitrijs2005/facegate/internal/logging"
	"github.com/dmitrijs2005/facegate/internal/server/auth"
	"github.com/dmitrijs2005/facegate/internal/server/models"
	"github.com/dmitrijs2005/facegate/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

type BiometricService interface {
	RequestChallenge(ctx context.Context, req services.ChallengeRequest) (*services.ChallengeGrant, error)
	Verify(ctx context.Context, req services.VerifyRequest) (*services.VerifyResult, error)
	RegisterTemplate(ctx context.Context, req services.RegisterRequest) (*services.RegisterResult, error)
	ValidateFaceUniqueness(ctx context.Context, req services.ValidateRequest) (*services.ValidateResult, error)
	Status(ctx context.Context, userID string) (*services.TemplateStatus, error)
	Deactivate(ctx context.Context, userID string, client services.ClientInfo) error
	Stats(ctx context.Context, userID string, days int) ([]models.AuditStat, error)
}

type UserService interface {
	Signup(ctx context.Context, email, password, name string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*auth.Session, *models.User, error)
	Authenticate(ctx context.Context, token string) (*models.User, *auth.Claims, error)
}

type HTTPServer struct {
	address   string
	users     UserService
	biometric BiometricService
	limiter   *ipRateLimiter
	logger    logging.Logger
	echo      *echo.Echo
}

// NewHTTPServer wires routes. ratePerMinute limits biometric requests per
// client IP; zero or less disables the limit.
func NewHTTPServer(address string, l logging.Logger, us UserService, bs BiometricService, ratePerMinute int) *HTTPServer {
	s := &HTTPServer{
		address:   address,
		users:     us,
		biometric: bs,
		limiter:   newIPRateLimiter(ratePerMinute),
		logger:    l.With("module", "http_server"),
	}
	s.echo = s.routes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

func (s *HTTPServer) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(s.requestLogger())

	e.GET("/healthz", s.health)

	a := e.Group("/api/auth")
	a.POST("/signup", s.signup)
	a.POST("/login", s.login)

	b := e.Group("/api/biometric", s.rateLimit())
	b.POST("/challenge", s.requestChallenge)
	b.POST("/verify", s.verify)
	b.POST("/validate-face", s.validateFace)

	private := b.Group("", s.sessionAuth)
	private.POST("/register", s.registerTemplate)
	private.GET("/status", s.status)
	private.GET("/stats", s.stats)
	private.DELETE("/templates/:userId", s.deactivate, requireRole(string(models.RoleAdmin)))

	return e
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "http shutdown", "err", err)
		}
		s.limiter.stop()
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := s.echo.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
