package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/SlotBoard/internal/app/ratelimit"
	"github.com/sifan077/SlotBoard/internal/app/service"
	inthttp "github.com/sifan077/SlotBoard/internal/http/handler"
	"github.com/sifan077/SlotBoard/internal/http/middleware"
	httpUtil "github.com/sifan077/SlotBoard/internal/http/util"
	"go.uber.org/zap"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 15 * time.Second
)

// Dependencies bundles what the HTTP server needs.
type Dependencies struct {
	Logger     *zap.Logger
	Queue      service.QueueService
	Cursors    *httpUtil.CursorSigner
	Limiter    ratelimit.Limiter
	ReadRule   ratelimit.Rule
	WriteRule  ratelimit.Rule
	AdminToken string
	Checks     map[string]inthttp.Check

	// Observer receives per-route latency; RateLimited counts denials.
	// Both are optional.
	Observer    middleware.HTTPObserver
	RateLimited func(scope string)
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with all routes registered.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "SlotBoard",
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	log := s.deps.Logger.Named("http")
	s.app.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log),
		middleware.CORS(),
	)
	if s.deps.Observer != nil {
		s.app.Use(middleware.Metrics(s.deps.Observer))
	}
}

func (s *Server) registerRoutes() {
	log := s.deps.Logger.Named("http")

	inthttp.NewHealthHandler(inthttp.HealthDeps{
		Logger: log,
		Checks: s.deps.Checks,
	}).Register(s.app)

	var readMW, writeMW []fiber.Handler
	if s.deps.Limiter != nil {
		readMW = append(readMW, middleware.RateLimit(middleware.RateLimitConfig{
			Limiter: s.deps.Limiter,
			Rule:    s.deps.ReadRule,
			OnDeny:  s.deps.RateLimited,
		}, log))
		writeMW = append(writeMW, middleware.RateLimit(middleware.RateLimitConfig{
			Limiter: s.deps.Limiter,
			Rule:    s.deps.WriteRule,
			OnDeny:  s.deps.RateLimited,
		}, log))
	}

	api := s.app.Group("/api")

	listings := inthttp.NewListingHandler(inthttp.ListingDeps{
		Logger:  log,
		Queue:   s.deps.Queue,
		Cursors: s.deps.Cursors,
	})
	listings.RegisterReads(api, readMW...)
	listings.RegisterWrites(api, writeMW...)

	admin := api.Group("/admin", middleware.AdminAuth(s.deps.AdminToken))
	inthttp.NewAdminHandler(inthttp.AdminDeps{
		Logger: log,
		Queue:  s.deps.Queue,
	}).Register(admin)
}
