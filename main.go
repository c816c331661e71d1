package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gorilla/csrf"

	"github.com/payback159/cubesatbudget/pkg/auth"
	"github.com/payback159/cubesatbudget/pkg/config"
	"github.com/payback159/cubesatbudget/pkg/downloads"
	"github.com/payback159/cubesatbudget/pkg/handlers"
	"github.com/payback159/cubesatbudget/pkg/logging"
	"github.com/payback159/cubesatbudget/pkg/metrics"
	"github.com/payback159/cubesatbudget/pkg/models"
	"github.com/payback159/cubesatbudget/pkg/security"
	"github.com/payback159/cubesatbudget/pkg/session"
	"github.com/payback159/cubesatbudget/pkg/storage"
)

// Globals are flags shared by every command.
type Globals struct {
	Config  string `help:"Path to the YAML configuration file." default:"cubesatbudget.yaml" type:"path"`
	Verbose bool   `help:"Log at debug level." short:"v"`
}

var cli struct {
	Globals

	Serve  ServeCmd  `cmd:"" default:"1" help:"Start the local HTTP front end."`
	Calc   CalcCmd   `cmd:"" help:"Recalculate a saved project and print the results as JSON."`
	Export ExportCmd `cmd:"" help:"Export a saved project as CSV, Excel, PDF or JSON."`
	Passes PassesCmd `cmd:"" help:"Predict passes of a satellite over a ground station."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("cubesatbudget"),
		kong.Description("Link and data budget calculator for small satellite missions."),
		kong.UsageOnError())
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

// setup loads the configuration and configures logging. Command line tools
// log to stderr so their stdout stays machine readable.
func (g *Globals) setup(toStderr bool) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(g.Config)
	if err != nil {
		return nil, err
	}
	opts := logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}
	if g.Verbose {
		opts.Level = "debug"
	}
	if toStderr {
		opts.Output = os.Stderr
	}
	logging.Configure(opts)
	return cfg, nil
}

// app bundles what every command needs after setup.
type app struct {
	cfg     *config.Config
	session *session.Session
	issuer  *auth.TokenIssuer
	close   func()
}

func (g *Globals) open(toStderr bool) (*app, error) {
	cfg, err := g.setup(toStderr)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(cfg.Database.Path, g.Verbose)
	if err != nil {
		return nil, err
	}

	var policy auth.Policy = auth.AllowAll{}
	if cfg.Auth.Mode == config.AuthPassword {
		p, err := auth.NewPasswordPolicy(cfg.Auth.Users)
		if err != nil {
			storage.Close(db)
			return nil, err
		}
		policy = p
	}
	var issuer *auth.TokenIssuer
	if cfg.Auth.JWTSecret != "" {
		issuer = auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	}

	link, data := cfg.Link, cfg.Data
	s := session.New(session.Options{
		Store:            storage.NewProjectRepository(db),
		Policy:           policy,
		Issuer:           issuer,
		Rules:            cfg.CompiledRules(),
		Theme:            cfg.Theme,
		DefaultLink:      &link,
		DefaultData:      &data,
		AutoSaveInterval: cfg.AutoSave.Interval,
		SaveOnEdit:       cfg.AutoSave.OnEdit,
	})

	return &app{
		cfg:     cfg,
		session: s,
		issuer:  issuer,
		close: func() {
			if err := s.Close(); err != nil {
				logging.LogError("Failed to save open project on shutdown", err)
			}
			if err := storage.Close(db); err != nil {
				logging.LogError("Failed to close database", err)
			}
		},
	}, nil
}

// ServeCmd runs the HTTP front end until interrupted.
type ServeCmd struct {
	Addr string `help:"Listen address, overrides server.addr."`
}

func (c *ServeCmd) Run(g *Globals) error {
	a, err := g.open(false)
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.session.StartAutoSave(ctx)

	trustProxy := len(cfg.Server.TrustedProxies) > 0
	limiter := security.NewRateLimiter(ctx, models.RateLimit, models.RateBurst, trustProxy)

	mux := http.NewServeMux()
	handlers.NewHandler(a.session, cfg.Station, trustProxy).Register(mux)
	downloads.NewHandler(a.session, trustProxy).Register(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	// Metrics sit directly on the mux so the route pattern is visible.
	var handler http.Handler = metrics.Middleware(mux)
	if cfg.Auth.RequireToken {
		handler = auth.Middleware(a.issuer)(handler)
	}
	if config.IsProduction() {
		protect, err := csrfMiddleware(cfg.Server.CSRFKey)
		if err != nil {
			return err
		}
		handler = protect(handler)
	}
	handler = limiter.Middleware(handler)
	handler = requestLogger(handler, trustProxy)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.LogInfo("Server starting",
			"addr", cfg.Server.Addr,
			"production", config.IsProduction(),
			"auth_mode", cfg.Auth.Mode,
			"require_token", cfg.Auth.RequireToken)
		logging.LogSystemStats()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logging.LogCritical("Server failed", err, "addr", cfg.Server.Addr)
			return err
		}
	case <-ctx.Done():
	}

	logging.LogInfo("Server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// csrfMiddleware protects state-changing requests with gorilla/csrf. The
// server speaks plain HTTP on a local address, so requests are marked as
// plaintext for the origin check. Without a configured key a random one is
// used, which invalidates tokens on restart.
func csrfMiddleware(key string) (func(http.Handler) http.Handler, error) {
	authKey := []byte(key)
	if len(authKey) == 0 {
		authKey = make([]byte, 32)
		if _, err := rand.Read(authKey); err != nil {
			return nil, fmt.Errorf("generate csrf key: %w", err)
		}
		logging.LogWarn("server.csrf_key not set, using a random key")
	}

	protect := csrf.Protect(authKey,
		csrf.Secure(false),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteStrictMode),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logging.LogSecurityEvent("CSRF validation failed", "high",
				"path", r.URL.Path,
				"reason", csrf.FailureReason(r))
			http.Error(w, "Forbidden - CSRF token invalid", http.StatusForbidden)
		})))

	return func(next http.Handler) http.Handler {
		protected := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			protected.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
		})
	}, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler, trustProxy bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.LogHTTPRequest(r.Method, r.URL.Path, security.GetClientIP(r, trustProxy), rec.status, time.Since(start))
	})
}
