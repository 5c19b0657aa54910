package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"golang.org/x/sync/errgroup"

	"github.com/cyppan/simple-site-analytics/internal/auth"
	"github.com/cyppan/simple-site-analytics/internal/config"
	"github.com/cyppan/simple-site-analytics/internal/database"
	"github.com/cyppan/simple-site-analytics/internal/handlers"
	"github.com/cyppan/simple-site-analytics/internal/live"
	"github.com/cyppan/simple-site-analytics/internal/metrics"
	"github.com/cyppan/simple-site-analytics/internal/middleware"
	"github.com/cyppan/simple-site-analytics/internal/notifier"
	"github.com/cyppan/simple-site-analytics/internal/security"
	"github.com/cyppan/simple-site-analytics/internal/stats"
	"github.com/cyppan/simple-site-analytics/internal/tracking"
)

const (
	shutdownTimeout    = 30 * time.Second
	spikeCheckInterval = 15 * time.Minute
	saltPurgeInterval  = time.Hour
)

// runServe starts the analytics server and blocks until SIGINT or SIGTERM
func runServe(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}

	// Configure logging based on flags
	if flags.Quiet {
		log.SetOutput(io.Discard)
	}
	if flags.Verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		config.SetVerbose(true)
	}

	log.Println("Starting Simple Site Analytics...")

	cfg, err := config.Load(flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	security.EnsureSecurePermissions(config.ExpandPath(flags.ConfigPath), cfg.Database.Path)

	if !flags.Quiet {
		printBanner(cfg, config.ExpandPath(flags.ConfigPath))
	}

	if err := database.Init(cfg.Database.Path); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	db := database.GetDB()

	// Generate mock data in development mode
	if cfg.IsDevelopment() {
		seedDevelopmentData(db)
	}

	m := metrics.New()
	hub := live.NewHub(m.SetLiveClients)
	defer hub.Stop()

	notif := notifier.New(db, cfg.Ntfy, cfg.IsDevelopment())
	recorder := tracking.NewRecorder(db, cfg.Tracking, tracking.Deps{
		Broadcaster: hub,
		Notifier:    notif,
		Metrics:     m,
	})

	sessionStore := auth.NewSessionStore(auth.SessionTTL)
	defer sessionStore.Stop()
	loginLimiter := auth.NewRateLimiter()
	defer loginLimiter.Stop()
	trackLimiter := auth.NewIPLimiter(cfg.Tracking.RateLimit, cfg.Tracking.RateBurst)
	defer trackLimiter.Stop()

	h, err := handlers.New(handlers.Options{
		Config:   cfg,
		DB:       db,
		Recorder: recorder,
		Stats:    stats.NewService(db),
		Hub:      hub,
		Sessions: sessionStore,
		Logins:   loginLimiter,
		Metrics:  m,
	})
	if err != nil {
		return err
	}

	handler := buildHandler(cfg, h.Routes(), m, sessionStore, trackLimiter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	var challengeSrv *http.Server
	if cfg.Server.AutoTLS {
		tlsConfig, challenge, err := setupTLS(ctx, cfg, db)
		if err != nil {
			return err
		}
		srv.Addr = ":443"
		srv.TLSConfig = tlsConfig
		challengeSrv = &http.Server{
			Addr:         ":80",
			Handler:      challenge,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if srv.TLSConfig != nil {
			log.Printf("Server starting on %s (TLS for %s)", srv.Addr, cfg.Host())
			return ignoreClosed(srv.ListenAndServeTLS("", ""))
		}
		log.Printf("Server starting on :%s", cfg.Server.Port)
		log.Printf("Dashboard: http://localhost:%s", cfg.Server.Port)
		return ignoreClosed(srv.ListenAndServe())
	})
	if challengeSrv != nil {
		g.Go(func() error {
			log.Println("ACME challenge listener starting on :80")
			return ignoreClosed(challengeSrv.ListenAndServe())
		})
	}

	g.Go(func() error {
		every(ctx, spikeCheckInterval, func() {
			if err := notif.CheckTrafficSpike(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[NTFY] Traffic spike check failed: %v", err)
			}
		})
		return nil
	})

	g.Go(func() error {
		every(ctx, saltPurgeInterval, func() {
			n, err := recorder.Hasher().PurgeSalts(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("[TRACK] Salt purge failed: %v", err)
				}
				return
			}
			if n > 0 {
				log.Printf("[TRACK] Purged %d expired visitor salts", n)
			}
		})
		return nil
	})

	// Graceful shutdown once a signal arrives or a listener fails
	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if challengeSrv != nil {
			challengeSrv.Shutdown(shutdownCtx)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		notif.NotifyError(notifyCtx, err.Error())
		return err
	}

	log.Println("Server stopped")
	return nil
}

// buildHandler wraps the routes in the middleware chain.
// Order, outermost first: tracing, security headers, logging, recovery,
// CORS, body limit, tracking rate limit, auth.
func buildHandler(cfg *config.Config, routes http.Handler, m *metrics.Metrics, sessions *auth.SessionStore, trackLimiter *auth.IPLimiter) http.Handler {
	var handler http.Handler = routes
	handler = middleware.AuthMiddleware(sessions)(handler)
	handler = middleware.TrackRateLimit(trackLimiter, cfg.Server.TrustProxy)(handler)
	handler = middleware.BodySizeLimit(middleware.MaxBodySize)(handler)
	handler = middleware.CORS(handler)
	handler = middleware.Recovery(handler)
	handler = middleware.Logging(m)(handler)
	handler = middleware.SecurityHeaders(handler)
	handler = middleware.RequestTracing(handler)
	return handler
}

// setupTLS obtains certificates for the configured domain, stored in SQLite.
// It returns the TLS config and the :80 handler that answers ACME HTTP
// challenges and redirects everything else to HTTPS.
func setupTLS(ctx context.Context, cfg *config.Config, db *sql.DB) (*tls.Config, http.Handler, error) {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = cfg.Server.ACMEEmail
	certmagic.Default.Storage = database.NewSQLCertStorage(db)

	magic := certmagic.NewDefault()
	issuer := certmagic.NewACMEIssuer(magic, certmagic.DefaultACME)
	magic.Issuers = []certmagic.Issuer{issuer}

	host := cfg.Host()
	if err := magic.ManageSync(ctx, []string{host}); err != nil {
		return nil, nil, fmt.Errorf("failed to obtain certificate for %s: %w", host, err)
	}

	tlsConfig := magic.TLSConfig()
	tlsConfig.NextProtos = append([]string{"h2", "http/1.1"}, tlsConfig.NextProtos...)

	return tlsConfig, issuer.HTTPChallengeHandler(http.HandlerFunc(redirectHTTPS)), nil
}

func redirectHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// every runs fn on each tick until ctx is done
func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// seedDevelopmentData fills an empty development database with sample events
func seedDevelopmentData(db *sql.DB) {
	log.Println("Development mode: Checking for existing data...")
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		log.Printf("Warning: Failed to count events: %v", err)
		return
	}
	if count > 0 {
		log.Printf("Database already has %d events, skipping mock data generation", count)
		return
	}
	log.Println("Database is empty, generating mock data...")
	if err := database.GenerateMockData(db); err != nil {
		log.Printf("Warning: Failed to generate mock data: %v", err)
	}
}

// printBanner displays startup information
func printBanner(cfg *config.Config, configPath string) {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Printf("        Simple Site Analytics %s - Starting Up\n", Version)
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Println()
	fmt.Printf("  Environment:  %s\n", cfg.Server.Env)
	fmt.Printf("  Port:         %s\n", cfg.Server.Port)
	fmt.Printf("  Domain:       %s\n", cfg.Server.Domain)
	fmt.Printf("  Database:     %s\n", cfg.Database.Path)
	fmt.Printf("  Config File:  %s\n", configPath)
	fmt.Printf("  User:         %s\n", cfg.Auth.Username)
	if cfg.Server.AutoTLS {
		fmt.Printf("  TLS:          ✓ automatic (%s)\n", cfg.Server.ACMEEmail)
	}
	if cfg.Metrics.Enabled {
		fmt.Println("  Metrics:      ✓ /metrics")
	}
	if cfg.Ntfy.Topic == "" {
		fmt.Println("  Ntfy:         ✗ no topic configured")
	} else {
		fmt.Printf("  Ntfy:         ✓ %s/%s\n", cfg.Ntfy.URL, cfg.Ntfy.Topic)
	}
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Println()
}
