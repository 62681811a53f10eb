package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labbook/labbook/internal/config"
	"github.com/labbook/labbook/internal/domain/booking"
	"github.com/labbook/labbook/internal/domain/dashboard"
	"github.com/labbook/labbook/internal/domain/identity"
	"github.com/labbook/labbook/internal/domain/lab"
	"github.com/labbook/labbook/internal/domain/referral"
	"github.com/labbook/labbook/internal/platform/auth"
	"github.com/labbook/labbook/internal/platform/blobstore"
	"github.com/labbook/labbook/internal/platform/db"
	"github.com/labbook/labbook/internal/platform/middleware"
	"github.com/labbook/labbook/internal/platform/notification"
	"github.com/labbook/labbook/internal/platform/payment"
	"github.com/labbook/labbook/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "labbook-server",
		Short: "Diagnostic lab booking API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(adminCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			autoMigrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(autoMigrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, _, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.Files).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, _, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.Files).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
				}
				if s.AppliedAt != nil {
					appliedAt = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative tasks",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a super admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password = os.Getenv("LABBOOK_ADMIN_PASSWORD")
			}
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password (or LABBOOK_ADMIN_PASSWORD) are required")
			}

			ctx := context.Background()
			pool, cfg, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			rate, err := cfg.DefaultCommissionRate()
			if err != nil {
				return err
			}
			revocations := auth.NewTokenRevocationStore()
			defer revocations.Close()
			sessions := auth.NewSessionManager([]byte(cfg.SessionSecret), cfg.SessionTTL, revocations)

			svc := identity.NewService(identity.NewUserRepo(pool), identity.NewSalesExecutiveRepo(pool),
				db.NewTxRunner(pool), sessions, rate)
			u, err := svc.CreateUser(ctx, identity.CreateUserInput{
				Name:     name,
				Email:    email,
				Password: password,
				Role:     auth.RoleSuperAdmin,
			})
			if err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			fmt.Printf("Created super admin %s (%s)\n", u.Email, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("name", "Administrator", "Display name")
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("password", "", "Initial password")
	cmd.AddCommand(createCmd)

	return cmd
}

func connect(ctx context.Context) (*pgxpool.Pool, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, nil, err
	}
	return pool, cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer(autoMigrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if autoMigrate {
		n, err := db.NewMigrator(pool, migrations.Files).Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Int("applied", n).Msg("migrations applied")
	}

	a, err := newApp(ctx, cfg, logger, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise services")
	}
	// The worker outlives the signal context; Stop drains it below.
	a.dispatcher.Start(context.Background())
	defer a.close()

	e := a.routes()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = e.Shutdown(shutdownCtx)
	a.dispatcher.Stop()
	logger.Info().Interface("notifications", a.dispatcher.Stats()).Msg("notification queue drained")
	return err
}

// app holds the shared infrastructure the HTTP layer is built from.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool

	revocations *auth.TokenRevocationStore
	sessions    *auth.SessionManager
	dispatcher  *notification.Dispatcher
	store       blobstore.Store
	gateway     payment.Gateway
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) (*app, error) {
	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	gateway, err := newGateway(cfg)
	if err != nil {
		return nil, err
	}
	sender, err := newSender(cfg, logger)
	if err != nil {
		return nil, err
	}

	revocations := auth.NewTokenRevocationStore()
	return &app{
		cfg:         cfg,
		logger:      logger,
		pool:        pool,
		revocations: revocations,
		sessions:    auth.NewSessionManager([]byte(cfg.SessionSecret), cfg.SessionTTL, revocations),
		dispatcher:  notification.NewDispatcher(sender, notification.NewTemplateEngine(), logger, notification.DispatcherOptions{}),
		store:       store,
		gateway:     gateway,
	}, nil
}

func (a *app) close() {
	a.dispatcher.Stop()
	a.revocations.Close()
}

func newStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.StorageDriver {
	case "", "memory":
		return blobstore.NewMemoryStore(), nil
	case "s3":
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

func newGateway(cfg *config.Config) (payment.Gateway, error) {
	switch cfg.PaymentDriver {
	case "", "fake":
		return payment.NewFakeGateway(), nil
	case "razorpay":
		return payment.NewRazorpayGateway(payment.RazorpayConfig{
			KeyID:         cfg.PaymentKeyID,
			KeySecret:     cfg.PaymentSecret,
			WebhookSecret: cfg.PaymentWebhook,
			BaseURL:       cfg.PaymentBaseURL,
		}), nil
	}
	return nil, fmt.Errorf("unknown payment driver %q", cfg.PaymentDriver)
}

func newSender(cfg *config.Config, logger zerolog.Logger) (notification.EmailSender, error) {
	switch cfg.MailDriver {
	case "", "log":
		return notification.NewLogSender(logger), nil
	case "smtp":
		return notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		}), nil
	}
	return nil, fmt.Errorf("unknown mail driver %q", cfg.MailDriver)
}

// routes builds the echo server with every domain mounted under /api/v1.
func (a *app) routes() *echo.Echo {
	cfg, logger, pool := a.cfg, a.logger, a.pool

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))
	e.Use(auth.SessionMiddleware(a.sessions))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool, db.StatsFunc(pool)))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))
	loginLimiter := middleware.RateLimit(middleware.RateLimitConfig{RequestsPerSecond: 0.2, BurstSize: 5})

	tx := db.NewTxRunner(pool)
	rate, err := cfg.DefaultCommissionRate()
	if err != nil {
		logger.Warn().Err(err).Msg("falling back to zero default commission rate")
	}

	// Identity
	identitySvc := identity.NewService(identity.NewUserRepo(pool), identity.NewSalesExecutiveRepo(pool), tx, a.sessions, rate)
	identitySvc.SetNotifier(a.dispatcher)
	identitySvc.SetLogger(logger)

	// Labs and catalog
	labSvc := lab.NewService(lab.NewLabRepo(pool), lab.NewServiceRepo(pool), a.store)
	labSvc.SetLogger(logger)
	identitySvc.SetLabLookup(labSvc)

	// Referrals and commissions
	codeSvc := referral.NewService(referral.NewCodeRepo(pool), identitySvc)
	codeSvc.SetLogger(logger)
	commissionSvc := referral.NewCommissionService(referral.NewCodeRepo(pool), referral.NewCommissionRepo(pool), identitySvc)
	commissionSvc.SetNotifier(a.dispatcher)
	commissionSvc.SetLogger(logger)

	// Bookings and payments
	bookingSvc := booking.NewService(booking.NewBookingRepo(pool), booking.NewPaymentRepo(pool), tx,
		labSvc, codeSvc, commissionSvc, a.store)
	bookingSvc.SetGateway(a.gateway, cfg.PaymentCurrency)
	bookingSvc.SetUsers(identitySvc)
	bookingSvc.SetNotifier(a.dispatcher)
	bookingSvc.SetLogger(logger)

	// Dashboards
	dashboardSvc := dashboard.NewService(dashboard.NewRepo(pool))
	dashboardSvc.SetLogger(logger)

	identity.NewHandler(identitySvc, cfg.IsProduction()).RegisterRoutes(apiV1, loginLimiter)
	lab.NewHandler(labSvc).RegisterRoutes(apiV1)
	referral.NewHandler(codeSvc, commissionSvc).RegisterRoutes(apiV1)
	booking.NewHandler(bookingSvc).RegisterRoutes(apiV1)
	dashboard.NewHandler(dashboardSvc).RegisterRoutes(apiV1)

	logger.Info().Int("routes", len(e.Routes())).Msg("routes registered")
	return e
}
