package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/passwallet/passwallet/internal/ceremony"
	"github.com/passwallet/passwallet/internal/challenge"
	"github.com/passwallet/passwallet/internal/config"
	"github.com/passwallet/passwallet/internal/events"
	"github.com/passwallet/passwallet/internal/identity"
	"github.com/passwallet/passwallet/internal/metrics"
	"github.com/passwallet/passwallet/internal/middleware"
	"github.com/passwallet/passwallet/internal/notification"
	"github.com/passwallet/passwallet/internal/otp"
	"github.com/passwallet/passwallet/internal/payments"
)

// Deps aggregates shared dependencies required to wire routes. Only Cfg
// and Logger are required; the rest fall back to in-process versions.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger

	Events    *events.Publisher
	Metrics   *metrics.Recorder
	Notifier  notification.Notifier
	Processor payments.Processor
	// OTPHashCost overrides the bcrypt cost of stored codes.
	OTPHashCost int
	// AccessLog toggles the plain text access log.
	AccessLog bool
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Notifier == nil {
		d.Notifier = notification.NewLoggerNotifier(d.Logger)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.AccessLog {
		// [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.SecurityHeaders())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(append(d.Cfg.MerchantOrigins(), d.Cfg.AllowedOrigins()...), ","),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Idempotency-Key,X-Request-ID",
	}))

	RegisterHealthRoutes(app, d)
	RegisterMetricsRoute(app, d.Metrics)

	var identityRepo identity.Repository
	if d.DB != nil {
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		identityRepo = identity.NewMemoryRepository()
	}
	if d.Cfg.SeedDemo {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := identity.SeedDemo(ctx, identityRepo); err != nil {
			return fmt.Errorf("seed demo account: %w", err)
		}
	}
	identitySvc := identity.NewService(identityRepo)

	// ceremony and code keys carry their own kind prefix, so one store serves both
	var secrets challenge.Store
	if d.Cache != nil {
		secrets = challenge.NewRedisStore(d.Cache, "passwallet:", challenge.WithReclaimTTL(d.Cfg.ChallengeReclaimTTL))
	} else {
		secrets = challenge.NewMemoryStore()
	}

	verifier, err := ceremony.NewWebAuthnVerifier(ceremony.VerifierConfig{
		RPID:          d.Cfg.RPID(),
		RPDisplayName: d.Cfg.RPDisplayName(),
		Origins:       d.Cfg.AllowedOrigins(),
	})
	if err != nil {
		return err
	}
	orchestrator, err := ceremony.NewOrchestrator(ceremony.Params{
		Verifier:   verifier,
		Accounts:   identitySvc,
		Challenges: secrets,
		Events:     d.Events,
		Metrics:    d.Metrics,
		Logger:     d.Logger,
	})
	if err != nil {
		return err
	}
	otpSvc, err := otp.NewService(otp.Params{
		Codes:    secrets,
		Accounts: identitySvc,
		Notifier: d.Notifier,
		Events:   d.Events,
		Metrics:  d.Metrics,
		Logger:   d.Logger,
		HashCost: d.OTPHashCost,
	})
	if err != nil {
		return err
	}
	paymentSvc, err := payments.NewService(payments.Params{
		Accounts:  identitySvc,
		Processor: d.Processor,
		Notifier:  d.Notifier,
		Events:    d.Events,
		Metrics:   d.Metrics,
		Logger:    d.Logger,
	})
	if err != nil {
		return err
	}

	api := app.Group("/api", middleware.Audit(d.Logger))
	api.Get("/config", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"walletOrigin": d.Cfg.WalletOrigin(),
			"rpId":         d.Cfg.RPID(),
		})
	})

	RegisterIdentityRoutes(api, identity.NewHandler(identitySvc))
	RegisterOTPRoutes(api, otp.NewHandler(otpSvc), middleware.SendRateLimit(d.Cache, d.Cfg.OTPSendLimit, d.Logger))
	RegisterCeremonyRoutes(api, ceremony.NewHandler(orchestrator))
	RegisterPaymentRoutes(api, payments.NewHandler(paymentSvc), middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))

	return nil
}
