package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	jwtware "github.com/gofiber/jwt/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/wichananm65/storefront-backend/internal/address"
	"github.com/wichananm65/storefront-backend/internal/cart"
	"github.com/wichananm65/storefront-backend/internal/checkout"
	"github.com/wichananm65/storefront-backend/internal/config"
	"github.com/wichananm65/storefront-backend/internal/httpx"
	"github.com/wichananm65/storefront-backend/internal/logging"
	"github.com/wichananm65/storefront-backend/internal/notification"
	"github.com/wichananm65/storefront-backend/internal/order"
	"github.com/wichananm65/storefront-backend/internal/payment"
	"github.com/wichananm65/storefront-backend/internal/product"
	"github.com/wichananm65/storefront-backend/internal/ratelimit"
	"github.com/wichananm65/storefront-backend/internal/retry"
	"github.com/wichananm65/storefront-backend/internal/user"
)

type server struct {
	app      *fiber.App
	checkout *checkout.Service
	payments *payment.Orchestrator
	close    func()
}

// throttles picks the Redis backends when REDIS_ADDR is set so several
// instances share limits, and the in-process ones otherwise.
type throttles struct {
	limiter ratelimit.Limiter
	guard   ratelimit.Guard
	cache   ratelimit.Cache
	close   func()
}

func newThrottles(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (throttles, error) {
	if cfg.RedisAddr == "" {
		return throttles{
			limiter: ratelimit.NewMemoryLimiter(cfg.PayU.RateLimit, cfg.PayU.RateWindow, nil),
			guard:   ratelimit.NewMemoryGuard(nil),
			cache:   ratelimit.NewMemoryCache(nil),
			close:   func() {},
		}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return throttles{}, errors.Wrap(err, "connect redis")
	}
	log.WithField("addr", cfg.RedisAddr).Info("using redis for payment throttling")
	return throttles{
		limiter: ratelimit.NewRedisLimiter(client, cfg.PayU.RateLimit, cfg.PayU.RateWindow),
		guard:   ratelimit.NewRedisGuard(client, log),
		cache:   ratelimit.NewRedisCache(client),
		close:   func() { client.Close() },
	}, nil
}

func build(ctx context.Context, cfg config.Config, db *sql.DB, log *logrus.Logger) (*server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is empty")
	}
	th, err := newThrottles(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	dispatcher := notification.NewDispatcher(log, notification.DefaultTimeout,
		notification.LogSender{Log: log},
		notification.NewPostgresSender(db),
	)

	gateCfg := retry.DefaultGateConfig()
	gateCfg.MinInterval = cfg.PayU.MinInterval
	gateCfg.Policy.MaxRetries = cfg.PayU.MaxRetries
	gateCfg.Policy.BaseDelay = cfg.PayU.BaseDelay
	gateCfg.FailureThreshold = cfg.PayU.BreakerThreshold
	gateCfg.Cooldown = cfg.PayU.BreakerCooldown
	gate := retry.NewGate(gateCfg, log)

	users := user.NewService(user.NewPostgresRepository(db))
	products := product.NewService(product.NewPostgresRepository(db))
	addresses := address.NewService(address.NewPostgresRepository(db))
	carts := cart.NewService(cart.NewPostgresRepository(db), products)
	orders := order.NewService(order.NewPostgresRepository(db), products, dispatcher, log)

	checkouts := checkout.NewService(checkout.Deps{
		Catalog:   products,
		Carts:     carts,
		Addresses: addresses,
		Orders:    orders,
		Sessions:  checkout.NewPostgresSessionStore(db),
		Notifier:  dispatcher,
		Pricer:    checkout.Pricer{TaxRate: cfg.Checkout.TaxRate, FlatShipping: cfg.Checkout.FlatShipping},
		TTL:       cfg.Checkout.SessionTTL,
		Guard:     th.guard,
	}, log)

	payments := payment.NewOrchestrator(payment.Deps{
		Orders:    orders,
		Addresses: addresses,
		Users:     users,
		Attempts:  payment.NewPostgresAttemptStore(db),
		Signer:    payment.SaltSigner{Salt: cfg.PayU.Salt},
		Gate:      gate,
		Limiter:   th.limiter,
		Guard:     th.guard,
		Cache:     th.cache,
		Notifier:  dispatcher,
		Gateway: payment.Gateway{
			Key:         cfg.PayU.Key,
			Environment: cfg.PayU.Environment,
			SuccessURL:  cfg.PayU.SuccessURL(),
			FailureURL:  cfg.PayU.FailureURL(),
		},
		Record:     retry.Policy{MaxRetries: cfg.PayU.MaxRetries, BaseDelay: cfg.PayU.BaseDelay, MaxDelay: 10 * time.Second},
		DedupTTL:   cfg.PayU.DedupTTL,
		CacheTTL:   cfg.PayU.CacheTTL,
		AttemptTTL: cfg.PayU.AttemptTTL,
	}, log)

	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler(log)})
	setupCORS(app)
	app.Use(logging.RequestLogger(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := db.PingContext(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	userHandler := user.NewHandler(users, cfg.JWTSecret)
	paymentHandler := payment.NewHandler(payments)
	orderHandler := order.NewHandler(orders)

	userHandler.RegisterPublicRoutes(app)
	product.NewHandler(products).RegisterPublicRoutes(app)
	paymentHandler.RegisterPublicRoutes(app)

	app.Use(jwtware.New(jwtware.Config{SigningKey: []byte(cfg.JWTSecret)}))

	userHandler.RegisterProtectedRoutes(app)
	cart.NewHandler(carts).RegisterProtectedRoutes(app)
	address.NewHandler(addresses).RegisterProtectedRoutes(app)
	checkout.NewHandler(checkouts).RegisterProtectedRoutes(app)
	orderHandler.RegisterProtectedRoutes(app)
	paymentHandler.RegisterProtectedRoutes(app)
	orderHandler.RegisterAdminRoutes(app)

	return &server{
		app:      app,
		checkout: checkouts,
		payments: payments,
		close: func() {
			gate.Close()
			dispatcher.Wait()
			th.close()
		},
	}, nil
}

func setupCORS(app *fiber.App) {
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
}
