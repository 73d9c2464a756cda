package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/camp-booking-engine/internal/booking"
	"github.com/iliyamo/camp-booking-engine/internal/checkout"
	"github.com/iliyamo/camp-booking-engine/internal/config"
	"github.com/iliyamo/camp-booking-engine/internal/database"
	"github.com/iliyamo/camp-booking-engine/internal/handler"
	"github.com/iliyamo/camp-booking-engine/internal/inventory"
	"github.com/iliyamo/camp-booking-engine/internal/logger"
	"github.com/iliyamo/camp-booking-engine/internal/middleware"
	"github.com/iliyamo/camp-booking-engine/internal/payment"
	"github.com/iliyamo/camp-booking-engine/internal/payment/ecpay"
	"github.com/iliyamo/camp-booking-engine/internal/payment/linepay"
	"github.com/iliyamo/camp-booking-engine/internal/queue"
	"github.com/iliyamo/camp-booking-engine/internal/reconcile"
	"github.com/iliyamo/camp-booking-engine/internal/repository"
	"github.com/iliyamo/camp-booking-engine/internal/repository/memory"
	"github.com/iliyamo/camp-booking-engine/internal/router"
)

func main() {
	cfg := config.Load()
	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer closeStore()

	var notifier checkout.Notifier
	if cfg.RabbitMQURL != "" {
		pub := queue.NewPublisher(cfg.RabbitMQURL, zl.Named("publisher"))
		defer pub.Close()
		notifier = pub
		go func() { _ = pub.Run(ctx) }()
		consumer := queue.NewConsumer(cfg.RabbitMQURL, "", zl.Named("consumer"))
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zl.Error("booking consumer stopped", zap.Error(err))
			}
		}()
	} else {
		zl.Warn("RABBITMQ_URL not set, order confirmations will not be published")
	}

	providers := payment.NewRegistry(
		ecpay.New(ecpay.Config{
			MerchantID:    cfg.ECPay.MerchantID,
			HashKey:       cfg.ECPay.HashKey,
			HashIV:        cfg.ECPay.HashIV,
			CheckoutURL:   cfg.ECPay.CheckoutURL,
			ReturnURL:     cfg.PublicBaseURL + "/v1/payments/ecpay/notify",
			ClientBackURL: cfg.ECPay.ClientBackURL,
			ChoosePayment: cfg.ECPay.ChoosePayment,
		}),
		linepay.New(linepay.Config{
			ChannelID:     cfg.LinePay.ChannelID,
			ChannelSecret: cfg.LinePay.ChannelSecret,
			BaseURL:       cfg.LinePay.BaseURL,
			ConfirmURL:    cfg.PublicBaseURL + "/v1/payments/linepay/confirm",
			CancelURL:     cfg.PublicBaseURL + "/v1/payments/linepay/cancel",
			SigningKey:    cfg.LinePay.SigningKey,
			HTTPClient:    &http.Client{Timeout: cfg.LinePay.Timeout},
		}),
	)

	ledger := inventory.NewLedger(store, zl.Named("ledger"))
	bookings := booking.NewService(store, ledger, booking.Options{
		HoldTTL: cfg.Booking.HoldTTL,
		Logger:  zl.Named("booking"),
	})
	coord := checkout.NewCoordinator(store, bookings, providers, checkout.Options{
		PaymentSessionTTL: cfg.Booking.PaymentSessionTTL,
		Logger:            zl.Named("checkout"),
		Notifier:          notifier,
	})
	worker := reconcile.NewWorker(store, coord, providers, zl.Named("reconcile"))
	sweeper := booking.NewSweeper(store, bookings, coord, cfg.Booking.SweepInterval, cfg.Booking.SweepBatch, zl.Named("sweeper"))
	go func() { _ = sweeper.Run(ctx) }()

	rdb := config.NewRedisClient()
	if rdb == nil {
		zl.Warn("redis unavailable, rate limiting and caching disabled")
	} else {
		defer func(c *redis.Client) { _ = c.Close() }(rdb)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestLogger(zl.Named("http")))

	router.RegisterRoutes(e,
		router.Handlers{
			Options:  handler.NewOptionHandler(store, ledger, zl),
			Bookings: handler.NewBookingHandler(bookings, zl),
			Orders:   handler.NewOrderHandler(coord, zl),
			Payments: handler.NewPaymentHandler(worker, zl),
		},
		router.Middleware{
			RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, zl.Named("ratelimit")),
			Cache:     middleware.NewRedisCache(config.LoadCacheConfig(), rdb, zl.Named("cache")),
		},
		cfg.JWTSecret,
	)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		zl.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// openStore returns the configured store and a function releasing it.
func openStore(ctx context.Context, cfg config.Config, zl *zap.Logger) (repository.Store, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		zl.Warn("using in-memory store, data is lost on restart")
		return memory.New(), func() {}, nil
	}
	db, err := database.Open(cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repository.NewSQLStore(db), func() { _ = db.Close() }, nil
}

func requestLogger(zl *zap.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				zl.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			zl.Info("request", fields...)
			return nil
		},
	})
}
