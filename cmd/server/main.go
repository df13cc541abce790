package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	logging "github.com/ipfs/go-log/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/raulk/clock"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/wastex/internal/admin"
	"github.com/sudo-init-do/wastex/internal/alerts"
	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/auth"
	"github.com/sudo-init-do/wastex/internal/catalog"
	"github.com/sudo-init-do/wastex/internal/config"
	"github.com/sudo-init-do/wastex/internal/contract"
	"github.com/sudo-init-do/wastex/internal/db"
	"github.com/sudo-init-do/wastex/internal/gateway"
	"github.com/sudo-init-do/wastex/internal/ledger"
	"github.com/sudo-init-do/wastex/internal/messaging"
	"github.com/sudo-init-do/wastex/internal/metrics"
	mware "github.com/sudo-init-do/wastex/internal/middleware"
	"github.com/sudo-init-do/wastex/internal/negotiation"
	"github.com/sudo-init-do/wastex/internal/payment"
	"github.com/sudo-init-do/wastex/internal/shipment"
	"github.com/sudo-init-do/wastex/internal/store"
	"github.com/sudo-init-do/wastex/internal/user"
)

var log = logging.Logger("server")

var specs = []store.Spec{
	user.Spec,
	catalog.ListingSpec,
	catalog.RequestSpec,
	negotiation.Spec,
	contract.Spec,
	payment.Spec,
	shipment.Spec,
	alerts.NotificationSpec,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("config", "error", err)
	}
	if err := logging.SetLogLevel("*", cfg.LogLevel); err != nil {
		log.Warnw("bad LOG_LEVEL", "level", cfg.LogLevel, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	clk := clock.New()

	// Storage
	var (
		backend store.Backend
		pool    *pgxpool.Pool
	)
	switch cfg.Store {
	case "memory":
		log.Warnw("using in-memory store, data is lost on restart")
		backend = store.NewMemory(clk)
	default:
		pool, err = db.Connect(ctx, cfg.Database)
		if err != nil {
			log.Fatalw("database", "error", err)
		}
		defer pool.Close()
		pg := store.NewPostgres(pool, clk)
		if err := pg.EnsureSchema(ctx, specs...); err != nil {
			log.Fatalw("schema", "error", err)
		}
		backend = pg
	}

	// Queue. Without Redis notifications are dropped and ledger mirroring
	// runs in-process.
	var (
		pub    alerts.Publisher = alerts.Nop{}
		client *asynq.Client
		redis  asynq.RedisConnOpt
	)
	if cfg.RedisAddr != "" {
		redis = asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		client = asynq.NewClient(redis)
		defer client.Close()
		pub = alerts.NewQueue(client)
	} else {
		log.Warnw("REDIS_ADDR not set, notifications disabled")
	}

	// Services
	users := user.NewService(backend, pub, clk)
	listings := catalog.NewService(backend, clk, days(cfg.ListingTTLDays), cfg.Currency)
	hub := messaging.NewHub()
	negotiations := negotiation.NewService(backend, listings, pub, hub, clk, days(cfg.NegotiationDays))
	contracts := contract.NewService(backend, negotiations, pub, clk, cfg.Currency)

	feeRate, err := decimal.NewFromString(cfg.PlatformFeeRate)
	if err != nil || feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		log.Fatalw("PLATFORM_FEE_RATE must be a fraction in [0, 1)", "value", cfg.PlatformFeeRate)
	}
	payments := payment.NewService(backend, contracts, gateway.New(cfg.Gateway), pub, clk, payment.Options{
		FeeRate:     feeRate,
		Currency:    cfg.Currency,
		AutoRelease: days(cfg.AutoReleaseDays),
	})
	contracts.SetDisputeListener(payments)
	shipments := shipment.NewService(backend, contracts, pub, clk)

	var worker *alerts.Worker
	if client != nil {
		worker = alerts.NewWorker(redis, backend, users.EmailOf, alerts.NewMailer(cfg.Mail), cfg.Mail.AdminEmail)
	}

	// Ledger mirroring
	if cfg.Ledger.URL != "" {
		timeout := time.Duration(cfg.Ledger.TimeoutSec) * time.Second
		api, closer, err := ledger.NewClient(ctx, cfg.Ledger.URL, cfg.Ledger.Token, timeout)
		if err != nil {
			log.Fatalw("ledger client", "error", err)
		}
		defer closer()
		syncer := ledger.NewSyncer(api, contracts, cfg.Ledger.Network, timeout)
		if worker != nil {
			worker.Handle(ledger.TaskMirrorSignatures, syncer.Handler)
			contracts.SetMirror(ledger.NewQueue(client, cfg.Ledger.MaxRetry, timeout))
		} else {
			contracts.SetMirror(ledger.NewBackground(syncer))
		}
	} else {
		log.Infow("LEDGER_URL not set, signature mirroring disabled")
	}

	if worker != nil {
		if err := worker.Start(); err != nil {
			log.Fatalw("worker", "error", err)
		}
		defer worker.Shutdown()
	}

	go expireNegotiations(ctx, clk, negotiations)

	tokens := auth.NewTokens(cfg.JWTSecret, time.Duration(cfg.TokenTTLHours)*time.Hour, clk)
	userH := user.NewHandler(users, tokens, cfg.BootstrapToken, cfg.AppURL)
	catalogH := catalog.NewHandler(listings)
	negotiationH := negotiation.NewHandler(negotiations, hub)
	contractH := contract.NewHandler(contracts)
	paymentH := payment.NewHandler(payments)
	shipmentH := shipment.NewHandler(shipments)
	notificationH := alerts.NewHandler(backend, clk)
	adminH := admin.NewHandler(admin.NewService(backend))

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler

	// Basic middleware
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	// Health and root routes
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok", "service": "wastex"})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		if pool == nil {
			return c.JSON(http.StatusOK, echo.Map{"status": "ready", "store": "memory"})
		}
		if err := db.Ready(c.Request().Context(), pool); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "db unreachable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	})
	e.GET("/metrics", metrics.Handler())

	// Public routes
	// Auth routes with per-IP rate limiting to protect signup/login from abuse
	authGroup := e.Group("/auth")
	authGroup.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(20)))
	authGroup.POST("/signup", userH.Signup)
	authGroup.POST("/login", userH.Login)
	authGroup.POST("/bootstrap-admin", userH.BootstrapAdmin)
	authGroup.POST("/password/request", userH.RequestPasswordReset)
	authGroup.POST("/password/reset", userH.ResetPassword)

	e.GET("/users/:id/profile", userH.GetPublicProfile)
	e.GET("/listings", catalogH.ListListings)
	e.GET("/listings/:id", catalogH.GetListing)
	e.GET("/requests", catalogH.ListRequests)
	e.GET("/requests/:id", catalogH.GetRequest)

	// Protected routes
	api := e.Group("")
	api.Use(mware.JWT(tokens, users.CheckActive))

	api.GET("/auth/me", userH.Me)
	api.PATCH("/users/profile", userH.UpdateProfile)

	api.GET("/notifications", notificationH.ListNotifications)
	api.POST("/notifications/:id/read", notificationH.MarkNotificationRead)

	api.POST("/listings", catalogH.CreateListing, mware.RequireRoles("seller"))
	api.GET("/listings/mine", catalogH.MyListings, mware.RequireRoles("seller"))
	api.PATCH("/listings/:id", catalogH.UpdateListing, mware.RequireRoles("seller"))
	api.POST("/listings/:id/status", catalogH.SetListingStatus)

	api.POST("/requests", catalogH.CreateRequest, mware.RequireRoles("buyer"))
	api.GET("/requests/mine", catalogH.MyRequests, mware.RequireRoles("buyer"))
	api.PATCH("/requests/:id", catalogH.UpdateRequest, mware.RequireRoles("buyer"))
	api.POST("/requests/:id/status", catalogH.SetRequestStatus)

	api.POST("/negotiations", negotiationH.Start, mware.RequireRoles("buyer", "seller"))
	api.GET("/negotiations", negotiationH.List)
	api.GET("/negotiations/unread", negotiationH.UnreadCount)
	api.GET("/negotiations/:id", negotiationH.Get)
	api.GET("/negotiations/:id/ws", negotiationH.Room)
	api.POST("/negotiations/:id/messages", negotiationH.PostMessage)
	api.POST("/negotiations/:id/offers", negotiationH.ProposeOffer)
	api.POST("/negotiations/:id/offers/respond", negotiationH.RespondToOffer)
	api.POST("/negotiations/:id/read", negotiationH.MarkRead)
	api.POST("/negotiations/:id/cancel", negotiationH.Cancel)

	api.POST("/contracts", contractH.Create)
	api.GET("/contracts", contractH.List)
	api.GET("/contracts/:id", contractH.Get)
	api.POST("/contracts/:id/sign", contractH.Sign)
	api.POST("/contracts/:id/execute", contractH.Execute)
	api.POST("/contracts/:id/complete", contractH.Complete)
	api.POST("/contracts/:id/cancel", contractH.Cancel)
	api.POST("/contracts/:id/disputes", contractH.RaiseDispute)
	api.POST("/contracts/:id/milestones", contractH.AddMilestone)
	api.POST("/contracts/:id/milestones/:milestone/complete", contractH.CompleteMilestone)
	api.GET("/contracts/:id/shipments", shipmentH.ListForContract)

	api.POST("/payments", paymentH.CreateOrder, mware.RequireRoles("buyer"))
	api.GET("/payments", paymentH.List)
	api.GET("/payments/:id", paymentH.Get)
	api.POST("/payments/:id/verify", paymentH.Verify)
	api.POST("/payments/:id/confirm-delivery", paymentH.ConfirmDelivery)
	api.POST("/payments/:id/release", paymentH.Release)
	api.POST("/payments/:id/refund", paymentH.RequestRefund)
	api.POST("/payments/:id/refund/decision", paymentH.DecideRefund)

	api.POST("/shipments", shipmentH.Create, mware.RequireRoles("seller"))
	api.GET("/shipments/:id", shipmentH.Get)
	api.POST("/shipments/:id/tracking", shipmentH.Track)

	// Admin routes
	adminGroup := e.Group("/admin")
	adminGroup.Use(mware.JWT(tokens, users.CheckActive))
	adminGroup.Use(mware.AdminGuard)

	adminGroup.GET("/stats", adminH.Stats)
	adminGroup.GET("/users", userH.ListUsers)
	adminGroup.POST("/users/:id/verify", userH.VerifyCompany)
	adminGroup.POST("/users/:id/suspend", userH.Suspend)
	adminGroup.POST("/users/:id/activate", userH.Activate)
	adminGroup.GET("/disputes", adminH.Disputes)
	adminGroup.POST("/contracts/:id/disputes/resolve", contractH.ResolveDispute)
	adminGroup.GET("/refunds", adminH.PendingRefunds)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server error", "error", err)
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorw("shutdown", "error", err)
	}
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// expireNegotiations sweeps stale negotiations every ten minutes.
func expireNegotiations(ctx context.Context, clk clock.Clock, svc *negotiation.Service) {
	t := clk.Ticker(10 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := svc.ExpireStale(ctx); err != nil {
				log.Errorw("expire negotiations", "error", err)
			}
		}
	}
}
