package app

import (
	"context"

	"frostmart/internal/config"
	"frostmart/internal/database"
	"frostmart/internal/handlers"
	"frostmart/internal/lalamove"
	"frostmart/internal/middleware"
	"frostmart/internal/repositories"
	"frostmart/internal/services"
	"frostmart/internal/worker"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

// App is the assembled service: HTTP routes plus background workers.
type App struct {
	Fiber         *fiber.App
	Auth          *services.AuthService
	Products      *services.ProductService
	Orders        *services.OrderService
	Webhooks      *services.WebhookService
	Notifications *services.NotificationService
	Poller        *worker.DeliveryPoller

	logger *zap.Logger
}

// New wires repositories, services and handlers. publisher may be nil, in
// which case notifications are stored in-process.
func New(cfg *config.Config, store *database.Store, publisher services.EventPublisher, logger *zap.Logger) *App {
	orderRepo := repositories.NewGORMOrderRepository(store.DB)
	productRepo := repositories.NewGORMProductRepository(store.DB)
	couponRepo := repositories.NewGORMCouponRepository(store.DB)
	userRepo := repositories.NewGORMUserRepository(store.DB)
	eventRepo := repositories.NewGORMWebhookEventRepository(store.DB)
	notificationRepo := repositories.NewGORMNotificationRepository(store.DB)

	var delivery services.DeliveryClient
	var client *lalamove.Client
	if cfg.Lalamove.APIKey != "" {
		client = lalamove.NewClient(lalamove.Config{
			BaseURL:   cfg.Lalamove.BaseURL,
			APIKey:    cfg.Lalamove.APIKey,
			APISecret: cfg.Lalamove.APISecret,
			Market:    cfg.Lalamove.Market,
		})
		delivery = client
	} else {
		logger.Warn("LALAMOVE_API_KEY is empty, courier dispatch and polling are disabled")
	}

	notifications := services.NewNotificationService(notificationRepo, publisher, cfg.NotifyBuffer, logger.Named("notifications"))
	reconciler := services.NewReconciler(orderRepo, notifications, logger.Named("reconciler"))
	authService := services.NewAuthService(userRepo, cfg.JWTSecret, logger.Named("auth"))
	productService := services.NewProductService(productRepo)
	orderService := services.NewOrderService(orderRepo, productRepo, couponRepo, reconciler, delivery, notifications,
		services.DispatchOptions{
			ServiceType:  cfg.Lalamove.ServiceType,
			Language:     cfg.Lalamove.Language,
			StoreName:    cfg.Store.Name,
			StorePhone:   cfg.Store.Phone,
			StoreAddress: cfg.Store.Address,
			StoreLat:     cfg.Store.Lat,
			StoreLng:     cfg.Store.Lng,
		}, logger.Named("orders"))
	webhookService := services.NewWebhookService(reconciler, eventRepo, services.WebhookAuth{
		APIKey:        cfg.Lalamove.APIKey,
		APISecret:     cfg.Lalamove.APISecret,
		Path:          cfg.Webhook.Path,
		AllowUnsigned: cfg.Webhook.AllowUnsigned,
	}, logger.Named("webhook"))

	var poller *worker.DeliveryPoller
	if client != nil {
		poller = worker.NewDeliveryPoller(orderRepo, client, reconciler, cfg.Poll.Interval, cfg.Poll.Concurrency, logger.Named("poller"))
	}

	validate := validator.New()
	f := fiber.New(fiber.Config{AppName: "frostmart"})
	f.Use(recover.New())
	f.Use(middleware.RequestLogger(logger.Named("http")))

	auth := middleware.AuthRequired(authService, logger.Named("auth"))
	admin := middleware.AdminOnly()

	handlers.NewWebhookHandler(webhookService, store, validate, cfg.Webhook.Timeout, logger.Named("webhook")).
		RegisterRoutes(f, cfg.Webhook.Path)

	apiV1 := f.Group("/api/v1")
	handlers.NewAuthHandler(authService, validate, logger.Named("auth")).RegisterRoutes(apiV1)
	handlers.NewProductHandler(productService).RegisterRoutes(apiV1)
	handlers.NewOrderHandler(orderService, validate, logger.Named("orders")).RegisterRoutes(apiV1, auth, admin)
	handlers.NewNotificationHandler(notifications).RegisterRoutes(apiV1, auth)

	return &App{
		Fiber:         f,
		Auth:          authService,
		Products:      productService,
		Orders:        orderService,
		Webhooks:      webhookService,
		Notifications: notifications,
		Poller:        poller,
		logger:        logger,
	}
}

// Start launches the background workers. They stop when ctx is done.
func (a *App) Start(ctx context.Context) {
	go a.Notifications.Run(ctx)
	if a.Poller != nil {
		go a.Poller.Run(ctx)
	}
}
