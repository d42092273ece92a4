package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"frostmart/internal/app"
	"frostmart/internal/config"
	"frostmart/internal/database"
	"frostmart/internal/models"
	"frostmart/internal/services"
	"frostmart/pkg/logger"
	"frostmart/pkg/rabbitmq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	store, err := database.Connect(database.Config{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseDSN})
	if err != nil {
		lg.Fatal("failed to connect to database", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		lg.Fatal("failed to migrate database", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Without a broker, notifications are stored in-process.
	var publisher services.EventPublisher
	var mqClient *rabbitmq.Client
	if cfg.RabbitMQURL != "" {
		mqClient, err = rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL}, lg.Named("rabbitmq"))
		if err != nil {
			lg.Warn("rabbitmq unavailable, storing notifications in-process", zap.Error(err))
		} else {
			defer mqClient.Close()
			publisher = mqClient
		}
	}

	a := app.New(cfg, store, publisher, lg)

	if mqClient != nil {
		err := mqClient.Consume(ctx, func(msg amqp.Delivery) error {
			return a.Notifications.HandleMessage(ctx, msg.Body)
		})
		if err != nil {
			lg.Fatal("failed to start notification consumer", zap.Error(err))
		}
	}

	if err := a.Auth.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		lg.Fatal("failed to seed admin", zap.Error(err))
	}
	seedProducts(ctx, a.Products, lg)

	a.Start(ctx)

	go func() {
		lg.Info("starting server", zap.String("addr", cfg.AppPort))
		if err := a.Fiber.Listen(cfg.AppPort); err != nil {
			lg.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down server")
	if err := a.Fiber.ShutdownWithTimeout(10 * time.Second); err != nil {
		lg.Error("error during fiber shutdown", zap.Error(err))
	}
	lg.Info("server gracefully stopped")
}

// seedProducts fills an empty catalog with a few frozen goods so a fresh
// install can take orders.
func seedProducts(ctx context.Context, svc *services.ProductService, lg *zap.Logger) {
	existing, err := svc.GetAllProducts(ctx)
	if err != nil {
		lg.Error("failed to read catalog", zap.Error(err))
		return
	}
	if len(existing) > 0 {
		return
	}

	products := []models.Product{
		{Name: "Pork Belly", Description: "Skin-on pork belly, vacuum packed", Category: "pork", Unit: "kg", Price: decimal.RequireFromString("320.00"), Stock: 40},
		{Name: "Chicken Wings", Description: "Mid-joint wings, IQF", Category: "poultry", Unit: "kg", Price: decimal.RequireFromString("210.00"), Stock: 60},
		{Name: "Beef Tapa", Description: "Marinated beef strips", Category: "beef", Unit: "pack", Price: decimal.RequireFromString("185.00"), Stock: 30},
	}
	for i := range products {
		if err := svc.CreateProduct(ctx, &products[i]); err != nil {
			lg.Error("failed to seed product", zap.String("name", products[i].Name), zap.Error(err))
			continue
		}
		lg.Info("seeded product", zap.String("name", products[i].Name), zap.String("id", products[i].ID))
	}
}
