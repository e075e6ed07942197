package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go-invoice-stock/internal/app"
	"go-invoice-stock/internal/config"
	"go-invoice-stock/internal/handler"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Env
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}
	cfg := config.Load()

	// 2. Logger
	appLogger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer appLogger.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. Database, services, sinks
	a, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	// 4. WebSocket Hub
	go a.Hub.Run(ctx)
	go a.AuditEvents(ctx)

	// 5. Handlers
	handlers := handler.Handlers{
		Catalog:   handler.NewCatalogHandler(a.Services.Catalog),
		Invoice:   handler.NewInvoiceHandler(a.Services.Invoice),
		Stock:     handler.NewStockHandler(a.Services.Stock),
		Snapshot:  handler.NewSnapshotHandler(a.Services.Snapshot, a.Services.Restore),
		Dashboard: handler.NewDashboardHandler(a.Services.Dashboard),
	}

	// 6. Setup Fiber
	server := fiber.New(fiber.Config{
		AppName: "Invoice Stock v1.0",
	})

	server.Use(fiberlogger.New())
	server.Use(recover.New())
	server.Use(cors.New())

	server.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	// 7. Routes
	handler.RegisterRoutes(server.Group("/api/v1"), handlers, []byte(cfg.JWT.Secret))

	// WebSocket Route
	server.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	server.Get("/ws", websocket.New(func(c *websocket.Conn) {
		select {
		case a.Hub.Register <- c:
		case <-ctx.Done():
			return
		}
		defer func() {
			select {
			case a.Hub.Unregister <- c:
			case <-ctx.Done():
			}
		}()

		for {
			// Keep alive loop
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
	}))

	// 8. Graceful Shutdown
	go func() {
		if err := server.Listen(":" + cfg.Server.Port); err != nil {
			appLogger.Panic("listen failed", zap.Error(err))
		}
	}()
	appLogger.Info("server started", zap.String("port", cfg.Server.Port), zap.String("env", cfg.Server.AppEnv))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server")
	stop()
	if err := server.Shutdown(); err != nil {
		appLogger.Error("server forced to shutdown", zap.Error(err))
	}

	appLogger.Info("server exited")
}
