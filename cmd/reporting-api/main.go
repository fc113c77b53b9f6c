package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/structfin/deal-reporting/internal/calculations"
	"github.com/structfin/deal-reporting/internal/catalog"
	"github.com/structfin/deal-reporting/internal/config"
	"github.com/structfin/deal-reporting/internal/reports"
	"github.com/structfin/deal-reporting/internal/reports/engine"
	"github.com/structfin/deal-reporting/internal/reports/export"
	"github.com/structfin/deal-reporting/internal/warehouse"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging.Level)
	defer logger.Sync()

	// Application store: calculations and report configs.
	appDB, err := connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to application database", zap.Error(err))
	}
	defer appDB.Close()

	// Warehouse: cycle-scoped deal/tranche facts reports run against.
	whDB, err := connect(cfg.Warehouse)
	if err != nil {
		logger.Fatal("Failed to connect to warehouse database", zap.Error(err))
	}
	defer whDB.Close()

	fieldCatalog := catalog.NewFieldCatalog()
	entityCatalog := catalog.NewPostgresCatalog(whDB)

	calcRepo := calculations.NewPostgresRepository(appDB)
	reportsRepo := reports.NewPostgresRepository(appDB)

	usage := calculations.NewUsageIndex(calcRepo, reportsRepo)
	calcValidator := calculations.NewValidator(fieldCatalog)
	calcService := calculations.NewService(calcRepo, usage, calcValidator, logger)

	reportsValidator := reports.NewValidator(fieldCatalog, calcService)
	reportsService := reports.NewService(reportsRepo, reportsValidator, logger)

	executor := engine.NewExecutor(reportsRepo, calcRepo, fieldCatalog, warehouse.NewDB(whDB), logger)

	calcHandler := calculations.NewHandler(calcService, logger)
	reportsHandler := reports.NewHandler(reportsService, fieldCatalog, executor, export.NewWriter(), logger)
	catalogHandler := catalog.NewHandler(entityCatalog, entityCatalog, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		calcHandler.RegisterRoutes(api)
		reportsHandler.RegisterRoutes(api)
		catalogHandler.RegisterRoutes(api)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", srv.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}

func connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.GetDatabaseURL())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	return db, nil
}

func newLogger(level string) *zap.Logger {
	if level == "debug" {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}
