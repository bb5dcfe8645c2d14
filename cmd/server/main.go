package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/gramfix/gramfix/internal/config"
	"github.com/gramfix/gramfix/internal/domain"
	"github.com/gramfix/gramfix/internal/handler"
	"github.com/gramfix/gramfix/internal/repository"
	"github.com/gramfix/gramfix/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("database connected")

	userRepo := repository.NewUserRepository(db)
	issueRepo := repository.NewIssueRepository(db)
	karmaRepo := repository.NewKarmaRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	authSvc := service.NewAuthService(userRepo, service.AuthConfig{
		GoogleClientID:     cfg.GoogleClientID,
		GoogleClientSecret: cfg.GoogleClientSecret,
		GitHubClientID:     cfg.GitHubClientID,
		GitHubClientSecret: cfg.GitHubClientSecret,
		JWTSecret:          cfg.JWTSecret,
		FrontendURL:        cfg.FrontendURL,
		DefaultVillage: domain.VillageRef{
			ID:   cfg.DefaultVillageID,
			Name: cfg.DefaultVillageName,
		},
	})
	karmaSvc := service.NewKarmaService(karmaRepo)
	notificationSvc := service.NewNotificationService(notificationRepo)
	issueSvc := service.NewIssueService(issueRepo, karmaSvc, notificationSvc, cfg.StorageTimeout)

	authHandler := handler.NewAuthHandler(authSvc)
	issueHandler := handler.NewIssueHandler(issueSvc)
	karmaHandler := handler.NewKarmaHandler(karmaSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.HTTPErrorHandler
	e.Validator = handler.NewAppValidator()

	e.Use(middleware.RequestID())
	e.Use(handler.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentType},
		ExposeHeaders:    []string{echo.HeaderXRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api/v1")
	authHandler.RegisterPublic(api)

	protected := api.Group("", handler.JWTAuth(authSvc))
	authHandler.RegisterProtected(protected)
	issueHandler.Register(protected)
	karmaHandler.Register(protected)
	notificationHandler.Register(protected)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port)
		errCh <- e.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
