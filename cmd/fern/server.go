package main

import (
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/match"
)

func newServer(cfg config.Config, logger ectologger.Logger, checker *health.Checker, handler *match.Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: cfg.AllowOrigins}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	handler.Register(e.Group("/api/v1"))

	return e
}

func listenAddr(cfg config.Config) string {
	return fmt.Sprintf(":%d", cfg.Port)
}
