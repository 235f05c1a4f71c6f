package server

import (
	"context"
	"log/slog"

	"app/internal/handler"
	"app/internal/middleware"
	"app/internal/ratelimit"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
)

// Handlers はルーティングに必要なハンドラ一式。
type Handlers struct {
	Auth    *handler.AuthHandler
	Message *handler.MessageHandler
	Team    *handler.TeamHandler
	WS      *handler.WSHandler
	Ingest  *handler.IngestHandler
}

// Server はechoを包んだHTTPサーバ。
type Server struct {
	echo *echo.Echo
	log  *slog.Logger
}

func New(
	h Handlers,
	authenticator middleware.Authenticator,
	limiter *ratelimit.Limiter,
	feURL string,
	log *slog.Logger,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			log.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
			)
			return nil
		},
	}))
	if feURL != "" {
		e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
			AllowOrigins: []string{feURL},
			AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
		}))
	}

	registerRoutes(e, h, authenticator, limiter)

	return &Server{echo: e, log: log}
}

// Start はaddrで待ち受ける。ブロックする。
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown はgraceful shutdown。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
