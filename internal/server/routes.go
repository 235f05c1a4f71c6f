package server

import (
	"net/http"

	"app/internal/middleware"
	"app/internal/ratelimit"

	"github.com/labstack/echo/v4"
)

func registerRoutes(
	e *echo.Echo,
	h Handlers,
	authenticator middleware.Authenticator,
	limiter *ratelimit.Limiter,
) {
	requireAuth := middleware.AuthJWT(authenticator)
	apiLimit := middleware.RateLimit(limiter, ratelimit.ScopeAPI)
	sendLimit := middleware.RateLimit(limiter, ratelimit.ScopeSend)
	uploadLimit := middleware.RateLimit(limiter, ratelimit.ScopeUpload)
	authLimit := middleware.AuthRateLimit(limiter)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// 認証系。失敗だけ数えるレートリミットをかける
	authG := e.Group("/auth")
	authG.POST("/register", h.Auth.Register, authLimit)
	authG.POST("/login", h.Auth.Login, authLimit)
	authG.POST("/refresh", h.Auth.Refresh, authLimit)
	authG.POST("/logout", h.Auth.Logout)
	authG.POST("/logout-all", h.Auth.LogoutAll, requireAuth)
	authG.GET("/me", h.Auth.Me, requireAuth)

	// メッセージ系。要認証
	msgG := e.Group("/messages", requireAuth, apiLimit)
	msgG.POST("", h.Message.Create, sendLimit)
	msgG.PATCH("/:id/read", h.Message.MarkRead)
	msgG.GET("/:clientId", h.Message.List)

	// 所属チーム一覧（再接続時のroom再joinの正になる）
	e.GET("/teams", h.Team.ListMine, requireAuth, apiLimit)

	// WebSocket。credentialはクエリで渡る
	e.GET("/ws", h.WS.Serve)

	// 外部プラットフォーム連携の取り込み口
	e.POST("/integrations/messages", h.Ingest.Ingest, uploadLimit)
}
