package middleware

import (
	"net/http"

	"app/internal/ratelimit"

	"github.com/labstack/echo/v4"
)

// RateLimit は固定窓の流量制限。identityは認証済みならユーザーID、
// そうでなければ接続元アドレス。ストア障害時は通す（落とすより縮退）。
func RateLimit(limiter *ratelimit.Limiter, scope ratelimit.Scope) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, err := limiter.Allow(c.Request().Context(), scope, limitIdentity(c))
			if err != nil {
				return next(c)
			}
			if !ok {
				return c.JSON(http.StatusTooManyRequests, errorJSON("too many requests"))
			}
			return next(c)
		}
	}
}

// AuthRateLimit は認証エンドポイント用。成功した試行は数えず、
// 401で終わったリクエストだけを失敗として記録する。
func AuthRateLimit(limiter *ratelimit.Limiter) echo.MiddlewareFunc {
	scope := ratelimit.ScopeAuth
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity := limitIdentity(c)

			ok, err := limiter.Peek(c.Request().Context(), scope, identity)
			if err == nil && !ok {
				return c.JSON(http.StatusTooManyRequests, errorJSON("too many requests"))
			}

			if err := next(c); err != nil {
				return err
			}

			// handlerが401で終わっていたら失敗として数える
			if c.Response().Status == http.StatusUnauthorized {
				_ = limiter.RecordFailure(c.Request().Context(), scope, identity)
			}
			return nil
		}
	}
}

func limitIdentity(c echo.Context) string {
	if id, ok := Identity(c); ok {
		return id.UserID
	}
	return c.RealIP()
}
