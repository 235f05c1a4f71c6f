package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	auth "app/internal/usecase/auth_usecase"

	"github.com/labstack/echo/v4"
)

const (
	CtxIdentityKey = "identity" // *auth.Identity
)

// bearerトークンを検証する約束（実体はTokenAuthority）
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (*auth.Identity, error)
}

// bearerAuth用のJWT検証ミドルウェア。
// 署名・期限のチェックに加えて、ユーザーが今も有効かを毎回確認する。
func AuthJWT(authenticator Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rawToken := bearerToken(c)
			if rawToken == "" {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			identity, err := authenticator.Authenticate(c.Request().Context(), rawToken)
			if err != nil {
				// 期限切れだけは区別して返す（クライアントがrefreshを試す）
				if errors.Is(err, auth.ErrTokenExpired) {
					return c.JSON(http.StatusUnauthorized, errorJSON("token expired"))
				}
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			//contextへ保存
			c.Set(CtxIdentityKey, identity)

			return next(c)
		}
	}
}

// Identity はAuthJWTが入れた本人情報を取り出す。
func Identity(c echo.Context) (*auth.Identity, bool) {
	id, ok := c.Get(CtxIdentityKey).(*auth.Identity)
	return id, ok
}

// Authorizationヘッダからtokenを抜く
func bearerToken(c echo.Context) string {
	authz := c.Request().Header.Get("Authorization")
	if authz == "" {
		return ""
	}

	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorJSON(msg string) errorResponse {
	return errorResponse{Error: msg}
}
