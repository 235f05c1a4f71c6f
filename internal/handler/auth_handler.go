package handler

import (
	"errors"
	"net/http"

	"app/internal/middleware"
	auth "app/internal/usecase/auth_usecase"

	"github.com/labstack/echo/v4"
)

type AuthHandler struct {
	registerUC *auth.RegisterUserUsecase // 会員登録usecase
	loginUC    *auth.LoginUsecase        // ログインusecase
	authority  *auth.TokenAuthority      // refresh/logout/logout-all
}

// DIコンストラクタ
func NewAuthHandler(
	registerUC *auth.RegisterUserUsecase,
	loginUC *auth.LoginUsecase,
	authority *auth.TokenAuthority,
) *AuthHandler {
	return &AuthHandler{
		registerUC: registerUC,
		loginUC:    loginUC,
		authority:  authority,
	}
}

// /auth/register のリクエストボディ。
type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// /auth/login のリクエストボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// /auth/refresh /auth/logout のリクエストボディ。
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type successResponse struct {
	Message string `json:"message"`
}

// RegisterはPOST /auth/registerのハンドラ
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "VALIDATION_ERROR"})
	}

	out, err := h.registerUC.Execute(c.Request().Context(), auth.RegisterUserInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidEmailFormat),
			errors.Is(err, auth.ErrPasswordTooShort),
			errors.Is(err, auth.ErrWeakPassword):
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "VALIDATION_ERROR"})
		case errors.Is(err, auth.ErrEmailAlreadyExists):
			return c.JSON(http.StatusConflict, errorResponse{Error: "CONFLICT"})
		default:
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "INTERNAL"})
		}
	}

	return c.JSON(http.StatusCreated, out)
}

// LoginはPOST /auth/login のハンドラ。
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "VALIDATION_ERROR"})
	}

	out, err := h.loginUC.Execute(c.Request().Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
		case errors.Is(err, auth.ErrUserInactive):
			return c.JSON(http.StatusForbidden, errorResponse{Error: "FORBIDDEN"})
		default:
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "INTERNAL"})
		}
	}

	return c.JSON(http.StatusOK, out)
}

// RefreshはPOST /auth/refresh。古いtokenは消えて新しいペアが返る。
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "VALIDATION_ERROR"})
	}

	pair, err := h.authority.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired),
			errors.Is(err, auth.ErrTokenInvalid),
			errors.Is(err, auth.ErrUserNotFound),
			errors.Is(err, auth.ErrUserInactive):
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
		default:
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "INTERNAL"})
		}
	}

	return c.JSON(http.StatusOK, pair)
}

// LogoutはPOST /auth/logout。失効済みでも成功扱い。
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "VALIDATION_ERROR"})
	}

	if err := h.authority.Revoke(c.Request().Context(), req.RefreshToken); err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "INTERNAL"})
	}

	return c.JSON(http.StatusOK, successResponse{Message: "logged out"})
}

// LogoutAllはPOST /auth/logout-all。自分の全セッションを失効させる。
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	identity, ok := middleware.Identity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
	}

	if err := h.authority.RevokeAll(c.Request().Context(), identity.UserID); err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "INTERNAL"})
	}

	return c.JSON(http.StatusOK, successResponse{Message: "logged out everywhere"})
}

// MeはGET /auth/me。AuthJWTが検証済みの本人情報を返す。
func (h *AuthHandler) Me(c echo.Context) error {
	identity, ok := middleware.Identity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
	}

	return c.JSON(http.StatusOK, identity)
}
