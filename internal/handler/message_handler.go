package handler

import (
	"errors"
	"net/http"

	"app/internal/domain/model"
	"app/internal/middleware"
	"app/internal/usecase"

	"github.com/labstack/echo/v4"
)

type MessageHandler struct {
	messageUC *usecase.MessageUsecase
}

// DIコンストラクタ
func NewMessageHandler(messageUC *usecase.MessageUsecase) *MessageHandler {
	return &MessageHandler{messageUC: messageUC}
}

// POST /messages のリクエストボディ。
type createMessageRequest struct {
	SessionID string               `json:"session_id"`
	Message   string               `json:"message"`
	Files     []messageFileRequest `json:"message_file"`
	Platform  model.Platform       `json:"platform"`
}

type messageFileRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// CreateはPOST /messages。保存した正規レコードを同期で返す。
// 送信者のクライアントはこの戻り値をそのままローカル状態に入れる。
func (h *MessageHandler) Create(c echo.Context) error {
	identity, ok := middleware.Identity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
	}

	var req createMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "VALIDATION_ERROR"})
	}

	in := usecase.AppendMessageInput{
		SessionID: req.SessionID,
		AuthorID:  &identity.UserID,
		Body:      req.Message,
		Platform:  req.Platform,
	}
	for _, f := range req.Files {
		in.Files = append(in.Files, usecase.AppendFileInput{URL: f.URL, Name: f.Name})
	}

	msg, err := h.messageUC.Append(c.Request().Context(), in)
	if err != nil {
		return messageError(c, err)
	}

	return c.JSON(http.StatusCreated, msg)
}

// MarkReadはPATCH /messages/:id/read。会話の未読受信を一括既読化。
func (h *MessageHandler) MarkRead(c echo.Context) error {
	if _, ok := middleware.Identity(c); !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
	}

	n, err := h.messageUC.MarkRead(c.Request().Context(), c.Param("id"))
	if err != nil {
		return messageError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}

// ListはGET /messages/:clientId。正規順の全メッセージ（resyncの取得元）。
func (h *MessageHandler) List(c echo.Context) error {
	if _, ok := middleware.Identity(c); !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
	}

	msgs, err := h.messageUC.List(c.Request().Context(), c.Param("clientId"))
	if err != nil {
		return messageError(c, err)
	}

	return c.JSON(http.StatusOK, msgs)
}

// usecaseのエラー種別をHTTPステータスへ変換
func messageError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, usecase.ErrValidation):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "VALIDATION_ERROR"})
	case errors.Is(err, usecase.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "NOT_FOUND"})
	default:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "INTERNAL"})
	}
}
