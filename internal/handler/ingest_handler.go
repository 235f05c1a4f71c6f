package handler

import (
	"log/slog"
	"net/http"

	"app/internal/domain/model"
	"app/internal/task"
	"app/internal/usecase"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
)

type ingestRequest struct {
	SessionID  string         `json:"session_id"`
	Message    string         `json:"message"`
	Platform   model.Platform `json:"platform"`
	ExternalID string         `json:"external_id"`
	FileURLs   []string       `json:"file_urls,omitempty"`
}

// IngestHandler は外部プラットフォーム連携の受け口。受けたらキューに
// 積んで202を返す。キューが無い構成では同期で書き込む。
type IngestHandler struct {
	queue     *asynq.Client
	messageUC *usecase.MessageUsecase
	log       *slog.Logger
}

func NewIngestHandler(queue *asynq.Client, messageUC *usecase.MessageUsecase, log *slog.Logger) *IngestHandler {
	return &IngestHandler{queue: queue, messageUC: messageUC, log: log}
}

func (h *IngestHandler) Ingest(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "VALIDATION_ERROR"})
	}
	if req.SessionID == "" || req.ExternalID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "VALIDATION_ERROR"})
	}

	if h.queue != nil {
		t, err := task.NewIngestMessageTask(task.IngestMessagePayload{
			SessionID:  req.SessionID,
			Body:       req.Message,
			Platform:   req.Platform,
			ExternalID: req.ExternalID,
			FileURLs:   req.FileURLs,
		})
		if err == nil {
			if _, err = h.queue.Enqueue(t); err == nil {
				return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
			}
		}
		// キュー投入に失敗したら同期処理に落とす
		h.log.Warn("ingest enqueue failed, writing synchronously", "error", err)
	}

	in := usecase.AppendMessageInput{
		SessionID:  req.SessionID,
		Body:       req.Message,
		Platform:   req.Platform,
		ExternalID: &req.ExternalID,
	}
	for _, u := range req.FileURLs {
		in.Files = append(in.Files, usecase.AppendFileInput{URL: u})
	}
	if _, err := h.messageUC.Append(c.Request().Context(), in); err != nil {
		return messageError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "stored"})
}
