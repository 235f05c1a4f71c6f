package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"app/internal/domain/model"
	"app/internal/usecase"

	"github.com/hibiken/asynq"
)

// 外部プラットフォームからの取り込みタスク名
const TypeIngestMessage = "message:ingest"

// キューを流れるJSONペイロード。domain型とは分けておく。
type IngestMessagePayload struct {
	SessionID  string         `json:"session_id"`
	Body       string         `json:"body"`
	Platform   model.Platform `json:"platform"`
	ExternalID string         `json:"external_id"`
	FileURLs   []string       `json:"file_urls,omitempty"`
}

// NewIngestMessageTask はペイロードをasynqタスクに包む。
func NewIngestMessageTask(p IngestMessagePayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeIngestMessage, data, asynq.MaxRetry(10)), nil
}

// RegisterIngestHandler は取り込みタスクの処理をmuxに登録する。
// 配送はat-least-onceなので、書き込みはexternal_idの冪等性に任せて
// 何度実行されても1行しか入らない。
func RegisterIngestHandler(mux *asynq.ServeMux, uc *usecase.MessageUsecase, log *slog.Logger) {
	mux.HandleFunc(TypeIngestMessage, func(ctx context.Context, t *asynq.Task) error {
		var p IngestMessagePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			// 壊れたペイロードはリトライしても直らない
			return fmt.Errorf("ingest: malformed payload: %v: %w", err, asynq.SkipRetry)
		}
		if p.ExternalID == "" {
			return fmt.Errorf("ingest: external_id is required: %w", asynq.SkipRetry)
		}

		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		in := usecase.AppendMessageInput{
			SessionID:  p.SessionID,
			AuthorID:   nil, // 顧客からの受信
			Body:       p.Body,
			Platform:   p.Platform,
			ExternalID: &p.ExternalID,
		}
		for _, u := range p.FileURLs {
			in.Files = append(in.Files, usecase.AppendFileInput{URL: u})
		}

		_, err := uc.Append(ctx, in)
		if err != nil {
			// 入力起因はリトライしない。保存失敗だけ再実行させる。
			if errors.Is(err, usecase.ErrValidation) || errors.Is(err, usecase.ErrNotFound) {
				log.Warn("ingest: dropping message", "external_id", p.ExternalID, "error", err)
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return err
		}
		return nil
	})
}
