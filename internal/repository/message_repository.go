package repository

import (
	"context"
	"errors"

	"app/internal/domain/model"
)

var (
	ErrMessageNotFound = errors.New("message not found")

	// external_id のunique違反（既存行を引き直す合図）
	ErrDuplicateExternalID = errors.New("duplicate external id")
)

// メッセージの保存・取得。メッセージは追記のみで、更新は is_read だけ。
type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) error
	FindByExternalID(ctx context.Context, externalID string) (*model.Message, error)
	// (created_at, id) 順で返す
	ListBySession(ctx context.Context, sessionID string) ([]model.Message, error)
	// 未読の受信メッセージを一括既読化し、件数を返す
	MarkRead(ctx context.Context, sessionID string) (int64, error)
}
