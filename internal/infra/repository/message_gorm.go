package repository

import (
	"context"
	"errors"

	"app/internal/domain/model"
	domainrepo "app/internal/repository"

	"gorm.io/gorm"
)

type messageGormRepository struct {
	db *gorm.DB
}

// GORM実装
func NewMessageGormRepository(db *gorm.DB) domainrepo.MessageRepository {
	return &messageGormRepository{db: db}
}

// メッセージを保存する。external_id のunique違反は
// ErrDuplicateExternalID に変換して返す（呼び出し側で既存行を引き直す）。
func (r *messageGormRepository) Create(ctx context.Context, msg *model.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domainrepo.ErrDuplicateExternalID
		}
		return err
	}
	return nil
}

// external_idで1件取得
func (r *messageGormRepository) FindByExternalID(ctx context.Context, externalID string) (*model.Message, error) {
	var m model.Message

	err := r.db.WithContext(ctx).
		Preload("Files").
		Where("external_id = ?", externalID).
		First(&m).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainrepo.ErrMessageNotFound
		}
		return nil, err
	}

	return &m, nil
}

// 会話のメッセージを正規順 (created_at, id) で返す
func (r *messageGormRepository) ListBySession(ctx context.Context, sessionID string) ([]model.Message, error) {
	var msgs []model.Message

	err := r.db.WithContext(ctx).
		Preload("Files").
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error

	if err != nil {
		return nil, err
	}

	return msgs, nil
}

// 未読の受信メッセージ（author_id IS NULL）を一括既読化
func (r *messageGormRepository) MarkRead(ctx context.Context, sessionID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("session_id = ? AND author_id IS NULL AND is_read = ?", sessionID, false).
		Update("is_read", true)

	if res.Error != nil {
		return 0, res.Error
	}

	return res.RowsAffected, nil
}
