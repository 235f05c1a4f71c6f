package repository

import (
	"context"
	"errors"

	"app/internal/domain/model"
)

var ErrClientNotFound = errors.New("client not found")

// 顧客の参照（CRUD本体はスコープ外、メッセージ書き込みで存在確認に使う）
type ClientRepository interface {
	FindByID(ctx context.Context, id string) (*model.Client, error)
}
