package repository

import (
	"context"
	"errors"

	"app/internal/domain/model"
)

var ErrUserNotFound = errors.New("user not found")

// ユーザーの保存・取得・更新
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
	Update(ctx context.Context, user *model.User) error
}
