package repository

import (
	"context"
	"errors"

	"app/internal/domain/model"
	domainrepo "app/internal/repository"

	"gorm.io/gorm"
)

type clientGormRepository struct {
	db *gorm.DB
}

// GORM実装
func NewClientGormRepository(db *gorm.DB) domainrepo.ClientRepository {
	return &clientGormRepository{db: db}
}

// IDで顧客を1件取得
func (r *clientGormRepository) FindByID(ctx context.Context, id string) (*model.Client, error) {
	var c model.Client

	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&c).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainrepo.ErrClientNotFound
		}
		return nil, err
	}

	return &c, nil
}
