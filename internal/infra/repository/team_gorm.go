package repository

import (
	"context"
	"errors"

	"app/internal/domain/model"
	domainrepo "app/internal/repository"

	"gorm.io/gorm"
)

type teamGormRepository struct {
	db *gorm.DB
}

// GORM実装
func NewTeamGormRepository(db *gorm.DB) domainrepo.TeamRepository {
	return &teamGormRepository{db: db}
}

// IDでチームを1件取得
func (r *teamGormRepository) FindByID(ctx context.Context, id string) (*model.Team, error) {
	var t model.Team

	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&t).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainrepo.ErrTeamNotFound
		}
		return nil, err
	}

	return &t, nil
}

// ユーザーがチームに所属しているかを確認する。
// join_team の認可はここの結果だけで決める。
func (r *teamGormRepository) IsMember(ctx context.Context, teamID string, userID string) (bool, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Model(&model.TeamMember{}).
		Where("team_id = ? AND user_id = ?", teamID, userID).
		Count(&count).Error

	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// 所属チームのID一覧（再接続時のroom再joinで使う）
func (r *teamGormRepository) ListTeamIDsByUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string

	err := r.db.WithContext(ctx).
		Model(&model.TeamMember{}).
		Where("user_id = ?", userID).
		Pluck("team_id", &ids).Error

	if err != nil {
		return nil, err
	}

	return ids, nil
}
