package repository

import (
	"context"
	"errors"

	"app/internal/domain/model"
)

var ErrTeamNotFound = errors.New("team not found")

// チームと所属の参照（join_team の認可チェックで使う）
type TeamRepository interface {
	FindByID(ctx context.Context, id string) (*model.Team, error)
	IsMember(ctx context.Context, teamID string, userID string) (bool, error)
	ListTeamIDsByUser(ctx context.Context, userID string) ([]string, error)
}
