package handler

import (
	"errors"
	"net/http"

	"app/internal/domain/model"
	"app/internal/middleware"
	"app/internal/repository"

	"github.com/labstack/echo/v4"
)

type TeamHandler struct {
	teams repository.TeamRepository
}

// DIコンストラクタ
func NewTeamHandler(teams repository.TeamRepository) *TeamHandler {
	return &TeamHandler{teams: teams}
}

// ListMineはGET /teams。ログイン中ユーザーの所属チーム一覧。
// 再接続時のroom再joinはこの結果を正として使う。
func (h *TeamHandler) ListMine(c echo.Context) error {
	identity, ok := middleware.Identity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
	}

	ids, err := h.teams.ListTeamIDsByUser(c.Request().Context(), identity.UserID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "INTERNAL"})
	}

	teams := make([]model.Team, 0, len(ids))
	for _, id := range ids {
		team, err := h.teams.FindByID(c.Request().Context(), id)
		if err != nil {
			// 一覧取得と削除が重なったチームは飛ばす
			if errors.Is(err, repository.ErrTeamNotFound) {
				continue
			}
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "INTERNAL"})
		}
		teams = append(teams, *team)
	}

	return c.JSON(http.StatusOK, teams)
}
