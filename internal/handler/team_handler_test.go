package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"app/internal/domain/model"
	"app/internal/middleware"
	"app/internal/repository"
	auth "app/internal/usecase/auth_usecase"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

type stubTeamRepository struct {
	teams       map[string]*model.Team
	memberships map[string][]string
}

func (s *stubTeamRepository) FindByID(ctx context.Context, id string) (*model.Team, error) {
	t, ok := s.teams[id]
	if !ok {
		return nil, repository.ErrTeamNotFound
	}
	return t, nil
}

func (s *stubTeamRepository) IsMember(ctx context.Context, teamID string, userID string) (bool, error) {
	for _, id := range s.memberships[userID] {
		if id == teamID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubTeamRepository) ListTeamIDsByUser(ctx context.Context, userID string) ([]string, error) {
	return s.memberships[userID], nil
}

func callListMine(t *testing.T, teams repository.TeamRepository, identity *auth.Identity) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/teams", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if identity != nil {
		c.Set(middleware.CtxIdentityKey, identity)
	}

	h := NewTeamHandler(teams)
	assert.NoError(t, h.ListMine(c))
	return rec
}

func TestTeamHandler_ListMine(t *testing.T) {
	repo := &stubTeamRepository{
		teams: map[string]*model.Team{
			"t-1": {ID: "t-1", Name: "sales"},
			"t-2": {ID: "t-2", Name: "support"},
		},
		memberships: map[string][]string{
			// t-goneは一覧参照と削除が重なったケース
			"u-1": {"t-1", "t-2", "t-gone"},
		},
	}

	rec := callListMine(t, repo, &auth.Identity{UserID: "u-1"})

	assert.Equal(t, http.StatusOK, rec.Code)

	var teams []model.Team
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &teams))
	assert.Len(t, teams, 2)
	assert.Equal(t, "t-1", teams[0].ID)
	assert.Equal(t, "t-2", teams[1].ID)
}

func TestTeamHandler_ListMine_NoMemberships(t *testing.T) {
	repo := &stubTeamRepository{
		teams:       map[string]*model.Team{},
		memberships: map[string][]string{},
	}

	rec := callListMine(t, repo, &auth.Identity{UserID: "u-1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestTeamHandler_ListMine_Unauthenticated(t *testing.T) {
	rec := callListMine(t, &stubTeamRepository{}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
