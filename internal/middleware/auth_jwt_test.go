package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"app/internal/domain/model"
	auth "app/internal/usecase/auth_usecase"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

// tokenを固定で判定するスタブ
type stubAuthenticator struct {
	valid map[string]*auth.Identity
	err   error
}

func (s *stubAuthenticator) Authenticate(ctx context.Context, bearer string) (*auth.Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	if id, ok := s.valid[bearer]; ok {
		return id, nil
	}
	return nil, auth.ErrTokenInvalid
}

func doRequest(t *testing.T, authenticator Authenticator, header string) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := AuthJWT(authenticator)(func(c echo.Context) error {
		id, ok := Identity(c)
		assert.True(t, ok)
		return c.JSON(http.StatusOK, id)
	})
	assert.NoError(t, h(c))
	return rec
}

func TestAuthJWT_ValidToken(t *testing.T) {
	s := &stubAuthenticator{valid: map[string]*auth.Identity{
		"good-token": {UserID: "u1", Email: "a@test.com", Role: model.RoleAgent},
	}}

	rec := doRequest(t, s, "Bearer good-token")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthJWT_MissingOrMalformedHeader(t *testing.T) {
	s := &stubAuthenticator{}

	for _, header := range []string{"", "Basic abc", "Bearer", "Bearer  "} {
		rec := doRequest(t, s, header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header=%q", header)
	}
}

func TestAuthJWT_ExpiredDistinguished(t *testing.T) {
	s := &stubAuthenticator{err: auth.ErrTokenExpired}

	rec := doRequest(t, s, "Bearer stale")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	// クライアントがrefreshを試せるよう、期限切れは本文で区別する
	assert.Contains(t, rec.Body.String(), "token expired")
}

func TestAuthJWT_InvalidToken(t *testing.T) {
	s := &stubAuthenticator{}

	rec := doRequest(t, s, "Bearer forged")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthorized")
}
