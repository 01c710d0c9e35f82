package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/config"
	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
	"github.com/iliyamo/studio-booking/internal/utils"
)

type stubAccounts struct {
	users       map[uint64]model.User
	newPassword string
}

func (s *stubAccounts) Create(context.Context, repository.NewUser, int) (uint64, error) {
	return 0, errors.New("not used")
}

func (s *stubAccounts) GetByEmail(_ context.Context, email string) (model.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, model.ErrNotFound
}

func (s *stubAccounts) GetByID(_ context.Context, id uint64) (model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return u, nil
}

func (s *stubAccounts) UpdateProfile(context.Context, uint64, repository.ProfileUpdate) error { return nil }

func (s *stubAccounts) UpdatePassword(_ context.Context, _ uint64, plain string, _ int) error {
	s.newPassword = plain
	return nil
}

// stubTokens keeps live refresh token hashes in memory.
type stubTokens struct {
	live       map[string]uint64
	revokedAll uint64
}

func newStubTokens(raw ...string) *stubTokens {
	s := &stubTokens{live: map[string]uint64{}}
	for _, r := range raw {
		s.live[utils.HashRefreshRaw(r)] = 3
	}
	return s
}

func (s *stubTokens) StoreRefresh(_ context.Context, uid uint64, hash string, _ time.Time) error {
	s.live[hash] = uid
	return nil
}

func (s *stubTokens) ValidateRefresh(_ context.Context, hash string, _ time.Time) (uint64, error) {
	uid, ok := s.live[hash]
	if !ok {
		return 0, repository.ErrTokenInvalid
	}
	return uid, nil
}

func (s *stubTokens) Rotate(_ context.Context, uid uint64, oldHash, newHash string, _ time.Time) error {
	if owner, ok := s.live[oldHash]; !ok || owner != uid {
		return repository.ErrTokenInvalid
	}
	delete(s.live, oldHash)
	s.live[newHash] = uid
	return nil
}

func (s *stubTokens) RevokeByHash(_ context.Context, hash string) error {
	delete(s.live, hash)
	return nil
}

func (s *stubTokens) RevokeAllForUser(_ context.Context, uid uint64) error {
	s.revokedAll = uid
	for h, owner := range s.live {
		if owner == uid {
			delete(s.live, h)
		}
	}
	return nil
}

func testAccounts(t *testing.T, active bool) *stubAccounts {
	t.Helper()
	hash, err := utils.HashPassword("old-secret", 4)
	require.NoError(t, err)
	return &stubAccounts{users: map[uint64]model.User{
		3: {ID: 3, Email: "ana@example.com", PasswordHash: hash, FirstName: "Ana", Role: model.RoleStudent, IsActive: active},
	}}
}

func newAuthServer(t *testing.T, users *stubAccounts, tokens *stubTokens) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.Validator = NewRequestValidator()
	cfg := config.Config{JWTSecret: testSecret, AccessTTLMin: 5, RefreshTTLDays: 7, BcryptCost: 4}
	h := NewAuthHandler(cfg, users, tokens, zap.NewNop())

	e.POST("/v1/auth/refresh", h.Refresh)
	e.POST("/v1/auth/logout", h.Logout)
	me := e.Group("/v1/me", middleware.JWTAuth(testSecret))
	me.PUT("/password", h.ChangePassword)
	return e
}

func post(e *echo.Echo, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRefreshRotatesOnce(t *testing.T) {
	tokens := newStubTokens("raw-1")
	e := newAuthServer(t, testAccounts(t, true), tokens)

	rec := post(e, "/v1/auth/refresh", `{"refresh_token":"raw-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp authResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(3), resp.User.ID)
	assert.NotEmpty(t, resp.Access.Token)
	assert.NotEqual(t, "raw-1", resp.Refresh.Token)
	assert.Contains(t, tokens.live, utils.HashRefreshRaw(resp.Refresh.Token))

	rec = post(e, "/v1/auth/refresh", `{"refresh_token":"raw-1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(e, "/v1/auth/refresh", `{"refresh_token":"`+resp.Refresh.Token+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshRejects(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		e := newAuthServer(t, testAccounts(t, true), newStubTokens())
		assert.Equal(t, http.StatusBadRequest, post(e, "/v1/auth/refresh", `{}`).Code)
	})
	t.Run("unknown token", func(t *testing.T) {
		e := newAuthServer(t, testAccounts(t, true), newStubTokens())
		assert.Equal(t, http.StatusUnauthorized, post(e, "/v1/auth/refresh", `{"refresh_token":"nope"}`).Code)
	})
	t.Run("disabled account", func(t *testing.T) {
		tokens := newStubTokens("raw-1")
		e := newAuthServer(t, testAccounts(t, false), tokens)
		rec := post(e, "/v1/auth/refresh", `{"refresh_token":"raw-1"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, tokens.live, utils.HashRefreshRaw("raw-1"))
	})
}

func TestLogout(t *testing.T) {
	t.Run("single token", func(t *testing.T) {
		tokens := newStubTokens("raw-1", "raw-2")
		e := newAuthServer(t, testAccounts(t, true), tokens)

		rec := post(e, "/v1/auth/logout", `{"refresh_token":"raw-1"}`)
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.NotContains(t, tokens.live, utils.HashRefreshRaw("raw-1"))
		assert.Contains(t, tokens.live, utils.HashRefreshRaw("raw-2"))

		assert.Equal(t, http.StatusUnauthorized, post(e, "/v1/auth/logout", `{"refresh_token":"raw-1"}`).Code)
	})
	t.Run("every session via bearer", func(t *testing.T) {
		tokens := newStubTokens("raw-1", "raw-2")
		e := newAuthServer(t, testAccounts(t, true), tokens)

		rec := call(t, e, http.MethodPost, "/v1/auth/logout", "", 3, model.RoleStudent)
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, uint64(3), tokens.revokedAll)
		assert.Empty(t, tokens.live)
	})
	t.Run("nothing to revoke", func(t *testing.T) {
		e := newAuthServer(t, testAccounts(t, true), newStubTokens())
		assert.Equal(t, http.StatusBadRequest, post(e, "/v1/auth/logout", "").Code)
	})
}

func TestChangePassword(t *testing.T) {
	users := testAccounts(t, true)
	tokens := newStubTokens("raw-1")
	e := newAuthServer(t, users, tokens)

	rec := call(t, e, http.MethodPut, "/v1/me/password", `{"current_password":"wrong","new_password":"brand-new"}`, 3, model.RoleStudent)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, users.newPassword)

	rec = call(t, e, http.MethodPut, "/v1/me/password", `{"current_password":"old-secret","new_password":"abc"}`, 3, model.RoleStudent)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, e, http.MethodPut, "/v1/me/password", `{"current_password":"old-secret","new_password":"brand-new"}`, 3, model.RoleStudent)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "brand-new", users.newPassword)
	assert.Equal(t, uint64(3), tokens.revokedAll)
	assert.NotContains(t, tokens.live, utils.HashRefreshRaw("raw-1"))

	var resp authResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, tokens.live, utils.HashRefreshRaw(resp.Refresh.Token))
}
