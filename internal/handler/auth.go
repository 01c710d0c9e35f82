package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/config"
	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
	"github.com/iliyamo/studio-booking/internal/utils"
)

// UserAccounts stores accounts.  *repository.UserRepo implements it.
type UserAccounts interface {
	Create(ctx context.Context, nu repository.NewUser, cost int) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	UpdateProfile(ctx context.Context, id uint64, p repository.ProfileUpdate) error
	UpdatePassword(ctx context.Context, id uint64, plain string, cost int) error
}

// RefreshTokens stores refresh token hashes.  *repository.TokenRepo
// implements it.
type RefreshTokens interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string, now time.Time) (uint64, error)
	Rotate(ctx context.Context, userID uint64, oldHash, newHash string, exp time.Time) error
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) error
}

// AuthHandler bundles dependencies for auth and profile endpoints.
type AuthHandler struct {
	Cfg    config.Config
	Users  UserAccounts
	Tokens RefreshTokens
	Log    *zap.Logger
}

func NewAuthHandler(cfg config.Config, u UserAccounts, t RefreshTokens, log *zap.Logger) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u, Tokens: t, Log: log.Named("auth")}
}

// ----- DTOs -----

type registerReq struct {
	Email     string  `json:"email" validate:"required,email"`
	Password  string  `json:"password" validate:"required,min=6"`
	FirstName string  `json:"first_name" validate:"required,max=100"`
	LastName  string  `json:"last_name" validate:"max=100"`
	Phone     *string `json:"phone" validate:"omitempty,max=30"`
}
type loginReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}
type passwordReq struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}
type profileReq struct {
	FirstName      *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName       *string `json:"last_name" validate:"omitempty,max=100"`
	Phone          *string `json:"phone" validate:"omitempty,max=30"`
	EmergencyName  *string `json:"emergency_contact_name" validate:"omitempty,max=100"`
	EmergencyPhone *string `json:"emergency_contact_phone" validate:"omitempty,max=30"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type userPart struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
type authResp struct {
	User    userPart  `json:"user"`
	Access  tokenPart `json:"access"`
	Refresh tokenPart `json:"refresh"`
}
type profileResp struct {
	ID             uint64    `json:"id"`
	Email          string    `json:"email"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	FullName       string    `json:"full_name"`
	Phone          *string   `json:"phone,omitempty"`
	EmergencyName  *string   `json:"emergency_contact_name,omitempty"`
	EmergencyPhone *string   `json:"emergency_contact_phone,omitempty"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

func toProfile(u model.User) profileResp {
	return profileResp{
		ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName, FullName: u.FullName(),
		Phone: u.Phone, EmergencyName: u.EmergencyName, EmergencyPhone: u.EmergencyPhone,
		Role: u.Role, CreatedAt: u.CreatedAt,
	}
}

// issue creates an access/refresh pair and stores the refresh hash.
func (h *AuthHandler) issue(ctx context.Context, uid uint64, email, role string) (authResp, error) {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, uid, role, h.Cfg.AccessTTLMin)
	if err != nil {
		return authResp{}, err
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return authResp{}, err
	}
	if err := h.Tokens.StoreRefresh(ctx, uid, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return authResp{}, err
	}
	return authResp{
		User:    userPart{ID: uid, Email: email, Role: role},
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp}, // raw back to client
	}, nil
}

// Register creates a student account and returns tokens immediately.
// Administrators are only created from the command line.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	uid, err := h.Users.Create(ctx, repository.NewUser{
		Email: req.Email, Password: req.Password, FirstName: req.FirstName, LastName: req.LastName,
		Phone: req.Phone, Role: model.RoleStudent,
	}, h.Cfg.BcryptCost)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	resp, err := h.issue(ctx, uid, req.Email, model.RoleStudent)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	h.Log.Info("user registered", zap.Uint64("user_id", uid))
	return c.JSON(http.StatusCreated, resp)
}

// Login verifies credentials and returns a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if ok, err := bind(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			utils.BurnPasswordCheck(req.Password)
			return unauthorized(c, "invalid credentials")
		}
		return respondError(c, h.Log, err)
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) || !u.IsActive {
		return unauthorized(c, "invalid credentials")
	}
	resp, err := h.issue(ctx, u.ID, u.Email, u.Role)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Refresh exchanges a refresh token for a new pair.  The old token is
// revoked in the same transaction, so it works once.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return badRequest(c, "refresh_token required")
	}
	hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	userID, err := h.Tokens.ValidateRefresh(ctx, hash, time.Now())
	if err != nil {
		if errors.Is(err, repository.ErrTokenInvalid) {
			return unauthorized(c, "invalid refresh")
		}
		return respondError(c, h.Log, err)
	}
	u, err := h.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return unauthorized(c, "invalid refresh")
		}
		return respondError(c, h.Log, err)
	}
	if !u.IsActive {
		return unauthorized(c, "account disabled")
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, userID, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	newRef, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if err := h.Tokens.Rotate(ctx, userID, hash, utils.HashRefreshRaw(newRef.Raw), newRef.Exp); err != nil {
		if errors.Is(err, repository.ErrTokenInvalid) {
			return unauthorized(c, "invalid refresh")
		}
		return respondError(c, h.Log, err)
	}

	return c.JSON(http.StatusOK, authResp{
		User:    userPart{ID: userID, Email: u.Email, Role: u.Role},
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: newRef.Raw, Expires: newRef.Exp},
	})
}

// RefreshAccess returns a new access token without rotating the refresh
// token.
func (h *AuthHandler) RefreshAccess(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return badRequest(c, "refresh_token required")
	}
	hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	userID, err := h.Tokens.ValidateRefresh(ctx, hash, time.Now())
	if err != nil {
		if errors.Is(err, repository.ErrTokenInvalid) {
			return unauthorized(c, "invalid refresh")
		}
		return respondError(c, h.Log, err)
	}
	u, err := h.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return unauthorized(c, "invalid refresh")
		}
		return respondError(c, h.Log, err)
	}
	if !u.IsActive {
		return unauthorized(c, "account disabled")
	}
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, userID, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"access": tokenPart{Token: access.Token, Expires: access.Exp},
	})
}

// Logout revokes one refresh token when given in the body, otherwise every
// refresh token of the user named by the bearer access token.
func (h *AuthHandler) Logout(c echo.Context) error {
	var (
		uid       uint64
		hasBearer bool
	)
	if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if claims, err := utils.ParseAccessToken(h.Cfg.JWTSecret, strings.TrimPrefix(auth, "Bearer ")); err == nil {
			uid, err = claims.UserID()
			hasBearer = err == nil
		}
	}

	var req refreshReq
	_ = c.Bind(&req)
	refreshToken := strings.TrimSpace(req.RefreshToken)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	switch {
	case refreshToken != "":
		hash := utils.HashRefreshRaw(refreshToken)
		if _, err := h.Tokens.ValidateRefresh(ctx, hash, time.Now()); err != nil {
			if errors.Is(err, repository.ErrTokenInvalid) {
				return unauthorized(c, "invalid refresh token")
			}
			return respondError(c, h.Log, err)
		}
		if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
			return respondError(c, h.Log, err)
		}
		return c.NoContent(http.StatusNoContent)
	case hasBearer:
		if err := h.Tokens.RevokeAllForUser(ctx, uid); err != nil {
			return respondError(c, h.Log, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
	return badRequest(c, "provide Authorization header or refresh_token")
}

// Me returns the caller's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c, "unauthorized")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toProfile(u))
}

// UpdateMe changes the caller's name, phone and emergency contact.
func (h *AuthHandler) UpdateMe(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c, "unauthorized")
	}
	var req profileReq
	if ok, err := bind(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Users.UpdateProfile(ctx, uid, repository.ProfileUpdate{
		FirstName: req.FirstName, LastName: req.LastName, Phone: req.Phone,
		EmergencyName: req.EmergencyName, EmergencyPhone: req.EmergencyPhone,
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toProfile(u))
}

// ChangePassword replaces the caller's password after checking the current
// one.  Every other session is signed out and a fresh token pair returned.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c, "unauthorized")
	}
	var req passwordReq
	if ok, err := bind(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if !utils.VerifyPassword(u.PasswordHash, req.CurrentPassword) {
		return unauthorized(c, "current password is incorrect")
	}
	if err := h.Users.UpdatePassword(ctx, uid, req.NewPassword, h.Cfg.BcryptCost); err != nil {
		return respondError(c, h.Log, err)
	}
	if err := h.Tokens.RevokeAllForUser(ctx, uid); err != nil {
		return respondError(c, h.Log, err)
	}
	resp, err := h.issue(ctx, uid, u.Email, u.Role)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	h.Log.Info("password changed", zap.Uint64("user_id", uid))
	return c.JSON(http.StatusOK, resp)
}
