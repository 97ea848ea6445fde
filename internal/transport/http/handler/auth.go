package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medscan/internal/app"
	"medscan/internal/model"
	"medscan/internal/transport/http/middleware"
	"medscan/internal/transport/http/response"
	"medscan/pkg/identity"
)

type AuthHandler struct {
	authService  *app.AuthService
	oauthService *app.GoogleOAuthService
	logger       *zap.Logger
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,max=128"`
	Password string `json:"password" binding:"required,max=128"`
	Name     string `json:"name" binding:"max=128"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,max=128"`
	Password string `json:"password" binding:"required,max=128"`
}

type ProfileRequest struct {
	Name   *string `json:"name"`
	Avatar *string `json:"avatar"`
}

func NewAuthHandler(authService *app.AuthService, oauthService *app.GoogleOAuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, oauthService: oauthService, logger: logger}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.authService.Register(c.Request.Context(), app.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrWeakPassword):
			response.Error(c, http.StatusBadRequest, response.CodeWeakPassword, err.Error())
		case errors.Is(err, app.ErrEmailExists):
			response.Error(c, http.StatusConflict, response.CodeEmailExists, err.Error())
		default:
			h.logger.Error("register failed", zap.Error(err))
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "register failed")
		}
		return
	}

	response.OK(c, gin.H{
		"token": result.Token,
		"user":  userView(result.User),
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.authService.Login(c.Request.Context(), app.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidCredential):
			response.Error(c, http.StatusUnauthorized, response.CodeInvalidCredentials, err.Error())
		default:
			h.logger.Error("login failed", zap.Error(err))
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "login failed")
		}
		return
	}

	response.OK(c, gin.H{
		"token": result.Token,
		"user":  userView(result.User),
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	h.authService.Logout(claims)
	response.OK(c, nil)
}

func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	response.OK(c, userView(user))
}

func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	user, err := h.authService.UpdateProfile(c.Request.Context(), userID, app.ProfileInput{
		Name:   req.Name,
		Avatar: req.Avatar,
	})
	if err != nil {
		h.writeUserError(c, err, "update profile failed")
		return
	}
	response.OK(c, userView(user))
}

func (h *AuthHandler) SendVerification(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	err := h.authService.SendVerification(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, app.ErrEmailAlreadyConfirmed) {
		h.writeUserError(c, err, "send verification failed")
		return
	}
	response.OK(c, nil)
}

// Verify is opened from the mailed link, so it answers with plain text.
func (h *AuthHandler) Verify(c *gin.Context) {
	user, err := h.authService.VerifyEmail(c.Request.Context(), c.Query("token"))
	if err != nil {
		if errors.Is(err, app.ErrInvalidVerifyToken) {
			c.String(http.StatusBadRequest, "This verification link is invalid or has expired.")
			return
		}
		h.logger.Error("verify email failed", zap.Error(err))
		c.String(http.StatusInternalServerError, "Email verification failed, please try again later.")
		return
	}
	c.String(http.StatusOK, "Email %s verified. You can close this window.", user.Email)
}

func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	target, err := h.oauthService.LoginURL(c.Query("redirect_uri"))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrOAuthDisabled):
			response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
		case errors.Is(err, app.ErrInvalidRedirect):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			h.logger.Error("google login failed", zap.Error(err))
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "google login failed")
		}
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	target, err := h.oauthService.Callback(c.Request.Context(), c.Query("state"), c.Query("code"), c.Query("error"))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrOAuthDisabled):
			response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
		default:
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		}
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (h *AuthHandler) currentUser(c *gin.Context) (*model.User, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return nil, false
	}
	user, err := h.authService.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		h.writeUserError(c, err, "fetch current user failed")
		return nil, false
	}
	return user, true
}

func (h *AuthHandler) writeUserError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrUserNotFound):
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "user not found")
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "request cancelled")
	default:
		h.logger.Error(fallback, zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func userView(user *model.User) identity.User {
	return identity.User{
		ID:            strconv.FormatUint(uint64(user.ID), 10),
		Email:         user.Email,
		Name:          user.Name,
		Avatar:        user.AvatarURL,
		EmailVerified: user.EmailVerified,
	}
}
