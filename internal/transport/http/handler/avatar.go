package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medscan/internal/app"
	"medscan/internal/transport/http/middleware"
	"medscan/internal/transport/http/response"
)

type AvatarUploader interface {
	Upload(ctx context.Context, userID uint, data []byte) (string, error)
}

type AvatarHandler struct {
	avatars AvatarUploader
	logger  *zap.Logger
}

func NewAvatarHandler(avatars AvatarUploader, logger *zap.Logger) *AvatarHandler {
	return &AvatarHandler{avatars: avatars, logger: logger}
}

// Upload stores the image and returns its URL. Callers attach it to the
// profile with PATCH /auth/profile.
func (h *AvatarHandler) Upload(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	_, data, err := readUpload(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		return
	}

	url, err := h.avatars.Upload(c.Request.Context(), userID, data)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrNotImage), errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			h.logger.Error("upload avatar failed", zap.Uint("user_id", userID), zap.Error(err))
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "upload avatar failed")
		}
		return
	}
	response.OK(c, gin.H{"url": url})
}
