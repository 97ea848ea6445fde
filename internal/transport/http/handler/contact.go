package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medscan/internal/app"
	"medscan/internal/transport/http/response"
)

type ContactSender interface {
	Send(input app.ContactInput) error
}

type ContactRequest struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email" binding:"required"`
	Message string `json:"message" binding:"required"`
}

type ContactHandler struct {
	contact ContactSender
	logger  *zap.Logger
}

func NewContactHandler(contact ContactSender, logger *zap.Logger) *ContactHandler {
	return &ContactHandler{contact: contact, logger: logger}
}

func (h *ContactHandler) Send(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	err := h.contact.Send(app.ContactInput{Name: req.Name, Email: req.Email, Message: req.Message})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrContactUnavailable):
			response.Error(c, http.StatusBadGateway, response.CodeUpstreamFailure, "failed to send message, please try again")
		default:
			h.logger.Error("send contact message failed", zap.Error(err))
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "send contact message failed")
		}
		return
	}
	response.OK(c, gin.H{"sent": true})
}
