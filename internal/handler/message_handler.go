package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"safetrade-chat/internal/domain"
	"safetrade-chat/internal/services"
	"safetrade-chat/internal/transport/httpdto"
	safetrade_errors "safetrade-chat/pkg/errors"
)

type MessageHandler struct {
	service *services.MessageService
}

func NewMessageHandler(service *services.MessageService) *MessageHandler {
	return &MessageHandler{service: service}
}

// Send always answers with a SendMessageResponse so the client can tell a
// blocked message from a failed one.
func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewSendFailure("unauthorized", "UNAUTHORIZED"))
		return
	}

	var req httpdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewSendFailure("invalid request", "INVALID_REQUEST"))
		return
	}
	if req.SenderID != "" && req.SenderID != userID {
		c.JSON(http.StatusForbidden, httpdto.NewSendFailure("sender does not match token", "FORBIDDEN"))
		return
	}

	res, err := h.service.Send(c.Request.Context(), services.SendMessageInput{
		ConversationID: req.ConversationID,
		SenderID:       userID,
		Content:        req.Content,
		Type:           domain.MessageType(req.MessageType),
		IsEncrypted:    req.IsEncrypted,
		ClientID:       req.ClientID,
	})
	if err != nil {
		var blocked *safetrade_errors.BlockedError
		if errors.As(err, &blocked) {
			c.JSON(http.StatusUnprocessableEntity, httpdto.NewSendBlocked(res.Analysis))
			return
		}
		status := services.HTTPStatus(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			_ = c.Error(err)
			msg = "internal error"
		}
		c.JSON(status, httpdto.NewSendFailure(msg, services.ErrorCode(err)))
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSendSuccess(res.Message, res.Analysis))
}

func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	items, err := h.service.List(c.Request.Context(), id, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(items))
}
