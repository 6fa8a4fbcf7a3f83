package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"safetrade-chat/internal/services"
	"safetrade-chat/internal/transport/httpdto"
)

type UserHandler struct {
	service *services.UserService
}

func NewUserHandler(service *services.UserService) *UserHandler {
	return &UserHandler{service: service}
}

func (h *UserHandler) GetProfile(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.service.Profile(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(p))
}

func (h *UserHandler) GetListing(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	s, err := h.service.Listing(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(s))
}
