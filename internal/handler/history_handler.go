package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
	"github.com/xxxsen/pcdview/internal/pkg/response"
	"github.com/xxxsen/pcdview/internal/service"
)

type HistoryHandler struct {
	history *service.HistoryService
}

func NewHistoryHandler(history *service.HistoryService) *HistoryHandler {
	return &HistoryHandler{history: history}
}

func (h *HistoryHandler) List(c *gin.Context) {
	limit := 0
	if value := c.Query("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			handleError(c, appErr.ErrInvalid)
			return
		}
		limit = parsed
	}
	items, err := h.history.Recent(c.Request.Context(), limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, items)
}
