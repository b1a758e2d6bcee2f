package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pcdview/internal/middleware"
	"github.com/xxxsen/pcdview/internal/pkg/errcode"
	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
	"github.com/xxxsen/pcdview/internal/pkg/response"
)

func requestID(c *gin.Context) string {
	value, _ := c.Get(middleware.ContextRequestIDKey)
	id, _ := value.(string)
	return id
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("request_id", requestID(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, appErr.ErrNotFound):
		logger.Debug("request failed")
		response.Error(c, http.StatusNotFound, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid):
		logger.Warn("request failed")
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, appErr.ErrConflict):
		logger.Warn("request failed")
		response.Error(c, http.StatusConflict, errcode.ErrConflict, "conflict")
	case errors.Is(err, appErr.ErrTooLarge):
		logger.Warn("request failed")
		response.Error(c, http.StatusRequestEntityTooLarge, errcode.ErrTooLarge, "too large")
	default:
		logger.Error("request failed")
		response.Error(c, http.StatusInternalServerError, errcode.ErrInternal, "internal error")
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, appErr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, appErr.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
