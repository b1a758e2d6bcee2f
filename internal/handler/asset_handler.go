package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/pcdview/internal/pkg/response"
	"github.com/xxxsen/pcdview/internal/service"
)

// AssetHandler serves the shared slot to viewers.
type AssetHandler struct {
	assets *service.AssetService
	name   string
}

func NewAssetHandler(assets *service.AssetService, name string) *AssetHandler {
	return &AssetHandler{assets: assets, name: name}
}

// Get answers 404 for an empty slot so the viewer's probe can stop there.
func (h *AssetHandler) Get(c *gin.Context) {
	rc, info, err := h.assets.Fetch(c.Request.Context(), h.name)
	if err != nil {
		handleError(c, err)
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, info.Size, info.ContentType, rc, map[string]string{
		"Cache-Control": "no-store",
	})
}

func (h *AssetHandler) Head(c *gin.Context) {
	info, err := h.assets.Info(c.Request.Context(), h.name)
	if err != nil {
		c.Status(statusOf(err))
		return
	}
	c.Header("Content-Type", info.ContentType)
	c.Header("Content-Length", strconv.FormatInt(info.Size, 10))
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
}

func (h *AssetHandler) Info(c *gin.Context) {
	info, err := h.assets.Info(c.Request.Context(), h.name)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, info)
}
