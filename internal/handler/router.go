package handler

import (
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/pcdview/internal/middleware"
)

const (
	AssetPath  = "/asset"
	UploadPath = "/api/v1/upload"
)

type RouterDeps struct {
	Assets          *AssetHandler
	Uploads         *UploadHandler
	History         *HistoryHandler
	CORSAllowlist   []string
	ConnectInterval time.Duration
}

func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(deps.CORSAllowlist))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{UploadPath})))

	router.GET(AssetPath, deps.Assets.Get)
	router.HEAD(AssetPath, deps.Assets.Head)

	api := router.Group("/api/v1")
	api.GET("/asset/info", deps.Assets.Info)
	api.GET("/uploads", deps.History.List)
	api.GET("/upload", middleware.RateLimit(deps.ConnectInterval), deps.Uploads.Serve)

	return router
}
