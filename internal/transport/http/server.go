package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/roomrelay/relayd/internal/auth"
	"github.com/roomrelay/relayd/internal/config"
	"github.com/roomrelay/relayd/internal/core"
	"github.com/roomrelay/relayd/internal/store"
)

// NewServer builds the HTTP server: health probe, the WebSocket bridge to
// the hub, and the JWT-guarded file endpoints over the upload ledger.
func NewServer(hub *core.Hub, uploads store.UploadStore, blobs store.BlobStore, jwtCfg *auth.JWTConfig, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	router.GET("/ws", gin.WrapH(NewWSHandler(hub, cfg.MaxFrameBytes, logger)))

	files := NewFileHandlers(uploads, blobs, logger)
	api := router.Group("/api")
	api.Use(AuthMiddleware(jwtCfg, logger))
	{
		api.GET("/files", files.List)
		api.GET("/files/:name", files.Download)
	}

	return &stdhttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
