package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sftpgate/internal/handlers"
)

func registerFileRoutes(api *gin.RouterGroup, handler *handlers.FilesHandler) {
	files := api.Group("/files")
	{
		files.POST("/upload", handler.Upload)
		files.POST("/upload/batch", handler.UploadBatch)
		files.GET("/download", handler.Download)
		files.DELETE("", handler.Delete)
		files.GET("/list", handler.List)
		files.GET("/info", handler.Info)
		files.GET("/exists", handler.Exists)
		files.POST("/directories", handler.CreateDirectory)
		files.POST("/move", handler.Move)
		files.POST("/copy", handler.Copy)
		files.GET("/checksum", handler.Checksum)
		files.POST("/sync", handler.Sync)
	}

	api.GET("/server/info", handler.ServerInfo)
}
