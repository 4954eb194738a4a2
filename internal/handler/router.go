package handler

import (
	"github.com/gin-gonic/gin"
)

type RouterDeps struct {
	Documents *DocumentHandler
	Chat      *ChatHandler
	Tools     *ToolHandler
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/documents", deps.Documents.Upload)
	api.GET("/documents", deps.Documents.List)
	api.GET("/documents/:id", deps.Documents.Get)
	api.POST("/documents/:id/reindex", deps.Documents.Reindex)
	api.DELETE("/documents/:id", deps.Documents.Delete)

	api.POST("/chat", deps.Chat.Stream)
	api.GET("/tools", deps.Tools.List)
}
