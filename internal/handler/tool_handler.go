package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/docchat/docchat/internal/pkg/response"
	"github.com/docchat/docchat/internal/router"
)

type ToolHandler struct {
	registry *router.Registry
}

func NewToolHandler(registry *router.Registry) *ToolHandler {
	return &ToolHandler{registry: registry}
}

type toolParamView struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

type toolView struct {
	Name        string          `json:"name"`
	Label       string          `json:"label"`
	Description string          `json:"description"`
	Params      []toolParamView `json:"params"`
}

func (h *ToolHandler) List(c *gin.Context) {
	tools := h.registry.Tools()
	views := make([]toolView, 0, len(tools))
	for _, tool := range tools {
		view := toolView{
			Name:        tool.Name,
			Label:       tool.Label,
			Description: tool.Description,
			Params:      make([]toolParamView, 0, len(tool.Params)),
		}
		for _, p := range tool.Params {
			view.Params = append(view.Params, toolParamView{Name: p.Name, Type: p.Type, Required: p.Required})
		}
		views = append(views, view)
	}
	response.Success(c, views)
}
