package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/docchat/docchat/internal/pkg/errcode"
	appErr "github.com/docchat/docchat/internal/pkg/errors"
	"github.com/docchat/docchat/internal/pkg/response"
	"github.com/docchat/docchat/internal/service"
)

const maxUploadSize = 50 << 20

type DocumentHandler struct {
	documents *service.DocumentService
}

func NewDocumentHandler(documents *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

func (h *DocumentHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "file is required")
		return
	}
	if file.Size > maxUploadSize {
		response.Error(c, errcode.ErrUploadFailed, "file too large")
		return
	}
	reader, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrUploadFailed, "open upload failed")
		return
	}
	defer reader.Close()
	doc, err := h.documents.Upload(c.Request.Context(), file.Filename, reader, file.Size)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	limit, _ := strconv.ParseUint(c.DefaultQuery("limit", "50"), 10, 32)
	offset, _ := strconv.ParseUint(c.DefaultQuery("offset", "0"), 10, 32)
	docs, err := h.documents.List(c.Request.Context(), uint(limit), uint(offset))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	docID := c.Param("id")
	if docID == "" {
		handleError(c, appErr.ErrInvalid)
		return
	}
	doc, err := h.documents.Get(c.Request.Context(), docID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Reindex(c *gin.Context) {
	docID := c.Param("id")
	if docID == "" {
		handleError(c, appErr.ErrInvalid)
		return
	}
	doc, err := h.documents.Reindex(c.Request.Context(), docID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	docID := c.Param("id")
	if docID == "" {
		handleError(c, appErr.ErrInvalid)
		return
	}
	if err := h.documents.Delete(c.Request.Context(), docID); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"status": "deleting"})
}
