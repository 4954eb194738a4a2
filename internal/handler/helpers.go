package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/docchat/docchat/internal/pkg/errcode"
	appErr "github.com/docchat/docchat/internal/pkg/errors"
	"github.com/docchat/docchat/internal/pkg/response"
	"github.com/docchat/docchat/internal/worker"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID, _ := c.Get("request_id")
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))
	switch {
	case errors.Is(err, appErr.ErrAlreadyIndexing):
		response.Error(c, errcode.ErrAlreadyIndexing, "document is already indexing")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, errcode.ErrConflict, "conflict")
	case errors.Is(err, appErr.ErrDeleteIncomplete):
		response.Error(c, errcode.ErrDeleteIncomplete, "delete incomplete")
	case errors.Is(err, worker.ErrQueueFull):
		response.Error(c, errcode.ErrInternal, "server busy, try again later")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
