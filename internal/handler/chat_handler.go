package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/docchat/docchat/internal/pkg/errcode"
	"github.com/docchat/docchat/internal/pkg/response"
	"github.com/docchat/docchat/internal/service"
)

type ChatHandler struct {
	chat *service.ChatService
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// Stream answers one chat turn as newline-delimited JSON: any number of
// {"text": ...} fragments followed by one terminal {"sources": [...]}.
// Closing the connection cancels generation and any in-flight tool call.
func (h *ChatHandler) Stream(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		response.Error(c, errcode.ErrInvalid, "query is required")
		return
	}

	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)
	emitter := &ndjsonEmitter{c: c}

	err := h.chat.Chat(c.Request.Context(), &req, emitter)
	if err != nil && err != context.Canceled {
		logutil.GetLogger(c.Request.Context()).Error("chat turn failed", zap.Error(err))
		if !emitter.wrote {
			_ = emitter.Text("Something went wrong, please try again.")
			_ = emitter.Sources(nil)
		}
	}
}

type ndjsonEmitter struct {
	c     *gin.Context
	wrote bool
}

type textEvent struct {
	Text string `json:"text"`
}

type sourcesEvent struct {
	Sources []service.Source `json:"sources"`
}

func (e *ndjsonEmitter) Text(chunk string) error {
	if chunk == "" {
		return nil
	}
	return e.write(textEvent{Text: chunk})
}

func (e *ndjsonEmitter) Sources(sources []service.Source) error {
	if sources == nil {
		sources = []service.Source{}
	}
	return e.write(sourcesEvent{Sources: sources})
}

func (e *ndjsonEmitter) write(event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := e.c.Writer.Write(append(data, '\n')); err != nil {
		return err
	}
	e.wrote = true
	e.c.Writer.Flush()
	return nil
}
