package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/docchat/docchat/internal/pkg/errors"
	"github.com/docchat/docchat/internal/retrieval"
	"github.com/docchat/docchat/internal/router"
)

// Source is one citation attached to the end of a streamed answer: a
// document page for grounded answers or the tool that produced the data.
type Source struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Page int    `json:"page,omitempty"`
}

const (
	SourceTypeDocument = "document"
	SourceTypeTool     = "tool"
)

// Emitter receives the streamed reply: any number of text fragments, then
// exactly one terminal source list.
type Emitter interface {
	Text(chunk string) error
	Sources(sources []Source) error
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	ConversationID string    `json:"conversation_id"`
	Query          string    `json:"query"`
	History        []Message `json:"history"`
}

type turnRouter interface {
	Route(ctx context.Context, turn *router.Turn) (*router.Action, error)
}

type toolInvoker interface {
	Invoke(ctx context.Context, tool *router.Tool, args map[string]string) (string, error)
}

type chatGenerator interface {
	GenerateStream(ctx context.Context, prompt string, fn func(chunk string) error) error
}

// ChatService runs one conversation turn: route the query, compose a
// prompt for the chosen action and stream the reply. Cancelling the
// context stops generation and any in-flight tool call.
type ChatService struct {
	router turnRouter
	tools  toolInvoker
	gen    chatGenerator
}

func NewChatService(r turnRouter, tools toolInvoker, gen chatGenerator) *ChatService {
	return &ChatService{router: r, tools: tools, gen: gen}
}

func (s *ChatService) Chat(ctx context.Context, req *ChatRequest, emit Emitter) error {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return appErr.ErrInvalid
	}
	turn := &router.Turn{
		ConversationID: req.ConversationID,
		Query:          query,
		Context:        historyText(req.History),
	}
	action, err := s.router.Route(ctx, turn)
	if err != nil {
		return err
	}
	switch action.Type {
	case router.ActionAnswer:
		return s.answer(ctx, query, turn.Context, action.Verdict, emit)
	case router.ActionChooseSource:
		return s.chooseSource(action.Verdict, emit)
	case router.ActionConfirmFuzzy:
		return s.confirmFuzzy(action.Verdict, emit)
	case router.ActionAskForParameter:
		return s.askForParameter(action, emit)
	case router.ActionInvokeTool:
		return s.invokeTool(ctx, query, turn.Context, action, emit)
	default:
		return s.chitchat(ctx, query, turn.Context, emit)
	}
}

func (s *ChatService) answer(ctx context.Context, query, history string, verdict *retrieval.Verdict, emit Emitter) error {
	var sb strings.Builder
	sb.WriteString("Answer the question using only the passages below. ")
	sb.WriteString("If the passages do not contain the answer, say so.\n\n")
	for i, m := range verdict.Matches {
		fmt.Fprintf(&sb, "Passage %d (from %s, page %d):\n%s\n\n", i+1, m.Document.Name, m.Chunk.Page, m.Chunk.Content)
	}
	if history != "" {
		sb.WriteString("Conversation so far:\n")
		sb.WriteString(history)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	if err := s.stream(ctx, sb.String(), emit); err != nil {
		return err
	}
	return emit.Sources(documentSources(verdict.Matches))
}

func (s *ChatService) chooseSource(verdict *retrieval.Verdict, emit Emitter) error {
	var sb strings.Builder
	sb.WriteString("I found relevant content in several documents. Which one do you mean?\n")
	for i, m := range verdict.Candidates {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, m.Document.Name)
	}
	sb.WriteString("Reply with a number or the document name.")
	if err := emit.Text(sb.String()); err != nil {
		return err
	}
	return emit.Sources(documentSources(verdict.Candidates))
}

func (s *ChatService) confirmFuzzy(verdict *retrieval.Verdict, emit Emitter) error {
	names := make([]string, 0, len(verdict.Candidates))
	for _, m := range verdict.Candidates {
		names = append(names, m.Document.Name)
	}
	text := fmt.Sprintf("I found a possible match in %s, but I am not certain. Should I answer based on it? (yes/no)",
		strings.Join(names, ", "))
	if err := emit.Text(text); err != nil {
		return err
	}
	return emit.Sources(nil)
}

func (s *ChatService) askForParameter(action *router.Action, emit Emitter) error {
	label := action.Tool.Label
	if label == "" {
		label = action.Tool.Name
	}
	text := fmt.Sprintf("To use %s I still need: %s. Please provide it.", label, action.MissingParam)
	if err := emit.Text(text); err != nil {
		return err
	}
	return emit.Sources(nil)
}

func (s *ChatService) invokeTool(ctx context.Context, query, history string, action *router.Action, emit Emitter) error {
	label := action.Tool.Label
	if label == "" {
		label = action.Tool.Name
	}
	result, err := s.tools.Invoke(ctx, action.Tool, action.Args)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logutil.GetLogger(ctx).Warn("tool invocation failed", zap.String("tool", action.Tool.Name), zap.Error(err))
		text := fmt.Sprintf("Calling %s failed", label)
		if errors.Is(err, appErr.ErrToolTimeout) {
			text = fmt.Sprintf("Calling %s timed out", label)
		}
		if err := emit.Text(text + ", please try again later."); err != nil {
			return err
		}
		return emit.Sources(nil)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "The tool %q returned the following result:\n%s\n\n", label, result)
	if history != "" {
		sb.WriteString("Conversation so far:\n")
		sb.WriteString(history)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Answer the user's question using the tool result.\nQuestion: ")
	sb.WriteString(query)
	if err := s.stream(ctx, sb.String(), emit); err != nil {
		return err
	}
	return emit.Sources([]Source{{Type: SourceTypeTool, Name: label}})
}

func (s *ChatService) chitchat(ctx context.Context, query, history string, emit Emitter) error {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant. Reply conversationally.\n")
	if history != "" {
		sb.WriteString("Conversation so far:\n")
		sb.WriteString(history)
		sb.WriteString("\n")
	}
	sb.WriteString("User: ")
	sb.WriteString(query)
	if err := s.stream(ctx, sb.String(), emit); err != nil {
		return err
	}
	return emit.Sources(nil)
}

func (s *ChatService) stream(ctx context.Context, prompt string, emit Emitter) error {
	err := s.gen.GenerateStream(ctx, prompt, func(chunk string) error {
		return emit.Text(chunk)
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// documentSources dedupes matches into one citation per document page,
// keeping match order.
func documentSources(matches []retrieval.Match) []Source {
	seen := make(map[string]struct{}, len(matches))
	sources := make([]Source, 0, len(matches))
	for _, m := range matches {
		key := fmt.Sprintf("%s:%d", m.Document.ID, m.Chunk.Page)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		sources = append(sources, Source{Type: SourceTypeDocument, Name: m.Document.Name, Page: m.Chunk.Page})
	}
	return sources
}

func historyText(history []Message) string {
	if len(history) == 0 {
		return ""
	}
	const maxTurns = 10
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	var sb strings.Builder
	for _, msg := range history {
		role := msg.Role
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, strings.TrimSpace(msg.Content))
	}
	return strings.TrimSpace(sb.String())
}
