package router

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/model"
	appErr "github.com/docchat/docchat/internal/pkg/errors"
	"github.com/docchat/docchat/internal/retrieval"
)

type stubRetriever struct {
	verdict *retrieval.Verdict
	err     error
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string) (*retrieval.Verdict, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.verdict == nil {
		return &retrieval.Verdict{}, nil
	}
	return s.verdict, nil
}

// stubEmbedder returns a fixed anchor for tool descriptions and a query
// vector whose cosine similarity against that anchor is exactly score.
type stubEmbedder struct {
	score float64
}

func (s *stubEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if taskType == "RETRIEVAL_DOCUMENT" {
		return []float32{1, 0}, nil
	}
	return []float32{float32(s.score), float32(math.Sqrt(1 - s.score*s.score))}, nil
}

type stubGenerator struct {
	response string
	err      error
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func weatherRegistry(t *testing.T, embed Embedder) *Registry {
	t.Helper()
	reg, err := NewRegistry(context.Background(), []config.ToolConfig{{
		Name:        "weather",
		Label:       "Weather",
		Description: "look up the current weather forecast for a city",
		Transport:   "local",
		TimeoutSec:  5,
		Params:      []config.ToolParamConfig{{Name: "city", Type: "string", Required: true}},
	}}, embed)
	require.NoError(t, err)
	return reg
}

func newTestRouter(retriever Retriever, registry *Registry, embed Embedder, gen Generator) *Router {
	return New(retriever, registry, embed, gen, Config{ToolThreshold: 0.4, PendingTTL: time.Minute})
}

func answerVerdict() *retrieval.Verdict {
	return &retrieval.Verdict{Matches: []retrieval.Match{{
		Chunk:    model.Chunk{ID: "c1", DocumentID: "d1", Page: 1, Content: "text"},
		Document: model.Document{ID: "d1", Name: "doc.pdf"},
		Score:    1,
		Kind:     retrieval.MatchExact,
	}}}
}

func TestRouteConfidentVerdictAnswers(t *testing.T) {
	embed := &stubEmbedder{score: 0.9}
	r := newTestRouter(&stubRetriever{verdict: answerVerdict()}, weatherRegistry(t, embed), embed, &stubGenerator{})

	action, err := r.Route(context.Background(), &Turn{ConversationID: "conv", Query: "what does the doc say"})
	require.NoError(t, err)
	require.Equal(t, ActionAnswer, action.Type)
	require.NotNil(t, action.Verdict)
}

func TestRouteAmbiguousVerdictAsksForSource(t *testing.T) {
	verdict := answerVerdict()
	verdict.Ambiguous = true
	verdict.Candidates = verdict.Matches
	embed := &stubEmbedder{score: 0.9}
	r := newTestRouter(&stubRetriever{verdict: verdict}, weatherRegistry(t, embed), embed, &stubGenerator{})

	action, err := r.Route(context.Background(), &Turn{ConversationID: "conv", Query: "termination clause"})
	require.NoError(t, err)
	require.Equal(t, ActionChooseSource, action.Type)
}

func TestRouteFuzzyVerdictAsksForConfirmation(t *testing.T) {
	verdict := answerVerdict()
	verdict.NeedsConfirmation = true
	verdict.Candidates = verdict.Matches
	embed := &stubEmbedder{score: 0.9}
	r := newTestRouter(&stubRetriever{verdict: verdict}, weatherRegistry(t, embed), embed, &stubGenerator{})

	action, err := r.Route(context.Background(), &Turn{ConversationID: "conv", Query: "今天天气预报"})
	require.NoError(t, err)
	require.Equal(t, ActionConfirmFuzzy, action.Type)
}

func TestRouteToolMissingParameter(t *testing.T) {
	embed := &stubEmbedder{score: 0.42}
	gen := &stubGenerator{response: "{}"}
	r := newTestRouter(&stubRetriever{}, weatherRegistry(t, embed), embed, gen)

	action, err := r.Route(context.Background(), &Turn{ConversationID: "conv", Query: "how is the weather today"})
	require.NoError(t, err)
	require.Equal(t, ActionAskForParameter, action.Type)
	require.Equal(t, "weather", action.Tool.Name)
	require.Equal(t, "city", action.MissingParam)
}

func TestRouteToolWithExtractedParameter(t *testing.T) {
	embed := &stubEmbedder{score: 0.42}
	gen := &stubGenerator{response: `{"city": "Chengdu"}`}
	r := newTestRouter(&stubRetriever{}, weatherRegistry(t, embed), embed, gen)

	action, err := r.Route(context.Background(), &Turn{ConversationID: "conv", Query: "weather in Chengdu"})
	require.NoError(t, err)
	require.Equal(t, ActionInvokeTool, action.Type)
	require.Equal(t, "Chengdu", action.Args["city"])
}

func TestRouteBelowToolThresholdFallsToChitchat(t *testing.T) {
	embed := &stubEmbedder{score: 0.2}
	r := newTestRouter(&stubRetriever{}, weatherRegistry(t, embed), embed, &stubGenerator{response: "{}"})

	action, err := r.Route(context.Background(), &Turn{ConversationID: "conv", Query: "tell me a joke"})
	require.NoError(t, err)
	require.Equal(t, ActionChitchat, action.Type)
}

func TestRouteRetrievalErrorFallsThrough(t *testing.T) {
	embed := &stubEmbedder{score: 0.2}
	retriever := &stubRetriever{err: appErr.ErrIndexUnavailable}
	r := newTestRouter(retriever, weatherRegistry(t, embed), embed, &stubGenerator{response: "{}"})

	action, err := r.Route(context.Background(), &Turn{ConversationID: "conv", Query: "hello"})
	require.NoError(t, err)
	require.Equal(t, ActionChitchat, action.Type)
}

func TestPendingAskForParameterResolvedByReply(t *testing.T) {
	embed := &stubEmbedder{score: 0.42}
	gen := &stubGenerator{response: "{}"}
	r := newTestRouter(&stubRetriever{}, weatherRegistry(t, embed), embed, gen)
	turn := &Turn{ConversationID: "conv", Query: "how is the weather"}

	first, err := r.Route(context.Background(), turn)
	require.NoError(t, err)
	require.Equal(t, ActionAskForParameter, first.Type)

	second, err := r.Route(context.Background(), &Turn{ConversationID: "conv", Query: "Chengdu"})
	require.NoError(t, err)
	require.Equal(t, ActionInvokeTool, second.Type)
	require.Equal(t, "Chengdu", second.Args["city"])
}

func TestPendingConfirmFuzzyAffirmative(t *testing.T) {
	verdict := answerVerdict()
	verdict.NeedsConfirmation = true
	verdict.Candidates = verdict.Matches
	embed := &stubEmbedder{score: 0.2}
	r := newTestRouter(&stubRetriever{verdict: verdict}, weatherRegistry(t, embed), embed, &stubGenerator{response: "{}"})

	first, err := r.Route(context.Background(), &Turn{ConversationID: "conv", Query: "fuzzy question"})
	require.NoError(t, err)
	require.Equal(t, ActionConfirmFuzzy, first.Type)

	second, err := r.Route(context.Background(), &Turn{ConversationID: "conv", Query: "yes"})
	require.NoError(t, err)
	require.Equal(t, ActionAnswer, second.Type)
	require.Len(t, second.Verdict.Matches, 1)
}

func TestPendingChooseSourceByNumber(t *testing.T) {
	verdict := &retrieval.Verdict{
		Matches: []retrieval.Match{
			{Chunk: model.Chunk{ID: "c1", DocumentID: "d1"}, Document: model.Document{ID: "d1", Name: "alpha.pdf"}, Score: 0.8},
			{Chunk: model.Chunk{ID: "c2", DocumentID: "d2"}, Document: model.Document{ID: "d2", Name: "beta.pdf"}, Score: 0.79},
		},
		Ambiguous: true,
	}
	verdict.Candidates = verdict.Matches
	embed := &stubEmbedder{score: 0.2}
	r := newTestRouter(&stubRetriever{verdict: verdict}, weatherRegistry(t, embed), embed, &stubGenerator{response: "{}"})

	first, err := r.Route(context.Background(), &Turn{ConversationID: "conv", Query: "ambiguous question"})
	require.NoError(t, err)
	require.Equal(t, ActionChooseSource, first.Type)

	second, err := r.Route(context.Background(), &Turn{ConversationID: "conv", Query: "2"})
	require.NoError(t, err)
	require.Equal(t, ActionAnswer, second.Type)
	require.Len(t, second.Verdict.Matches, 1)
	require.Equal(t, "d2", second.Verdict.Matches[0].Document.ID)
}

func TestPendingClearedAfterResolution(t *testing.T) {
	verdict := answerVerdict()
	verdict.NeedsConfirmation = true
	verdict.Candidates = verdict.Matches
	embed := &stubEmbedder{score: 0.2}
	retriever := &stubRetriever{verdict: verdict}
	r := newTestRouter(retriever, weatherRegistry(t, embed), embed, &stubGenerator{response: "{}"})

	_, err := r.Route(context.Background(), &Turn{ConversationID: "conv", Query: "fuzzy question"})
	require.NoError(t, err)

	// negative reply abandons the pending confirmation, turn routes afresh
	retriever.verdict = nil
	action, err := r.Route(context.Background(), &Turn{ConversationID: "conv", Query: "no"})
	require.NoError(t, err)
	require.Equal(t, ActionChitchat, action.Type)
}

func TestRegistryInvokeLocal(t *testing.T) {
	embed := &stubEmbedder{score: 0.5}
	reg := weatherRegistry(t, embed)
	reg.RegisterLocal("weather", func(ctx context.Context, args map[string]string) (string, error) {
		return "sunny in " + args["city"], nil
	})
	result, err := reg.Invoke(context.Background(), reg.Tools()[0], map[string]string{"city": "Chengdu"})
	require.NoError(t, err)
	require.Equal(t, "sunny in Chengdu", result)
}

func TestRegistryInvokeLocalMissingHandler(t *testing.T) {
	embed := &stubEmbedder{score: 0.5}
	reg := weatherRegistry(t, embed)
	_, err := reg.Invoke(context.Background(), reg.Tools()[0], nil)
	require.Error(t, err)
	require.ErrorIs(t, err, appErr.ErrToolFailed)
}

func TestRegistryInvokeTimeout(t *testing.T) {
	embed := &stubEmbedder{score: 0.5}
	reg, err := NewRegistry(context.Background(), []config.ToolConfig{{
		Name:        "slow",
		Description: "a slow tool",
		Transport:   "local",
		TimeoutSec:  1,
	}}, embed)
	require.NoError(t, err)
	reg.RegisterLocal("slow", func(ctx context.Context, args map[string]string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	_, err = reg.Invoke(context.Background(), reg.Tools()[0], nil)
	require.Error(t, err)
	require.ErrorIs(t, err, appErr.ErrToolTimeout)
}

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	require.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.InDelta(t, 0.42, cosineSimilarity([]float32{1, 0}, []float32{0.42, float32(math.Sqrt(1 - 0.42*0.42))}), 1e-3)
	require.Equal(t, 0.0, cosineSimilarity(nil, []float32{1}))
}

func TestRouteErrorsNeverSurface(t *testing.T) {
	// every stage failing still ends the turn with chitchat
	embed := &stubEmbedder{score: 0.9}
	retriever := &stubRetriever{err: errors.New("db down")}
	gen := &stubGenerator{err: errors.New("llm down")}
	reg := weatherRegistry(t, embed)
	r := newTestRouter(retriever, reg, embed, gen)

	action, err := r.Route(context.Background(), &Turn{ConversationID: "conv", Query: "weather please"})
	require.NoError(t, err)
	// extraction failed, so the missing required parameter is elicited
	require.Equal(t, ActionAskForParameter, action.Type)
}
