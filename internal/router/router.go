package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/docchat/docchat/internal/ai"
	"github.com/docchat/docchat/internal/retrieval"
)

type Retriever interface {
	Retrieve(ctx context.Context, query string) (*retrieval.Verdict, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Turn is one user utterance with its conversation scope and recent
// transcript context.
type Turn struct {
	ConversationID string
	Query          string
	Context        string
}

// Policy is one routing rule. Evaluate returns nil when the policy does
// not apply; the first policy returning an action wins. An error marks the
// policy degraded for this turn and the chain continues past it.
type Policy interface {
	Name() string
	Evaluate(ctx context.Context, turn *Turn) (*Action, error)
}

type Config struct {
	ToolThreshold float64
	PendingTTL    time.Duration
}

// Router decides what to do with a user turn. Grounded document answers
// take priority over tool calls, which take priority over open chat.
type Router struct {
	policies []Policy
	pending  *expirable.LRU[string, *Action]
}

func New(retriever Retriever, registry *Registry, embed Embedder, gen Generator, cfg Config) *Router {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 10 * time.Minute
	}
	r := &Router{
		pending: expirable.NewLRU[string, *Action](1024, nil, cfg.PendingTTL),
	}
	r.policies = []Policy{
		&pendingPolicy{router: r},
		&retrievalPolicy{retriever: retriever},
		&toolPolicy{registry: registry, embed: embed, gen: gen, threshold: cfg.ToolThreshold},
		&chitchatPolicy{},
	}
	return r
}

func (r *Router) Route(ctx context.Context, turn *Turn) (*Action, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("conversation_id", turn.ConversationID))
	for _, policy := range r.policies {
		action, err := policy.Evaluate(ctx, turn)
		if err != nil {
			logger.Warn("routing policy degraded", zap.String("policy", policy.Name()), zap.Error(err))
			continue
		}
		if action == nil {
			continue
		}
		logger.Info("routed turn", zap.String("policy", policy.Name()), zap.String("action", string(action.Type)))
		r.remember(turn.ConversationID, action)
		return action, nil
	}
	return Chitchat(), nil
}

// remember keeps actions that constrain the next turn and clears the
// pending slot otherwise.
func (r *Router) remember(conversationID string, action *Action) {
	if conversationID == "" {
		return
	}
	switch action.Type {
	case ActionConfirmFuzzy, ActionChooseSource, ActionAskForParameter:
		r.pending.Add(conversationID, action)
	default:
		r.pending.Remove(conversationID)
	}
}

// pendingPolicy resolves a ConfirmFuzzy/ChooseSource/AskForParameter left
// over from the previous turn before any fresh routing happens.
type pendingPolicy struct {
	router *Router
}

func (p *pendingPolicy) Name() string { return "pending" }

func (p *pendingPolicy) Evaluate(ctx context.Context, turn *Turn) (*Action, error) {
	if turn.ConversationID == "" {
		return nil, nil
	}
	pending, ok := p.router.pending.Get(turn.ConversationID)
	if !ok {
		return nil, nil
	}
	p.router.pending.Remove(turn.ConversationID)
	switch pending.Type {
	case ActionConfirmFuzzy:
		if isNegative(turn.Query) {
			return nil, nil
		}
		return resolveConfirmFuzzy(pending, turn.Query), nil
	case ActionChooseSource:
		return resolveChooseSource(pending, turn.Query), nil
	case ActionAskForParameter:
		tool, args, ok := resolveAskForParameter(pending, turn.Query)
		if !ok {
			return nil, nil
		}
		if missing := firstMissingParam(tool, args); missing != "" {
			return AskForParameter(tool, args, missing), nil
		}
		return InvokeTool(tool, args), nil
	}
	return nil, nil
}

// retrievalPolicy asks the hybrid engine for a verdict and maps it to an
// action. An unavailable index degrades this policy instead of failing the
// turn.
type retrievalPolicy struct {
	retriever Retriever
}

func (p *retrievalPolicy) Name() string { return "retrieval" }

func (p *retrievalPolicy) Evaluate(ctx context.Context, turn *Turn) (*Action, error) {
	verdict, err := p.retriever.Retrieve(ctx, turn.Query)
	if err != nil {
		return nil, err
	}
	switch {
	case verdict.Empty():
		return nil, nil
	case verdict.Ambiguous:
		return ChooseSource(verdict), nil
	case verdict.NeedsConfirmation:
		return ConfirmFuzzy(verdict), nil
	default:
		return Answer(verdict), nil
	}
}

// toolPolicy scores the query against every tool anchor and invokes the
// best tool when it clears the threshold and all required parameters can
// be extracted.
type toolPolicy struct {
	registry  *Registry
	embed     Embedder
	gen       Generator
	threshold float64
}

func (p *toolPolicy) Name() string { return "tool" }

func (p *toolPolicy) Evaluate(ctx context.Context, turn *Turn) (*Action, error) {
	if len(p.registry.Tools()) == 0 {
		return nil, nil
	}
	embedding, err := p.embed.Embed(ctx, turn.Query, ai.TaskTypeQuery)
	if err != nil {
		return nil, err
	}
	tool, score := p.registry.BestMatch(embedding)
	if tool == nil || score < p.threshold {
		return nil, nil
	}
	logutil.GetLogger(ctx).Debug("tool anchor matched",
		zap.String("tool", tool.Name), zap.Float64("score", score))
	args := extractParams(ctx, p.gen, tool, turn)
	if missing := firstMissingParam(tool, args); missing != "" {
		return AskForParameter(tool, args, missing), nil
	}
	return InvokeTool(tool, args), nil
}

type chitchatPolicy struct{}

func (p *chitchatPolicy) Name() string { return "chitchat" }

func (p *chitchatPolicy) Evaluate(ctx context.Context, turn *Turn) (*Action, error) {
	return Chitchat(), nil
}

func firstMissingParam(tool *Tool, args map[string]string) string {
	for _, param := range tool.RequiredParams() {
		if strings.TrimSpace(args[param.Name]) == "" {
			return param.Name
		}
	}
	return ""
}

// extractParams asks the model to pull parameter values out of the query
// and context. Extraction failure is not an error: unfilled required
// parameters are elicited from the user instead.
func extractParams(ctx context.Context, gen Generator, tool *Tool, turn *Turn) map[string]string {
	args := make(map[string]string)
	if len(tool.Params) == 0 {
		return args
	}
	names := make([]string, 0, len(tool.Params))
	for _, p := range tool.Params {
		names = append(names, fmt.Sprintf("%s(%s)", p.Name, p.Type))
	}
	prompt := fmt.Sprintf(
		"Extract the following parameters for the tool %q from the user message.\n"+
			"Parameters: %s\n"+
			"Conversation context:\n%s\n"+
			"User message: %s\n"+
			"Reply with a single JSON object mapping parameter names to values. "+
			"Omit parameters that are not mentioned. Reply with JSON only.",
		tool.Name, strings.Join(names, ", "), turn.Context, turn.Query)
	resp, err := gen.Generate(ctx, prompt)
	if err != nil {
		logutil.GetLogger(ctx).Warn("parameter extraction failed", zap.String("tool", tool.Name), zap.Error(err))
		return args
	}
	parsed := parseParamJSON(resp)
	for _, p := range tool.Params {
		if value, ok := parsed[p.Name]; ok && strings.TrimSpace(value) != "" {
			args[p.Name] = strings.TrimSpace(value)
		}
	}
	return args
}

func parseParamJSON(resp string) map[string]string {
	start := strings.Index(resp, "{")
	end := strings.LastIndex(resp, "}")
	if start < 0 || end <= start {
		return nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(resp[start:end+1]), &raw); err != nil {
		return nil
	}
	parsed := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			parsed[key] = v
		case float64:
			parsed[key] = strings.TrimSuffix(fmt.Sprintf("%v", v), ".0")
		case bool:
			parsed[key] = fmt.Sprintf("%v", v)
		}
	}
	return parsed
}
