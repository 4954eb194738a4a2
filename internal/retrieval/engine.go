package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/docchat/docchat/internal/ai"
	"github.com/docchat/docchat/internal/model"
	appErr "github.com/docchat/docchat/internal/pkg/errors"
	"github.com/docchat/docchat/internal/repo"
)

type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchFuzzy    MatchKind = "fuzzy"
	MatchSemantic MatchKind = "semantic"
)

// Match is one retrieved chunk with its parent document and how it was
// found. Exact matches score 1, fuzzy matches score by token coverage,
// semantic matches score by normalized similarity.
type Match struct {
	Chunk    model.Chunk
	Document model.Document
	Score    float64
	Kind     MatchKind
}

// Verdict is the outcome of one retrieval. An empty verdict tells the
// router to fall back; NeedsConfirmation carries fuzzy candidates that must
// be confirmed by the user before answering; Ambiguous carries one
// representative match per candidate document.
type Verdict struct {
	Matches           []Match
	NeedsConfirmation bool
	Ambiguous         bool
	Candidates        []Match
}

func (v *Verdict) Empty() bool {
	return len(v.Matches) == 0
}

func (v *Verdict) Confident() bool {
	return !v.Empty() && !v.Ambiguous && !v.NeedsConfirmation
}

type LexicalIndex interface {
	Search(ctx context.Context, tokens []string, minHits int, limit int) ([]repo.LexicalHit, error)
}

type VectorIndex interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]repo.VectorHit, error)
}

type ChunkStore interface {
	ListByIDs(ctx context.Context, chunkIDs []string) ([]model.Chunk, error)
}

type DocumentStore interface {
	ListByIDs(ctx context.Context, docIDs []string) ([]model.Document, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
}

type Config struct {
	RelevanceThreshold float64
	TopK               int
	AmbiguityMargin    float64
}

type Engine struct {
	lexical LexicalIndex
	vector  VectorIndex
	chunks  ChunkStore
	docs    DocumentStore
	embed   Embedder
	cfg     Config
}

func NewEngine(lexical LexicalIndex, vector VectorIndex, chunks ChunkStore, docs DocumentStore, embed Embedder, cfg Config) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Engine{lexical: lexical, vector: vector, chunks: chunks, docs: docs, embed: embed, cfg: cfg}
}

// Retrieve runs the exact, fuzzy and semantic stages in order and merges
// them. Exact hits win outright; fuzzy hits are returned for confirmation;
// semantic hits must clear the relevance threshold or the verdict is empty.
func (e *Engine) Retrieve(ctx context.Context, query string) (*Verdict, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("query", query))
	normalized := Normalize(query)
	if normalized == "" {
		return &Verdict{}, nil
	}

	tokens := Keywords(normalized)
	if len(tokens) > 0 {
		exact, err := e.searchLexical(ctx, tokens, len(tokens), MatchExact)
		if err != nil {
			return nil, err
		}
		if len(exact) > 0 {
			logger.Debug("exact lexical hit", zap.Int("matches", len(exact)))
			return e.finishVerdict(exact), nil
		}
	}

	var fuzzy []Match
	if ftokens := FuzzyTokens(normalized); len(ftokens) > 1 {
		minHits := len(ftokens)/2 + 1
		hits, err := e.searchLexical(ctx, ftokens, minHits, MatchFuzzy)
		if err != nil {
			return nil, err
		}
		for i := range hits {
			hits[i].Score = hits[i].Score / float64(len(ftokens))
		}
		fuzzy = hits
	}
	if len(fuzzy) > 0 {
		logger.Debug("fuzzy lexical hit", zap.Int("matches", len(fuzzy)))
		sortMatches(fuzzy)
		return &Verdict{Matches: fuzzy, NeedsConfirmation: true, Candidates: representatives(fuzzy)}, nil
	}

	semantic, err := e.searchSemantic(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if len(semantic) == 0 || semantic[0].Score < e.cfg.RelevanceThreshold {
		return &Verdict{}, nil
	}
	logger.Debug("semantic hit", zap.Float64("best_score", semantic[0].Score))
	return e.finishVerdict(semantic), nil
}

func (e *Engine) searchLexical(ctx context.Context, tokens []string, minHits int, kind MatchKind) ([]Match, error) {
	hits, err := e.lexical.Search(ctx, tokens, minHits, e.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: lexical search: %v", appErr.ErrIndexUnavailable, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}
	chunkIDs := make([]string, 0, len(hits))
	scores := make(map[string]float64, len(hits))
	for _, hit := range hits {
		chunkIDs = append(chunkIDs, hit.ChunkID)
		scores[hit.ChunkID] = float64(hit.Hits)
	}
	return e.loadMatches(ctx, chunkIDs, scores, kind)
}

func (e *Engine) searchSemantic(ctx context.Context, query string) ([]Match, error) {
	embedding, err := e.embed.Embed(ctx, query, ai.TaskTypeQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", appErr.ErrIndexUnavailable, err)
	}
	hits, err := e.vector.Search(ctx, embedding, e.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", appErr.ErrIndexUnavailable, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}
	chunkIDs := make([]string, 0, len(hits))
	scores := make(map[string]float64, len(hits))
	for _, hit := range hits {
		chunkIDs = append(chunkIDs, hit.ChunkID)
		scores[hit.ChunkID] = hit.Score
	}
	matches, err := e.loadMatches(ctx, chunkIDs, scores, MatchSemantic)
	if err != nil {
		return nil, err
	}
	sortMatches(matches)
	return matches, nil
}

func (e *Engine) loadMatches(ctx context.Context, chunkIDs []string, scores map[string]float64, kind MatchKind) ([]Match, error) {
	chunks, err := e.chunks.ListByIDs(ctx, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: load chunks: %v", appErr.ErrIndexUnavailable, err)
	}
	docIDs := make([]string, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for _, chunk := range chunks {
		if _, ok := seen[chunk.DocumentID]; !ok {
			seen[chunk.DocumentID] = struct{}{}
			docIDs = append(docIDs, chunk.DocumentID)
		}
	}
	docs, err := e.docs.ListByIDs(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: load documents: %v", appErr.ErrIndexUnavailable, err)
	}
	byID := make(map[string]model.Document, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}
	matches := make([]Match, 0, len(chunks))
	for _, chunk := range chunks {
		doc, ok := byID[chunk.DocumentID]
		if !ok {
			continue
		}
		score := scores[chunk.ID]
		if kind == MatchExact {
			score = 1
		}
		matches = append(matches, Match{Chunk: chunk, Document: doc, Score: score, Kind: kind})
	}
	return matches, nil
}

// finishVerdict sorts the matches and decides ambiguity: when the matches
// within the ambiguity margin of the best score span more than one
// document, the verdict asks the caller to let the user pick a source.
func (e *Engine) finishVerdict(matches []Match) *Verdict {
	sortMatches(matches)
	verdict := &Verdict{Matches: matches}
	best := matches[0].Score
	docs := make(map[string]struct{})
	for _, m := range matches {
		if best-m.Score > e.cfg.AmbiguityMargin {
			break
		}
		docs[m.Document.ID] = struct{}{}
	}
	if len(docs) > 1 {
		verdict.Ambiguous = true
		verdict.Candidates = representatives(matches)
	}
	return verdict
}

// sortMatches orders by score, then prefers shorter chunks (denser
// matches), then newer documents, then ids for deterministic output.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		la, lb := len([]rune(a.Chunk.Content)), len([]rune(b.Chunk.Content))
		if la != lb {
			return la < lb
		}
		if a.Document.Mtime != b.Document.Mtime {
			return a.Document.Mtime > b.Document.Mtime
		}
		if a.Document.ID != b.Document.ID {
			return a.Document.ID < b.Document.ID
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}

// representatives keeps the best match of each document, in match order.
func representatives(matches []Match) []Match {
	seen := make(map[string]struct{})
	reps := make([]Match, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m.Document.ID]; ok {
			continue
		}
		seen[m.Document.ID] = struct{}{}
		reps = append(reps, m)
	}
	return reps
}
