package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/toolharness/catalog"
)

// DefaultTopK is used when Search is called with topK <= 0.
const DefaultTopK = 5

// Source is the slice of the catalog the searcher reads.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: lookups return catalog sentinel errors.
type Source interface {
	Tools() ([]catalog.Tool, error)
	Summary(server, tool string) (catalog.ToolSummary, error)
	Definition(server, tool string) (string, error)
}

// Result is one ranked tool. Fields beyond Server and Name are filled
// according to Level.
type Result struct {
	Server      string      `json:"server"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Definition  string      `json:"definition,omitempty"`
	ImportHint  string      `json:"import_statement,omitempty"`
	Score       float64     `json:"score"`
	Level       DetailLevel `json:"-"`
}

// ID returns "server.tool".
func (r Result) ID() string {
	return catalog.FormatID(r.Server, r.Name)
}

// Config configures a Searcher.
type Config struct {
	// Source provides the tools to rank. Required.
	Source Source

	// Embedder enables similarity ranking. Nil means keyword ranking only.
	Embedder Embedder

	// Cache memoizes tool vectors. Nil uses a memory-only cache.
	Cache *Cache

	// KeyMode selects cache keying; empty is KeyName.
	KeyMode CacheKeyMode

	// Logger is optional.
	Logger *zap.Logger
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Source == nil {
		return fmt.Errorf("%w: missing required fields: Source", ErrConfiguration)
	}
	if c.KeyMode != "" && c.KeyMode != KeyName && c.KeyMode != KeyContent {
		return fmt.Errorf("%w: unknown cache key mode %q", ErrConfiguration, c.KeyMode)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Cache == nil {
		c.Cache = NewMemoryCache()
	}
	if c.KeyMode == "" {
		c.KeyMode = KeyName
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Searcher ranks catalog tools for a query.
//
// Contract:
// - Concurrency: safe for concurrent use; only the cache is shared mutable state.
// - Context: Search honors cancellation during embedding calls.
// - Errors: catalog errors, embedder failures other than ErrConfiguration, and
//   ErrCacheWrite are returned; they are never turned into empty results.
type Searcher struct {
	source   Source
	embedder Embedder
	cache    *Cache
	keyMode  CacheKeyMode
	logger   *zap.Logger

	flight       singleflight.Group
	fallbackOnce sync.Once
}

// New creates a Searcher.
func New(cfg Config) (*Searcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Searcher{
		source:   cfg.Source,
		embedder: cfg.Embedder,
		cache:    cfg.Cache,
		keyMode:  cfg.KeyMode,
		logger:   cfg.Logger.Named("search"),
	}, nil
}

// Semantic reports whether an embedder is configured.
func (s *Searcher) Semantic() bool {
	return s.embedder != nil
}

type candidate struct {
	tool    catalog.Tool
	summary catalog.ToolSummary
	score   float64
}

// Search returns at most topK tools ranked for query. Similarity ranking is
// tried first; keyword ranking is used when it is unavailable or matches
// nothing.
func (s *Searcher) Search(ctx context.Context, query string, topK int, level DetailLevel) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if level == "" {
		level = LevelSummary
	}
	if !level.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDetailLevel, level)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	if s.embedder != nil {
		ranked, err := s.semantic(ctx, query)
		switch {
		case err == nil && len(ranked) > 0:
			return s.format(ranked, topK, level)
		case err != nil && !IsConfigurationError(err):
			return nil, err
		case err != nil:
			s.fallbackOnce.Do(func() {
				s.logger.Warn("similarity search unavailable, using keyword ranking",
					zap.String("embedder", s.embedder.Name()),
					zap.Error(err))
			})
		}
	}
	return s.KeywordSearch(ctx, query, topK, level)
}

// KeywordSearch ranks by keyword overlap only.
func (s *Searcher) KeywordSearch(ctx context.Context, query string, topK int, level DetailLevel) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if level == "" {
		level = LevelSummary
	}
	if !level.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDetailLevel, level)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	cands, err := s.candidates()
	if err != nil {
		return nil, err
	}
	ranked := make([]candidate, 0, len(cands))
	for _, c := range cands {
		c.score = float64(KeywordScore(query, embedText(c.summary)))
		if c.score > 0 {
			ranked = append(ranked, c)
		}
	}
	sortByScore(ranked)
	return s.format(ranked, topK, level)
}

func (s *Searcher) semantic(ctx context.Context, query string) ([]candidate, error) {
	cands, err := s.candidates()
	if err != nil {
		return nil, err
	}
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	var writeErr error
	for i := range cands {
		vec, err := s.toolVector(ctx, cands[i])
		if err != nil {
			if !errors.Is(err, ErrCacheWrite) || vec == nil {
				return nil, err
			}
			writeErr = errors.Join(writeErr, err)
		}
		cands[i].score = CosineSimilarity(queryVec, vec)
	}
	if writeErr != nil {
		return nil, writeErr
	}
	sortByScore(cands)
	return cands, nil
}

// toolVector returns the cached vector for a tool, embedding it on a miss.
// Concurrent misses for the same key share one embedding call.
func (s *Searcher) toolVector(ctx context.Context, c candidate) ([]float32, error) {
	text := embedText(c.summary)
	key := s.keyMode.Key(c.tool.ID(), text)
	if vec, ok := s.cache.Get(key); ok {
		return vec, nil
	}
	v, err, _ := s.flight.Do(key, func() (any, error) {
		if vec, ok := s.cache.Get(key); ok {
			return vec, nil
		}
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("embedded tool", zap.String("key", key), zap.Int("dims", len(vec)))
		return vec, s.cache.Put(key, vec)
	})
	vec, _ := v.([]float32)
	return vec, err
}

func (s *Searcher) candidates() ([]candidate, error) {
	tools, err := s.source.Tools()
	if err != nil {
		return nil, err
	}
	out := make([]candidate, 0, len(tools))
	for _, t := range tools {
		summary, err := s.source.Summary(t.Server, t.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate{tool: t, summary: summary})
	}
	return out, nil
}

func (s *Searcher) format(ranked []candidate, topK int, level DetailLevel) ([]Result, error) {
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	results := make([]Result, 0, len(ranked))
	for _, c := range ranked {
		r := Result{Server: c.tool.Server, Name: c.tool.Name, Score: c.score, Level: level}
		if level != LevelName {
			r.Description = c.summary.Description
		}
		if level == LevelFull {
			def, err := s.source.Definition(c.tool.Server, c.tool.Name)
			if err != nil {
				return nil, err
			}
			r.Definition = def
			r.ImportHint = catalog.ImportHint(c.tool.Server, c.tool.Name)
		}
		results = append(results, r)
	}
	return results, nil
}

// sortByScore orders by descending score; equal scores keep scan order.
func sortByScore(c []candidate) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].score > c[j].score })
}

func embedText(s catalog.ToolSummary) string {
	return s.Name + " " + s.Description
}

// KeywordScore scores text against query: 10 when the lower-cased query is a
// substring of the lower-cased text, otherwise the number of distinct query
// terms that are also terms of text.
func KeywordScore(query, text string) int {
	q := strings.ToLower(query)
	t := strings.ToLower(text)
	if strings.Contains(t, q) {
		return 10
	}
	terms := make(map[string]struct{})
	for _, f := range strings.Fields(t) {
		terms[f] = struct{}{}
	}
	seen := make(map[string]struct{})
	score := 0
	for _, f := range strings.Fields(q) {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		if _, ok := terms[f]; ok {
			score++
		}
	}
	return score
}
