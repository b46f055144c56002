package search

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/toolharness/catalog"
)

func ids(results []Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.ID())
	}
	return out
}

func TestNew_RequiresSource(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestKeywordScore(t *testing.T) {
	tests := []struct {
		query, text string
		want        int
	}{
		{"weather", "get_current_weather Get current weather for a location.", 10},
		{"Current Weather", "get_current_weather Get current weather for a location.", 10},
		{"forecast tomorrow", "get_forecast Get weather forecast for a location.", 1},
		{"location weather rain", "get_forecast Get weather forecast for a location.", 1},
		{"weather weather rain", "x weather", 1},
		{"invoices", "get_forecast Get weather forecast.", 0},
		{"", "anything", 10},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, KeywordScore(tt.query, tt.text))
		})
	}
}

func TestSearch_KeywordFallbackWithoutEmbedder(t *testing.T) {
	s, err := New(Config{Source: sampleSource()})
	require.NoError(t, err)
	assert.False(t, s.Semantic())

	got, err := s.Search(context.Background(), "weather", 5, LevelName)
	require.NoError(t, err)
	// Both weather tools score 10; scan order breaks the tie.
	assert.Equal(t, []string{"weather.get_current_weather", "weather.get_forecast"}, ids(got))
	for _, r := range got {
		assert.Empty(t, r.Description)
		assert.Equal(t, 10.0, r.Score)
	}
}

func TestSearch_KeywordExcludesZeroAndOrdersByScore(t *testing.T) {
	s, err := New(Config{Source: sampleSource()})
	require.NoError(t, err)

	got, err := s.Search(context.Background(), "invoice anomaly", 10, LevelSummary)
	require.NoError(t, err)
	// The phrase matches update_anomaly_log; no other tool shares a term.
	require.NotEmpty(t, got)
	assert.Equal(t, "invoice.update_anomaly_log", got[0].ID())
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
	for _, r := range got {
		assert.NotEqual(t, "weather.get_forecast", r.ID())
	}
}

func TestSearch_TopK(t *testing.T) {
	s, err := New(Config{Source: sampleSource()})
	require.NoError(t, err)

	got, err := s.Search(context.Background(), "", 3, LevelName)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = s.Search(context.Background(), "", 0, LevelName)
	require.NoError(t, err)
	assert.Len(t, got, 4, "topK <= 0 uses the default of 5, bounded by catalog size")
}

func TestSearch_DetailLevels(t *testing.T) {
	s, err := New(Config{Source: sampleSource()})
	require.NoError(t, err)
	ctx := context.Background()

	summary, err := s.Search(ctx, "forecast", 1, LevelSummary)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, "Get weather forecast for a location.", summary[0].Description)
	assert.Empty(t, summary[0].Definition)

	full, err := s.Search(ctx, "forecast", 1, LevelFull)
	require.NoError(t, err)
	require.Len(t, full, 1)
	assert.Contains(t, full[0].Definition, "package weather")
	assert.Equal(t, `tools.Call(ctx, "weather.get_forecast", args)`, full[0].ImportHint)

	_, err = s.Search(ctx, "forecast", 1, DetailLevel("verbose"))
	assert.ErrorIs(t, err, ErrInvalidDetailLevel)
}

func TestSearch_Semantic(t *testing.T) {
	emb := newBagEmbedder()
	s, err := New(Config{Source: sampleSource(), Embedder: emb})
	require.NoError(t, err)
	ctx := context.Background()

	first, err := s.Search(ctx, "weather forecast", 2, LevelSummary)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "weather.get_forecast", first[0].ID())
	assert.GreaterOrEqual(t, first[0].Score, first[1].Score)

	second, err := s.Search(ctx, "weather forecast", 2, LevelSummary)
	require.NoError(t, err)
	assert.Equal(t, first, second, "unchanged catalog and cache must rank identically")

	// Four tools plus two query embeddings; tool vectors come from the cache
	// on the second call.
	assert.Equal(t, 6, emb.total())
}

func TestSearch_ConfigurationErrorFallsBackAndLogsOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	emb := newBagEmbedder()
	emb.err = fmt.Errorf("%w: no key", ErrConfiguration)
	s, err := New(Config{Source: sampleSource(), Embedder: emb, Logger: zap.New(core)})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := s.Search(context.Background(), "weather", 5, LevelName)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	}
	assert.Equal(t, 1, logs.FilterMessage("similarity search unavailable, using keyword ranking").Len())
}

func TestSearch_EmbedderFailurePropagates(t *testing.T) {
	emb := newBagEmbedder()
	emb.err = errBackendDown
	s, err := New(Config{Source: sampleSource(), Embedder: emb})
	require.NoError(t, err)

	_, err = s.Search(context.Background(), "weather", 5, LevelName)
	assert.ErrorIs(t, err, errBackendDown)
}

func TestSearch_CatalogErrorPropagates(t *testing.T) {
	src := sampleSource()
	src.toolsErr = catalog.ErrToolDiscovery
	s, err := New(Config{Source: src})
	require.NoError(t, err)

	_, err = s.Search(context.Background(), "weather", 5, LevelName)
	assert.ErrorIs(t, err, catalog.ErrToolDiscovery)
}

func TestSearch_CanceledContext(t *testing.T) {
	s, err := New(Config{Source: sampleSource()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Search(ctx, "weather", 5, LevelName)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearch_CacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), catalog.CacheFile)
	ctx := context.Background()

	cache, err := OpenCache(path, nil)
	require.NoError(t, err)
	first := newBagEmbedder()
	s, err := New(Config{Source: sampleSource(), Embedder: first, Cache: cache})
	require.NoError(t, err)
	want, err := s.Search(ctx, "weather", 4, LevelName)
	require.NoError(t, err)
	original, ok := cache.Get("weather.get_forecast")
	require.True(t, ok)
	require.NoError(t, cache.Close())

	reopened, err := OpenCache(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 4, reopened.Len())

	second := newBagEmbedder()
	s2, err := New(Config{Source: sampleSource(), Embedder: second, Cache: reopened})
	require.NoError(t, err)
	got, err := s2.Search(ctx, "weather", 4, LevelName)
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, 1, second.total(), "only the query may be embedded after reload")
	assert.Equal(t, 0, second.count("get_forecast Get weather forecast for a location."))

	recovered, ok := reopened.Get("weather.get_forecast")
	require.True(t, ok)
	assert.Equal(t, original, recovered)
}

func TestSearch_CacheWriteFailureSurfaced(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"), nil)
	require.NoError(t, err)
	require.NoError(t, cache.Close())

	emb := newBagEmbedder()
	s, err := New(Config{Source: sampleSource(), Embedder: emb, Cache: cache})
	require.NoError(t, err)

	_, err = s.Search(context.Background(), "weather", 5, LevelName)
	require.ErrorIs(t, err, ErrCacheWrite)

	// The vectors stay in memory, so the next search does not embed tools again.
	before := emb.total()
	_, _ = s.Search(context.Background(), "weather", 5, LevelName)
	assert.Equal(t, before+1, emb.total())
}

func TestSearch_ConcurrentMissesEmbedOnce(t *testing.T) {
	emb := newBagEmbedder()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"), nil)
	require.NoError(t, err)
	defer cache.Close()
	s, err := New(Config{Source: sampleSource(), Embedder: emb, Cache: cache})
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := s.Search(context.Background(), "weather", 3, LevelName)
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, text := range []string{
		"fetch_invoices Fetch invoices for a customer.",
		"update_anomaly_log Record an invoice anomaly.",
		"get_current_weather Get current weather for a location.",
		"get_forecast Get weather forecast for a location.",
	} {
		assert.Equal(t, 1, emb.count(text), text)
	}
	assert.Equal(t, 4, cache.Len())
}

func TestSearch_ContentKeyMode(t *testing.T) {
	src := sampleSource()
	emb := newBagEmbedder()
	s, err := New(Config{Source: src, Embedder: emb, KeyMode: KeyContent})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Search(ctx, "weather", 1, LevelName)
	require.NoError(t, err)

	src.docs["weather.get_forecast"] = "Five day outlook."
	_, err = s.Search(ctx, "weather", 1, LevelName)
	require.NoError(t, err)
	assert.Equal(t, 1, emb.count("get_forecast Five day outlook."))
}

func TestCacheKeyMode(t *testing.T) {
	assert.Equal(t, "a.b", KeyName.Key("a.b", "text"))
	k1 := KeyContent.Key("a.b", "one")
	k2 := KeyContent.Key("a.b", "two")
	assert.NotEqual(t, k1, k2)
	assert.Regexp(t, `^a\.b#[0-9a-f]{16}$`, k1)

	_, err := ParseCacheKeyMode("lru")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestParseDetailLevel(t *testing.T) {
	for in, want := range map[string]DetailLevel{"": LevelSummary, "NAME": LevelName, "full": LevelFull} {
		got, err := ParseDetailLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDetailLevel("everything")
	assert.ErrorIs(t, err, ErrInvalidDetailLevel)
}
