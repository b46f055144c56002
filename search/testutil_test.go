package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/jonwraymond/toolharness/catalog"
)

// fakeSource serves a fixed tool list in the given order.
type fakeSource struct {
	tools    []catalog.Tool
	docs     map[string]string
	toolsErr error
}

func newFakeSource(entries ...[3]string) *fakeSource {
	src := &fakeSource{docs: make(map[string]string)}
	for _, e := range entries {
		src.tools = append(src.tools, catalog.Tool{Server: e[0], Name: e[1]})
		src.docs[catalog.FormatID(e[0], e[1])] = e[2]
	}
	return src
}

func (f *fakeSource) Tools() ([]catalog.Tool, error) {
	if f.toolsErr != nil {
		return nil, f.toolsErr
	}
	return append([]catalog.Tool(nil), f.tools...), nil
}

func (f *fakeSource) Summary(server, tool string) (catalog.ToolSummary, error) {
	desc, ok := f.docs[catalog.FormatID(server, tool)]
	if !ok {
		return catalog.ToolSummary{}, catalog.ErrToolNotFound
	}
	return catalog.ToolSummary{Name: tool, Server: server, Description: desc}, nil
}

func (f *fakeSource) Definition(server, tool string) (string, error) {
	desc, ok := f.docs[catalog.FormatID(server, tool)]
	if !ok {
		return "", catalog.ErrToolNotFound
	}
	return "// " + desc + "\npackage " + server + "\n", nil
}

// sampleSource mirrors a small weather/invoice catalog.
func sampleSource() *fakeSource {
	return newFakeSource(
		[3]string{"invoice", "fetch_invoices", "Fetch invoices for a customer."},
		[3]string{"invoice", "update_anomaly_log", "Record an invoice anomaly."},
		[3]string{"weather", "get_current_weather", "Get current weather for a location."},
		[3]string{"weather", "get_forecast", "Get weather forecast for a location."},
	)
}

// bagVocab fixes the embedding dimensions so separate embedder instances
// produce identical vectors.
var bagVocab = []string{
	"get", "current", "weather", "forecast", "location", "for", "a", "an",
	"fetch", "invoices", "invoice", "customer", "record", "anomaly", "update", "log",
}

// bagEmbedder counts vocabulary words, so texts sharing words point in
// similar directions. It records calls per text.
type bagEmbedder struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func newBagEmbedder() *bagEmbedder {
	return &bagEmbedder{calls: make(map[string]int)}
}

func (b *bagEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.calls[text]++
	err := b.err
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	vec := make([]float32, len(bagVocab))
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		for i, v := range bagVocab {
			if v == w {
				vec[i]++
			}
		}
	}
	return vec, nil
}

func (b *bagEmbedder) Name() string { return "bag" }

func (b *bagEmbedder) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		n += c
	}
	return n
}

func (b *bagEmbedder) count(text string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[text]
}

var errBackendDown = errors.New("backend down")
