package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

// writeTree creates files under root; a nil value creates a directory.
func writeTree(t *testing.T, root string, files map[string]*string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if content == nil {
			if err := os.MkdirAll(path, 0o755); err != nil {
				t.Fatalf("mkdir %s: %v", rel, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(*content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func s(v string) *string { return &v }

// newFixture builds a small catalog with two servers and a few decoys.
func newFixture(t *testing.T) *Catalog {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, map[string]*string{
		"weather/server.yaml": s("description: Weather data from OpenWeatherMap\nversion: 1.2.0\n"),
		"weather/get_current_weather.go": s(`// Get current weather for a location.
//
// Args: city (string)
package weather
`),
		"weather/get_forecast.go": s(`/*
 * Get weather forecast for a location.
 */
package weather
`),
		"weather/_helpers.go":     s("package weather\n"),
		"weather/forecast_test.go": s("package weather\n"),
		"weather/README.md":        s("not a tool\n"),
		"invoice/server.yaml":      s(""),
		"invoice/fetch_invoices.go": s("package invoice\n"),
		"_private/server.yaml":     s(""),
		".hidden/server.yaml":      s(""),
		"nomarker/tool.go":         s("// Orphan.\npackage nomarker\n"),
		"notes.txt":                s("root file\n"),
	})
	c, err := New(Config{Root: root})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}
