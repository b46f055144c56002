package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// MarkerFile marks a directory as a tool server.
	MarkerFile = "server.yaml"

	// UnitExt is the extension of tool unit files.
	UnitExt = ".go"

	// CacheFile is the name of the embedding cache kept at the catalog root.
	CacheFile = ".tool_embeddings_cache"
)

// Server describes one tool-provider directory.
type Server struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// Tool identifies one tool unit in scan order.
type Tool struct {
	Server string `json:"server"`
	Name   string `json:"name"`
	Path   string `json:"path"`
}

// ID returns the "server.tool" identifier used by search and invocation.
func (t Tool) ID() string {
	return FormatID(t.Server, t.Name)
}

// ToolSummary is the name-and-description view of a tool.
type ToolSummary struct {
	Name        string `json:"name"`
	Server      string `json:"server"`
	Description string `json:"description"`
}

// ServerOverview is a server with summaries of all its tools.
type ServerOverview struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Version     string        `json:"version,omitempty"`
	ToolCount   int           `json:"tool_count"`
	Tools       []ToolSummary `json:"tools"`
}

// Config configures a Catalog.
type Config struct {
	// Root is the catalog root directory. Required.
	Root string

	// Logger is optional; nil disables logging.
	Logger *zap.Logger
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("%w: missing required fields: Root", ErrToolDiscovery)
	}
	return nil
}

// Catalog reads the server tree under a root directory.
//
// Contract:
// - Concurrency: safe for concurrent use; it holds no mutable state.
// - Errors: misses return ErrServerNotFound/ErrToolNotFound; containment
//   violations and I/O anomalies return ErrToolDiscovery.
// - Ownership: returned slices are caller-owned.
type Catalog struct {
	root   string
	logger *zap.Logger
}

// New creates a Catalog. The root does not need to exist yet; until it does,
// every listing is empty.
func New(cfg Config) (*Catalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving catalog root: %v", ErrToolDiscovery, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Catalog{root: abs, logger: logger.Named("catalog")}, nil
}

// Root returns the absolute catalog root.
func (c *Catalog) Root() string {
	return c.root
}

// CachePath returns the location of the embedding cache for this catalog.
func (c *Catalog) CachePath() string {
	return filepath.Join(c.root, CacheFile)
}

// ListServers returns the sorted names of every visible server directory.
func (c *Catalog) ListServers() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: reading catalog root: %v", ErrToolDiscovery, err)
	}

	servers := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if hidden(name) || !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(c.root, name, MarkerFile)); err != nil {
			continue
		}
		servers = append(servers, name)
	}
	sort.Strings(servers)
	return servers, nil
}

// ListTools returns the sorted tool names of a server.
func (c *Catalog) ListTools(server string) ([]string, error) {
	dir, err := c.serverDir(server)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrServerNotFound, server)
		}
		return nil, fmt.Errorf("%w: reading server %q: %v", ErrToolDiscovery, server, err)
	}

	tools := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || hidden(name) || name == MarkerFile {
			continue
		}
		if !strings.HasSuffix(name, UnitExt) || strings.HasSuffix(name, "_test"+UnitExt) {
			continue
		}
		tools = append(tools, strings.TrimSuffix(name, UnitExt))
	}
	sort.Strings(tools)
	return tools, nil
}

// Tools returns every tool in catalog scan order: servers sorted by name,
// tools sorted within each server. Search ties are broken by this order.
func (c *Catalog) Tools() ([]Tool, error) {
	servers, err := c.ListServers()
	if err != nil {
		return nil, err
	}
	var out []Tool
	for _, server := range servers {
		names, err := c.ListTools(server)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			out = append(out, Tool{
				Server: server,
				Name:   name,
				Path:   filepath.Join(c.root, server, name+UnitExt),
			})
		}
	}
	return out, nil
}

// Summary returns the tool's name and description. The description is the
// first non-blank line of the unit's leading comment block, or the tool name
// in title case when the unit has no documentation.
func (c *Catalog) Summary(server, tool string) (ToolSummary, error) {
	path, err := c.unitPath(server, tool)
	if err != nil {
		return ToolSummary{}, err
	}
	head, err := readHead(path, headBytes)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ToolSummary{}, fmt.Errorf("%w: tool %q not found in server %q", ErrToolNotFound, tool, server)
		}
		return ToolSummary{}, fmt.Errorf("%w: reading %s.%s: %v", ErrToolDiscovery, server, tool, err)
	}
	desc := leadingDoc(head)
	if desc == "" {
		desc = titleName(tool)
	}
	return ToolSummary{Name: tool, Server: server, Description: desc}, nil
}

// Definition returns the full source text of a tool unit.
func (c *Catalog) Definition(server, tool string) (string, error) {
	path, err := c.unitPath(server, tool)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: tool %q not found in server %q", ErrToolNotFound, tool, server)
		}
		return "", fmt.Errorf("%w: reading %s.%s: %v", ErrToolDiscovery, server, tool, err)
	}
	return string(data), nil
}

// ReadFile returns the contents of a file addressed relative to the catalog
// root.
func (c *Catalog) ReadFile(rel string) (string, error) {
	path, err := c.contain(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: file %q not found", ErrToolDiscovery, rel)
		}
		return "", fmt.Errorf("%w: reading %q: %v", ErrToolDiscovery, rel, err)
	}
	return string(data), nil
}

// ListDirectory lists a directory addressed relative to the catalog root.
// Directories carry a trailing "/". Entries starting with "." or "__" are
// skipped.
func (c *Catalog) ListDirectory(rel string) ([]string, error) {
	path, err := c.contain(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: directory %q not found", ErrToolDiscovery, rel)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", ErrToolDiscovery, rel)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %v", ErrToolDiscovery, rel, err)
	}
	items := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "__") {
			continue
		}
		if entry.IsDir() {
			name += "/"
		}
		items = append(items, name)
	}
	sort.Strings(items)
	return items, nil
}

// Overview returns a server's manifest description and all tool summaries.
func (c *Catalog) Overview(server string) (ServerOverview, error) {
	names, err := c.ListTools(server)
	if err != nil {
		return ServerOverview{}, err
	}
	manifest, err := c.manifest(server)
	if err != nil {
		return ServerOverview{}, err
	}
	tools := make([]ToolSummary, 0, len(names))
	for _, name := range names {
		s, err := c.Summary(server, name)
		if err != nil {
			return ServerOverview{}, err
		}
		tools = append(tools, s)
	}
	return ServerOverview{
		Name:        server,
		Description: manifest.Description,
		Version:     manifest.Version,
		ToolCount:   len(tools),
		Tools:       tools,
	}, nil
}

// AllTools returns the summary of every tool, in scan order.
func (c *Catalog) AllTools() ([]ToolSummary, error) {
	tools, err := c.Tools()
	if err != nil {
		return nil, err
	}
	out := make([]ToolSummary, len(tools))
	var g errgroup.Group
	g.SetLimit(8)
	for i, t := range tools {
		g.Go(func() error {
			s, err := c.Summary(t.Server, t.Name)
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Catalog) serverDir(server string) (string, error) {
	if !validName(server) {
		return "", fmt.Errorf("%w: invalid server name %q", ErrToolDiscovery, server)
	}
	return c.contain(server)
}

func (c *Catalog) unitPath(server, tool string) (string, error) {
	if !validName(server) || !validName(tool) {
		return "", fmt.Errorf("%w: invalid tool reference %q", ErrToolDiscovery, FormatID(server, tool))
	}
	return c.contain(filepath.Join(server, tool+UnitExt))
}

// contain resolves rel under the catalog root and rejects anything that
// lands outside it. Symlinks are resolved on the longest existing prefix.
func (c *Catalog) contain(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("%w: invalid path %q", ErrToolDiscovery, rel)
	}
	p := rel
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.root, p)
	}
	p = filepath.Clean(p)
	resolved := evalLongestPrefix(p)
	if !within(c.root, resolved) {
		c.logger.Warn("path outside catalog rejected", zap.String("path", rel))
		return "", fmt.Errorf("%w: path %q is outside the catalog root", ErrToolDiscovery, rel)
	}
	return resolved, nil
}

func evalLongestPrefix(p string) string {
	var missing []string
	cur := p
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(append([]string{resolved}, missing...)...)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		missing = append([]string{filepath.Base(cur)}, missing...)
		cur = parent
	}
}

func within(root, path string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

func hidden(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

// FormatID joins a server and tool into a "server.tool" identifier.
func FormatID(server, tool string) string {
	return server + "." + tool
}

// ParseID splits a "server.tool" identifier.
func ParseID(id string) (server, tool string, err error) {
	server, tool, ok := strings.Cut(id, ".")
	if !ok || server == "" || tool == "" {
		return "", "", fmt.Errorf("%w: invalid tool id %q, want server.tool", ErrToolNotFound, id)
	}
	return server, tool, nil
}

// ImportHint returns the snippet a script uses to invoke the tool.
func ImportHint(server, tool string) string {
	return fmt.Sprintf("tools.Call(ctx, %q, args)", FormatID(server, tool))
}
