package runtime

import (
	"context"
	"path"
	"reflect"
	"slices"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"github.com/jonwraymond/toolharness/catalog"
	"github.com/jonwraymond/toolharness/code"
	"github.com/jonwraymond/toolharness/search"
	"github.com/jonwraymond/toolharness/workspace"
)

// Import paths of the packages bound per execution.
const (
	SandboxPackage = "sandbox"
	ToolsPackage   = "tools"
)

// denied can never be allowed. Each one either reaches the host directly or
// can rebuild that access.
var denied = map[string]bool{
	"unsafe":        true,
	"syscall":       true,
	"os":            true,
	"os/exec":       true,
	"os/signal":     true,
	"os/user":       true,
	"io/ioutil":     true,
	"io/fs":         true,
	"reflect":       true,
	"runtime":       true,
	"runtime/debug": true,
	"runtime/pprof": true,
	"plugin":        true,
	"go/build":      true,
	"log":           true,
	"log/syslog":    true,
	"flag":          true,
	"testing":       true,
}

// Denied reports whether importPath is blocked regardless of configuration.
func Denied(importPath string) bool {
	return denied[importPath] ||
		strings.HasPrefix(importPath, "github.com/traefik/yaegi") ||
		strings.HasPrefix(importPath, "runtime/")
}

type module struct {
	path    string
	name    string
	key     string
	symbols map[string]reflect.Value
}

// Registry is the capability table resolved once from the allow-list.
// It is read-only after construction and shared by every execution.
type Registry struct {
	modules []module
	byPath  map[string]int
	byName  map[string]int

	// stdNames maps every known stdlib package name to its path, allowed or
	// not, so a reference to a blocked package can be reported as such.
	stdNames map[string]string
}

// NewRegistry resolves allowed against the interpreter's standard library.
// Paths that are denied or unknown are skipped; that is never an error.
func NewRegistry(allowed []string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("registry")

	known := make(map[string]string, len(stdlib.Symbols))
	r := &Registry{
		byPath:   make(map[string]int),
		byName:   make(map[string]int),
		stdNames: make(map[string]string),
	}
	for key := range stdlib.Symbols {
		p, name := path.Dir(key), path.Base(key)
		known[p] = key
		if prev, ok := r.stdNames[name]; !ok || p < prev {
			r.stdNames[name] = p
		}
	}
	// Some denied packages live outside stdlib.Symbols (os/exec, syscall,
	// unsafe) but must still be reported as import errors.
	for p := range denied {
		name := path.Base(p)
		if _, ok := r.stdNames[name]; !ok {
			r.stdNames[name] = p
		}
	}

	for _, p := range allowed {
		p = strings.TrimSpace(p)
		if _, dup := r.byPath[p]; dup || p == "" {
			continue
		}
		if Denied(p) {
			logger.Warn("ignoring denied module in allow-list", zap.String("module", p))
			continue
		}
		key, ok := known[p]
		if !ok {
			logger.Debug("module not available to the interpreter", zap.String("module", p))
			continue
		}
		m := module{path: p, name: path.Base(key), key: key, symbols: stdlib.Symbols[key]}
		r.byPath[p] = len(r.modules)
		if _, taken := r.byName[m.name]; !taken {
			r.byName[m.name] = len(r.modules)
		}
		r.modules = append(r.modules, m)
	}
	logger.Debug("capability registry ready", zap.Int("modules", len(r.modules)))
	return r
}

// Allowed returns the resolved allow-list, sorted, followed by the sandbox
// and tools packages.
func (r *Registry) Allowed() []string {
	out := make([]string, 0, len(r.modules)+2)
	for _, m := range r.modules {
		out = append(out, m.path)
	}
	slices.Sort(out)
	return append(out, SandboxPackage, ToolsPackage)
}

// Allows reports whether a script may import importPath.
func (r *Registry) Allows(importPath string) bool {
	if importPath == SandboxPackage || importPath == ToolsPackage {
		return true
	}
	_, ok := r.byPath[importPath]
	return ok
}

// lookupName returns the allowed import path whose package name is name.
// The first match in allow-list order wins.
func (r *Registry) lookupName(name string) (string, bool) {
	switch name {
	case SandboxPackage, ToolsPackage:
		return name, true
	}
	i, ok := r.byName[name]
	if !ok {
		return "", false
	}
	return r.modules[i].path, true
}

// blockedPath returns the stdlib import path for a package name that the
// allow-list does not cover.
func (r *Registry) blockedPath(name string) (string, bool) {
	if _, ok := r.lookupName(name); ok {
		return "", false
	}
	p, ok := r.stdNames[name]
	return p, ok
}

// SymbolTable is the namespace handed to one interpreter.
type SymbolTable struct {
	Exports interp.Exports
}

// Has reports whether importPath is bound.
func (t SymbolTable) Has(importPath string) bool {
	_, ok := t.Exports[importPath+"/"+path.Base(importPath)]
	return ok
}

// Build returns a fresh table for one execution. Standard library entries are
// shared read-only; the sandbox and tools packages are bound to env and ctx.
func (r *Registry) Build(ctx context.Context, env code.Env) SymbolTable {
	return r.build(ctx, env, nil)
}

func (r *Registry) build(ctx context.Context, env code.Env, faults *faultLog) SymbolTable {
	exports := make(interp.Exports, len(r.modules)+2)
	for _, m := range r.modules {
		exports[m.key] = m.symbols
	}
	exports[SandboxPackage+"/"+SandboxPackage] = sandboxSymbols(ctx, env.Files, faults)
	if env.Tools != nil {
		exports[ToolsPackage+"/"+ToolsPackage] = toolsSymbols(ctx, env.Tools, faults)
	}
	return SymbolTable{Exports: exports}
}

func sandboxSymbols(ctx context.Context, gate *workspace.Gate, faults *faultLog) map[string]reflect.Value {
	syms := map[string]reflect.Value{
		"Context": reflect.ValueOf(func() context.Context { return ctx }),
		"File":    reflect.ValueOf((*workspace.File)(nil)),

		// Goroutines started by the script run through these; see
		// guardGoroutines.
		"Go": reflect.ValueOf(func(fn func()) {
			go faults.guard(fn)
		}),
		"Guard": reflect.ValueOf(func(fn func()) func() {
			return func() { faults.guard(fn) }
		}),
	}
	if gate == nil {
		return syms
	}
	syms["Open"] = reflect.ValueOf(func(name, mode string) (*workspace.File, error) {
		f, err := gate.Open(name, mode)
		return f, faults.note(err)
	})
	syms["ReadFile"] = reflect.ValueOf(func(name string) (string, error) {
		data, err := gate.ReadFile(name)
		return data, faults.note(err)
	})
	syms["WriteFile"] = reflect.ValueOf(func(name, data string) error {
		return faults.note(gate.WriteFile(name, data))
	})
	syms["AppendFile"] = reflect.ValueOf(func(name, data string) error {
		return faults.note(gate.AppendFile(name, data))
	})
	syms["MkdirAll"] = reflect.ValueOf(func(name string) error {
		return faults.note(gate.MkdirAll(name))
	})
	return syms
}

func toolsSymbols(ctx context.Context, t code.Tools, faults *faultLog) map[string]reflect.Value {
	return map[string]reflect.Value{
		"ListServers": reflect.ValueOf(func() ([]string, error) {
			out, err := t.ListServers(ctx)
			return out, faults.note(err)
		}),
		"ListTools": reflect.ValueOf(func(server string) ([]string, error) {
			out, err := t.ListTools(ctx, server)
			return out, faults.note(err)
		}),
		"Summary": reflect.ValueOf(func(server, tool string) (catalog.ToolSummary, error) {
			out, err := t.Summary(ctx, server, tool)
			return out, faults.note(err)
		}),
		"Definition": reflect.ValueOf(func(server, tool string) (string, error) {
			out, err := t.Definition(ctx, server, tool)
			return out, faults.note(err)
		}),
		"ReadFile": reflect.ValueOf(func(rel string) (string, error) {
			out, err := t.ReadFile(ctx, rel)
			return out, faults.note(err)
		}),
		"ListDirectory": reflect.ValueOf(func(rel string) ([]string, error) {
			out, err := t.ListDirectory(ctx, rel)
			return out, faults.note(err)
		}),
		"Overview": reflect.ValueOf(func(server string) (catalog.ServerOverview, error) {
			out, err := t.Overview(ctx, server)
			return out, faults.note(err)
		}),
		"AllTools": reflect.ValueOf(func() ([]catalog.ToolSummary, error) {
			out, err := t.AllTools(ctx)
			return out, faults.note(err)
		}),
		"Search": reflect.ValueOf(func(query string, topK int, level string) ([]search.Result, error) {
			lvl, err := search.ParseDetailLevel(level)
			if err != nil {
				return nil, faults.note(err)
			}
			out, err := t.Search(ctx, query, topK, lvl)
			return out, faults.note(err)
		}),
		"Call": reflect.ValueOf(func(ctx context.Context, toolID string, args map[string]any) (any, error) {
			out, err := t.Call(ctx, toolID, args)
			return out, faults.note(err)
		}),
		"Chain": reflect.ValueOf(func(ctx context.Context, steps []code.ChainStep) (any, error) {
			out, err := t.Chain(ctx, steps)
			return out, faults.note(err)
		}),

		"ToolSummary":    reflect.ValueOf((*catalog.ToolSummary)(nil)),
		"ServerOverview": reflect.ValueOf((*catalog.ServerOverview)(nil)),
		"Result":         reflect.ValueOf((*search.Result)(nil)),
		"Step":           reflect.ValueOf((*code.ChainStep)(nil)),
	}
}
