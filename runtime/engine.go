package runtime

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/scanner"
	"go/token"
	"io"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"go.uber.org/zap"

	"github.com/jonwraymond/toolharness/code"
)

// Config configures an Engine.
type Config struct {
	// Profile selects the default allow-list. Defaults to ProfileStandard.
	Profile SecurityProfile

	// Allowed overrides the profile's allow-list when non-empty.
	Allowed []string

	// OnFinding receives every advisory finding. Optional.
	OnFinding func(Finding)

	// Logger is optional.
	Logger *zap.Logger
}

// Engine implements code.Engine with one fresh yaegi interpreter per
// execution.
type Engine struct {
	registry  *Registry
	driver    *Driver
	onFinding func(Finding)
	logger    *zap.Logger
}

var _ code.Engine = (*Engine)(nil)

// New creates an Engine and resolves its capability registry.
func New(cfg Config) (*Engine, error) {
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}
	if !cfg.Profile.IsValid() {
		return nil, fmt.Errorf("%w: unknown security profile %q", code.ErrConfiguration, cfg.Profile)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	allowed := cfg.Allowed
	if len(allowed) == 0 {
		allowed = cfg.Profile.Modules()
	}
	registry := NewRegistry(allowed, cfg.Logger)
	return &Engine{
		registry:  registry,
		driver:    NewDriver(registry),
		onFinding: cfg.OnFinding,
		logger:    cfg.Logger.Named("runtime"),
	}, nil
}

// Registry returns the engine's capability registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Execute normalizes src, evaluates it and classifies the outcome.
func (e *Engine) Execute(ctx context.Context, src string, env code.Env) error {
	prog, err := e.driver.Normalize(src)
	if err != nil {
		return err
	}
	e.logger.Debug("script normalized", zap.Stringer("form", prog.Form), zap.Strings("imports", prog.Imports))

	for _, f := range Inspect(prog.Fset, prog.File) {
		e.logger.Info("script finding",
			zap.String("rule", f.Rule),
			zap.String("pos", f.Pos.String()),
			zap.String("detail", f.Detail))
		if e.onFinding != nil {
			e.onFinding(f)
		}
	}

	stdout, stderr := env.Stdout, env.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	trace := &traceWriter{w: stderr}
	faults := &faultLog{}

	i := interp.New(interp.Options{
		Stdout:               stdout,
		Stderr:               trace,
		Args:                 []string{ScriptName},
		Env:                  []string{},
		SourcecodeFilesystem: emptyFS{},
	})
	if err := i.Use(e.registry.build(ctx, env, faults).Exports); err != nil {
		return fmt.Errorf("load symbol table: %w", err)
	}

	_, err = i.EvalWithContext(ctx, prog.Source)
	if err == nil {
		if v, ok := faults.goroutinePanic(); ok {
			err = interp.Panic{Value: v}
		}
	}
	return e.classify(ctx, err, prog, src, trace, faults)
}

var (
	positionRE  = regexp.MustCompile(`(?s)^(?:[^\s:]*:)?(\d+):(\d+): (.*)$`)
	undefinedRE = regexp.MustCompile(`^undefined: (\w+)$`)
)

func (e *Engine) classify(ctx context.Context, err error, prog Program, src string, trace *traceWriter, faults *faultLog) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}

	var p interp.Panic
	if errors.As(err, &p) {
		ce := &code.CodeError{Kind: code.KindPanic, Message: fmt.Sprint(p.Value), Trace: trace.String()}
		if v, ok := p.Value.(error); ok {
			ce.Message = v.Error()
			ce.Err = v
		}
		if ce.Err == nil {
			ce.Err = faults.match(ce.Message)
		}
		ce.Line, ce.Column = trace.first()
		if _, runtimeErr := p.Value.(interface{ RuntimeError() }); !runtimeErr {
			ce.Line, ce.Column = panicSite(prog, ce.Line, ce.Column)
		}
		return ce
	}

	var list scanner.ErrorList
	if errors.As(err, &list) {
		return syntaxError(err, src)
	}

	line, col, detail := splitPosition(err.Error())
	line, col = clampPosition(src, line, col)
	if m := undefinedRE.FindStringSubmatch(detail); m != nil {
		if path, ok := e.registry.blockedPath(m[1]); ok {
			return &code.ImportError{Path: path, Allowed: e.registry.Allowed()}
		}
	}
	return &code.CodeError{Kind: code.KindCompile, Message: detail, Line: line, Column: col, Err: err}
}

// panicSite narrows a trace position, which the interpreter reports near
// the start of the panicking function, to the panic call in that function
// when it has exactly one. Failing that, a script with a single panic call
// reports that call.
func panicSite(prog Program, line, col int) (int, int) {
	if prog.File == nil {
		return line, col
	}
	var at token.Pos
	ast.Inspect(prog.File, func(n ast.Node) bool {
		if n == nil || at.IsValid() {
			return false
		}
		if pos := prog.Fset.Position(n.Pos()); pos.Line == line && pos.Column == col {
			at = n.Pos()
			return false
		}
		return true
	})

	var fn ast.Node
	if at.IsValid() {
		ast.Inspect(prog.File, func(n ast.Node) bool {
			if n == nil || at < n.Pos() || at >= n.End() {
				return false
			}
			switch n.(type) {
			case *ast.FuncDecl, *ast.FuncLit:
				fn = n
			}
			return true
		})
	}

	if fn != nil {
		if calls := panicCalls(fn); len(calls) == 1 {
			return positionOf(prog.Fset, calls[0])
		}
	}
	if calls := panicCalls(prog.File); len(calls) == 1 {
		return positionOf(prog.Fset, calls[0])
	}
	return line, col
}

// panicCalls lists the panic calls in scope, leaving out function literals
// nested in a function scope.
func panicCalls(scope ast.Node) []*ast.CallExpr {
	_, isFile := scope.(*ast.File)
	var calls []*ast.CallExpr
	ast.Inspect(scope, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.FuncLit:
			return isFile || n == scope
		case *ast.CallExpr:
			if id, ok := n.Fun.(*ast.Ident); ok && id.Name == "panic" {
				calls = append(calls, n)
			}
		}
		return true
	})
	return calls
}

func positionOf(fset *token.FileSet, n ast.Node) (int, int) {
	pos := fset.Position(n.Pos())
	return pos.Line, pos.Column
}

func splitPosition(msg string) (line, col int, detail string) {
	m := positionRE.FindStringSubmatch(msg)
	if m == nil {
		return 0, 0, msg
	}
	line, _ = strconv.Atoi(m[1])
	col, _ = strconv.Atoi(m[2])
	return line, col, m[3]
}

// emptyFS keeps the interpreter from loading package sources from disk.
type emptyFS struct{}

func (emptyFS) Open(name string) (fs.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// traceWriter forwards interpreter stderr and keeps the lines it writes
// while a panic unwinds the script's frames.
type traceWriter struct {
	w io.Writer

	mu      sync.Mutex
	partial []byte
	frames  []string
}

var frameRE = regexp.MustCompile(`(\d+):(\d+): panic`)

func (t *traceWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.partial = append(t.partial, p...)
	for {
		nl := strings.IndexByte(string(t.partial), '\n')
		if nl < 0 {
			break
		}
		line := string(t.partial[:nl])
		t.partial = t.partial[nl+1:]
		if frameRE.MatchString(line) {
			t.frames = append(t.frames, line)
		}
	}
	t.mu.Unlock()
	return t.w.Write(p)
}

func (t *traceWriter) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.frames, "\n")
}

// first returns the position of the innermost frame.
func (t *traceWriter) first() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.frames) == 0 {
		return 0, 0
	}
	m := frameRE.FindStringSubmatch(t.frames[0])
	line, _ := strconv.Atoi(m[1])
	col, _ := strconv.Atoi(m[2])
	return line, col
}

// faultLog remembers errors handed to the script by the sandbox and tools
// packages, so a panic carrying one can be classified by its sentinel. It
// also holds the first panic recovered from a script goroutine.
type faultLog struct {
	mu   sync.Mutex
	errs []error

	panicked bool
	value    any
}

// guard runs fn, which is script code on a goroutine of its own, and keeps
// a panic from unwinding past it.
func (l *faultLog) guard(fn func()) {
	defer func() {
		r := recover()
		if r == nil || l == nil {
			return
		}
		l.mu.Lock()
		if !l.panicked {
			l.panicked, l.value = true, r
		}
		l.mu.Unlock()
	}()
	fn()
}

// goroutinePanic returns the value of the first recovered goroutine panic.
func (l *faultLog) goroutinePanic() (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.panicked
}

const maxFaults = 64

func (l *faultLog) note(err error) error {
	if err == nil || l == nil {
		return err
	}
	l.mu.Lock()
	if len(l.errs) == maxFaults {
		l.errs = l.errs[1:]
	}
	l.errs = append(l.errs, err)
	l.mu.Unlock()
	return err
}

// match returns the most recent noted error whose text appears in msg.
func (l *faultLog) match(msg string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.errs) - 1; i >= 0; i-- {
		if strings.Contains(msg, l.errs[i].Error()) {
			return l.errs[i]
		}
	}
	return nil
}
