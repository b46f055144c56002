package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Gate resolves and opens files inside a single workspace root.
//
// Contract:
// - Concurrency: safe for concurrent use; the gate holds no mutable state.
// - Errors: containment violations return a *PathError wrapping ErrPermissionDenied.
// - Ordering: concurrent writers to the same path race as plain file handles do.
type Gate struct {
	root   string
	logger *zap.Logger
}

// New creates a gate rooted at root. The root is created if it does not exist
// and is canonicalized so later containment checks compare resolved paths.
func New(root string, logger *zap.Logger) (*Gate, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: workspace root is required", ErrInvalidPath)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root %s: %w", abs, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	return &Gate{root: resolved, logger: logger.Named("workspace")}, nil
}

// Root returns the canonical workspace root.
func (g *Gate) Root() string {
	return g.root
}

// Resolve returns the canonical absolute form of name. Relative names are
// joined to the workspace root. Symlinks are resolved on the longest existing
// ancestor; the remaining components cannot be links because they do not exist.
func (g *Gate) Resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" || strings.ContainsRune(name, 0) {
		return "", &PathError{Op: "resolve", Path: name, Root: g.root, Err: ErrInvalidPath}
	}

	p := name
	if !filepath.IsAbs(p) {
		p = filepath.Join(g.root, p)
	}
	p = filepath.Clean(p)

	resolved, err := resolveExisting(p)
	if err != nil {
		return "", &PathError{Op: "resolve", Path: name, Root: g.root, Err: err}
	}
	if !Within(g.root, resolved) {
		g.logger.Warn("path outside workspace rejected",
			zap.String("path", name),
			zap.String("resolved", resolved))
		return "", &PathError{Op: "resolve", Path: name, Root: g.root, Err: ErrPermissionDenied}
	}
	return resolved, nil
}

// Open opens name with a mode string: "r", "w", "a" or "x", optionally
// combined with "+" (read and write), "b" or "t" (ignored). For modes that may
// create the file, missing parent directories are created inside the root.
func (g *Gate) Open(name, mode string) (*File, error) {
	flag, creates, err := parseMode(mode)
	if err != nil {
		return nil, &PathError{Op: "open", Path: name, Root: g.root, Err: err}
	}
	path, err := g.Resolve(name)
	if err != nil {
		return nil, err
	}
	if creates {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, &PathError{Op: "mkdir", Path: name, Root: g.root, Err: err}
		}
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, &PathError{Op: "open", Path: name, Root: g.root, Err: err}
	}
	return &File{f: f, name: g.relative(path)}, nil
}

// ReadFile returns the full contents of name.
func (g *Gate) ReadFile(name string) (string, error) {
	f, err := g.Open(name, "r")
	if err != nil {
		return "", err
	}
	defer f.Close()
	return f.ReadAll()
}

// WriteFile replaces the contents of name, creating it and its parents.
func (g *Gate) WriteFile(name, data string) error {
	f, err := g.Open(name, "w")
	if err != nil {
		return err
	}
	if _, err := f.WriteString(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// AppendFile appends data to name, creating it and its parents.
func (g *Gate) AppendFile(name, data string) error {
	f, err := g.Open(name, "a")
	if err != nil {
		return err
	}
	if _, err := f.WriteString(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// MkdirAll creates the directory name and any missing parents.
func (g *Gate) MkdirAll(name string) error {
	path, err := g.Resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return &PathError{Op: "mkdir", Path: name, Root: g.root, Err: err}
	}
	return nil
}

func (g *Gate) relative(path string) string {
	rel, err := filepath.Rel(g.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// Within reports whether path equals root or lies below it. Both arguments
// must already be canonical. "/tmp" contains "/tmp/a" but not "/tmpevil".
func Within(root, path string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// resolveExisting evaluates symlinks on the longest existing prefix of p and
// re-attaches the components that do not exist yet. A dangling symlink on the
// way is rejected: following it on create could land outside the root.
func resolveExisting(p string) (string, error) {
	var missing []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, missing...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if info, lerr := os.Lstat(cur); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
			return "", ErrPermissionDenied
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		missing = append([]string{filepath.Base(cur)}, missing...)
		cur = parent
	}
}

// parseMode maps a mode string onto os.OpenFile flags.
func parseMode(mode string) (flag int, creates bool, err error) {
	if mode == "" {
		mode = "r"
	}
	var base rune
	plus := false
	for _, r := range mode {
		switch r {
		case 'r', 'w', 'a', 'x':
			if base != 0 {
				return 0, false, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
			}
			base = r
		case '+':
			plus = true
		case 'b', 't':
		default:
			return 0, false, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
		}
	}

	access := os.O_WRONLY
	if plus {
		access = os.O_RDWR
	}
	switch base {
	case 'r':
		if plus {
			return os.O_RDWR, false, nil
		}
		return os.O_RDONLY, false, nil
	case 'w':
		return access | os.O_CREATE | os.O_TRUNC, true, nil
	case 'a':
		return access | os.O_CREATE | os.O_APPEND, true, nil
	case 'x':
		return access | os.O_CREATE | os.O_EXCL, true, nil
	default:
		return 0, false, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
}

// File is the handle scripts receive. It deliberately hides the *os.File so
// scripts cannot reach Chdir, Fd or similar process-level methods.
type File struct {
	f    *os.File
	name string
}

// Name returns the path relative to the workspace root.
func (f *File) Name() string {
	return f.name
}

// Read reads up to len(p) bytes.
func (f *File) Read(p []byte) (int, error) {
	return f.f.Read(p)
}

// Write writes p.
func (f *File) Write(p []byte) (int, error) {
	return f.f.Write(p)
}

// WriteString writes s.
func (f *File) WriteString(s string) (int, error) {
	return f.f.WriteString(s)
}

// ReadAll reads from the current offset to EOF.
func (f *File) ReadAll() (string, error) {
	data, err := io.ReadAll(f.f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Close closes the file.
func (f *File) Close() error {
	return f.f.Close()
}
