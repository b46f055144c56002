package runtime

import (
	"fmt"
	"go/ast"
	"go/token"
	"path"
	"slices"
	"strconv"
	"strings"
)

// spawners lists standard library functions that run their last argument
// on a fresh goroutine.
var spawners = map[string]map[string]bool{
	"time":    {"AfterFunc": true},
	"context": {"AfterFunc": true},
}

// rewrite replaces src[start:end] with the output of render.
type rewrite struct {
	start, end int
	render     func(b *strings.Builder)
}

// guardGoroutines rewrites every go statement into a sandbox Go call and
// wraps the callback handed to a spawner in sandbox.Guard. The arguments of a
// go statement are still evaluated where the statement runs; line
// directives keep positions pointing at the script text.
func guardGoroutines(fset *token.FileSet, f *ast.File, src string) string {
	spawnerPkgs := make(map[string]string)
	guarded := false
	for _, imp := range f.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		name := path.Base(p)
		if imp.Name != nil {
			name = imp.Name.Name
		}
		if _, ok := spawners[p]; ok {
			spawnerPkgs[name] = p
		}
		if p == SandboxPackage && name == contextAlias {
			guarded = true
		}
	}

	g := &guard{fset: fset, file: fset.File(f.Pos()), src: src}
	ast.Inspect(f, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.GoStmt:
			g.goStmt(n)
		case *ast.CallExpr:
			sel, ok := n.Fun.(*ast.SelectorExpr)
			if !ok || len(n.Args) == 0 {
				return true
			}
			if x, ok := sel.X.(*ast.Ident); ok && spawners[spawnerPkgs[x.Name]][sel.Sel.Name] {
				g.callback(n.Args[len(n.Args)-1])
			}
		}
		return true
	})
	if len(g.edits) == 0 {
		return src
	}
	slices.SortStableFunc(g.edits, func(a, b rewrite) int {
		if a.start != b.start {
			return a.start - b.start
		}
		return b.end - a.end
	})
	if !guarded {
		at := g.offset(f.Name.End())
		g.edits = append([]rewrite{{at, at, func(b *strings.Builder) {
			fmt.Fprintf(b, "; import %s %q", contextAlias, SandboxPackage)
		}}}, g.edits...)
	}

	var b strings.Builder
	g.emit(&b, 0, len(src))
	return b.String()
}

type guard struct {
	fset  *token.FileSet
	file  *token.File
	src   string
	edits []rewrite
	n     int
}

func (g *guard) offset(p token.Pos) int {
	return g.file.Offset(p)
}

// at returns a line directive placing the next character at p's script
// position.
func (g *guard) at(p token.Pos) string {
	pos := g.fset.Position(p)
	return lineDirective(pos.Line, pos.Column)
}

// emit writes src[start:end] with every edit inside that range applied.
// Edits are sorted by start with enclosing ones first, so a nested edit is
// reached through its parent's render.
func (g *guard) emit(b *strings.Builder, start, end int) {
	cur := start
	for _, e := range g.edits {
		if e.start < cur || e.end > end {
			continue
		}
		b.WriteString(g.src[cur:e.start])
		e.render(b)
		cur = e.end
	}
	b.WriteString(g.src[cur:end])
}

func (g *guard) node(b *strings.Builder, n ast.Node) {
	b.WriteString(g.at(n.Pos()))
	g.emit(b, g.offset(n.Pos()), g.offset(n.End()))
}

// goStmt turns `go f(a, b)` into
//
//	{ __g0_0 := a; __sb.Go(func() { f(__g0_0, b) }) }
//
// Literal arguments stay inline so untyped constants keep their type.
func (g *guard) goStmt(s *ast.GoStmt) {
	id := g.n
	g.n++
	call := s.Call
	g.edits = append(g.edits, rewrite{g.offset(s.Pos()), g.offset(call.End()), func(b *strings.Builder) {
		args := make([]string, len(call.Args))
		var names []string
		var bound []ast.Expr
		for i, a := range call.Args {
			if inline(a, len(call.Args)) {
				var ab strings.Builder
				g.node(&ab, a)
				args[i] = ab.String()
				continue
			}
			args[i] = fmt.Sprintf("__g%d_%d", id, i)
			names = append(names, args[i])
			bound = append(bound, a)
		}

		b.WriteString("{ ")
		if len(bound) > 0 {
			b.WriteString(strings.Join(names, ", "))
			b.WriteString(" := ")
			for i, a := range bound {
				if i > 0 {
					b.WriteString(", ")
				}
				g.node(b, a)
			}
			b.WriteString("; ")
		}
		fmt.Fprintf(b, "%s.Go(func() { ", contextAlias)
		g.node(b, call.Fun)
		b.WriteString("(")
		b.WriteString(strings.Join(args, ", "))
		if call.Ellipsis.IsValid() {
			b.WriteString("...")
		}
		b.WriteString(") }) }")
		b.WriteString(g.at(call.End()))
	}})
}

// inline reports whether a go statement argument is passed as written
// rather than bound before the goroutine starts.
func inline(a ast.Expr, n int) bool {
	switch a := a.(type) {
	case *ast.BasicLit:
		return true
	case *ast.Ident:
		return a.Name == "nil" || a.Name == "true" || a.Name == "false"
	case *ast.CallExpr:
		// A lone call argument may return several values.
		return n == 1
	}
	return false
}

func (g *guard) callback(fn ast.Expr) {
	g.edits = append(g.edits, rewrite{g.offset(fn.Pos()), g.offset(fn.End()), func(b *strings.Builder) {
		fmt.Fprintf(b, "%s.Guard(", contextAlias)
		g.node(b, fn)
		b.WriteString(")")
		b.WriteString(g.at(fn.End()))
	}})
}
