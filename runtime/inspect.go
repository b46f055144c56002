package runtime

import (
	"go/ast"
	"go/token"
	"strconv"
)

// Finding is a construct worth noting in a script. Findings never block
// execution; the symbol table and the file gate are the enforcement.
type Finding struct {
	Rule   string
	Pos    token.Position
	Detail string
}

// Inspection rules.
const (
	RuleGoroutine       = "goroutine"
	RuleUnboundedLoop   = "unbounded-loop"
	RuleDotImport       = "dot-import"
	RuleLargeAllocation = "large-allocation"
)

const largeAllocation = 1 << 24

// Inspect walks a parsed program and reports advisory findings.
func Inspect(fset *token.FileSet, f *ast.File) []Finding {
	var out []Finding
	add := func(rule string, n ast.Node, detail string) {
		out = append(out, Finding{Rule: rule, Pos: fset.Position(n.Pos()), Detail: detail})
	}

	for _, imp := range f.Imports {
		if imp.Name != nil && imp.Name.Name == "." {
			add(RuleDotImport, imp, imp.Path.Value)
		}
	}

	ast.Inspect(f, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.GoStmt:
			add(RuleGoroutine, n, "goroutine may outlive the execution")
		case *ast.ForStmt:
			if n.Cond == nil && !exits(n.Body) {
				add(RuleUnboundedLoop, n, "for loop without condition, break or return")
			}
		case *ast.CallExpr:
			if id, ok := n.Fun.(*ast.Ident); ok && id.Name == "make" && len(n.Args) > 1 {
				for _, arg := range n.Args[1:] {
					if size, ok := intLiteral(arg); ok && size >= largeAllocation {
						add(RuleLargeAllocation, n, strconv.FormatInt(size, 10)+" elements")
					}
				}
			}
		}
		return true
	})
	return out
}

func exits(body *ast.BlockStmt) bool {
	found := false
	ast.Inspect(body, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.ReturnStmt:
			found = true
		case *ast.BranchStmt:
			if n.Tok == token.BREAK || n.Tok == token.GOTO {
				found = true
			}
		case *ast.CallExpr:
			if id, ok := n.Fun.(*ast.Ident); ok && id.Name == "panic" {
				found = true
			}
		}
		return !found
	})
	return found
}

func intLiteral(e ast.Expr) (int64, bool) {
	lit, ok := e.(*ast.BasicLit)
	if !ok || lit.Kind != token.INT {
		return 0, false
	}
	v, err := strconv.ParseInt(lit.Value, 0, 64)
	return v, err == nil
}
