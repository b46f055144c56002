package runtime

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"path"
	"strconv"
	"strings"

	"github.com/jonwraymond/toolharness/code"
)

// ScriptName is the file name reported in positions and traces.
const ScriptName = "script.go"

// contextAlias names the sandbox import that carries ctx in the async form.
const contextAlias = "__sb"

// Form is how a script was turned into a program.
type Form int

const (
	// FormProgram runs a script that declares its own package as written.
	FormProgram Form = iota

	// FormStatements wraps a statement list in func main.
	FormStatements

	// FormAsync is FormStatements plus a ctx bound to the execution deadline.
	FormAsync
)

func (f Form) String() string {
	switch f {
	case FormProgram:
		return "program"
	case FormStatements:
		return "statements"
	case FormAsync:
		return "async"
	default:
		return "form(" + strconv.Itoa(int(f)) + ")"
	}
}

// Program is a normalized script, parsed and checked against the
// allow-list.
type Program struct {
	Source  string
	Form    Form
	Imports []string
	File    *ast.File
	Fset    *token.FileSet
}

// Driver turns script text into a Program.
type Driver struct {
	registry *Registry
}

// NewDriver returns a Driver that resolves imports through registry.
func NewDriver(registry *Registry) *Driver {
	return &Driver{registry: registry}
}

type tok struct {
	off int
	tok token.Token
	lit string
}

func tokenize(src string) []tok {
	fset := token.NewFileSet()
	file := fset.AddFile(ScriptName, -1, len(src))
	var s scanner.Scanner
	s.Init(file, []byte(src), nil, 0)
	var toks []tok
	for {
		pos, t, lit := s.Scan()
		if t == token.EOF {
			return toks
		}
		toks = append(toks, tok{off: file.Offset(pos), tok: t, lit: lit})
	}
}

// Normalize produces the program for src. Syntax errors are returned as
// *code.CodeError of kind SyntaxError, imports outside the allow-list as
// *code.ImportError. Goroutines the script starts are routed through the
// sandbox so their panics are recovered.
func (d *Driver) Normalize(src string) (Program, error) {
	toks := tokenize(src)
	var prog Program
	if len(toks) > 0 && toks[0].tok == token.PACKAGE {
		prog = Program{Source: lineDirective(1, 1) + src, Form: FormProgram}
	} else {
		prog = d.wrap(src, toks)
	}

	prog.Fset = token.NewFileSet()
	f, err := parser.ParseFile(prog.Fset, ScriptName, prog.Source, parser.SkipObjectResolution)
	if err != nil {
		return Program{}, syntaxError(err, src)
	}
	prog.File = f

	for _, imp := range f.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if !d.registry.Allows(p) {
			return Program{}, &code.ImportError{Path: p, Allowed: d.registry.Allowed()}
		}
		prog.Imports = append(prog.Imports, p)
	}
	prog.Source = guardGoroutines(prog.Fset, f, prog.Source)
	return prog, nil
}

func syntaxError(err error, src string) error {
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		line, col := clampPosition(src, first.Pos.Line, first.Pos.Column)
		return &code.CodeError{
			Kind:    code.KindSyntax,
			Message: first.Msg,
			Line:    line,
			Column:  col,
			Err:     err,
		}
	}
	return &code.CodeError{Kind: code.KindSyntax, Message: err.Error(), Err: err}
}

// clampPosition moves a position past the end of src, which can only come
// from the text wrapped around a statement script, to the end of its last
// line.
func clampPosition(src string, line, col int) (int, int) {
	body := strings.TrimRight(src, " \t\r\n")
	last := strings.Count(body, "\n") + 1
	if line <= last {
		return line, col
	}
	return last, len(body) - strings.LastIndexByte(body, '\n')
}

type span struct{ start, end int }

// wrap builds the program for a statement-form script.
func (d *Driver) wrap(src string, toks []tok) Program {
	bodyStart, i := leadingImports(src, toks)
	body := toks[i:]
	decls := hoistable(src, body)

	imported := importedNames(src[:bodyStart])
	async := false
	var auto []string
	for j, t := range body {
		if isAsyncMarker(body, j) {
			async = true
		}
		if t.tok != token.IDENT || j+1 >= len(body) || body[j+1].tok != token.PERIOD {
			continue
		}
		if j > 0 && body[j-1].tok == token.PERIOD {
			continue
		}
		if _, ok := imported[t.lit]; ok {
			continue
		}
		if p, ok := d.registry.lookupName(t.lit); ok {
			imported[t.lit] = p
			auto = append(auto, p)
		}
	}

	var b strings.Builder
	b.WriteString("package main\n\n")
	if bodyStart > 0 {
		b.WriteString(lineDirective(1, 1))
		b.WriteString(src[:bodyStart])
		b.WriteString("\n")
	}
	for _, p := range auto {
		fmt.Fprintf(&b, "import %q\n", p)
	}
	if async {
		fmt.Fprintf(&b, "import %s %q\n", contextAlias, SandboxPackage)
		if !declaresCtx(src, decls) {
			fmt.Fprintf(&b, "\nvar ctx = %s.Context()\n", contextAlias)
		}
	}
	b.WriteString("\n")

	for _, s := range decls {
		writeSegment(&b, src, s)
	}

	b.WriteString("func main() {\n{\n")
	pos := bodyStart
	for _, s := range decls {
		writeSegment(&b, src, span{pos, s.start})
		pos = s.end
	}
	writeSegment(&b, src, span{pos, len(src)})
	b.WriteString("}\n}\n")

	form := FormStatements
	if async {
		form = FormAsync
	}
	return Program{Source: b.String(), Form: form}
}

// leadingImports returns the offset where the statement body starts and the
// index of its first token.
func leadingImports(src string, toks []tok) (int, int) {
	end, i := 0, 0
	for i < len(toks) && toks[i].tok == token.IMPORT {
		depth := 0
		j := i + 1
		for ; j < len(toks); j++ {
			switch toks[j].tok {
			case token.LPAREN:
				depth++
			case token.RPAREN:
				depth--
			}
			if toks[j].tok == token.SEMICOLON && depth <= 0 {
				break
			}
		}
		if j >= len(toks) {
			return len(src), len(toks)
		}
		end = min(toks[j].off+1, len(src))
		i = j + 1
	}
	return end, i
}

// hoistable finds top-level func declarations, plus type declarations when
// there is at least one func, so methods and named functions stay legal.
// A top-level var or const moves with them once a hoisted declaration
// refers to one of its names.
func hoistable(src string, body []tok) []span {
	var funcs, types, values []span
	depth := 0
	for j := 0; j < len(body); j++ {
		t := body[j]
		switch t.tok {
		case token.LPAREN, token.LBRACE, token.LBRACK:
			depth++
			continue
		case token.RPAREN, token.RBRACE, token.RBRACK:
			depth--
			continue
		}
		if depth != 0 {
			continue
		}
		isFunc := t.tok == token.FUNC && j+1 < len(body) &&
			(body[j+1].tok == token.IDENT || isMethodDecl(body, j+1))
		isValue := t.tok == token.VAR || t.tok == token.CONST
		if !isFunc && !isValue && t.tok != token.TYPE {
			continue
		}
		end := declEnd(src, body, j)
		s := span{t.off, end.off}
		switch {
		case isFunc:
			funcs = append(funcs, s)
		case isValue:
			values = append(values, s)
		default:
			types = append(types, s)
		}
		j = end.idx
	}
	if len(funcs) == 0 {
		return nil
	}
	all := append(types, funcs...)
	refs := make(map[string]bool)
	for _, s := range all {
		identsIn(body, s, refs)
	}
	for moved := true; moved; {
		moved = false
		for i := 0; i < len(values); i++ {
			if !declaresAny(src, values[i], refs) {
				continue
			}
			identsIn(body, values[i], refs)
			all = append(all, values[i])
			values = append(values[:i], values[i+1:]...)
			i--
			moved = true
		}
	}
	sortSpans(all)
	return all
}

// declaresCtx reports whether a hoisted declaration already binds ctx.
func declaresCtx(src string, decls []span) bool {
	for _, s := range decls {
		if declaresAny(src, s, map[string]bool{"ctx": true}) {
			return true
		}
	}
	return false
}

func identsIn(body []tok, s span, into map[string]bool) {
	for _, t := range body {
		if t.off >= s.start && t.off < s.end && t.tok == token.IDENT {
			into[t.lit] = true
		}
	}
}

// declaresAny reports whether the var or const declaration at s binds one
// of names.
func declaresAny(src string, s span, names map[string]bool) bool {
	f, err := parser.ParseFile(token.NewFileSet(), "", "package p\n"+src[s.start:s.end], parser.SkipObjectResolution)
	if err != nil || len(f.Decls) == 0 {
		return false
	}
	gd, ok := f.Decls[0].(*ast.GenDecl)
	if !ok {
		return false
	}
	for _, spec := range gd.Specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok {
			continue
		}
		for _, n := range vs.Names {
			if names[n.Name] {
				return true
			}
		}
	}
	return false
}

// isMethodDecl reports whether the parenthesized group at body[i] is a
// receiver followed by a method name.
func isMethodDecl(body []tok, i int) bool {
	if body[i].tok != token.LPAREN {
		return false
	}
	depth := 0
	for j := i; j < len(body); j++ {
		switch body[j].tok {
		case token.LPAREN:
			depth++
		case token.RPAREN:
			depth--
			if depth == 0 {
				return j+2 < len(body) && body[j+1].tok == token.IDENT &&
					(body[j+2].tok == token.LPAREN || body[j+2].tok == token.LBRACK)
			}
		}
	}
	return false
}

type declBound struct {
	off, idx int
}

// declEnd returns the end of the declaration starting at body[j]: the
// first semicolon back at depth zero.
func declEnd(src string, body []tok, j int) declBound {
	depth := 0
	for k := j + 1; k < len(body); k++ {
		switch body[k].tok {
		case token.LPAREN, token.LBRACE, token.LBRACK:
			depth++
		case token.RPAREN, token.RBRACE, token.RBRACK:
			depth--
		case token.SEMICOLON:
			if depth == 0 {
				return declBound{off: min(body[k].off+1, len(src)), idx: k}
			}
		}
	}
	return declBound{off: len(src), idx: len(body)}
}

func sortSpans(s []span) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].start < s[j-1].start; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func isAsyncMarker(body []tok, j int) bool {
	switch t := body[j]; t.tok {
	case token.GO, token.SELECT, token.ARROW:
		return true
	case token.IDENT:
		if t.lit == "ctx" {
			return true
		}
		if t.lit == ToolsPackage && j+2 < len(body) && body[j+1].tok == token.PERIOD {
			next := body[j+2].lit
			return next == "Call" || next == "Chain"
		}
	}
	return false
}

// importedNames maps the package names bound by an import section.
func importedNames(section string) map[string]string {
	names := make(map[string]string)
	if strings.TrimSpace(section) == "" {
		return names
	}
	f, err := parser.ParseFile(token.NewFileSet(), "", "package p\n"+section, parser.ImportsOnly)
	if err != nil {
		return names
	}
	for _, imp := range f.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		name := path.Base(p)
		if imp.Name != nil {
			name = imp.Name.Name
		}
		names[name] = p
	}
	return names
}

func writeSegment(b *strings.Builder, src string, s span) {
	if s.start >= s.end {
		return
	}
	line, col := lineCol(src, s.start)
	b.WriteString(lineDirective(line, col))
	b.WriteString(src[s.start:s.end])
	b.WriteString("\n")
}

func lineDirective(line, col int) string {
	return fmt.Sprintf("/*line %s:%d:%d*/", ScriptName, line, col)
}

func lineCol(src string, off int) (int, int) {
	line := 1 + strings.Count(src[:off], "\n")
	col := off + 1
	if nl := strings.LastIndexByte(src[:off], '\n'); nl >= 0 {
		col = off - nl
	}
	return line, col
}
