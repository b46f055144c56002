package runtime

import (
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rulesOf(t *testing.T, src string) []string {
	t.Helper()
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, ScriptName, src, 0)
	require.NoError(t, err)
	var rules []string
	for _, finding := range Inspect(fset, f) {
		rules = append(rules, finding.Rule)
	}
	return rules
}

func TestInspect(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"clean", `x := 1; _ = x`, nil},
		{"goroutine", `go func() {}()`, []string{RuleGoroutine}},
		{"spin", `for {}`, []string{RuleUnboundedLoop}},
		{"loop with break", `for { break }`, nil},
		{"loop with return", `for { return }`, nil},
		{"bounded loop", `for i := 0; i < 3; i++ {}`, nil},
		{"big make", `_ = make([]int, 0, 1<<30)`, nil},
		{"big literal make", `_ = make([]int, 100000000)`, []string{RuleLargeAllocation}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rulesOf(t, "package main\nfunc main() {\n"+tt.body+"\n}\n")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInspect_DotImport(t *testing.T) {
	got := rulesOf(t, "package main\nimport . \"strings\"\nfunc main() { _ = ToUpper }\n")
	assert.Equal(t, []string{RuleDotImport}, got)
}

func TestInspect_Position(t *testing.T) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, ScriptName, "package main\nfunc main() {\n\tgo func() {}()\n}\n", 0)
	require.NoError(t, err)
	findings := Inspect(fset, f)
	require.Len(t, findings, 1)
	assert.Equal(t, 3, findings[0].Pos.Line)
	assert.Equal(t, 2, findings[0].Pos.Column)
}
