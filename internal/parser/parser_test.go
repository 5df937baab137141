package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragdoc/pkg/types"
)

const calcGo = `package calc

import "fmt"

// Adder adds numbers.
type Adder struct {
	base int
}

// Add returns the sum.
func (a *Adder) Add(x int) int {
	return a.base + helper(x)
}

func helper(x int) int {
	return x
}

func Run() {
	a := &Adder{}
	fmt.Println(a.Add(1))
}
`

func parse(t *testing.T, files ...types.SourceFile) *types.Forest {
	t.Helper()
	forest, err := New().Parse(context.Background(), files)
	require.NoError(t, err)
	return forest
}

func ids(units []*types.CodeUnit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.ID
	}
	return out
}

func mustGet(t *testing.T, f *types.Forest, id string) *types.CodeUnit {
	t.Helper()
	u, ok := f.Get(id)
	require.True(t, ok, "unit %s not found", id)
	return u
}

func TestNew(t *testing.T) {
	p := New(WithWorkers(2))
	assert.NotNil(t, p)
	assert.Equal(t, 2, p.workers)
	assert.NotNil(t, p.logger)
}

func TestParse_GoFile(t *testing.T) {
	forest := parse(t, types.SourceFile{Path: "calc.go", Text: calcGo})

	assert.Equal(t, []string{
		"calc.go",
		"calc.go::Adder",
		"calc.go::Adder.Add",
		"calc.go::helper",
		"calc.go::Run",
	}, ids(forest.Units))
	assert.Empty(t, forest.Failures)

	module := mustGet(t, forest, "calc.go")
	assert.Equal(t, types.KindModule, module.Kind)
	assert.Equal(t, "package calc", module.Signature)
	assert.Equal(t, []string{"fmt"}, module.Imports)
	assert.Equal(t, []string{"calc.go::Adder", "calc.go::helper", "calc.go::Run"}, module.Children)

	adder := mustGet(t, forest, "calc.go::Adder")
	assert.Equal(t, types.KindClass, adder.Kind)
	assert.Equal(t, "Adder adds numbers.", adder.DocComment)
	assert.Equal(t, 6, adder.Span.StartLine)
	assert.Equal(t, 8, adder.Span.EndLine)
	assert.Equal(t, []string{"calc.go::Adder.Add"}, adder.Children)

	add := mustGet(t, forest, "calc.go::Adder.Add")
	assert.Equal(t, "calc.go::Adder", add.Parent)
	assert.Equal(t, "func (*Adder) Add(x int) int", add.Signature)
	assert.Equal(t, []string{"calc.go::helper"}, add.References)
	assert.Equal(t, calcGo[add.Span.StartByte:add.Span.EndByte], add.Source)

	run := mustGet(t, forest, "calc.go::Run")
	assert.Equal(t, []string{"calc.go::Adder"}, run.References, "stdlib calls are never resolved")

	helper := mustGet(t, forest, "calc.go::helper")
	assert.True(t, helper.IsLeaf())
	assert.Contains(t, helper.Source, "func helper")
}

func TestParse_GoMethodsAcrossFiles(t *testing.T) {
	a := `package pkg

func (t T) A() { t.B() }

type T struct{}
`
	b := `package pkg

func (t T) B() {}

func Use() { T{}.A() }
`
	forest := parse(t,
		types.SourceFile{Path: "pkg/a.go", Text: a},
		types.SourceFile{Path: "pkg/b.go", Text: b},
	)

	// A is declared before T but still nests under it.
	methodA := mustGet(t, forest, "pkg/a.go::T.A")
	assert.Equal(t, "pkg/a.go::T", methodA.Parent)
	assert.Equal(t, []string{"pkg/b.go::T.B"}, methodA.References)

	// B's receiver lives in another file, so B stays under its module.
	methodB := mustGet(t, forest, "pkg/b.go::T.B")
	assert.Equal(t, "pkg/b.go", methodB.Parent)

	use := mustGet(t, forest, "pkg/b.go::Use")
	assert.Equal(t, []string{"pkg/a.go::T"}, use.References)
}

func TestParse_GoImportsResolveToModules(t *testing.T) {
	util := "package util\n\nfunc Clamp(v int) int { return v }\n"
	app := `package app

import "example.com/proj/util"

func Main() int { return util.Clamp(3) }
`
	forest := parse(t,
		types.SourceFile{Path: "util/util.go", Text: util},
		types.SourceFile{Path: "app/app.go", Text: app},
	)

	module := mustGet(t, forest, "app/app.go")
	assert.Equal(t, []string{"util/util.go"}, module.References)

	main := mustGet(t, forest, "app/app.go::Main")
	assert.Equal(t, []string{"util/util.go::Clamp"}, main.References)
}

func TestParse_GoDuplicateNames(t *testing.T) {
	src := "package x\n\nfunc init() {}\n\nfunc init() {}\n"
	forest := parse(t, types.SourceFile{Path: "x.go", Text: src})

	assert.Equal(t, []string{"x.go", "x.go::init", "x.go::init#2"}, ids(forest.Units))
}

func TestParse_SyntaxErrorIsolated(t *testing.T) {
	broken := "package main\n\nfunc incomplete( {\n}\n"
	forest := parse(t,
		types.SourceFile{Path: "bad.go", Text: broken},
		types.SourceFile{Path: "calc.go", Text: calcGo},
	)

	require.Len(t, forest.Failures, 1)
	failure := forest.Failures[0]
	assert.Equal(t, "bad.go", failure.Path)
	assert.Equal(t, types.KindUnparseable, failure.Stub.Kind)
	assert.Equal(t, 3, failure.Err.Line)

	_, ok := forest.Get("bad.go")
	assert.False(t, ok, "failed files never enter the forest")
	assert.Equal(t, 5, forest.Len())
}

func TestParse_FailureKinds(t *testing.T) {
	tests := []struct {
		name string
		file types.SourceFile
	}{
		{"empty go file", types.SourceFile{Path: "empty.go", Text: ""}},
		{"unsupported language", types.SourceFile{Path: "main.rs", Text: "fn main() {}"}},
		{"python unclosed paren", types.SourceFile{Path: "a.py", Text: "def broken(:\n    pass\n"}},
		{"python unexpected indent", types.SourceFile{Path: "a.py", Text: "x = 1\n    y = 2\n"}},
		{"python bad dedent", types.SourceFile{Path: "a.py", Text: "if x:\n        y = 1\n    z = 2\n"}},
		{"python missing body", types.SourceFile{Path: "a.py", Text: "def f():\n"}},
		{"python missing colon", types.SourceFile{Path: "a.py", Text: "def f()\n    return 1\n"}},
		{"python unterminated string", types.SourceFile{Path: "a.py", Text: "x = 'abc\n"}},
		{"python unterminated docstring", types.SourceFile{Path: "a.py", Text: "\"\"\"never closed\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forest := parse(t, tt.file)
			assert.Equal(t, 0, forest.Len())
			require.Len(t, forest.Failures, 1)
			assert.NotEmpty(t, forest.Failures[0].Err.Message)
		})
	}
}

func TestParse_DuplicatePath(t *testing.T) {
	forest := parse(t,
		types.SourceFile{Path: "calc.go", Text: calcGo},
		types.SourceFile{Path: "calc.go", Text: calcGo},
	)
	assert.Equal(t, 5, forest.Len())
	require.Len(t, forest.Failures, 1)
	assert.Equal(t, "duplicate file path", forest.Failures[0].Err.Message)
}

func TestParse_Deterministic(t *testing.T) {
	files := []types.SourceFile{
		{Path: "calc.go", Text: calcGo},
		{Path: "pkg/math.py", Text: mathPy},
		{Path: "pkg/util.py", Text: utilPy},
	}
	first := parse(t, files...)
	for i := 0; i < 5; i++ {
		again := parse(t, files...)
		require.Equal(t, ids(first.Units), ids(again.Units))
		for j, u := range first.Units {
			assert.Equal(t, u.Children, again.Units[j].Children)
			assert.Equal(t, u.References, again.Units[j].References)
			assert.Equal(t, u.Span, again.Units[j].Span)
		}
	}
}

func TestParse_Empty(t *testing.T) {
	forest := parse(t)
	assert.Equal(t, 0, forest.Len())
	assert.Empty(t, forest.Failures)
}

func TestParse_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Parse(ctx, []types.SourceFile{{Path: "calc.go", Text: calcGo}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseFile(t *testing.T) {
	units, failure := New().ParseFile(types.SourceFile{Path: "calc.go", Text: calcGo})
	require.Nil(t, failure)
	assert.Len(t, units, 5)

	_, failure = New().ParseFile(types.SourceFile{Path: "bad.go", Text: "package"})
	require.NotNil(t, failure)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, types.LangGo, DetectLanguage("a/b.go"))
	assert.Equal(t, types.LangPython, DetectLanguage("a/b.PY"))
	assert.Equal(t, types.Language(""), DetectLanguage("README.md"))
	assert.True(t, Supported("x.go"))
	assert.False(t, Supported("x.js"))
}

func TestDetectRoles(t *testing.T) {
	src := `package repo

type UserRepository struct{}

type OrderAggregate struct{}

func NewUserRepository() *UserRepository { return nil }
`
	forest := parse(t, types.SourceFile{Path: "repo.go", Text: src})

	assert.Equal(t, []string{RoleRepository}, mustGet(t, forest, "repo.go::UserRepository").Roles)
	assert.Equal(t, []string{RoleAggregateRoot, RoleEntity}, mustGet(t, forest, "repo.go::OrderAggregate").Roles)
	assert.Equal(t, []string{RoleConstructor}, mustGet(t, forest, "repo.go::NewUserRepository").Roles)
}
