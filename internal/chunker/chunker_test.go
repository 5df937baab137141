package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragdoc/internal/parser"
	"github.com/dshills/ragdoc/pkg/types"
)

const greetGo = `package greet

import (
	"fmt"
	"strings"
)

// Greeter greets people.
type Greeter struct{}

// Greet prints a greeting message
func (g Greeter) Greet(name string) {
	fmt.Println("Hello, " + strings.TrimSpace(name))
}
`

func forestOf(t *testing.T, src string) *types.Forest {
	t.Helper()
	forest, err := parser.New().Parse(context.Background(), []types.SourceFile{{Path: "greet/greet.go", Text: src}})
	require.NoError(t, err)
	require.Empty(t, forest.Failures)
	return forest
}

func TestNew(t *testing.T) {
	c := New()
	assert.NotNil(t, c)
}

func TestPrepare_Method(t *testing.T) {
	forest := forestOf(t, greetGo)
	unit, ok := forest.Get("greet/greet.go::Greeter.Greet")
	require.True(t, ok)

	chunk := New().Prepare(unit, forest, 0)

	assert.Equal(t, unit.ID, chunk.UnitID)
	assert.False(t, chunk.Truncated)
	assert.True(t, strings.HasPrefix(chunk.Text, "function Greeter.Greet\n"))
	assert.Contains(t, chunk.Text, "func (Greeter) Greet(name string)")
	assert.Contains(t, chunk.Text, "Greet prints a greeting message")
	assert.Contains(t, chunk.Text, `fmt.Println("Hello, "`)

	assert.Contains(t, chunk.Context, "file: greet/greet.go")
	assert.Contains(t, chunk.Context, "language: go")
	assert.Contains(t, chunk.Context, "within: package greet > type Greeter struct { ... } // 0 fields")
	assert.Contains(t, chunk.Context, "imports: fmt, strings")
	assert.Equal(t, EstimateTokenCount(chunk.Text)+EstimateTokenCount(chunk.Context), chunk.TokenCount)
}

func TestPrepare_Module(t *testing.T) {
	forest := forestOf(t, greetGo)
	unit, ok := forest.Get("greet/greet.go")
	require.True(t, ok)

	chunk := New().Prepare(unit, forest, 0)
	assert.NotContains(t, chunk.Context, "within:")
	assert.Contains(t, chunk.Context, "imports: fmt, strings")
	assert.Contains(t, chunk.Text, "type Greeter struct{}")
}

func TestPrepare_Truncates(t *testing.T) {
	var body strings.Builder
	body.WriteString("package big\n\nfunc Big() {\n")
	for i := 0; i < 400; i++ {
		body.WriteString("\tprintln(\"line of filler text\")\n")
	}
	body.WriteString("}\n")

	forest := forestOf(t, body.String())
	unit, ok := forest.Get("greet/greet.go::Big")
	require.True(t, ok)

	chunk := New().Prepare(unit, forest, 100)
	assert.True(t, chunk.Truncated)
	assert.LessOrEqual(t, len(chunk.Text)+len(chunk.Context), 100*TokensPerChar)
	assert.LessOrEqual(t, chunk.TokenCount, 100)
	assert.True(t, strings.HasSuffix(chunk.Text, "..."))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"fits", "abc", 10, "abc"},
		{"no room", "abcdefgh", 3, ""},
		{"cuts bytes", "abcdefghij", 8, "abcd\n..."},
		{"prefers newline", "abcdefghij\nklmnop", 16, "abcdefghij\n..."},
		{"keeps runes whole", "ééééé", 7, "é\n..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.limit))
		})
	}
}

func TestEstimateTokenCount(t *testing.T) {
	assert.Equal(t, 0, EstimateTokenCount(""))
	assert.Equal(t, 2, EstimateTokenCount("12345678"))
}
