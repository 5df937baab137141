package export

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragdoc/internal/parser"
	"github.com/dshills/ragdoc/pkg/types"
)

const calcPy = `def add(a, b):
    return a + b


def double(x):
    return add(x, x)
`

// testTree builds a tree whose fragments are generated bottom-up; double
// is a placeholder
func testTree(t *testing.T) *types.DocTree {
	t.Helper()
	forest, err := parser.New().Parse(context.Background(), []types.SourceFile{
		{Path: "calc.py", Text: calcPy},
		{Path: "bad.go", Text: "package bad\n\nfunc {\n"},
	})
	require.NoError(t, err)

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	next := func() time.Time {
		at = at.Add(time.Millisecond)
		return at
	}
	add := &types.Fragment{UnitID: "calc.py::add", Text: "Adds *two* numbers.", Sources: []string{"calc.py::add"}, GeneratedAt: next()}
	double := types.NewPlaceholder("calc.py::double", "generation failed")
	double.GeneratedAt = next()
	module := &types.Fragment{UnitID: "calc.py", Text: "Arithmetic helpers.", Sources: []string{"calc.py"}, GeneratedAt: next()}
	summary := &types.Fragment{UnitID: types.ProjectNodeID, Text: "A calculator.", Sources: []string{types.ProjectNodeID}, GeneratedAt: next()}

	tree := &types.DocTree{
		RepositoryID: "calc",
		JobID:        "job-1",
		Summary:      summary,
		Fragments: map[string]*types.Fragment{
			add.UnitID:    add,
			double.UnitID: double,
			module.UnitID: module,
		},
		Forest: forest,
	}
	require.NoError(t, tree.Validate())
	return tree
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"":         FormatJSON,
		"JSON":     FormatJSON,
		"md":       FormatMarkdown,
		"markdown": FormatMarkdown,
		" html ":   FormatHTML,
	}
	for in, want := range cases {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("pdf")
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.Equal(t, ".md", FormatMarkdown.Extension())
	assert.Equal(t, ".html", FormatHTML.Extension())
	assert.Equal(t, ".json", FormatJSON.Extension())
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, testTree(t)))

	var doc Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "calc", doc.RepositoryID)
	assert.Equal(t, "job-1", doc.JobID)
	assert.Equal(t, 3, doc.Units)
	assert.Equal(t, 1, doc.Placeholders)
	require.Len(t, doc.Failures, 1)
	assert.Equal(t, "bad.go", doc.Failures[0].Path)

	root := doc.Root
	require.NotNil(t, root)
	assert.Equal(t, types.ProjectNodeID, root.ID)
	assert.Equal(t, "A calculator.", root.Text)
	require.Len(t, root.Children, 1)

	module := root.Children[0]
	assert.Equal(t, "calc.py", module.ID)
	assert.Equal(t, types.ProjectNodeID, module.Parent)
	require.Len(t, module.Children, 2)
	assert.Equal(t, "calc.py::add", module.Children[0].ID)
	assert.Equal(t, "calc.py", module.Children[0].Parent)

	double := module.Children[1]
	assert.True(t, double.Placeholder)
	assert.Equal(t, []string{"calc.py::add"}, double.References)
}

func TestMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Markdown(&buf, testTree(t)))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# calc {#project}\n\nA calculator.\n\n"))
	assert.Contains(t, out, "> 1 file(s) could not be parsed: `bad.go`")
	assert.Contains(t, out, "- [calc.py](#calc-py)\n")
	assert.Contains(t, out, "## calc.py {#calc-py}\n\nArithmetic helpers.\n\n")
	assert.Contains(t, out, "### `add` {#calc-py-add}\n\n*function* in `calc.py`, lines 1-2\n\n")
	assert.Contains(t, out, "```python\ndef add(a, b)\n```")
	assert.Contains(t, out, "Adds *two* numbers.", "generated text is kept as Markdown")
	assert.Contains(t, out, "> *documentation unavailable: generation failed*")
	assert.Contains(t, out, "References: [calc.py::add](#calc-py-add)")

	// Modules come before their members.
	assert.Less(t, strings.Index(out, "{#calc-py}"), strings.Index(out, "{#calc-py-add}"))
	assert.Less(t, strings.Index(out, "{#calc-py-add}"), strings.Index(out, "{#calc-py-double}"))
}

func TestHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testTree(t), FormatHTML))
	out := buf.String()

	assert.Contains(t, out, "<title>calc documentation</title>")
	assert.Contains(t, out, `<h2 id="calc-py">calc.py</h2>`)
	assert.Contains(t, out, `<h3 id="calc-py-add"><code>add</code></h3>`)
	assert.Contains(t, out, `<a href="#calc-py-add">`)
	assert.Contains(t, out, "<em>two</em>")
	assert.NotContains(t, out, "{#", "heading attributes are consumed")
}

func TestWrite_Errors(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Write(&buf, testTree(t), Format("pdf")), ErrUnknownFormat)
	assert.ErrorIs(t, JSON(&buf, nil), ErrIncompleteTree)
	assert.ErrorIs(t, Markdown(&buf, &types.DocTree{}), ErrIncompleteTree)
	assert.ErrorIs(t, HTML(&buf, &types.DocTree{}), ErrIncompleteTree)
}

func TestAnchors(t *testing.T) {
	assert.Equal(t, "calc-py-calc-total", slug("calc.py::Calc.total"))
	assert.Equal(t, "unit", slug("::"))

	span := types.Span{StartLine: 1, EndLine: 1}
	forest, err := types.NewForest([]*types.CodeUnit{
		{ID: "a.py", Kind: types.KindModule, Name: "a.py", Path: "a.py", Span: span,
			Children: []string{"a.py::f", "a.py::f#2", "a.py::f.2"}},
		{ID: "a.py::f", Kind: types.KindFunction, Name: "f", Path: "a.py", Span: span, Parent: "a.py"},
		{ID: "a.py::f#2", Kind: types.KindFunction, Name: "f", Path: "a.py", Span: span, Parent: "a.py"},
		{ID: "a.py::f.2", Kind: types.KindFunction, Name: "f.2", Path: "a.py", Span: span, Parent: "a.py"},
	}, nil)
	require.NoError(t, err)

	a := newAnchors(forest)
	assert.Equal(t, "a-py-f", a.get("a.py::f"))
	assert.Equal(t, "a-py-f-2", a.get("a.py::f#2"))
	assert.Equal(t, "a-py-f-2-2", a.get("a.py::f.2"), "colliding slugs get a suffix")
	assert.Equal(t, projectAnchor, a.get(types.ProjectNodeID))
}
