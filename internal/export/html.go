package export

import (
	"bytes"
	"fmt"
	"html"
	"io"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/dshills/ragdoc/pkg/types"
)

var markdownConverter = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Strikethrough),
	goldmark.WithParserOptions(
		parser.WithHeadingAttribute(),
	),
	goldmark.WithRendererOptions(
		gmhtml.WithXHTML(),
	),
)

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8" />
<title>%s</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 56rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
pre { background: #f5f5f5; padding: 0.75rem; overflow-x: auto; }
blockquote { color: #8a6d3b; border-left: 4px solid #f0ad4e; margin-left: 0; padding-left: 1rem; }
</style>
</head>
<body>
%s</body>
</html>
`

// HTML renders the Markdown bundle into a standalone page
func HTML(w io.Writer, tree *types.DocTree) error {
	var md bytes.Buffer
	if err := Markdown(&md, tree); err != nil {
		return err
	}

	var body bytes.Buffer
	if err := markdownConverter.Convert(md.Bytes(), &body); err != nil {
		return fmt.Errorf("failed to render HTML: %w", err)
	}

	title := tree.RepositoryID
	if title == "" {
		title = "Project"
	}
	_, err := fmt.Fprintf(w, pageTemplate, html.EscapeString(title+" documentation"), body.String())
	return err
}
