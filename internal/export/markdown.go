package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/ragdoc/pkg/types"
)

// maxHeading is the deepest Markdown heading level
const maxHeading = 6

// Markdown writes the tree as one bundle: the project summary, an index of
// modules, then a section per module with its classes and functions nested
// below. Every heading carries an {#anchor} attribute derived from the unit
// ID, and references link to those anchors.
func Markdown(w io.Writer, tree *types.DocTree) error {
	if err := checkTree(tree); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	r := &markdownRenderer{w: bw, tree: tree, anchors: newAnchors(tree.Forest)}
	r.render()
	return bw.Flush()
}

type markdownRenderer struct {
	w       *bufio.Writer
	tree    *types.DocTree
	anchors *anchors
}

func (r *markdownRenderer) render() {
	root := r.tree.Root()
	title := root.Name
	if title == "" {
		title = "Project"
	}
	fmt.Fprintf(r.w, "# %s {#%s}\n\n", escapeText(title), projectAnchor)
	r.paragraph(root.Text, root.Placeholder)

	if failures := r.tree.Forest.Failures; len(failures) > 0 {
		fmt.Fprintf(r.w, "> %d file(s) could not be parsed:", len(failures))
		for _, f := range failures {
			fmt.Fprintf(r.w, " `%s`", f.Path)
		}
		r.w.WriteString("\n\n")
	}

	r.w.WriteString("## Modules {#modules}\n\n")
	for _, m := range root.Children {
		fmt.Fprintf(r.w, "- [%s](#%s)", escapeText(m.Name), r.anchors.get(m.ID))
		if m.Placeholder {
			r.w.WriteString(" *(undocumented)*")
		}
		r.w.WriteString("\n")
	}
	r.w.WriteString("\n")

	for _, m := range root.Children {
		r.node(m, 2)
	}
}

func (r *markdownRenderer) node(n *types.DocNode, level int) {
	if level > maxHeading {
		level = maxHeading
	}
	fmt.Fprintf(r.w, "%s %s {#%s}\n\n", strings.Repeat("#", level), r.heading(n), r.anchors.get(n.ID))

	if n.Kind != types.KindModule {
		fmt.Fprintf(r.w, "*%s* in `%s`, lines %d-%d\n\n", n.Kind, n.Path, n.Span.StartLine, n.Span.EndLine)
	}
	if n.Signature != "" {
		fmt.Fprintf(r.w, "```%s\n%s\n```\n\n", r.language(n.ID), n.Signature)
	}
	r.paragraph(n.Text, n.Placeholder)

	if len(n.References) > 0 {
		links := make([]string, 0, len(n.References))
		for _, ref := range n.References {
			links = append(links, fmt.Sprintf("[%s](#%s)", escapeText(ref), r.anchors.get(ref)))
		}
		fmt.Fprintf(r.w, "References: %s\n\n", strings.Join(links, ", "))
	}

	for _, c := range n.Children {
		r.node(c, level+1)
	}
}

func (r *markdownRenderer) heading(n *types.DocNode) string {
	switch n.Kind {
	case types.KindModule:
		return escapeText(n.Name)
	default:
		return "`" + n.Name + "`"
	}
}

func (r *markdownRenderer) language(id string) string {
	if u, ok := r.tree.Forest.Get(id); ok {
		return string(u.Language)
	}
	return ""
}

func (r *markdownRenderer) paragraph(text string, placeholder bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if placeholder {
		fmt.Fprintf(r.w, "> *%s*\n\n", escapeText(text))
		return
	}
	r.w.WriteString(text)
	r.w.WriteString("\n\n")
}

// escapeText escapes characters that would start Markdown emphasis or
// attribute blocks inside names
func escapeText(s string) string {
	return markdownEscaper.Replace(s)
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`_`, `\_`,
	`[`, `\[`,
	`]`, `\]`,
	`{`, `\{`,
	`}`, `\}`,
	"`", "\\`",
	`<`, `\<`,
	`#`, `\#`,
)

const projectAnchor = "project"

// anchors assigns each unit a unique HTML id derived from its unit ID
type anchors struct {
	ids map[string]string
}

func newAnchors(forest *types.Forest) *anchors {
	a := &anchors{ids: make(map[string]string, forest.Len()+1)}
	used := map[string]bool{projectAnchor: true, "modules": true}
	for _, u := range forest.Units {
		base := slug(u.ID)
		id := base
		for n := 2; used[id]; n++ {
			id = fmt.Sprintf("%s-%d", base, n)
		}
		used[id] = true
		a.ids[u.ID] = id
	}
	a.ids[types.ProjectNodeID] = projectAnchor
	return a
}

func (a *anchors) get(unitID string) string {
	if id, ok := a.ids[unitID]; ok {
		return id
	}
	return slug(unitID)
}

// slug lowercases s and replaces every run of characters outside
// [a-z0-9] with one hyphen
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "unit"
	}
	return out
}
