// Package export renders a completed documentation tree.
//
// Three formats are supported:
//
//	json      the DocNode tree rooted at the project summary
//	markdown  one bundle: summary, module index, nested unit sections
//	html      the Markdown bundle rendered by goldmark into one page
//
// Every format keeps stable unit IDs and parent/child links. In Markdown
// and HTML each unit heading has an anchor derived from its ID and
// references are links to those anchors.
package export
