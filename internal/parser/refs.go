package parser

import (
	"path"
	"strings"

	"github.com/dshills/ragdoc/pkg/types"
)

type refKind int

const (
	// refLocal names a top-level declaration in the same scope
	refLocal refKind = iota
	// refMember names owner.name in the same scope
	refMember
	// refQualified names a top-level declaration of another module
	refQualified
	// refImport names another module
	refImport
)

// rawRef is a textual reference found while parsing, before resolution.
// For refQualified and refImport, module holds the import path (Go) or the
// dotted module name (Python); level is the Python relative-import depth.
type rawRef struct {
	kind   refKind
	owner  string
	name   string
	module string
	level  int
}

// resolver turns raw references into unit IDs. Only names that map to
// exactly one known unit are kept, so references may miss but never lie.
type resolver struct {
	results []*fileResult

	// scope key -> qualified name -> unit IDs
	scopes map[string]map[string][]string

	goDirs    map[string][]string // directory -> module IDs in input order
	pyModules map[string]string   // file path -> module ID
}

func newResolver(results []*fileResult) *resolver {
	r := &resolver{
		results:   results,
		scopes:    make(map[string]map[string][]string),
		goDirs:    make(map[string][]string),
		pyModules: make(map[string]string),
	}
	for _, fr := range results {
		if fr == nil || fr.failure != nil || len(fr.units) == 0 {
			continue
		}
		module := fr.units[0]
		key := scopeKey(fr.lang, module.Path)
		if r.scopes[key] == nil {
			r.scopes[key] = make(map[string][]string)
		}
		for _, u := range fr.units[1:] {
			r.scopes[key][u.Name] = append(r.scopes[key][u.Name], u.ID)
		}
		switch fr.lang {
		case types.LangGo:
			dir := path.Dir(module.Path)
			r.goDirs[dir] = append(r.goDirs[dir], module.ID)
		case types.LangPython:
			r.pyModules[module.Path] = module.ID
		}
	}
	return r
}

// scopeKey groups Go files by package directory; Python names are file-scoped
func scopeKey(lang types.Language, filePath string) string {
	if lang == types.LangGo {
		return "go:" + path.Dir(filePath)
	}
	return "py:" + filePath
}

func (r *resolver) resolve() {
	for _, fr := range r.results {
		if fr == nil || fr.failure != nil {
			continue
		}
		for _, u := range fr.units {
			raw := fr.refs[u.ID]
			if len(raw) == 0 {
				continue
			}
			u.References = r.resolveAll(fr.lang, u, raw)
		}
	}
}

func (r *resolver) resolveAll(lang types.Language, u *types.CodeUnit, raw []rawRef) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, ref := range raw {
		switch ref.kind {
		case refLocal:
			add(r.lookup(scopeKey(lang, u.Path), ref.name))
		case refMember:
			add(r.lookup(scopeKey(lang, u.Path), ref.owner+"."+ref.name))
		case refQualified:
			if target := r.moduleFile(lang, u.Path, ref); target != "" {
				add(r.lookup(scopeKey(lang, target), ref.name))
			}
		case refImport:
			for _, id := range r.modules(lang, u.Path, ref) {
				add(id)
			}
		}
	}
	return out
}

// lookup returns the single unit with the given qualified name, or ""
func (r *resolver) lookup(key, name string) string {
	ids := r.scopes[key][name]
	if len(ids) != 1 {
		return ""
	}
	return ids[0]
}

// modules returns the module IDs an import refers to
func (r *resolver) modules(lang types.Language, from string, ref rawRef) []string {
	switch lang {
	case types.LangGo:
		if dir := r.goDir(ref.module); dir != "" && dir != path.Dir(from) {
			return r.goDirs[dir]
		}
	case types.LangPython:
		if p := r.pyModule(from, ref.module, ref.level); p != "" && p != from {
			return []string{r.pyModules[p]}
		}
	}
	return nil
}

// moduleFile returns a file path inside the referenced module, usable as a
// scope key source
func (r *resolver) moduleFile(lang types.Language, from string, ref rawRef) string {
	ids := r.modules(lang, from, ref)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// goDir maps an import path to the single repository directory it names
func (r *resolver) goDir(importPath string) string {
	var match string
	for dir := range r.goDirs {
		if dir == "." {
			continue
		}
		if importPath == dir || strings.HasSuffix(importPath, "/"+dir) {
			if match != "" {
				return ""
			}
			match = dir
		}
	}
	return match
}

// pyModule maps a dotted module name to the single repository file it names
func (r *resolver) pyModule(from, dotted string, level int) string {
	rel := strings.ReplaceAll(dotted, ".", "/")
	if level > 0 {
		base := path.Dir(from)
		for i := 1; i < level; i++ {
			base = path.Dir(base)
		}
		candidates := []string{path.Join(base, rel) + ".py", path.Join(base, rel, "__init__.py")}
		if rel == "" {
			candidates = []string{path.Join(base, "__init__.py")}
		}
		for _, c := range candidates {
			if _, ok := r.pyModules[c]; ok {
				return c
			}
		}
		return ""
	}
	if rel == "" {
		return ""
	}

	var match string
	for p := range r.pyModules {
		for _, suffix := range []string{rel + ".py", rel + "/__init__.py"} {
			if p == suffix || strings.HasSuffix(p, "/"+suffix) {
				if match != "" && match != p {
					return ""
				}
				match = p
			}
		}
	}
	return match
}
