package parser

import (
	"regexp"
	"strings"

	"github.com/dshills/ragdoc/pkg/types"
)

var (
	pyDefRe    = regexp.MustCompile(`^(?:async\s+)?(def|class)\s+([A-Za-z_]\w*)`)
	pyCallRe   = regexp.MustCompile(`([A-Za-z_][\w.]*)\s*\(`)
	pyImportRe = regexp.MustCompile(`^import\s+(.+)$`)
	pyFromRe   = regexp.MustCompile(`^from\s+(\.*)([\w.]*)\s+import\s+(.+)$`)

	// Statements that bind names in the current scope
	pyAssignRe = regexp.MustCompile(`^\(?\s*([A-Za-z_]\w*(?:\s*,\s*\*?[A-Za-z_]\w*)*)\s*,?\s*\)?\s*(?::[^=]+)?(?://|\*\*|>>|<<|[-+*/%&|^@])?=(?:[^=]|$)`)
	pyForRe    = regexp.MustCompile(`^(?:async\s+)?for\s+\(?([A-Za-z_][\w\s,*]*?)\)?\s+in\b`)
	pyAsRe     = regexp.MustCompile(`\bas\s+([A-Za-z_]\w*)`)
	pyWalrusRe = regexp.MustCompile(`([A-Za-z_]\w*)\s*:=`)
	pyScopeRe  = regexp.MustCompile(`^(?:global|nonlocal)\s+(.+)$`)
)

// pyLine is one logical line: physical lines joined by open brackets,
// multi-line strings or backslash continuations
type pyLine struct {
	firstLine int // 1-based
	lastLine  int
	start     int // byte offset of the first non-blank character
	end       int // byte offset after the last non-blank character
	indent    int
	code      string // masked text: string bodies and comments blanked
}

// pyBlock is a class or def whose body is still open while scanning
type pyBlock struct {
	unit   *types.CodeUnit
	parent *pyBlock
	indent int
	class  bool
	last   *pyLine // last line inside the block, nested blocks included
}

type pyImport struct {
	module string
	name   string // empty when the local name binds a module
	level  int
}

type pyScanner struct {
	path    string
	src     string
	ids     *idAllocator
	module  *types.CodeUnit
	byID    map[string]*types.CodeUnit
	refs    map[string][]rawRef
	owned   map[string][]*pyLine // unit ID -> logical lines it owns directly
	imports map[string]pyImport  // local name -> origin
	classOf map[string]string    // method unit ID -> enclosing class name
	params  map[string]string    // function unit ID -> header after the name
	locals  map[string]map[string]bool
}

// parsePython scans a Python file by indentation. It recognises class and
// def statements (async def and decorators included) and rejects files a
// Python compiler would reject for unterminated strings, unbalanced
// brackets or inconsistent indentation.
func parsePython(file types.SourceFile) *fileResult {
	masked, continued, perr := maskPython(file.Path, file.Text)
	if perr != nil {
		return failedFile(file, perr)
	}
	lines, perr := logicalLines(file.Path, file.Text, masked, continued)
	if perr != nil {
		return failedFile(file, perr)
	}

	s := &pyScanner{
		path:    file.Path,
		src:     file.Text,
		ids:     newIDAllocator(),
		byID:    make(map[string]*types.CodeUnit),
		refs:    make(map[string][]rawRef),
		owned:   make(map[string][]*pyLine),
		imports: make(map[string]pyImport),
		classOf: make(map[string]string),
		params:  make(map[string]string),
		locals:  make(map[string]map[string]bool),
	}
	s.module = newModule(file, types.LangPython)
	s.byID[s.module.ID] = s.module

	if perr := s.scan(lines); perr != nil {
		return failedFile(file, perr)
	}
	s.collectRefs()

	return &fileResult{
		lang:  types.LangPython,
		units: preorder(s.module, s.byID),
		refs:  s.refs,
	}
}

func (s *pyScanner) scan(lines []*pyLine) *types.ParseError {
	indents := []int{0}
	var (
		stack      []*pyBlock
		prev       *pyLine
		decorators *pyLine
	)
	docPending := map[string]bool{s.module.ID: true}

	closeBlocks := func(indent int) {
		for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
			b := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			s.finish(b)
		}
	}

	for _, ln := range lines {
		trimmed := strings.TrimSpace(ln.code)
		if perr := s.checkIndent(&indents, prev, ln); perr != nil {
			return perr
		}
		prev = ln

		closeBlocks(ln.indent)
		owner := s.module
		var enclosing *pyBlock
		if len(stack) > 0 {
			enclosing = stack[len(stack)-1]
			enclosing.last = ln
			owner = enclosing.unit
		}

		if strings.HasPrefix(trimmed, "@") {
			if decorators == nil {
				decorators = ln
			}
			continue
		}

		m := pyDefRe.FindStringSubmatch(trimmed)
		if m == nil {
			if decorators != nil {
				return s.errorAt(ln, "decorator must precede a def or class")
			}
			if docPending[owner.ID] {
				owner.DocComment = s.docstring(ln)
			}
			delete(docPending, owner.ID)
			s.owned[owner.ID] = append(s.owned[owner.ID], ln)
			continue
		}
		delete(docPending, owner.ID)

		rest := trimmed[len(m[0]):]
		if !hasBlockColon(rest) {
			return s.errorAt(ln, "expected ':'")
		}

		start := ln
		if decorators != nil {
			start, decorators = decorators, nil
		}

		isClass := m[1] == "class"
		u := s.newUnit(isClass, m[2], owner, start, ln)
		if !isClass {
			s.params[u.ID] = rest
			if enclosing != nil && enclosing.class {
				s.classOf[u.ID] = enclosing.unit.Name
			}
		}
		// Default values in the header may call other functions.
		s.owned[u.ID] = append(s.owned[u.ID], &pyLine{
			firstLine: ln.firstLine,
			lastLine:  ln.lastLine,
			start:     ln.start,
			end:       ln.end,
			indent:    ln.indent,
			code:      rest,
		})

		stack = append(stack, &pyBlock{unit: u, parent: enclosing, indent: ln.indent, class: isClass, last: ln})
		if strings.HasSuffix(trimmed, ":") {
			docPending[u.ID] = true
		}
	}

	if decorators != nil {
		return s.errorAt(decorators, "decorator must precede a def or class")
	}
	if prev != nil && strings.HasSuffix(strings.TrimSpace(prev.code), ":") {
		return &types.ParseError{File: s.path, Line: prev.lastLine + 1, Message: "expected an indented block"}
	}
	closeBlocks(0)
	return nil
}

// checkIndent applies Python's indentation rules to the next logical line
func (s *pyScanner) checkIndent(indents *[]int, prev, ln *pyLine) *types.ParseError {
	opensBlock := prev != nil && strings.HasSuffix(strings.TrimSpace(prev.code), ":")
	stack := *indents
	top := stack[len(stack)-1]

	switch {
	case ln.indent > top:
		if !opensBlock {
			return s.errorAt(ln, "unexpected indent")
		}
		stack = append(stack, ln.indent)
	case opensBlock:
		return s.errorAt(ln, "expected an indented block")
	case ln.indent < top:
		for len(stack) > 1 && stack[len(stack)-1] > ln.indent {
			stack = stack[:len(stack)-1]
		}
		if stack[len(stack)-1] != ln.indent {
			return s.errorAt(ln, "unindent does not match any outer indentation level")
		}
	}
	*indents = stack
	return nil
}

func (s *pyScanner) newUnit(class bool, name string, owner *types.CodeUnit, start, header *pyLine) *types.CodeUnit {
	qualified := name
	if owner != s.module {
		qualified = owner.Name + "." + name
	}
	kind := types.KindFunction
	if class {
		kind = types.KindClass
	}
	u := &types.CodeUnit{
		ID:        s.ids.next(s.path, qualified),
		Kind:      kind,
		Name:      qualified,
		Path:      s.path,
		Language:  types.LangPython,
		Signature: signatureText(s.src[header.start:header.end]),
		Parent:    owner.ID,
		Span: types.Span{
			StartLine: start.firstLine,
			StartByte: start.start,
		},
	}
	s.byID[u.ID] = u
	owner.Children = append(owner.Children, u.ID)
	return u
}

// finish closes a block once its body has ended and extends the enclosing
// block so that it covers the nested one
func (s *pyScanner) finish(b *pyBlock) {
	b.unit.Span.EndLine = b.last.lastLine
	b.unit.Span.EndByte = b.last.end
	b.unit.Source = s.src[b.unit.Span.StartByte:b.unit.Span.EndByte]
	if b.parent != nil && b.parent.last.end < b.last.end {
		b.parent.last = b.last
	}
}

// collectRefs scans the lines each unit owns for imports and calls
func (s *pyScanner) collectRefs() {
	for _, ln := range s.owned[s.module.ID] {
		s.collectImports(ln.code)
	}
	for _, u := range preorder(s.module, s.byID) {
		for _, ln := range s.owned[u.ID] {
			if u == s.module && isImportLine(ln.code) {
				continue
			}
			s.collectCalls(u, ln.code)
		}
	}
}

func isImportLine(code string) bool {
	code = strings.TrimSpace(code)
	return strings.HasPrefix(code, "import ") || strings.HasPrefix(code, "from ")
}

func (s *pyScanner) collectImports(code string) {
	code = strings.Join(strings.Fields(code), " ")

	if m := pyImportRe.FindStringSubmatch(code); m != nil {
		for _, part := range strings.Split(m[1], ",") {
			fields := strings.Fields(part)
			if len(fields) == 0 {
				continue
			}
			mod := fields[0]
			s.module.Imports = append(s.module.Imports, mod)
			s.refs[s.module.ID] = append(s.refs[s.module.ID], rawRef{kind: refImport, module: mod})
			switch {
			case len(fields) == 3 && fields[1] == "as":
				s.imports[fields[2]] = pyImport{module: mod}
			case !strings.Contains(mod, "."):
				s.imports[mod] = pyImport{module: mod}
			}
		}
		return
	}

	m := pyFromRe.FindStringSubmatch(code)
	if m == nil {
		return
	}
	level, mod := len(m[1]), m[2]
	s.module.Imports = append(s.module.Imports, m[1]+mod)
	if mod != "" {
		s.refs[s.module.ID] = append(s.refs[s.module.ID], rawRef{kind: refImport, module: mod, level: level})
	}
	names := strings.Trim(strings.TrimSpace(m[3]), "()")
	for _, part := range strings.Split(names, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 || fields[0] == "*" {
			continue
		}
		local := fields[0]
		if len(fields) == 3 && fields[1] == "as" {
			local = fields[2]
		}
		if mod == "" {
			// "from . import x" binds the module x
			s.imports[local] = pyImport{module: fields[0], level: level}
			s.refs[s.module.ID] = append(s.refs[s.module.ID], rawRef{kind: refImport, module: fields[0], level: level})
			continue
		}
		s.imports[local] = pyImport{module: mod, name: fields[0], level: level}
	}
}

func (s *pyScanner) collectCalls(u *types.CodeUnit, code string) {
	for _, loc := range pyCallRe.FindAllStringSubmatchIndex(code, -1) {
		if loc[0] > 0 {
			if c := code[loc[0]-1]; c == '.' || c == '_' || isAlnum(c) {
				continue
			}
		}
		if ref, ok := s.callRef(u, code[loc[2]:loc[3]]); ok {
			s.refs[u.ID] = append(s.refs[u.ID], ref)
		}
	}
}

// callRef classifies a called name: f(), self.m(), alias.f()
func (s *pyScanner) callRef(u *types.CodeUnit, callee string) (rawRef, bool) {
	parts := strings.Split(callee, ".")
	if parts[0] != "self" && parts[0] != "cls" && s.shadowed(u, parts[0]) {
		return rawRef{}, false
	}
	switch len(parts) {
	case 1:
		name := parts[0]
		if imp, ok := s.imports[name]; ok && imp.name != "" && !s.definedAtTop(name) {
			return rawRef{kind: refQualified, module: imp.module, name: imp.name, level: imp.level}, true
		}
		return rawRef{kind: refLocal, name: name}, true
	case 2:
		if parts[0] == "self" || parts[0] == "cls" {
			class, ok := s.classOf[u.ID]
			return rawRef{kind: refMember, owner: class, name: parts[1]}, ok
		}
		if imp, ok := s.imports[parts[0]]; ok && imp.name == "" {
			return rawRef{kind: refQualified, module: imp.module, name: parts[1], level: imp.level}, true
		}
	}
	return rawRef{}, false
}

// shadowed reports whether name is bound locally in u or in an enclosing
// function, so a call to it cannot be a module-level unit. Class bodies
// do not enclose the functions defined in them.
func (s *pyScanner) shadowed(u *types.CodeUnit, name string) bool {
	for cur := u; cur != nil && cur != s.module; {
		if s.localNames(cur)[name] {
			return true
		}
		parent := s.byID[cur.Parent]
		for parent != nil && parent.Kind == types.KindClass {
			parent = s.byID[parent.Parent]
		}
		cur = parent
	}
	return false
}

// localNames collects the names u binds: parameters, assignment and loop
// targets, "as" clauses, imports and nested def or class statements.
// Names declared global or nonlocal are left out.
func (s *pyScanner) localNames(u *types.CodeUnit) map[string]bool {
	if names, ok := s.locals[u.ID]; ok {
		return names
	}
	names := make(map[string]bool)
	for _, p := range pyParams(s.params[u.ID]) {
		names[p] = true
	}
	for _, id := range u.Children {
		child := s.byID[id].Name
		names[child[strings.LastIndexByte(child, '.')+1:]] = true
	}

	outer := make(map[string]bool)
	lines := s.owned[u.ID]
	if u != s.module && len(lines) > 0 {
		lines = lines[1:] // header
	}
	for _, ln := range lines {
		for _, stmt := range strings.Split(ln.code, ";") {
			stmt = strings.TrimSpace(stmt)
			if m := pyScopeRe.FindStringSubmatch(stmt); m != nil {
				for _, n := range strings.Split(m[1], ",") {
					outer[strings.TrimSpace(n)] = true
				}
				continue
			}
			for _, n := range boundNames(stmt) {
				names[n] = true
			}
		}
	}
	for n := range outer {
		delete(names, n)
	}
	s.locals[u.ID] = names
	return names
}

// boundNames returns the names one simple statement binds
func boundNames(stmt string) []string {
	var out []string
	addTargets := func(list string) {
		for _, t := range strings.Split(list, ",") {
			t = strings.TrimLeft(strings.TrimSpace(t), "*")
			if t != "" && !pyKeywords[t] {
				out = append(out, t)
			}
		}
	}

	if m := pyAssignRe.FindStringSubmatch(stmt); m != nil && !pyKeywords[strings.Fields(m[1])[0]] {
		addTargets(m[1])
	}
	if m := pyForRe.FindStringSubmatch(stmt); m != nil {
		addTargets(m[1])
	}
	for _, m := range pyAsRe.FindAllStringSubmatch(stmt, -1) {
		out = append(out, m[1])
	}
	for _, m := range pyWalrusRe.FindAllStringSubmatch(stmt, -1) {
		out = append(out, m[1])
	}

	code := strings.Join(strings.Fields(stmt), " ")
	if m := pyImportRe.FindStringSubmatch(code); m != nil {
		for _, part := range strings.Split(m[1], ",") {
			if fields := strings.Fields(part); len(fields) == 1 {
				out = append(out, strings.SplitN(fields[0], ".", 2)[0])
			}
		}
	} else if m := pyFromRe.FindStringSubmatch(code); m != nil {
		for _, part := range strings.Split(strings.Trim(m[3], "() "), ",") {
			if fields := strings.Fields(part); len(fields) == 1 && fields[0] != "*" {
				out = append(out, fields[0])
			}
		}
	}
	return out
}

// pyParams extracts parameter names from a def header such as
// "(self, x: int = f(), *args, **kw) -> T:"
func pyParams(header string) []string {
	open := strings.IndexByte(header, '(')
	if open < 0 {
		return nil
	}
	var (
		names []string
		depth int
		start = open + 1
	)
	flush := func(end int) {
		p := strings.TrimSpace(header[start:end])
		p = strings.TrimLeft(p, "*")
		if i := strings.IndexAny(p, ":="); i >= 0 {
			p = p[:i]
		}
		if p = strings.TrimSpace(p); p != "" && p != "/" {
			names = append(names, p)
		}
	}
	for i := open; i < len(header); i++ {
		switch header[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				flush(i)
				return names
			}
		case ',':
			if depth == 1 {
				flush(i)
				start = i + 1
			}
		}
	}
	return names
}

var pyKeywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true, "assert": true,
	"async": true, "await": true, "break": true, "class": true, "continue": true,
	"def": true, "del": true, "elif": true, "else": true, "except": true, "finally": true,
	"for": true, "from": true, "global": true, "if": true, "import": true, "in": true,
	"is": true, "lambda": true, "nonlocal": true, "not": true, "or": true, "pass": true,
	"raise": true, "return": true, "try": true, "while": true, "with": true, "yield": true,
}

func (s *pyScanner) definedAtTop(name string) bool {
	for _, id := range s.module.Children {
		if s.byID[id].Name == name {
			return true
		}
	}
	return false
}

// docstring returns the literal text when the line is a bare string
func (s *pyScanner) docstring(ln *pyLine) string {
	// The masked line keeps only prefixes and quotes, so anything else
	// means the line is an expression rather than a bare literal.
	if strings.Trim(strings.TrimSpace(ln.code), "rRuUbBfF\"' \n") != "" {
		return ""
	}
	body := strings.TrimLeft(strings.TrimSpace(s.src[ln.start:ln.end]), "rRuUbBfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(body, q) && strings.HasSuffix(body, q) && len(body) >= 2*len(q) {
			return strings.TrimSpace(body[len(q) : len(body)-len(q)])
		}
	}
	return ""
}

func (s *pyScanner) errorAt(ln *pyLine, msg string) *types.ParseError {
	return &types.ParseError{File: s.path, Line: ln.firstLine, Column: ln.indent + 1, Message: msg}
}

// hasBlockColon reports whether a header has a ':' outside brackets
func hasBlockColon(rest string) bool {
	depth := 0
	for _, c := range rest {
		switch c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ':':
			if depth == 0 {
				return true
			}
		}
	}
	return false
}

// signatureText collapses a def or class header onto one line without its
// trailing colon
func signatureText(header string) string {
	sig := strings.Join(strings.Fields(header), " ")
	return strings.TrimSuffix(sig, ":")
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// maskPython blanks string bodies and comments while keeping byte offsets
// and newlines. continued marks lines whose newline falls inside a string.
func maskPython(filePath, src string) ([]byte, map[int]bool, *types.ParseError) {
	out := []byte(src)
	continued := make(map[int]bool)
	line := 1
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				out[i] = ' '
				i++
			}
		case c == '"' || c == '\'':
			startLine := line
			quote := string(c)
			if strings.HasPrefix(src[i:], strings.Repeat(quote, 3)) {
				quote = strings.Repeat(quote, 3)
			}
			i += len(quote)
			closed := false
			for i < len(src) && !closed {
				switch {
				case src[i] == '\\' && i+1 < len(src):
					if src[i+1] == '\n' {
						continued[line] = true
						line++
					} else {
						out[i+1] = ' '
					}
					out[i] = ' '
					i += 2
				case strings.HasPrefix(src[i:], quote):
					i += len(quote)
					closed = true
				case src[i] == '\n':
					if len(quote) == 1 {
						return nil, nil, &types.ParseError{File: filePath, Line: startLine, Message: "unterminated string literal"}
					}
					continued[line] = true
					line++
					i++
				default:
					out[i] = ' '
					i++
				}
			}
			if !closed {
				msg := "unterminated string literal"
				if len(quote) == 3 {
					msg = "unterminated triple-quoted string literal"
				}
				return nil, nil, &types.ParseError{File: filePath, Line: startLine, Message: msg}
			}
		default:
			i++
		}
	}
	return out, continued, nil
}

// logicalLines groups physical lines into logical lines and checks that
// brackets balance
func logicalLines(filePath, src string, masked []byte, inString map[int]bool) ([]*pyLine, *types.ParseError) {
	var (
		lines   []*pyLine
		current *pyLine
		code    strings.Builder
		stack   []byte
		opened  []int
	)
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}

	lineNo := 0
	for offset := 0; offset <= len(masked); {
		lineNo++
		end := offset
		for end < len(masked) && masked[end] != '\n' {
			end++
		}
		physical := string(masked[offset:end])

		if current == nil {
			if strings.TrimSpace(physical) == "" {
				offset = end + 1
				continue
			}
			lead := len(physical) - len(strings.TrimLeft(physical, " \t\f"))
			current = &pyLine{firstLine: lineNo, start: offset + lead, indent: indentWidth(physical[:lead])}
			code.Reset()
			code.WriteString(physical[lead:])
		} else {
			code.WriteString("\n")
			code.WriteString(physical)
		}

		for j := offset; j < end; j++ {
			switch ch := masked[j]; ch {
			case '(', '[', '{':
				stack = append(stack, ch)
				opened = append(opened, lineNo)
			case ')', ']', '}':
				if len(stack) == 0 || stack[len(stack)-1] != pairs[ch] {
					return nil, &types.ParseError{File: filePath, Line: lineNo, Column: j - offset + 1, Message: "unmatched '" + string(ch) + "'"}
				}
				stack = stack[:len(stack)-1]
				opened = opened[:len(opened)-1]
			}
		}
		current.lastLine = lineNo
		current.end = trimRightOffset(src, offset, end)

		backslash := strings.HasSuffix(strings.TrimRight(physical, " \t\r"), "\\")
		if len(stack) == 0 && !backslash && !inString[lineNo] {
			current.code = code.String()
			lines = append(lines, current)
			current = nil
		}
		offset = end + 1
	}

	if len(stack) > 0 {
		return nil, &types.ParseError{File: filePath, Line: opened[len(opened)-1], Message: "'" + string(stack[len(stack)-1]) + "' was never closed"}
	}
	if current != nil {
		return nil, &types.ParseError{File: filePath, Line: current.firstLine, Message: "unexpected EOF after line continuation"}
	}
	return lines, nil
}

// indentWidth expands tabs to the next multiple of eight
func indentWidth(lead string) int {
	width := 0
	for _, ch := range lead {
		switch ch {
		case '\t':
			width = (width/8 + 1) * 8
		case ' ':
			width++
		}
	}
	return width
}

func trimRightOffset(src string, start, end int) int {
	for end > start && (src[end-1] == ' ' || src[end-1] == '\t' || src[end-1] == '\r') {
		end--
	}
	return end
}
