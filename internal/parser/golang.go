package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/ragdoc/pkg/types"
)

// parseGo parses a Go file. Structs and interfaces become class units;
// functions and methods become function units. A method nests under its
// receiver type when that type is declared in the same file.
func parseGo(file types.SourceFile) *fileResult {
	fset := token.NewFileSet()
	astFile, err := parser.ParseFile(fset, file.Path, file.Text, parser.ParseComments)
	if err != nil {
		// The partial AST is discarded so the forest only holds exact spans.
		return failedFile(file, goParseError(file.Path, err))
	}

	e := &goExtractor{
		fset:    fset,
		file:    astFile,
		src:     file.Text,
		path:    file.Path,
		ids:     newIDAllocator(),
		byID:    make(map[string]*types.CodeUnit),
		classes: make(map[string]*types.CodeUnit),
		imports: make(map[string]string),
		refs:    make(map[string][]rawRef),
	}
	return e.extract(file)
}

func goParseError(filePath string, err error) *types.ParseError {
	if list, ok := err.(scanner.ErrorList); ok && len(list) > 0 {
		first := list[0]
		return &types.ParseError{
			File:    filePath,
			Line:    first.Pos.Line,
			Column:  first.Pos.Column,
			Message: first.Msg,
		}
	}
	return &types.ParseError{File: filePath, Message: err.Error()}
}

// goExtractor walks one Go AST
type goExtractor struct {
	fset    *token.FileSet
	file    *ast.File
	src     string
	path    string
	ids     *idAllocator
	byID    map[string]*types.CodeUnit
	classes map[string]*types.CodeUnit // type name -> class unit
	imports map[string]string          // local package name -> import path
	refs    map[string][]rawRef
}

func (e *goExtractor) extract(file types.SourceFile) *fileResult {
	module := newModule(file, types.LangGo)
	module.Signature = "package " + e.file.Name.Name
	module.DocComment = docText(e.file.Doc)
	e.byID[module.ID] = module

	for _, imp := range e.file.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		module.Imports = append(module.Imports, p)
		e.refs[module.ID] = append(e.refs[module.ID], rawRef{kind: refImport, module: p})
		if imp.Name != nil {
			if imp.Name.Name != "_" && imp.Name.Name != "." {
				e.imports[imp.Name.Name] = p
			}
			continue
		}
		e.imports[p[strings.LastIndex(p, "/")+1:]] = p
	}

	// Types first so that methods declared before their receiver still nest.
	var topLevel []*types.CodeUnit
	for _, decl := range e.file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			if u := e.extractTypeSpec(gen, spec.(*ast.TypeSpec), module); u != nil {
				topLevel = append(topLevel, u)
			}
		}
	}

	for _, decl := range e.file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		u := e.extractFunction(fn, module)
		if u.Parent == module.ID {
			topLevel = append(topLevel, u)
		}
	}

	sortBySpan(topLevel)
	module.Children = idsOf(topLevel)
	for _, class := range e.classes {
		children := make([]*types.CodeUnit, 0, len(class.Children))
		for _, id := range class.Children {
			children = append(children, e.byID[id])
		}
		sortBySpan(children)
		class.Children = idsOf(children)
	}

	return &fileResult{
		lang:  types.LangGo,
		units: preorder(module, e.byID),
		refs:  e.refs,
	}
}

// extractTypeSpec creates a class unit for struct and interface types
func (e *goExtractor) extractTypeSpec(gen *ast.GenDecl, spec *ast.TypeSpec, module *types.CodeUnit) *types.CodeUnit {
	var sig string
	switch t := spec.Type.(type) {
	case *ast.StructType:
		sig = e.structSignature(spec.Name.Name, t)
	case *ast.InterfaceType:
		sig = e.interfaceSignature(spec.Name.Name, t)
	default:
		return nil
	}

	start, doc := spec.Pos(), spec.Doc
	if !gen.Lparen.IsValid() {
		start, doc = gen.Pos(), gen.Doc
	}

	name := spec.Name.Name
	u := &types.CodeUnit{
		ID:         e.ids.next(e.path, name),
		Kind:       types.KindClass,
		Name:       name,
		Path:       e.path,
		Language:   types.LangGo,
		Signature:  sig,
		DocComment: docText(doc),
		Parent:     module.ID,
	}
	e.setSpan(u, start, spec.End())
	e.byID[u.ID] = u
	if _, dup := e.classes[name]; !dup {
		e.classes[name] = u
	}

	if st, ok := spec.Type.(*ast.StructType); ok && st.Fields != nil {
		for _, field := range st.Fields.List {
			e.collectTypeRefs(u.ID, field.Type)
		}
	}
	return u
}

// extractFunction creates a function unit for a func or method declaration
func (e *goExtractor) extractFunction(fn *ast.FuncDecl, module *types.CodeUnit) *types.CodeUnit {
	name := fn.Name.Name
	parent := module
	var recvType, recvName string
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		field := fn.Recv.List[0]
		recvType = receiverType(field.Type)
		if len(field.Names) > 0 {
			recvName = field.Names[0].Name
		}
		if recvType != "" {
			name = recvType + "." + name
			if class, ok := e.classes[recvType]; ok {
				parent = class
			}
		}
	}

	u := &types.CodeUnit{
		ID:         e.ids.next(e.path, name),
		Kind:       types.KindFunction,
		Name:       name,
		Path:       e.path,
		Language:   types.LangGo,
		Signature:  e.functionSignature(fn),
		DocComment: docText(fn.Doc),
		Parent:     parent.ID,
	}
	e.setSpan(u, fn.Pos(), fn.End())
	e.byID[u.ID] = u
	if parent != module {
		parent.Children = append(parent.Children, u.ID)
	}

	if fn.Body != nil {
		e.collectCalls(u.ID, fn.Body, recvType, recvName)
	}
	return u
}

// collectCalls records calls and composite literals found in a body
func (e *goExtractor) collectCalls(unitID string, body *ast.BlockStmt, recvType, recvName string) {
	ast.Inspect(body, func(node ast.Node) bool {
		switch n := node.(type) {
		case *ast.CallExpr:
			e.collectCallee(unitID, n.Fun, recvType, recvName)
		case *ast.CompositeLit:
			e.collectTypeRefs(unitID, n.Type)
		}
		return true
	})
}

func (e *goExtractor) collectCallee(unitID string, fun ast.Expr, recvType, recvName string) {
	switch f := fun.(type) {
	case *ast.Ident:
		if packageLevel(f) {
			e.refs[unitID] = append(e.refs[unitID], rawRef{kind: refLocal, name: f.Name})
		}
	case *ast.SelectorExpr:
		x, ok := f.X.(*ast.Ident)
		if !ok {
			return
		}
		if recvName != "" && x.Name == recvName && x.Obj != nil && x.Obj.Kind == ast.Var {
			e.refs[unitID] = append(e.refs[unitID], rawRef{kind: refMember, owner: recvType, name: f.Sel.Name})
			return
		}
		if x.Obj == nil {
			if importPath, ok := e.imports[x.Name]; ok {
				e.refs[unitID] = append(e.refs[unitID], rawRef{kind: refQualified, module: importPath, name: f.Sel.Name})
			}
		}
	case *ast.IndexExpr:
		e.collectCallee(unitID, f.X, recvType, recvName)
	case *ast.IndexListExpr:
		e.collectCallee(unitID, f.X, recvType, recvName)
	}
}

// collectTypeRefs records references to package-level type names
func (e *goExtractor) collectTypeRefs(unitID string, expr ast.Expr) {
	switch t := expr.(type) {
	case *ast.Ident:
		if packageLevel(t) {
			e.refs[unitID] = append(e.refs[unitID], rawRef{kind: refLocal, name: t.Name})
		}
	case *ast.StarExpr:
		e.collectTypeRefs(unitID, t.X)
	case *ast.ArrayType:
		e.collectTypeRefs(unitID, t.Elt)
	case *ast.MapType:
		e.collectTypeRefs(unitID, t.Key)
		e.collectTypeRefs(unitID, t.Value)
	case *ast.SelectorExpr:
		if x, ok := t.X.(*ast.Ident); ok && x.Obj == nil {
			if importPath, ok := e.imports[x.Name]; ok {
				e.refs[unitID] = append(e.refs[unitID], rawRef{kind: refQualified, module: importPath, name: t.Sel.Name})
			}
		}
	}
}

// packageLevel reports whether an identifier can refer to a package-level
// declaration. Identifiers bound to locals or parameters are skipped.
func packageLevel(id *ast.Ident) bool {
	if id.Obj == nil {
		return true
	}
	return id.Obj.Kind == ast.Fun || id.Obj.Kind == ast.Typ
}

func (e *goExtractor) setSpan(u *types.CodeUnit, start, end token.Pos) {
	s := e.fset.Position(start)
	t := e.fset.Position(end)
	u.Span = types.Span{
		StartLine: s.Line,
		EndLine:   t.Line,
		StartByte: s.Offset,
		EndByte:   t.Offset,
	}
	u.Source = e.src[s.Offset:t.Offset]
}

// receiverType extracts the receiver type name from a method
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}

// functionSignature builds a function signature string
func (e *goExtractor) functionSignature(fn *ast.FuncDecl) string {
	var sig strings.Builder

	sig.WriteString("func ")
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		sig.WriteString("(")
		sig.WriteString(exprToString(fn.Recv.List[0].Type))
		sig.WriteString(") ")
	}
	sig.WriteString(fn.Name.Name)

	sig.WriteString("(")
	if fn.Type.Params != nil {
		sig.WriteString(fieldListToString(fn.Type.Params))
	}
	sig.WriteString(")")

	if fn.Type.Results != nil {
		results := fieldListToString(fn.Type.Results)
		if results != "" {
			if fn.Type.Results.NumFields() > 1 || len(fn.Type.Results.List[0].Names) > 0 {
				sig.WriteString(" (")
				sig.WriteString(results)
				sig.WriteString(")")
			} else {
				sig.WriteString(" ")
				sig.WriteString(results)
			}
		}
	}

	return sig.String()
}

func (e *goExtractor) structSignature(name string, structType *ast.StructType) string {
	fieldCount := 0
	if structType.Fields != nil {
		fieldCount = structType.Fields.NumFields()
	}
	return fmt.Sprintf("type %s struct { ... } // %d fields", name, fieldCount)
}

func (e *goExtractor) interfaceSignature(name string, interfaceType *ast.InterfaceType) string {
	methodCount := 0
	if interfaceType.Methods != nil {
		methodCount = interfaceType.Methods.NumFields()
	}
	return fmt.Sprintf("type %s interface { ... } // %d methods", name, methodCount)
}

// fieldListToString converts a field list to a string representation
func fieldListToString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}

	var parts []string
	for _, field := range fieldList.List {
		typeStr := exprToString(field.Type)
		if len(field.Names) > 0 {
			for _, name := range field.Names {
				parts = append(parts, fmt.Sprintf("%s %s", name.Name, typeStr))
			}
		} else {
			parts = append(parts, typeStr)
		}
	}

	return strings.Join(parts, ", ")
}

// exprToString converts an expression to a string representation
func exprToString(expr ast.Expr) string {
	if expr == nil {
		return ""
	}

	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprToString(t.X)
	case *ast.ArrayType:
		if t.Len != nil {
			return "[" + exprToString(t.Len) + "]" + exprToString(t.Elt)
		}
		return "[]" + exprToString(t.Elt)
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", exprToString(t.Key), exprToString(t.Value))
	case *ast.ChanType:
		return "chan " + exprToString(t.Value)
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.SelectorExpr:
		return exprToString(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + exprToString(t.Elt)
	case *ast.IndexExpr:
		return exprToString(t.X) + "[" + exprToString(t.Index) + "]"
	case *ast.IndexListExpr:
		args := make([]string, len(t.Indices))
		for i, idx := range t.Indices {
			args[i] = exprToString(idx)
		}
		return exprToString(t.X) + "[" + strings.Join(args, ", ") + "]"
	case *ast.BasicLit:
		return t.Value
	default:
		return "..."
	}
}

func docText(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}

func sortBySpan(units []*types.CodeUnit) {
	sort.SliceStable(units, func(i, j int) bool {
		return units[i].Span.StartByte < units[j].Span.StartByte
	})
}

func idsOf(units []*types.CodeUnit) []string {
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	return ids
}
