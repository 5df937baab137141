// Package parser converts source files into a forest of code units.
//
// Go files are parsed with the standard library (go/parser, go/ast).
// Python files are scanned by indentation: strings and comments are masked,
// physical lines are joined into logical lines, and class/def statements
// open blocks that close on dedent.
//
// # Basic Usage
//
//	p := parser.New(parser.WithWorkers(8))
//	forest, err := p.Parse(ctx, []types.SourceFile{
//	    {Path: "calc/calc.go", Text: src},
//	})
//	if err != nil {
//	    return err // cancelled, or the forest failed validation
//	}
//
//	for _, failure := range forest.Failures {
//	    fmt.Printf("skipped %s: %v\n", failure.Path, failure.Err)
//	}
//
// # Units
//
// Every file becomes a module unit. Go structs and interfaces, and Python
// classes, become class units. Functions and methods become function
// units. A Go method nests under its receiver type when the type is
// declared in the same file; otherwise it sits under its module with the
// qualified name "Recv.Method".
//
// Unit IDs are "<path>::<qualified name>" (modules use the bare path).
// Repeated names in one file get "#2", "#3", ... in source order.
//
// # References
//
// References are resolved after every file is parsed. A call, composite
// literal or import is kept only when it names exactly one known unit:
//
//	Go      same package directory, receiver methods, imported repo packages
//	Python  same file, self/cls methods, from-imports, module aliases
//
// Unresolved and ambiguous names are dropped, so references can be missing
// but are never wrong.
//
// # Error Handling
//
// A file that cannot be parsed is returned in Forest.Failures as a
// *types.ParseError with a module stub of kind "unparseable". The rest of
// the run continues.
package parser
