package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/ragdoc/pkg/types"
)

const noDescription = "No description available."

// Template is a deterministic generator. Its output is a pure function of
// the input, so pipeline tests never depend on a live model.
type Template struct{}

// NewTemplate creates a template generator
func NewTemplate() *Template {
	return &Template{}
}

func (t *Template) Name() string {
	return ProviderTemplate
}

func (t *Template) Generate(ctx context.Context, in Input) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	switch {
	case in.Project:
		t.project(&b, in)
	case in.Kind == types.KindModule:
		t.module(&b, in)
	case in.Kind == types.KindClass:
		t.class(&b, in)
	default:
		t.function(&b, in)
	}

	if len(in.References) > 0 {
		b.WriteString(fmt.Sprintf(" References: %s.", strings.Join(in.References, ", ")))
	}
	if len(in.Context) > 0 {
		ids := make([]string, len(in.Context))
		for i, c := range in.Context {
			ids[i] = c.UnitID
		}
		b.WriteString(fmt.Sprintf(" Related: %s.", strings.Join(ids, ", ")))
	}
	return b.String(), nil
}

func (t *Template) project(b *strings.Builder, in Input) {
	names := make([]string, len(in.Children))
	for i, c := range in.Children {
		names[i] = c.Name
	}
	b.WriteString(fmt.Sprintf("This project contains %d modules.", len(in.Children)))
	if len(names) > 0 {
		b.WriteString(fmt.Sprintf(" Modules: %s.", strings.Join(names, ", ")))
	}
}

func (t *Template) module(b *strings.Builder, in Input) {
	var classes, functions []string
	for _, c := range in.Children {
		if c.Kind == types.KindClass {
			classes = append(classes, c.Name)
		} else {
			functions = append(functions, c.Name)
		}
	}

	b.WriteString(fmt.Sprintf("This module contains %d classes and %d functions.", len(classes), len(functions)))
	if len(classes) > 0 {
		b.WriteString(fmt.Sprintf(" Classes: %s.", strings.Join(classes, ", ")))
	}
	if len(functions) > 0 {
		b.WriteString(fmt.Sprintf(" Functions: %s.", strings.Join(functions, ", ")))
	}
	if in.DocComment != "" {
		b.WriteString(" ")
		b.WriteString(sentence(in.DocComment))
	}
}

func (t *Template) class(b *strings.Builder, in Input) {
	b.WriteString(fmt.Sprintf("%s: %s", in.Name, describe(in.DocComment)))
	if len(in.Children) > 0 {
		methods := make([]string, len(in.Children))
		for i, c := range in.Children {
			methods[i] = shortName(c.Name)
		}
		b.WriteString(fmt.Sprintf(" Methods: %s.", strings.Join(methods, ", ")))
	}
}

func (t *Template) function(b *strings.Builder, in Input) {
	b.WriteString(fmt.Sprintf("%s: %s", in.Name, describe(in.DocComment)))
	if in.Signature != "" {
		b.WriteString(fmt.Sprintf(" Signature: %s.", in.Signature))
	}
	b.WriteString(fmt.Sprintf(" Defined in %s at lines %d-%d.", in.Path, in.Span.StartLine, in.Span.EndLine))
}

func describe(doc string) string {
	if doc == "" {
		return noDescription
	}
	return sentence(doc)
}

// sentence collapses whitespace and ends the text with a period
func sentence(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s != "" && !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}

// shortName drops the qualifying prefix of a member name
func shortName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
