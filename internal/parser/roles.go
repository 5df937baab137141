package parser

import (
	"path"
	"strings"

	"github.com/dshills/ragdoc/pkg/types"
)

// Roles detected from naming conventions
const (
	RoleAggregateRoot = "aggregate_root"
	RoleEntity        = "entity"
	RoleValueObject   = "value_object"
	RoleRepository    = "repository"
	RoleService       = "service"
	RoleCommand       = "command"
	RoleQuery         = "query"
	RoleHandler       = "handler"
	RoleConstructor   = "constructor"
	RoleTest          = "test"
)

// detectRoles tags a unit with the architectural roles its name suggests.
// Roles feed the generation input; they never affect structure.
func detectRoles(u *types.CodeUnit) {
	name := u.Name
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}

	switch u.Kind {
	case types.KindClass:
		u.Roles = classRoles(name)
	case types.KindFunction:
		u.Roles = functionRoles(u, name)
	case types.KindModule:
		if isTestFile(u.Path) {
			u.Roles = []string{RoleTest}
		}
	}
}

func classRoles(name string) []string {
	var roles []string
	switch {
	case hasAnySuffix(name, "Aggregate", "AggregateRoot"):
		// Aggregates are also entities
		roles = append(roles, RoleAggregateRoot, RoleEntity)
	case strings.HasSuffix(name, "Entity"):
		roles = append(roles, RoleEntity)
	}
	if hasAnySuffix(name, "VO", "ValueObject") {
		roles = append(roles, RoleValueObject)
	}
	if hasAnySuffix(name, "Repository", "Repo") {
		roles = append(roles, RoleRepository)
	}
	if strings.HasSuffix(name, "Service") {
		roles = append(roles, RoleService)
	}
	if hasAnySuffix(name, "Command", "Cmd") {
		roles = append(roles, RoleCommand)
	}
	if strings.HasSuffix(name, "Query") {
		roles = append(roles, RoleQuery)
	}
	if strings.HasSuffix(name, "Handler") {
		roles = append(roles, RoleHandler)
	}
	return roles
}

func functionRoles(u *types.CodeUnit, name string) []string {
	switch {
	case u.Language == types.LangGo && strings.HasPrefix(name, "New") && !strings.Contains(u.Name, "."):
		return []string{RoleConstructor}
	case u.Language == types.LangPython && name == "__init__":
		return []string{RoleConstructor}
	case u.Language == types.LangGo && hasAnyPrefix(name, "Test", "Benchmark", "Fuzz") && isTestFile(u.Path):
		return []string{RoleTest}
	case u.Language == types.LangPython && strings.HasPrefix(name, "test_"):
		return []string{RoleTest}
	}
	return nil
}

func isTestFile(p string) bool {
	base := path.Base(p)
	return strings.HasSuffix(base, "_test.go") ||
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py") ||
		strings.HasSuffix(base, "_test.py")
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
