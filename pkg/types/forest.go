package types

import (
	"fmt"
	"sort"
)

// ParseFailure records a file that could not be analysed.
// Stub is the module placeholder of kind KindUnparseable.
type ParseFailure struct {
	Path string
	Stub *CodeUnit
	Err  *ParseError
}

// Forest is the ownership forest of one processing run.
// Units are stored in pre-order: each module followed by its descendants,
// siblings in source order, modules in input file order.
type Forest struct {
	Units    []*CodeUnit
	Failures []ParseFailure

	index map[string]*CodeUnit
}

// NewForest indexes the given units and validates the forest invariants
func NewForest(units []*CodeUnit, failures []ParseFailure) (*Forest, error) {
	f := &Forest{
		Units:    units,
		Failures: failures,
		index:    make(map[string]*CodeUnit, len(units)),
	}
	for _, u := range units {
		if _, dup := f.index[u.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateUnitID, u.ID)
		}
		f.index[u.ID] = u
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Len returns the number of units in the forest
func (f *Forest) Len() int {
	return len(f.Units)
}

// Get returns the unit with the given ID
func (f *Forest) Get(id string) (*CodeUnit, bool) {
	u, ok := f.index[id]
	return u, ok
}

// Roots returns the module units in input order
func (f *Forest) Roots() []*CodeUnit {
	roots := make([]*CodeUnit, 0)
	for _, u := range f.Units {
		if u.IsRoot() {
			roots = append(roots, u)
		}
	}
	return roots
}

// Children returns the direct children of a unit in source order
func (f *Forest) Children(id string) []*CodeUnit {
	u, ok := f.index[id]
	if !ok {
		return nil
	}
	children := make([]*CodeUnit, 0, len(u.Children))
	for _, cid := range u.Children {
		if c, ok := f.index[cid]; ok {
			children = append(children, c)
		}
	}
	return children
}

// Ancestors returns the IDs of all ancestors of a unit, nearest first
func (f *Forest) Ancestors(id string) []string {
	var out []string
	u, ok := f.index[id]
	for ok && u.Parent != "" {
		out = append(out, u.Parent)
		u, ok = f.index[u.Parent]
	}
	return out
}

// Descendants returns the IDs of all descendants of a unit in pre-order
func (f *Forest) Descendants(id string) []string {
	var out []string
	var walk func(string)
	walk = func(cur string) {
		u, ok := f.index[cur]
		if !ok {
			return
		}
		for _, c := range u.Children {
			out = append(out, c)
			walk(c)
		}
	}
	walk(id)
	return out
}

// Heights returns the height of every unit: leaves are 0,
// a composite unit is one more than its tallest child. Heights follow the
// Children lists, so they do not depend on the order of Units.
func (f *Forest) Heights() map[string]int {
	heights := make(map[string]int, len(f.Units))
	var height func(u *CodeUnit) int
	height = func(u *CodeUnit) int {
		if h, ok := heights[u.ID]; ok {
			return h
		}
		heights[u.ID] = 0 // stops a cycle in a forest that skipped Validate
		h := 0
		for _, cid := range u.Children {
			if c, ok := f.index[cid]; ok {
				if ch := height(c) + 1; ch > h {
					h = ch
				}
			}
		}
		heights[u.ID] = h
		return h
	}
	for _, u := range f.Units {
		height(u)
	}
	return heights
}

// Levels groups units by height, lowest first. Units inside a level keep
// forest order. Processing levels in order satisfies the bottom-up rule.
func (f *Forest) Levels() [][]*CodeUnit {
	heights := f.Heights()
	maxH := -1
	for _, h := range heights {
		if h > maxH {
			maxH = h
		}
	}
	levels := make([][]*CodeUnit, maxH+1)
	for _, u := range f.Units {
		h := heights[u.ID]
		levels[h] = append(levels[h], u)
	}
	return levels
}

// IDs returns all unit IDs in sorted order
func (f *Forest) IDs() []string {
	ids := make([]string, 0, len(f.Units))
	for _, u := range f.Units {
		ids = append(ids, u.ID)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks that the containment relation is a forest: every unit is
// valid, parents and children agree, every non-module has exactly one
// parent, and there are no cycles.
func (f *Forest) Validate() error {
	parentOf := make(map[string]string, len(f.Units))
	for _, u := range f.Units {
		if err := u.Validate(); err != nil {
			return fmt.Errorf("unit %s: %w", u.ID, err)
		}
		for _, c := range u.Children {
			child, ok := f.index[c]
			if !ok {
				return fmt.Errorf("%w: %s lists unknown child %s", ErrBrokenContainment, u.ID, c)
			}
			if prev, seen := parentOf[c]; seen {
				return fmt.Errorf("%w: %s has parents %s and %s", ErrBrokenContainment, c, prev, u.ID)
			}
			if child.Parent != u.ID {
				return fmt.Errorf("%w: %s parent is %q, listed under %s", ErrBrokenContainment, c, child.Parent, u.ID)
			}
			parentOf[c] = u.ID
		}
	}
	for _, u := range f.Units {
		if u.Parent == "" {
			continue
		}
		if parentOf[u.ID] != u.Parent {
			return fmt.Errorf("%w: %s not listed by parent %s", ErrBrokenContainment, u.ID, u.Parent)
		}
	}

	// Every unit must reach a root within len(Units) steps.
	for _, u := range f.Units {
		cur, steps := u, 0
		for cur.Parent != "" {
			steps++
			if steps > len(f.Units) {
				return fmt.Errorf("%w: cycle through %s", ErrBrokenContainment, u.ID)
			}
			cur = f.index[cur.Parent]
		}
	}
	return nil
}
