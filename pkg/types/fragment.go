package types

import (
	"fmt"
	"time"
)

// ProjectNodeID identifies the project-level summary in a DocTree.
// It cannot collide with unit IDs, which always start with a file path.
const ProjectNodeID = IDSeparator + "project"

// PlaceholderPrefix starts the text of every placeholder fragment
const PlaceholderPrefix = "documentation unavailable"

// Fragment is the generated documentation of one unit
type Fragment struct {
	UnitID string `json:"unit_id"`
	Text   string `json:"text"`

	// Sources lists the unit itself followed by its retrieved context,
	// closest first.
	Sources []string `json:"sources"`

	// Placeholder is set when embedding or generation failed for the unit.
	Placeholder bool   `json:"placeholder,omitempty"`
	Reason      string `json:"reason,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// NewPlaceholder builds the fragment recorded for a unit whose embedding
// or generation failed
func NewPlaceholder(unitID, reason string) *Fragment {
	return &Fragment{
		UnitID:      unitID,
		Text:        fmt.Sprintf("%s: %s", PlaceholderPrefix, reason),
		Sources:     []string{unitID},
		Placeholder: true,
		Reason:      reason,
	}
}

// DocTree is the final documentation tree of a completed job. It is rooted
// at the project summary; children are reachable through the forest.
type DocTree struct {
	RepositoryID string               `json:"repository_id"`
	JobID        string               `json:"job_id"`
	Summary      *Fragment            `json:"summary"`
	Fragments    map[string]*Fragment `json:"fragments"`
	Forest       *Forest              `json:"-"`
}

// DocNode is a renderer-friendly view of one tree node
type DocNode struct {
	ID          string     `json:"id"`
	Kind        UnitKind   `json:"kind"`
	Name        string     `json:"name"`
	Path        string     `json:"path,omitempty"`
	Parent      string     `json:"parent,omitempty"`
	Signature   string     `json:"signature,omitempty"`
	Span        Span       `json:"span"`
	Text        string     `json:"text"`
	Placeholder bool       `json:"placeholder,omitempty"`
	References  []string   `json:"references,omitempty"`
	Children    []*DocNode `json:"children,omitempty"`
}

// Fragment returns the fragment of a unit
func (t *DocTree) Fragment(id string) (*Fragment, bool) {
	if id == ProjectNodeID {
		return t.Summary, t.Summary != nil
	}
	f, ok := t.Fragments[id]
	return f, ok
}

// Root builds the full node tree starting at the project summary
func (t *DocTree) Root() *DocNode {
	root := &DocNode{
		ID:   ProjectNodeID,
		Kind: KindModule,
		Name: t.RepositoryID,
	}
	if t.Summary != nil {
		root.Text = t.Summary.Text
		root.Placeholder = t.Summary.Placeholder
	}
	for _, m := range t.Forest.Roots() {
		root.Children = append(root.Children, t.Node(m.ID))
	}
	return root
}

// Node builds the subtree rooted at a unit; nil if the unit is unknown
func (t *DocTree) Node(id string) *DocNode {
	if id == ProjectNodeID {
		return t.Root()
	}
	u, ok := t.Forest.Get(id)
	if !ok {
		return nil
	}
	n := &DocNode{
		ID:         u.ID,
		Kind:       u.Kind,
		Name:       u.Name,
		Path:       u.Path,
		Parent:     u.Parent,
		Signature:  u.Signature,
		Span:       u.Span,
		References: u.References,
	}
	if u.Parent == "" {
		n.Parent = ProjectNodeID
	}
	if f, ok := t.Fragments[id]; ok {
		n.Text = f.Text
		n.Placeholder = f.Placeholder
	}
	for _, c := range u.Children {
		if child := t.Node(c); child != nil {
			n.Children = append(n.Children, child)
		}
	}
	return n
}

// Validate checks that every unit has exactly one fragment and that each
// composite fragment was generated after all of its children's fragments
func (t *DocTree) Validate() error {
	if t.Forest == nil {
		return ErrMissingForest
	}
	if len(t.Fragments) != t.Forest.Len() {
		return fmt.Errorf("%w: %d fragments for %d units", ErrFragmentCount, len(t.Fragments), t.Forest.Len())
	}
	if t.Summary == nil {
		return ErrMissingSummary
	}
	for _, u := range t.Forest.Units {
		f, ok := t.Fragments[u.ID]
		if !ok {
			return fmt.Errorf("%w: no fragment for %s", ErrFragmentCount, u.ID)
		}
		for _, c := range u.Children {
			cf := t.Fragments[c]
			if cf == nil || !cf.GeneratedAt.Before(f.GeneratedAt) {
				return fmt.Errorf("%w: %s generated before child %s", ErrBottomUpOrder, u.ID, c)
			}
		}
		if u.IsRoot() && !f.GeneratedAt.Before(t.Summary.GeneratedAt) {
			return fmt.Errorf("%w: project summary generated before %s", ErrBottomUpOrder, u.ID)
		}
	}
	return nil
}

// PlaceholderCount returns how many unit fragments are placeholders
func (t *DocTree) PlaceholderCount() int {
	n := 0
	for _, f := range t.Fragments {
		if f.Placeholder {
			n++
		}
	}
	return n
}
