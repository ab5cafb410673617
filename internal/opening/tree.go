package opening

import (
	"fmt"
	"strings"
)

// Definition is a single reference line: a move sequence and the opening it
// names. Definitions are order-sensitive; the first label attached to a
// sequence wins.
type Definition struct {
	Moves     string   `yaml:"moves"`
	Code      string   `yaml:"eco"`
	Name      string   `yaml:"name"`
	Aliases   []string `yaml:"aliases,omitempty"`
	Variation bool     `yaml:"variation,omitempty"`
}

// Label is the opening attached to a tree node.
type Label struct {
	Code      string
	Name      string
	Aliases   []string
	Variation bool
}

// LoadError is a fatal reference-tree defect found at build time.
type LoadError struct {
	Code   string
	Name   string
	Moves  string
	Reason string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("opening definition %s %q (%s): %s", e.Code, e.Name, e.Moves, e.Reason)
}

type node struct {
	children map[string]*node
	label    *Label
}

func newNode() *node { return &node{children: make(map[string]*node)} }

// Tree is the immutable opening reference tree. Built once at startup,
// read-only afterwards, so lookups need no synchronization.
type Tree struct {
	root   *node
	labels []Label
	size   int
}

// Build walks every definition into a prefix tree of canonical tokens. A
// sequence that already carries a different label is a LoadError; a
// re-definition with the same code and name only merges in new aliases.
func Build(defs []Definition) (*Tree, error) {
	t := &Tree{root: newNode()}
	for _, def := range defs {
		tokens, err := Normalize(def.Moves)
		if err != nil {
			return nil, fmt.Errorf("opening definition %s %q: %w", def.Code, def.Name, err)
		}
		if len(tokens) == 0 {
			return nil, &LoadError{Code: def.Code, Name: def.Name, Moves: def.Moves, Reason: "empty move sequence"}
		}
		n := t.root
		for _, tok := range tokens {
			child, ok := n.children[tok]
			if !ok {
				child = newNode()
				n.children[tok] = child
				t.size++
			}
			n = child
		}
		if n.label == nil {
			lbl := &Label{
				Code:      strings.TrimSpace(def.Code),
				Name:      strings.TrimSpace(def.Name),
				Aliases:   dedupAliases(nil, def.Aliases),
				Variation: def.Variation,
			}
			n.label = lbl
			t.labels = append(t.labels, *lbl)
			continue
		}
		if n.label.Code != strings.TrimSpace(def.Code) || n.label.Name != strings.TrimSpace(def.Name) {
			return nil, &LoadError{
				Code:  def.Code,
				Name:  def.Name,
				Moves: def.Moves,
				Reason: fmt.Sprintf("sequence already labeled %s %q", n.label.Code, n.label.Name),
			}
		}
		// Same opening restated: merge aliases, first-loaded label stays canonical.
		n.label.Aliases = dedupAliases(n.label.Aliases, def.Aliases)
		for i := range t.labels {
			if t.labels[i].Code == n.label.Code && t.labels[i].Name == n.label.Name {
				t.labels[i].Aliases = append([]string(nil), n.label.Aliases...)
			}
		}
	}
	return t, nil
}

func dedupAliases(have, add []string) []string {
	out := append([]string(nil), have...)
	for _, a := range add {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		dup := false
		for _, h := range out {
			if strings.EqualFold(h, a) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, a)
		}
	}
	return out
}

// Labels returns every distinct opening label in load order.
func (t *Tree) Labels() []Label {
	out := make([]Label, len(t.labels))
	copy(out, t.labels)
	for i := range out {
		out[i].Aliases = append([]string(nil), t.labels[i].Aliases...)
	}
	return out
}

// Size returns the number of nodes, excluding the root.
func (t *Tree) Size() int { return t.size }

// LookupDeepest walks tokens from the root and returns the classification of
// the deepest labeled node passed. The zero Classification (MatchedPly 0) is
// the unclassified sentinel.
func (t *Tree) LookupDeepest(tokens []string) Classification {
	cls, _ := t.Advance(t.NewCursor(), tokens)
	return cls
}
