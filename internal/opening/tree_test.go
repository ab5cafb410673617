package opening

import (
	"errors"
	"testing"
)

func scenarioDefs() []Definition {
	return []Definition{
		{Moves: "e4", Code: "B00", Name: "King's Pawn"},
		{Moves: "e4 e5", Code: "C20", Name: "King's Pawn Game"},
		{Moves: "e4 c5", Code: "B20", Name: "Sicilian Defense"},
	}
}

func buildTree(t *testing.T, defs []Definition) *Tree {
	t.Helper()
	tree, err := Build(defs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tree
}

func TestLookupDeepest(t *testing.T) {
	tree := buildTree(t, scenarioDefs())

	cls := tree.LookupDeepest([]string{"e4", "c5"})
	if cls.Code != "B20" || cls.MatchedPly != 2 || cls.LeftBook {
		t.Fatalf("unexpected classification: %+v", cls)
	}

	cls = tree.LookupDeepest([]string{"e4"})
	if cls.Code != "B00" || cls.MatchedPly != 1 {
		t.Fatalf("unexpected classification: %+v", cls)
	}

	// No labeled node passed at all.
	cls = tree.LookupDeepest([]string{"d4"})
	if cls.Classified() {
		t.Fatalf("expected unclassified sentinel, got %+v", cls)
	}
	if cls.MatchedPly != 0 {
		t.Fatalf("sentinel matchedPly: got %d", cls.MatchedPly)
	}
}

func TestBuildConflictIsLoadError(t *testing.T) {
	defs := append(scenarioDefs(), Definition{Moves: "e4 c5", Code: "B99", Name: "Not the Sicilian"})
	_, err := Build(defs)
	if err == nil {
		t.Fatalf("expected LoadError for conflicting label")
	}
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %T: %v", err, err)
	}
}

func TestBuildAliasMerge(t *testing.T) {
	defs := append(scenarioDefs(),
		Definition{Moves: "e4 c5", Code: "B20", Name: "Sicilian Defense", Aliases: []string{"Sicilian"}})
	tree := buildTree(t, defs)

	var found *Label
	for _, lbl := range tree.Labels() {
		if lbl.Code == "B20" {
			l := lbl
			found = &l
		}
	}
	if found == nil {
		t.Fatalf("B20 label missing")
	}
	if len(found.Aliases) != 1 || found.Aliases[0] != "Sicilian" {
		t.Fatalf("aliases not merged: %v", found.Aliases)
	}
	if n := len(tree.Labels()); n != 3 {
		t.Fatalf("label count after merge: got %d want 3", n)
	}
}

func TestBuildMalformedDefinition(t *testing.T) {
	if _, err := Build([]Definition{{Moves: "e4 zz9", Code: "X00", Name: "Broken"}}); err == nil {
		t.Fatalf("expected error for malformed definition moves")
	}
}

func TestLoadCatalogEmbedded(t *testing.T) {
	defs, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(defs) < 40 {
		t.Fatalf("embedded catalog too small: %d", len(defs))
	}
	tree, err := Build(defs)
	if err != nil {
		t.Fatalf("Build embedded: %v", err)
	}
	cls := tree.LookupDeepest([]string{"e4", "c5", "Nf3", "d6", "d4", "cxd4", "Nxd4", "Nf6", "Nc3", "a6"})
	if cls.Code != "B90" || cls.MatchedPly != 10 {
		t.Fatalf("najdorf lookup: %+v", cls)
	}
}
