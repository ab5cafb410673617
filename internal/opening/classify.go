package opening

// Classification is the opening assigned to a game. The zero value means
// unclassified.
type Classification struct {
	Code       string `json:"code,omitempty"`
	Name       string `json:"name,omitempty"`
	MatchedPly int    `json:"matched_ply"`
	LeftBook   bool   `json:"left_book"`
}

// Classified reports whether a labeled node has been matched.
func (c Classification) Classified() bool { return c.MatchedPly > 0 }

// Cursor remembers where a game sits in the tree so the next classification
// only has to walk the moves played since the previous one. Cursors are
// values; Advance returns a new one and never mutates its input.
type Cursor struct {
	node *node
	ply  int
	best Classification
	left bool
}

// Ply returns the number of tokens this cursor has consumed.
func (c Cursor) Ply() int { return c.ply }

// NewCursor returns a cursor positioned at the root with no match.
func (t *Tree) NewCursor() Cursor {
	return Cursor{node: t.root}
}

// Advance walks only the given tokens from the cursor position. Cost is
// proportional to len(tokens), not to the game length. Once no child matches
// the game has left book: the last match freezes and later tokens are
// consumed without changing it.
func (t *Tree) Advance(c Cursor, tokens []string) (Classification, Cursor) {
	if c.node == nil && !c.left {
		c.node = t.root
	}
	for _, tok := range tokens {
		c.ply++
		if c.left {
			continue
		}
		child, ok := c.node.children[tok]
		if !ok {
			c.left = true
			c.node = nil
			continue
		}
		c.node = child
		if child.label != nil {
			c.best = Classification{
				Code:       child.label.Code,
				Name:       child.label.Name,
				MatchedPly: c.ply,
			}
		}
	}
	cls := c.best
	cls.LeftBook = c.left
	c.best = cls
	return cls, c
}
