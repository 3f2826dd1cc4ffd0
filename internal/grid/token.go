package grid

import "sync/atomic"

// tokenAnchor is the per-GridData sentinel tokens point at. holders is the
// number of live tokens, independent of how many handles share the grid.
type tokenAnchor struct {
	grid    *GridData
	holders atomic.Int64
}

// AccessToken marks a call site that holds a reference into a grid's tree.
// While any token for a grid is live the tree is never unloaded. The zero
// value is detached.
//
// Go has no destructors: every token filled in by Grid or GridForWrite must
// be Reset when the caller is done with the tree, usually with defer. A token
// must not be copied by value; use Clone.
type AccessToken struct {
	anchor *tokenAnchor
}

// attach points t at anchor. A previously held anchor is released without
// triggering an unload, since the caller is still reading through t.
func (t *AccessToken) attach(anchor *tokenAnchor) {
	if t.anchor == anchor {
		return
	}
	anchor.holders.Add(1)
	if old := t.anchor; old != nil {
		old.holders.Add(-1)
	}
	t.anchor = anchor
}

// Clone returns a second token for the same grid.
func (t *AccessToken) Clone() *AccessToken {
	out := &AccessToken{}
	if t.anchor != nil {
		t.anchor.holders.Add(1)
		out.anchor = t.anchor
	}
	return out
}

// Reset detaches the token. When it was the last live token the grid is
// asked to unload its tree if it can be reloaded. Reset on a detached token
// is a no-op.
func (t *AccessToken) Reset() {
	anchor := t.anchor
	if anchor == nil {
		return
	}
	t.anchor = nil
	if anchor.holders.Add(-1) == 0 {
		anchor.grid.UnloadTreeIfPossible()
	}
}

// Valid reports whether the token is attached to any grid.
func (t *AccessToken) Valid() bool {
	return t.anchor != nil
}

// ValidFor reports whether the token was handed out by g.
func (t *AccessToken) ValidFor(g *GridData) bool {
	return t.anchor != nil && g != nil && t.anchor == g.anchor
}
