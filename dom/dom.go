// Package dom abstracts the monitored document behind a capability
// interface. The extractor, filter, and executor never touch a concrete
// DOM implementation: they query Conventions against a Source and act on
// the Nodes it returns. How a convention resolves — live browser via CDP,
// or a parsed HTML tree — is an implementation detail of the Source.
package dom

import "context"

// Convention is an ordered union of CSS selectors that identify one role
// on the page ("an item row", "the price cell", "the book control").
// Selectors are tried in order; matches are unioned. The monitored page's
// markup is unversioned, so conventions are deliberately loose.
type Convention []string

// Mutation describes one batch of structural changes reported by a Source.
type Mutation struct {
	// Added is the number of nodes inserted in this batch. Batches that
	// add nothing (attribute churn, text blinks) do not trigger cycles.
	Added   int
	Removed int
}

// Node is a handle on one element of the monitored document.
//
// A Node is only guaranteed valid for the extraction cycle that produced
// it; the underlying element may detach at any time. Attached reports
// whether the handle still resolves.
type Node interface {
	// Text returns the visible text content of the node, whitespace-collapsed.
	Text() string
	// Attr returns the value of an attribute, or "" when absent.
	Attr(name string) string
	// Tag returns the lower-case element name.
	Tag() string

	// QueryAll returns descendants matching the convention.
	QueryAll(conv Convention) []Node
	// Closest walks up the ancestor chain and returns the nearest
	// ancestor (or the node itself) matching the convention, or nil.
	Closest(conv Convention) Node

	// Attached reports whether the element is still part of the document.
	Attached() bool

	// Click simulates activation of the element.
	Click(ctx context.Context) error
	// Fill replaces the element's input value.
	Fill(ctx context.Context, value string) error
	// SetChecked forces a checkbox/toggle state.
	SetChecked(ctx context.Context, checked bool) error
}

// Source is the structured view of one monitored document.
type Source interface {
	// Root returns the document root node.
	Root() Node
	// QueryAll resolves a convention against the whole document.
	QueryAll(conv Convention) []Node

	// Mutations returns the channel on which the source reports
	// structural change batches. After Close the channel stops carrying
	// batches and may be closed.
	Mutations() <-chan Mutation

	// Close releases the source. Nodes obtained from it become detached.
	Close() error
}
