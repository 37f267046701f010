// Package htmldom implements dom.Source over a parsed golang.org/x/net/html
// tree. It backs the HTTP-fetched observation path (boards that render
// server-side) and every test in the repository: the tree is mutable, and
// structural edits are reported on the Mutations channel exactly like a
// live browser source would report them.
package htmldom

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/boardwatch/dom"
)

// Doc is a mutable parsed document implementing dom.Source.
type Doc struct {
	mu   sync.Mutex
	root *html.Node
	mut  chan dom.Mutation

	// onClick, when set, is invoked after a successful Click on any node.
	// Tests use it to script the board's reaction (dialog opening, row
	// removal) to simulated activation.
	onClick func(n dom.Node)

	closed bool
}

// Parse builds a Doc from raw HTML.
func Parse(raw []byte) (*Doc, error) {
	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	return &Doc{
		root: root,
		mut:  make(chan dom.Mutation, 64),
	}, nil
}

// MustParse is Parse for literals in tests; it panics on malformed input.
func MustParse(raw string) *Doc {
	d, err := Parse([]byte(raw))
	if err != nil {
		panic(err)
	}
	return d
}

// OnClick registers the click reaction hook.
func (d *Doc) OnClick(fn func(n dom.Node)) {
	d.mu.Lock()
	d.onClick = fn
	d.mu.Unlock()
}

// Root returns the document root.
func (d *Doc) Root() dom.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &node{doc: d, n: d.root}
}

// QueryAll resolves a convention against the whole document.
func (d *Doc) QueryAll(conv dom.Convention) []dom.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queryAllLocked(d.root, conv)
}

// Mutations returns the structural change channel.
func (d *Doc) Mutations() <-chan dom.Mutation { return d.mut }

// Close releases the document and closes the mutation channel.
func (d *Doc) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.mut)
	}
	return nil
}

// ---------- tree edits ----------

// AppendHTML parses a fragment and appends its nodes under the first
// element matching parentSel. Emits one mutation batch.
func (d *Doc) AppendHTML(parentSel, fragment string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parents := d.matchLocked(d.root, parentSel)
	if len(parents) == 0 {
		return fmt.Errorf("htmldom: append: no element matches %q", parentSel)
	}
	parent := parents[0]

	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     parent.Data,
		DataAtom: parent.DataAtom,
	})
	if err != nil {
		return fmt.Errorf("htmldom: parse fragment: %w", err)
	}

	added := 0
	for _, n := range nodes {
		parent.AppendChild(n)
		added += countNodes(n)
	}
	d.emitLocked(dom.Mutation{Added: added})
	return nil
}

// Remove detaches the first element matching sel. Emits one mutation batch.
func (d *Doc) Remove(sel string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	matches := d.matchLocked(d.root, sel)
	if len(matches) == 0 {
		return fmt.Errorf("htmldom: remove: no element matches %q", sel)
	}
	n := matches[0]
	if n.Parent == nil {
		return fmt.Errorf("htmldom: remove: %q is the root", sel)
	}
	n.Parent.RemoveChild(n)
	d.emitLocked(dom.Mutation{Removed: countNodes(n)})
	return nil
}

// SetText replaces the text content of the first element matching sel.
// Text-only churn adds no nodes, so no node-adding mutation is emitted.
func (d *Doc) SetText(sel, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	matches := d.matchLocked(d.root, sel)
	if len(matches) == 0 {
		return fmt.Errorf("htmldom: set text: no element matches %q", sel)
	}
	n := matches[0]
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	d.emitLocked(dom.Mutation{})
	return nil
}

func (d *Doc) emitLocked(m dom.Mutation) {
	if d.closed {
		return
	}
	select {
	case d.mut <- m:
	default:
		// Consumer is behind; the batch is dropped. The debounced cycle
		// re-reads the whole document, so nothing is lost.
	}
}

func countNodes(n *html.Node) int {
	count := 1
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		count += countNodes(c)
	}
	return count
}

// ---------- node handle ----------

type node struct {
	doc *Doc
	n   *html.Node
}

func (nd *node) Text() string {
	nd.doc.mu.Lock()
	defer nd.doc.mu.Unlock()
	return collectText(nd.n)
}

func (nd *node) Attr(name string) string {
	nd.doc.mu.Lock()
	defer nd.doc.mu.Unlock()
	return getAttr(nd.n, name)
}

func (nd *node) Tag() string {
	nd.doc.mu.Lock()
	defer nd.doc.mu.Unlock()
	if nd.n.Type != html.ElementNode {
		return ""
	}
	return nd.n.Data
}

func (nd *node) QueryAll(conv dom.Convention) []dom.Node {
	nd.doc.mu.Lock()
	defer nd.doc.mu.Unlock()
	return nd.doc.queryAllLocked(nd.n, conv)
}

func (nd *node) Closest(conv dom.Convention) dom.Node {
	nd.doc.mu.Lock()
	defer nd.doc.mu.Unlock()
	for cur := nd.n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		for _, sel := range conv {
			if matchesSelector(cur, parseSimpleSelector(lastPart(sel))) {
				return &node{doc: nd.doc, n: cur}
			}
		}
	}
	return nil
}

func (nd *node) Attached() bool {
	nd.doc.mu.Lock()
	defer nd.doc.mu.Unlock()
	for cur := nd.n; cur != nil; cur = cur.Parent {
		if cur == nd.doc.root {
			return true
		}
	}
	return false
}

func (nd *node) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !nd.Attached() {
		return fmt.Errorf("htmldom: click on detached node")
	}
	nd.doc.mu.Lock()
	fn := nd.doc.onClick
	nd.doc.mu.Unlock()
	if fn != nil {
		fn(nd)
	}
	return nil
}

func (nd *node) Fill(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nd.doc.mu.Lock()
	defer nd.doc.mu.Unlock()
	setAttr(nd.n, "value", value)
	return nil
}

func (nd *node) SetChecked(ctx context.Context, checked bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nd.doc.mu.Lock()
	defer nd.doc.mu.Unlock()
	if checked {
		setAttr(nd.n, "checked", "checked")
	} else {
		delAttr(nd.n, "checked")
	}
	return nil
}

// ---------- selector engine ----------
//
// Supports the subset the conventions need:
//   tag, .class, #id, tag.class, tag#id, tag[attr], tag[attr=val],
//   descendant combination by space.

func (d *Doc) queryAllLocked(scope *html.Node, conv dom.Convention) []dom.Node {
	var out []dom.Node
	seen := make(map[*html.Node]bool)
	for _, sel := range conv {
		for _, m := range d.matchLocked(scope, sel) {
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, &node{doc: d, n: m})
		}
	}
	return out
}

func (d *Doc) matchLocked(scope *html.Node, selector string) []*html.Node {
	parts := strings.Fields(selector)
	if len(parts) == 0 {
		return nil
	}
	matches := matchSimple(scope, parts[0])
	for i := 1; i < len(parts); i++ {
		var next []*html.Node
		for _, parent := range matches {
			next = append(next, matchSimple(parent, parts[i])...)
		}
		matches = next
	}
	return matches
}

func lastPart(selector string) string {
	parts := strings.Fields(selector)
	if len(parts) == 0 {
		return selector
	}
	return parts[len(parts)-1]
}

func matchSimple(scope *html.Node, sel string) []*html.Node {
	m := parseSimpleSelector(sel)
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n != scope && matchesSelector(n, m) {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(scope)
	return results
}

type simpleSelector struct {
	tag     string
	id      string
	class   string
	attrKey string
	attrVal string
}

func parseSimpleSelector(sel string) simpleSelector {
	var s simpleSelector

	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		attrPart := strings.TrimRight(sel[idx+1:], "]")
		sel = sel[:idx]
		if eqIdx := strings.IndexByte(attrPart, '='); eqIdx >= 0 {
			s.attrKey = attrPart[:eqIdx]
			s.attrVal = strings.Trim(attrPart[eqIdx+1:], `"'`)
		} else {
			s.attrKey = attrPart
		}
	}
	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		s.id = sel[idx+1:]
		sel = sel[:idx]
	}
	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		s.class = sel[idx+1:]
		sel = sel[:idx]
	}
	s.tag = sel
	return s
}

func matchesSelector(n *html.Node, s simpleSelector) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && getAttr(n, "id") != s.id {
		return false
	}
	if s.class != "" {
		found := false
		for _, c := range strings.Fields(getAttr(n, "class")) {
			if c == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.attrKey != "" {
		if s.attrVal != "" {
			if getAttr(n, s.attrKey) != s.attrVal {
				return false
			}
		} else if !hasAttr(n, s.attrKey) {
			return false
		}
	}
	return true
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func delAttr(n *html.Node, key string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// collectText extracts all visible text from a subtree, skipping script,
// style, and noscript regions.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}
