// Package htmlsurface is a dom.Surface over a parsed HTML document. It backs
// the probe command, which checks locators against saved page snapshots, and
// stands in for a live tab in tests. Interactions are recorded, not executed.
package htmlsurface

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"dm-outreach-engine/internal/dom"
)

// ErrRejected is returned by InputText when the document is configured to
// reject synthetic input events.
var ErrRejected = errors.New("synthetic input rejected")

// Document is the parsed tree plus the interaction log.
type Document struct {
	mu   sync.Mutex
	root *html.Node

	// RejectInput makes every InputText call fail, imitating an editor that
	// refuses programmatic events.
	RejectInput bool
	// OnClick runs after an element is clicked, e.g. to reveal a composer.
	OnClick func(d *Document, el *Element)

	events []Event
}

// Event is one recorded interaction.
type Event struct {
	Kind   string // click, focus, clear, input, replace, settext
	Target string // outer tag + identifying attrs
	Data   string
}

func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return &Document{root: root}, nil
}

func MustParse(s string) *Document {
	d, err := Parse(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return d
}

// Append parses fragment and appends it to <body>.
func (d *Document) Append(fragment string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	body := find(d.root, func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == "body" })
	if body == nil {
		return errors.New("document has no body")
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return nil
}

// Query implements dom.Surface in document order.
func (d *Document) Query(ctx context.Context, sel dom.Selector) ([]dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []dom.Element
	walk(d.root, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		if sel.Matches(n.Data, func(name string) (string, bool) { return attr(n, name) }) {
			out = append(out, &Element{doc: d, node: n})
		}
	})
	return out, nil
}

// Events returns a copy of the interaction log.
func (d *Document) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// Clicks counts clicks on elements whose description contains substr.
func (d *Document) Clicks(substr string) int {
	n := 0
	for _, e := range d.Events() {
		if e.Kind == "click" && strings.Contains(e.Target, substr) {
			n++
		}
	}
	return n
}

func (d *Document) record(kind string, n *html.Node, data string) {
	d.events = append(d.events, Event{Kind: kind, Target: describe(n), Data: data})
}

// Element implements dom.Editable over one node.
type Element struct {
	doc  *Document
	node *html.Node
}

var _ dom.Editable = (*Element)(nil)

func (e *Element) Attribute(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attr(e.node, name)
}

func (e *Element) Text() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return textOf(e.node)
}

func (e *Element) Click() error {
	e.doc.mu.Lock()
	e.doc.record("click", e.node, "")
	hook := e.doc.OnClick
	e.doc.mu.Unlock()
	if hook != nil {
		hook(e.doc, e)
	}
	return nil
}

func (e *Element) Focus() error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.record("focus", e.node, "")
	return nil
}

func (e *Element) Clear() error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	removeChildren(e.node)
	e.doc.record("clear", e.node, "")
	return nil
}

func (e *Element) InputText(data string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.doc.RejectInput {
		return ErrRejected
	}
	e.doc.record("input", e.node, data)
	return nil
}

func (e *Element) Replace(text string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	removeChildren(e.node)
	p := &html.Node{Type: html.ElementNode, Data: "p", Attr: []html.Attribute{{Key: "dir", Val: "auto"}}}
	p.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	e.node.AppendChild(p)
	e.doc.record("replace", e.node, text)
	return nil
}

func (e *Element) SetText(text string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	p := find(e.node, func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == "p" && n != e.node })
	if p == nil {
		removeChildren(e.node)
		p = &html.Node{Type: html.ElementNode, Data: "p"}
		e.node.AppendChild(p)
	}
	removeChildren(p)
	p.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	e.doc.record("settext", e.node, text)
	return nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func find(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if pred(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := find(c, pred); f != nil {
			return f
		}
	}
	return nil
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	})
	return b.String()
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

func describe(n *html.Node) string {
	var b strings.Builder
	b.WriteString(n.Data)
	for _, k := range []string{"id", "role", "aria-label", "data-testid"} {
		if v, ok := attr(n, k); ok {
			b.WriteString("[" + k + "=" + v + "]")
		}
	}
	return b.String()
}
