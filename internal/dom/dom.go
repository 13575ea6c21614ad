// Package dom models the third-party page as an explicit Surface and resolves
// semantically equivalent controls through an ordered list of strategies.
package dom

import (
	"context"
	"fmt"
	"strings"
)

// Element is an ephemeral reference into a live document. Never hold one
// across a pacing wait; the page may have re-rendered.
type Element interface {
	Attribute(name string) (string, bool)
	Text() string
	Click() error
}

// Editable is an element the rich-text injector can type into.
type Editable interface {
	Element
	Focus() error
	// Clear selects and deletes the current content.
	Clear() error
	// InputText raises one synthetic insertText input event carrying data.
	InputText(data string) error
	// Replace swaps the content for a single paragraph holding text and puts
	// the caret at its end.
	Replace(text string) error
	// SetText writes textContent directly and raises generic input/change
	// events.
	SetText(text string) error
}

// Surface is a queryable document. Elements returned are bound to ctx.
type Surface interface {
	Query(ctx context.Context, sel Selector) ([]Element, error)
}

// Op is how an attribute value is compared.
type Op int

const (
	Exists Op = iota
	Equals
	Contains
)

// AttrMatch is one attribute condition of a Selector.
type AttrMatch struct {
	Name  string
	Op    Op
	Value string
}

// Selector is a tag plus attribute conditions. It renders to CSS for live
// pages and is matched natively by synthetic surfaces.
type Selector struct {
	Tag   string
	Attrs []AttrMatch
}

func Tag(tag string) Selector { return Selector{Tag: tag} }

func (s Selector) Attr(name, value string) Selector {
	return s.with(AttrMatch{Name: name, Op: Equals, Value: value})
}

func (s Selector) AttrContains(name, value string) Selector {
	return s.with(AttrMatch{Name: name, Op: Contains, Value: value})
}

func (s Selector) Has(name string) Selector {
	return s.with(AttrMatch{Name: name, Op: Exists})
}

func (s Selector) with(m AttrMatch) Selector {
	attrs := make([]AttrMatch, 0, len(s.Attrs)+1)
	attrs = append(attrs, s.Attrs...)
	s.Attrs = append(attrs, m)
	return s
}

// CSS renders the selector, e.g. div[role="button"][aria-label*="Send"].
func (s Selector) CSS() string {
	var b strings.Builder
	if s.Tag == "" {
		b.WriteString("*")
	} else {
		b.WriteString(s.Tag)
	}
	for _, a := range s.Attrs {
		switch a.Op {
		case Exists:
			fmt.Fprintf(&b, "[%s]", a.Name)
		case Equals:
			fmt.Fprintf(&b, "[%s=%q]", a.Name, a.Value)
		case Contains:
			fmt.Fprintf(&b, "[%s*=%q]", a.Name, a.Value)
		}
	}
	return b.String()
}

// Matches evaluates the selector against a tag name and attribute lookup.
func (s Selector) Matches(tag string, attr func(string) (string, bool)) bool {
	if s.Tag != "" && !strings.EqualFold(s.Tag, tag) {
		return false
	}
	for _, a := range s.Attrs {
		v, ok := attr(a.Name)
		if !ok {
			return false
		}
		switch a.Op {
		case Equals:
			if v != a.Value {
				return false
			}
		case Contains:
			if !strings.Contains(v, a.Value) {
				return false
			}
		}
	}
	return true
}
