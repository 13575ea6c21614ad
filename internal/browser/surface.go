package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"dm-outreach-engine/internal/dom"
)

// Surface adapts a rod page to dom.Surface.
type Surface struct {
	page *rod.Page
}

func (s *Surface) Query(ctx context.Context, sel dom.Selector) ([]dom.Element, error) {
	els, err := s.page.Context(ctx).Elements(sel.CSS())
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", sel.CSS(), err)
	}
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &Element{el: el})
	}
	return out, nil
}

// Element adapts a rod element to dom.Editable. The rich-text primitives run
// as page script so the editor receives real DOM events.
type Element struct {
	el *rod.Element
}

var _ dom.Editable = (*Element)(nil)

func (e *Element) Attribute(name string) (string, bool) {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

func (e *Element) Text() string {
	t, err := e.el.Text()
	if err != nil {
		return ""
	}
	return t
}

func (e *Element) Click() error {
	return e.el.Click(proto.InputMouseButtonLeft, 1)
}

func (e *Element) Focus() error { return e.el.Focus() }

const jsClear = `() => {
	const sel = window.getSelection();
	if (!sel) throw new Error('no selection api');
	sel.selectAllChildren(this);
	sel.deleteFromDocument();
}`

func (e *Element) Clear() error {
	_, err := e.el.Eval(jsClear)
	return err
}

const jsInputText = `(data) => {
	this.dispatchEvent(new InputEvent('input', {
		inputType: 'insertText',
		data: data,
		bubbles: true,
		cancelable: true,
	}));
}`

func (e *Element) InputText(data string) error {
	_, err := e.el.Eval(jsInputText, data)
	return err
}

const jsReplace = `(text) => {
	const p = document.createElement('p');
	p.setAttribute('dir', 'auto');
	p.appendChild(document.createTextNode(text));
	this.innerHTML = '';
	this.appendChild(p);
	const sel = window.getSelection();
	if (sel) {
		const range = document.createRange();
		range.setStart(p, p.childNodes.length);
		range.setEnd(p, p.childNodes.length);
		sel.removeAllRanges();
		sel.addRange(range);
	}
}`

func (e *Element) Replace(text string) error {
	_, err := e.el.Eval(jsReplace, text)
	return err
}

const jsSetText = `(text) => {
	let p = this.querySelector('p');
	if (!p) {
		p = document.createElement('p');
		this.innerHTML = '';
		this.appendChild(p);
	}
	p.textContent = text;
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
	this.dispatchEvent(new InputEvent('input', { inputType: 'insertText', data: text, bubbles: true }));
}`

func (e *Element) SetText(text string) error {
	_, err := e.el.Eval(jsSetText, text)
	return err
}
