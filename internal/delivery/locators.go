package delivery

import (
	"context"

	"dm-outreach-engine/internal/dom"
)

// Localized labels seen on the host page.
var (
	MessageLabels     = []string{"发消息", "Message"}
	SendLabels        = []string{"发送", "Send"}
	PlaceholderLabels = []string{"发消息", "Message"}
)

// Locators are the strategy lists for the three controls a delivery touches.
type Locators struct {
	OpenComposer dom.Query
	Input        dom.Query
	Submit       dom.Query
}

var roleButton = dom.Tag("div").Attr("role", "button")

func DefaultLocators() Locators {
	l := Locators{
		OpenComposer: dom.Query{
			{Name: "button-text", Selector: roleButton, Filter: dom.TextIn(MessageLabels...)},
		},
		Input: dom.Query{
			{Name: "lexical-editor", Selector: dom.Tag("div").Attr("data-lexical-editor", "true")},
			{Name: "editable-textbox", Selector: dom.Tag("div").Attr("contenteditable", "true").Attr("role", "textbox")},
		},
	}
	for _, p := range PlaceholderLabels {
		l.Input = append(l.Input, dom.Strategy{
			Name:     "placeholder:" + p,
			Selector: dom.Tag("div").AttrContains("aria-placeholder", p),
		})
	}
	for _, s := range SendLabels {
		l.Submit = append(l.Submit, dom.Strategy{
			Name:     "aria-label:" + s,
			Selector: roleButton.Attr("aria-label", s),
		})
	}
	l.Submit = append(l.Submit, dom.Strategy{
		Name:     "scan-buttons",
		Selector: roleButton,
		Filter:   dom.AttrIn("aria-label", SendLabels...),
	})
	return l
}

// Named pairs a query with the control it locates, for reporting.
type Named struct {
	Control string
	Query   dom.Query
}

func (l Locators) All() []Named {
	return []Named{
		{Control: "open-composer", Query: l.OpenComposer},
		{Control: "message-input", Query: l.Input},
		{Control: "submit", Query: l.Submit},
	}
}

// Report says which strategy, if any, located a control.
type Report struct {
	Control  string
	Strategy string
	Found    bool
	Err      error
}

// Probe resolves every control against s without touching it.
func (l Locators) Probe(ctx context.Context, s dom.Surface) []Report {
	var out []Report
	for _, n := range l.All() {
		m, found, err := dom.Resolve(ctx, s, n.Query)
		out = append(out, Report{Control: n.Control, Strategy: m.Strategy, Found: found, Err: err})
	}
	return out
}
