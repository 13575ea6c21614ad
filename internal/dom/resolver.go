package dom

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// Strategy is one independent way of finding a control. Selector narrows the
// candidates; Filter, when set, picks among them.
type Strategy struct {
	Name     string
	Selector Selector
	Filter   func(Element) bool
}

// Query is an ordered strategy list, most specific first.
type Query []Strategy

// Find runs the strategy against s and returns its first candidate.
func (st Strategy) Find(ctx context.Context, s Surface) (Element, bool, error) {
	els, err := s.Query(ctx, st.Selector)
	if err != nil {
		return nil, false, err
	}
	for _, el := range els {
		if st.Filter == nil || st.Filter(el) {
			return el, true, nil
		}
	}
	return nil, false, nil
}

// Match is a resolved element and the strategy that found it.
type Match struct {
	Element  Element
	Strategy string
}

// Resolve evaluates q in order and returns the first element any strategy
// yields. found == false is the normal NotFound outcome. err is set only when
// nothing was found and at least one strategy failed to query the surface.
func Resolve(ctx context.Context, s Surface, q Query) (m Match, found bool, err error) {
	var lastErr error
	for _, st := range q {
		if ctx.Err() != nil {
			return Match{}, false, ctx.Err()
		}
		el, ok, qerr := st.Find(ctx, s)
		if qerr != nil {
			log.Debug().Err(qerr).Str("strategy", st.Name).Msg("strategy query failed")
			lastErr = qerr
			continue
		}
		if ok {
			return Match{Element: el, Strategy: st.Name}, true, nil
		}
	}
	return Match{}, false, lastErr
}

// TextIn matches elements whose trimmed text equals one of labels.
func TextIn(labels ...string) func(Element) bool {
	return func(el Element) bool {
		return oneOf(strings.TrimSpace(el.Text()), labels)
	}
}

// AttrIn matches elements whose attribute name equals one of labels.
func AttrIn(name string, labels ...string) func(Element) bool {
	return func(el Element) bool {
		v, ok := el.Attribute(name)
		return ok && oneOf(v, labels)
	}
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}
