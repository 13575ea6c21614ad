// Package spintax expands {a|b|c} alternation groups in message templates.
package spintax

import (
	"regexp"
	"strings"
)

// Innermost groups only: a group cannot contain braces, so nested templates
// expand their inner level and leave the outer braces as literal text.
var group = regexp.MustCompile(`\{([^{}]+)\}`)

// Intn is satisfied by *rand.Rand and *pace.Rand.
type Intn interface {
	Intn(n int) int
}

// Expand replaces every group with one of its alternatives chosen uniformly
// from src. Empty alternatives are valid choices. A template without groups is
// returned unchanged.
func Expand(template string, src Intn) string {
	return group.ReplaceAllStringFunc(template, func(m string) string {
		opts := strings.Split(m[1:len(m)-1], "|")
		return opts[src.Intn(len(opts))]
	})
}

// Alternatives lists the choices of each group in order.
func Alternatives(template string) [][]string {
	var out [][]string
	for _, m := range group.FindAllStringSubmatch(template, -1) {
		out = append(out, strings.Split(m[1], "|"))
	}
	return out
}

// Variants is the number of distinct expansions, counting duplicates.
func Variants(template string) int {
	n := 1
	for _, alts := range Alternatives(template) {
		n *= len(alts)
	}
	return n
}
