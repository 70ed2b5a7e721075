package core

import "strings"

// QueueMatcher determines whether a registration pattern matches a queue name.
type QueueMatcher interface {
	Match(pattern string, queue string) bool
}

// DefaultMatcher matches dot-separated queue names. It supports exact names,
// a single-segment wildcard (*) and a multi-segment wildcard (#) that also
// matches zero segments.
//
//	"orders.created" matches "orders.created"
//	"orders.*"       matches "orders.created", not "orders.us.created"
//	"payments.#"     matches "payments", "payments.us.created"
type DefaultMatcher struct{}

func (DefaultMatcher) Match(pattern, queue string) bool {
	return matchSegments(strings.Split(pattern, "."), strings.Split(queue, "."))
}

func matchSegments(pat, name []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case "#":
			rest := pat[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(name) == 0 {
				return false
			}
		default:
			if len(name) == 0 || pat[0] != name[0] {
				return false
			}
		}
		pat, name = pat[1:], name[1:]
	}
	return len(name) == 0
}

// isPattern reports whether s contains a wildcard segment.
func isPattern(s string) bool {
	for _, seg := range strings.Split(s, ".") {
		if seg == "*" || seg == "#" {
			return true
		}
	}
	return false
}
