// Package classify decides which log lines are notable and renders them as
// chat messages. Everything here is pure: no I/O and no shared state.
package classify

import "strings"

// Rules is the immutable match configuration. Keywords match case-insensitively,
// success patterns match case-sensitively.
type Rules struct {
	keywords []string
	lowered  []string
	patterns []string
}

func NewRules(keywords, successPatterns []string) Rules {
	r := Rules{}
	for _, k := range keywords {
		if k == "" {
			continue
		}
		r.keywords = append(r.keywords, k)
		r.lowered = append(r.lowered, strings.ToLower(k))
	}
	for _, p := range successPatterns {
		if p != "" {
			r.patterns = append(r.patterns, p)
		}
	}
	return r
}

func (r Rules) Empty() bool { return len(r.keywords) == 0 && len(r.patterns) == 0 }

type MatchKind int

const (
	NoMatch MatchKind = iota
	KeywordMatch
	SuccessMatch
)

func (k MatchKind) String() string {
	switch k {
	case KeywordMatch:
		return "keyword"
	case SuccessMatch:
		return "success"
	default:
		return "none"
	}
}

// Decision is the outcome of Classify. Rule is the configured keyword or
// pattern that matched first.
type Decision struct {
	Kind MatchKind
	Rule string
}

func (d Decision) Notify() bool { return d.Kind != NoMatch }

// Classify reports whether line should trigger a notification. Keywords are
// checked before success patterns.
func (r Rules) Classify(line string) Decision {
	if len(r.lowered) > 0 {
		lower := strings.ToLower(line)
		for i, k := range r.lowered {
			if strings.Contains(lower, k) {
				return Decision{Kind: KeywordMatch, Rule: r.keywords[i]}
			}
		}
	}
	for _, p := range r.patterns {
		if strings.Contains(line, p) {
			return Decision{Kind: SuccessMatch, Rule: p}
		}
	}
	return Decision{}
}
