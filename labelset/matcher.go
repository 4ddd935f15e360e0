package labelset

import (
	"fmt"
	"regexp"
)

// MatchType is the kind of comparison a LabelMatcher performs.
type MatchType int

const (
	Equal MatchType = iota
	NotEqual
	RegexMatch
	RegexNoMatch
)

func (t MatchType) String() string {
	switch t {
	case Equal:
		return "="
	case NotEqual:
		return "!="
	case RegexMatch:
		return "=~"
	case RegexNoMatch:
		return "!~"
	default:
		return "?"
	}
}

// LabelMatcher is a single predicate against one label name.
//
// Absent-label semantics (spec §4.F): a label that is not present on a
// series is treated as the empty string for matching purposes.
// NotEqual(name, "") excludes series without name entirely (present,
// non-empty only); RegexNoMatch(name, re) excludes series without name
// whenever re matches the empty string, since an absent label reads as "".
type LabelMatcher struct {
	Type  MatchType
	Name  string
	Value string

	// compiled is lazily populated for Regex{Match,NoMatch} matchers by
	// Compile, and reused across every candidate label value evaluated
	// for one query.
	compiled *regexp.Regexp
}

// Compile prepares the matcher's regex, if any, for repeated Matches
// calls. It is idempotent and safe to call once per query invocation.
func (m *LabelMatcher) Compile() error {
	if m.Type != RegexMatch && m.Type != RegexNoMatch {
		return nil
	}
	if m.compiled != nil {
		return nil
	}
	re, err := regexp.Compile("^(?:" + m.Value + ")$")
	if err != nil {
		return fmt.Errorf("labelset: invalid regex matcher %q: %w", m.Value, err)
	}
	m.compiled = re
	return nil
}

// MatchesValue reports whether value (the label's actual value, or "" if
// the label is absent — callers pass present separately) satisfies m.
func (m *LabelMatcher) MatchesValue(value string, present bool) bool {
	switch m.Type {
	case Equal:
		return present && value == m.Value || (!present && m.Value == "")
	case NotEqual:
		if m.Value == "" {
			return present && value != ""
		}
		if !present {
			return true
		}
		return value != m.Value
	case RegexMatch:
		return m.compiled.MatchString(value)
	case RegexNoMatch:
		// Absent label reads as "" (value is already "" when !present),
		// so a regex matching the empty string correctly excludes it.
		return !m.compiled.MatchString(value)
	default:
		return false
	}
}

// MatchesLabels evaluates m against a full label set, applying the
// absent-key convention above.
func (m *LabelMatcher) MatchesLabels(ls Labels) bool {
	value, present := ls.Get(m.Name)
	return m.MatchesValue(value, present)
}

// MatchesAll reports whether ls satisfies every matcher in ms. Each
// matcher must already be Compile()d.
func MatchesAll(ls Labels, ms []LabelMatcher) bool {
	for i := range ms {
		if !ms[i].MatchesLabels(ls) {
			return false
		}
	}
	return true
}

// CompileAll compiles every regex matcher in ms in place.
func CompileAll(ms []LabelMatcher) error {
	for i := range ms {
		if err := ms[i].Compile(); err != nil {
			return err
		}
	}
	return nil
}
