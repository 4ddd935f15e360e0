// Package labelset defines the core sample/label types shared by every
// other package in the engine, plus the canonical fingerprinting used to
// turn a label set into a stable SeriesID.
package labelset

import (
	"sort"
	"strings"
)

// MetricName is the reserved label key that carries the metric name.
const MetricName = "__name__"

// Label is a single key/value pair.
type Label struct {
	Name  string
	Value string
}

// Labels is an ordered set of Label pairs. The zero value is an empty set.
// Labels are kept sorted by Name so that Canonical is cheap and stable.
type Labels []Label

// FromMap builds a Labels from an unordered mapping, sorting by key.
func FromMap(m map[string]string) Labels {
	out := make(Labels, 0, len(m))
	for k, v := range m {
		out = append(out, Label{Name: k, Value: v})
	}
	sort.Sort(out)
	return out
}

func (ls Labels) Len() int           { return len(ls) }
func (ls Labels) Swap(i, j int)      { ls[i], ls[j] = ls[j], ls[i] }
func (ls Labels) Less(i, j int) bool { return ls[i].Name < ls[j].Name }

// Get returns the value for name and whether it was present. An absent key
// never returns a bare empty string: callers must check ok.
func (ls Labels) Get(name string) (value string, ok bool) {
	for _, l := range ls {
		if l.Name == name {
			return l.Value, true
		}
	}
	return "", false
}

// Map returns an unordered copy suitable for JSON/tag-column encoding.
func (ls Labels) Map() map[string]string {
	m := make(map[string]string, len(ls))
	for _, l := range ls {
		m[l.Name] = l.Value
	}
	return m
}

// Clone returns an independent copy of ls.
func (ls Labels) Clone() Labels {
	out := make(Labels, len(ls))
	copy(out, ls)
	return out
}

// Equal reports whether ls and other contain exactly the same pairs.
// Both must already be sorted (true for every Labels constructed by this
// package).
func (ls Labels) Equal(other Labels) bool {
	if len(ls) != len(other) {
		return false
	}
	for i := range ls {
		if ls[i] != other[i] {
			return false
		}
	}
	return true
}

// Canonical renders the sole input to series hashing: "k1=v1,k2=v2,..."
// with keys sorted. Labels built via FromMap or already-sorted literals
// produce a stable string regardless of insertion order.
func (ls Labels) Canonical() string {
	if len(ls) == 0 {
		return ""
	}
	sorted := ls
	if !sort.IsSorted(ls) {
		sorted = ls.Clone()
		sort.Sort(sorted)
	}
	var b strings.Builder
	for i, l := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Name)
		b.WriteByte('=')
		b.WriteString(l.Value)
	}
	return b.String()
}

// Name returns the __name__ label, or "" if absent.
func (ls Labels) Name() string {
	v, _ := ls.Get(MetricName)
	return v
}
