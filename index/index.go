// Package index implements the inverted, shardable label index named by
// spec §4.F: a (label name, label value) → posting list of SeriesID, a
// label-name → value-set map for label_names()/label_values(), and a
// SeriesID → Labels reverse map used for collision verification and
// delete_series.
package index

import (
	"sort"
	"sync"

	"github.com/grafana/tsdb-engine/labelset"
	"github.com/grafana/tsdb-engine/metrics"
)

const numShards = 32

// maxProbe bounds the linear probe run used to resolve a forced SeriesID
// collision between two distinct label sets (spec §8 property 6). A real
// collision at this hash width is already astronomically unlikely; this
// only exists to keep the forced-collision test in the pinned regression
// suite from merging two written series into one bucket.
const maxProbe = 8

// shard holds one slice of the postings space, keyed by hash(label_name)
// so concurrent inserts to different label names never contend.
type shard struct {
	mu       sync.RWMutex
	postings map[string]map[labelset.SeriesID]struct{} // "name\x00value" -> set
	names    map[string]map[string]struct{}            // name -> value set
}

// Index is the engine's inverted index over all known series.
type Index struct {
	shards  [numShards]*shard
	idMu    sync.RWMutex
	idToLabels map[labelset.SeriesID]labelset.Labels
	metrics *metrics.Metrics
}

// New constructs an empty Index. m may be nil in tests that don't care
// about metrics.
func New(m *metrics.Metrics) *Index {
	idx := &Index{idToLabels: make(map[labelset.SeriesID]labelset.Labels), metrics: m}
	for i := range idx.shards {
		idx.shards[i] = &shard{
			postings: make(map[string]map[labelset.SeriesID]struct{}),
			names:    make(map[string]map[string]struct{}),
		}
	}
	return idx
}

func (idx *Index) shardFor(name string) *shard {
	h := fnv32(name)
	return idx.shards[h%numShards]
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// Insert is idempotent: if labels already maps to a known SeriesID
// (verified by re-checking the candidate's full Labels, per spec §4.A's
// collision-defense requirement), that ID is returned unchanged; otherwise
// a new SeriesID is computed and inserted into every relevant shard. On a
// forced hash collision between two distinct label sets, Insert linear-
// probes to the next slot (base+1, base+2, ...) rather than overwriting the
// first series' entry, so both remain independently addressable (spec §8
// property 6).
func (idx *Index) Insert(labels labelset.Labels) labelset.SeriesID {
	base := labelset.SeriesIDFromLabels(labels)

	idx.idMu.RLock()
	if sid, ok := idx.probeLocked(base, labels); ok {
		idx.idMu.RUnlock()
		return sid
	}
	idx.idMu.RUnlock()

	idx.idMu.Lock()
	sid, isNew := idx.claimSlotLocked(base, labels)
	idx.idMu.Unlock()
	if !isNew {
		return sid
	}

	for _, l := range labels {
		s := idx.shardFor(l.Name)
		s.mu.Lock()
		key := l.Name + "\x00" + l.Value
		set, ok := s.postings[key]
		if !ok {
			set = make(map[labelset.SeriesID]struct{})
			s.postings[key] = set
		}
		set[sid] = struct{}{}

		values, ok := s.names[l.Name]
		if !ok {
			values = make(map[string]struct{})
			s.names[l.Name] = values
		}
		values[l.Value] = struct{}{}
		s.mu.Unlock()
	}
	return sid
}

// probeLocked scans the linear-probe run starting at base for a slot whose
// stored Labels equal labels, returning it if found. Callers must hold
// idMu (read or write lock). It does not distinguish "slot empty" from
// "probe exhausted without a match" — both report ok=false, which is all
// either caller (a fast-path idempotent Insert, or Lookup) needs.
func (idx *Index) probeLocked(base labelset.SeriesID, labels labelset.Labels) (labelset.SeriesID, bool) {
	for i := labelset.SeriesID(0); i < maxProbe; i++ {
		sid := base + i
		existing, ok := idx.idToLabels[sid]
		if !ok {
			return 0, false
		}
		if existing.Equal(labels) {
			return sid, true
		}
	}
	return 0, false
}

// claimSlotLocked finds or claims the slot in the base..base+maxProbe-1
// linear-probe run that belongs to labels, returning isNew=false if a
// matching slot already existed (a concurrent Insert won the race since
// the caller's read-locked probeLocked call) or isNew=true once this call
// has claimed an empty slot for labels. If every slot in the run is
// already claimed by some other label set, the run is exhausted and the
// base slot is overwritten as a last resort; idMu must be held exclusively.
func (idx *Index) claimSlotLocked(base labelset.SeriesID, labels labelset.Labels) (labelset.SeriesID, bool) {
	for i := labelset.SeriesID(0); i < maxProbe; i++ {
		sid := base + i
		existing, ok := idx.idToLabels[sid]
		if !ok {
			idx.idToLabels[sid] = labels.Clone()
			return sid, true
		}
		if existing.Equal(labels) {
			return sid, false
		}
	}
	idx.idToLabels[base] = labels.Clone()
	return base, true
}

// Lookup resolves labels to an existing SeriesID without inserting one,
// re-verifying the candidate's stored Labels so a SeriesID collision with
// some other, already-written series never causes a read for labels to be
// satisfied by that other series' data (spec §8 property 6). It probes the
// same base..base+maxProbe-1 run Insert does, so a series resolved to a
// secondary slot by a prior collision is still found.
func (idx *Index) Lookup(labels labelset.Labels) (labelset.SeriesID, bool) {
	base := labelset.SeriesIDFromLabels(labels)
	idx.idMu.RLock()
	defer idx.idMu.RUnlock()
	return idx.probeLocked(base, labels)
}

// LabelsFor returns the full Labels for a SeriesID, used by callers that
// need to re-verify a candidate before trusting it (collision defense).
func (idx *Index) LabelsFor(sid labelset.SeriesID) (labelset.Labels, bool) {
	idx.idMu.RLock()
	defer idx.idMu.RUnlock()
	ls, ok := idx.idToLabels[sid]
	return ls, ok
}

// postingsFor returns the (possibly nil) set of SeriesID for one exact
// (name,value) pair.
func (idx *Index) postingsFor(name, value string) map[labelset.SeriesID]struct{} {
	s := idx.shardFor(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.postings[name+"\x00"+value]
}

// allSeriesWithName returns every SeriesID that has any value at all for
// name — used to evaluate matchers over labels with unbounded value sets
// (regex, NotEqual) without enumerating every possible value.
func (idx *Index) allSeriesWithName(name string) map[labelset.SeriesID]struct{} {
	s := idx.shardFor(name)
	s.mu.RLock()
	values := make([]string, 0, len(s.names[name]))
	for v := range s.names[name] {
		values = append(values, v)
	}
	s.mu.RUnlock()

	out := make(map[labelset.SeriesID]struct{})
	for _, v := range values {
		for sid := range idx.postingsFor(name, v) {
			out[sid] = struct{}{}
		}
	}
	return out
}

// allSeriesIDs returns every SeriesID the index knows about, used as the
// universe for NotEqual/RegexNoMatch matchers over labels that may be
// absent on some candidates.
func (idx *Index) allSeriesIDs() map[labelset.SeriesID]struct{} {
	idx.idMu.RLock()
	defer idx.idMu.RUnlock()
	out := make(map[labelset.SeriesID]struct{}, len(idx.idToLabels))
	for sid := range idx.idToLabels {
		out[sid] = struct{}{}
	}
	return out
}

// Query resolves every candidate SeriesID satisfying every matcher,
// re-verified against the candidate's stored Labels before being returned
// (the collision-defense step spec §8 property 6 tests). Matchers must
// already be Compile()d.
func (idx *Index) Query(matchers []labelset.LabelMatcher) []labelset.SeriesID {
	if len(matchers) == 0 {
		return nil
	}

	candidates := idx.candidateUniverse(matchers)

	out := make([]labelset.SeriesID, 0, len(candidates))
	for sid := range candidates {
		ls, ok := idx.LabelsFor(sid)
		if !ok {
			continue
		}
		if labelset.MatchesAll(ls, matchers) {
			out = append(out, sid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// candidateUniverse narrows the full series set to a cheap superset before
// the exact per-candidate MatchesAll re-check: Equal/RegexMatch matchers
// that cannot match an absent label intersect their posting lists
// (smallest list first); Equal(k,""), RegexMatch matchers whose regex
// matches "", and NotEqual/RegexNoMatch matchers (all of which can match
// absent labels) fall back
// to the full series universe since their positive set isn't enumerable
// from postings alone.
func (idx *Index) candidateUniverse(matchers []labelset.LabelMatcher) map[labelset.SeriesID]struct{} {
	var positiveSets []map[labelset.SeriesID]struct{}
	for _, m := range matchers {
		switch m.Type {
		case labelset.Equal:
			if m.Value == "" {
				continue
			}
			positiveSets = append(positiveSets, idx.postingsFor(m.Name, m.Value))
		case labelset.RegexMatch:
			if m.MatchesValue("", false) {
				continue
			}
			positiveSets = append(positiveSets, idx.allSeriesWithName(m.Name))
		}
	}

	if len(positiveSets) == 0 {
		return idx.allSeriesIDs()
	}

	sort.Slice(positiveSets, func(i, j int) bool { return len(positiveSets[i]) < len(positiveSets[j]) })
	result := make(map[labelset.SeriesID]struct{}, len(positiveSets[0]))
	for sid := range positiveSets[0] {
		result[sid] = struct{}{}
	}
	for _, set := range positiveSets[1:] {
		for sid := range result {
			if _, ok := set[sid]; !ok {
				delete(result, sid)
			}
		}
	}
	return result
}

// LabelNames returns every label name the index has seen, sorted.
func (idx *Index) LabelNames() []string {
	seen := make(map[string]struct{})
	for _, s := range idx.shards {
		s.mu.RLock()
		for name := range s.names {
			seen[name] = struct{}{}
		}
		s.mu.RUnlock()
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// LabelValues returns every distinct value seen for name, sorted.
func (idx *Index) LabelValues(name string) []string {
	s := idx.shardFor(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := s.names[name]
	out := make([]string, 0, len(values))
	for v := range values {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// DeleteSeries removes every candidate matching matchers from both the
// postings and the reverse map.
func (idx *Index) DeleteSeries(matchers []labelset.LabelMatcher) int {
	sids := idx.Query(matchers)
	for _, sid := range sids {
		ls, ok := idx.LabelsFor(sid)
		if !ok {
			continue
		}
		for _, l := range ls {
			s := idx.shardFor(l.Name)
			s.mu.Lock()
			key := l.Name + "\x00" + l.Value
			if set, ok := s.postings[key]; ok {
				delete(set, sid)
				if len(set) == 0 {
					delete(s.postings, key)
				}
			}
			s.mu.Unlock()
		}
		idx.idMu.Lock()
		delete(idx.idToLabels, sid)
		idx.idMu.Unlock()
	}
	return len(sids)
}

// Len returns the number of distinct series currently indexed.
func (idx *Index) Len() int {
	idx.idMu.RLock()
	defer idx.idMu.RUnlock()
	return len(idx.idToLabels)
}
