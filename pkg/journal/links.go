package journal

import (
	"encoding/json"
	"slices"
	"time"
)

// LinkSet is a sorted set of insight ids. The zero value is an empty set.
// Methods never modify the receiver's backing array.
type LinkSet []string

// NewLinkSet builds a normalized set from ids.
func NewLinkSet(ids ...string) LinkSet {
	out := make(LinkSet, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Has reports whether id is a member.
func (s LinkSet) Has(id string) bool {
	_, found := slices.BinarySearch(s, id)
	return found
}

// Add returns the set with id inserted and whether it was absent.
func (s LinkSet) Add(id string) (LinkSet, bool) {
	i, found := slices.BinarySearch(s, id)
	if found {
		return s, false
	}
	out := make(LinkSet, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, id)
	out = append(out, s[i:]...)
	return out, true
}

// Remove returns the set without id and whether it was present.
func (s LinkSet) Remove(id string) (LinkSet, bool) {
	i, found := slices.BinarySearch(s, id)
	if !found {
		return s, false
	}
	out := make(LinkSet, 0, len(s)-1)
	out = append(out, s[:i]...)
	out = append(out, s[i+1:]...)
	return out, true
}

// Clone returns an independent copy. A nil set clones to an empty set.
func (s LinkSet) Clone() LinkSet {
	out := make(LinkSet, len(s))
	copy(out, s)
	return out
}

// MarshalJSON encodes the set as an array, never null.
func (s LinkSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

// UnmarshalJSON decodes an array of ids, normalizing order and duplicates.
func (s *LinkSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewLinkSet(ids...)
	return nil
}

// linkPair makes a and b mutually linked. Both ids must exist in insights.
// It reports whether either side changed.
func linkPair(insights []Insight, a, b string, now time.Time) bool {
	ia, ib := insightIndex(insights, a), insightIndex(insights, b)
	if ia < 0 || ib < 0 || a == b {
		return false
	}
	var changed bool
	if next, added := insights[ia].LinkedToIDs.Add(b); added {
		insights[ia].LinkedToIDs = next
		insights[ia].UpdatedAt = now
		changed = true
	}
	if next, added := insights[ib].LinkedToIDs.Add(a); added {
		insights[ib].LinkedToIDs = next
		insights[ib].UpdatedAt = now
		changed = true
	}
	return changed
}

// unlinkAll removes id from every link set and returns the ids of the
// insights that were modified.
func unlinkAll(insights []Insight, id string, now time.Time) []string {
	var touched []string
	for i := range insights {
		if next, removed := insights[i].LinkedToIDs.Remove(id); removed {
			insights[i].LinkedToIDs = next
			insights[i].UpdatedAt = now
			touched = append(touched, insights[i].ID)
		}
	}
	return touched
}

// RepairLinks restores symmetry in place: references to unknown ids and
// self-references are dropped, one-sided links are completed. It returns the
// number of link sets modified.
func RepairLinks(insights []Insight) int {
	idx := make(map[string]int, len(insights))
	for i := range insights {
		idx[insights[i].ID] = i
	}
	modified := make(map[int]struct{})

	for i := range insights {
		set := insights[i].LinkedToIDs
		clean := make(LinkSet, 0, len(set))
		for _, other := range set {
			if _, ok := idx[other]; ok && other != insights[i].ID {
				clean = append(clean, other)
			}
		}
		if len(clean) != len(set) {
			modified[i] = struct{}{}
		}
		insights[i].LinkedToIDs = clean
	}

	for i := range insights {
		for _, other := range insights[i].LinkedToIDs {
			j := idx[other]
			if next, added := insights[j].LinkedToIDs.Add(insights[i].ID); added {
				insights[j].LinkedToIDs = next
				modified[j] = struct{}{}
			}
		}
	}
	return len(modified)
}

// LinkViolation describes a link that breaks symmetry.
type LinkViolation struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// CheckSymmetry lists every link that is dangling, self-referential or
// one-sided.
func CheckSymmetry(insights []Insight) []LinkViolation {
	byID := make(map[string]Insight, len(insights))
	for _, ins := range insights {
		byID[ins.ID] = ins
	}
	var out []LinkViolation
	for _, ins := range insights {
		for _, other := range ins.LinkedToIDs {
			switch peer, ok := byID[other]; {
			case other == ins.ID:
				out = append(out, LinkViolation{From: ins.ID, To: other, Reason: "self link"})
			case !ok:
				out = append(out, LinkViolation{From: ins.ID, To: other, Reason: "dangling"})
			case !peer.LinkedToIDs.Has(ins.ID):
				out = append(out, LinkViolation{From: ins.ID, To: other, Reason: "one-sided"})
			}
		}
	}
	return out
}
