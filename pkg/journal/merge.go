package journal

import (
	"sort"
	"time"
)

type mergeable interface {
	Theme | Insight
	entityID() string
	entityOwner() string
	createdAt() time.Time
	updatedAt() time.Time
}

// MergeStats counts what a merge did with the remote records.
type MergeStats struct {
	Pulled   int `json:"pulled"`
	Added    int `json:"added"`
	Replaced int `json:"replaced"`
	Kept     int `json:"kept"`
	Skipped  int `json:"skipped"`
}

func (s *MergeStats) add(o MergeStats) {
	s.Pulled += o.Pulled
	s.Added += o.Added
	s.Replaced += o.Replaced
	s.Kept += o.Kept
	s.Skipped += o.Skipped
}

// MergeCollections reconciles a local collection with the records fetched
// from the remote store for ownerID.
//
// Remote records belonging to another owner, or for which exclude returns
// true, are skipped. A remote record with an unknown id is added. On an id
// collision the local record is kept when pending reports outstanding local
// changes for it; otherwise the record with the later updated_at wins and
// ties keep the local one. When local is empty the result is simply the
// remote collection. The result is ordered by creation time, local order
// breaking ties.
func MergeCollections[T mergeable](local, remote []T, ownerID string, pending, exclude func(id string) bool) ([]T, MergeStats) {
	stats := MergeStats{Pulled: len(remote)}

	out := make([]T, len(local))
	copy(out, local)
	idx := make(map[string]int, len(out))
	for i, item := range out {
		idx[item.entityID()] = i
	}

	for _, rec := range remote {
		id := rec.entityID()
		if rec.entityOwner() != ownerID || (exclude != nil && exclude(id)) {
			stats.Skipped++
			continue
		}
		i, ok := idx[id]
		switch {
		case !ok:
			idx[id] = len(out)
			out = append(out, rec)
			stats.Added++
		case pending != nil && pending(id):
			stats.Kept++
		case rec.updatedAt().After(out[i].updatedAt()):
			out[i] = rec
			stats.Replaced++
		default:
			stats.Kept++
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].createdAt().Before(out[j].createdAt())
	})
	return out, stats
}

// ResyncStats reports the result of a full resync.
type ResyncStats struct {
	Themes        MergeStats `json:"themes"`
	Insights      MergeStats `json:"insights"`
	LinksRepaired int        `json:"links_repaired"`
}

// Total sums theme and insight counters.
func (s ResyncStats) Total() MergeStats {
	var t MergeStats
	t.add(s.Themes)
	t.add(s.Insights)
	return t
}

// mergeRemote folds fetched themes and insights into snap.
func mergeRemote(snap Snapshot, themes []Theme, insights []Insight) (Snapshot, ResyncStats) {
	next := snap.Clone()
	owner := next.Owner.ID
	var stats ResyncStats

	next.Themes, stats.Themes = MergeCollections(next.Themes, themes, owner,
		func(id string) bool { return next.IsPending(KindTheme, id) }, nil)

	for i := range insights {
		insights[i].LinkedToIDs = insights[i].LinkedToIDs.Clone()
	}
	next.Insights, stats.Insights = MergeCollections(next.Insights, insights, owner,
		func(id string) bool { return next.IsPending(KindInsight, id) },
		func(id string) bool { _, gone := next.Tombstones[id]; return gone })
	stats.LinksRepaired = RepairLinks(next.Insights)

	if _, ok := next.CurrentTheme(); !ok && len(next.Themes) > 0 {
		next.SelectedThemeID = newestTheme(next.Themes).ID
	}
	return next, stats
}

func newestTheme(themes []Theme) Theme {
	newest := themes[0]
	for _, t := range themes[1:] {
		if t.CreatedAt.After(newest.CreatedAt) {
			newest = t
		}
	}
	return newest
}
