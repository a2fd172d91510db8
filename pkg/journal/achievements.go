package journal

import "time"

// AchievementID is a catalog identifier.
type AchievementID string

const (
	AchievementFirstInsight AchievementID = "first_insight"
	AchievementTenInsights  AchievementID = "10_insights"
	AchievementFirstLink    AchievementID = "first_link"
	AchievementThemeCreator AchievementID = "theme_creator"
)

// Achievement is a catalog entry. UnlockedAt is set once and never cleared.
type Achievement struct {
	ID          AchievementID `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Icon        string        `json:"icon"`
	UnlockedAt  *time.Time    `json:"unlocked_at,omitempty"`
}

// Unlocked reports whether the achievement has been earned.
func (a Achievement) Unlocked() bool {
	return a.UnlockedAt != nil
}

// DefaultAchievements returns the fixed catalog with nothing unlocked.
func DefaultAchievements() []Achievement {
	return []Achievement{
		{ID: AchievementFirstInsight, Title: "First Insight", Description: "Record your first insight", Icon: "sparkles"},
		{ID: AchievementTenInsights, Title: "Insight Collector", Description: "Record 10 insights", Icon: "books"},
		{ID: AchievementFirstLink, Title: "Connector", Description: "Link two insights together", Icon: "link"},
		{ID: AchievementThemeCreator, Title: "Theme Creator", Description: "Create your first theme", Icon: "compass"},
	}
}

// Transition summarizes what a single mutation did, as far as achievements
// are concerned.
type Transition struct {
	PrevInsightCount int
	InsightCount     int
	LinkAdded        bool
	ThemeCreated     bool
}

// EvaluateAchievements returns a new catalog with every rule satisfied by t
// unlocked at now, plus the ids unlocked by this call. Entries that are
// already unlocked keep their original timestamp.
func EvaluateAchievements(catalog []Achievement, t Transition, now time.Time) ([]Achievement, []AchievementID) {
	out := make([]Achievement, len(catalog))
	copy(out, catalog)

	var unlocked []AchievementID
	for i := range out {
		if out[i].Unlocked() || !t.satisfies(out[i].ID) {
			continue
		}
		at := now
		out[i].UnlockedAt = &at
		unlocked = append(unlocked, out[i].ID)
	}
	return out, unlocked
}

func (t Transition) satisfies(id AchievementID) bool {
	switch id {
	case AchievementFirstInsight:
		return t.PrevInsightCount == 0 && t.InsightCount >= 1
	case AchievementTenInsights:
		return t.PrevInsightCount == 9 && t.InsightCount == 10
	case AchievementFirstLink:
		return t.LinkAdded
	case AchievementThemeCreator:
		return t.ThemeCreated
	}
	return false
}

// normalizeCatalog makes sure every known achievement is present, keeping
// unlock timestamps of entries already in stored.
func normalizeCatalog(stored []Achievement) []Achievement {
	byID := make(map[AchievementID]Achievement, len(stored))
	for _, a := range stored {
		byID[a.ID] = a
	}
	out := DefaultAchievements()
	for i := range out {
		if prev, ok := byID[out[i].ID]; ok && prev.UnlockedAt != nil {
			at := *prev.UnlockedAt
			out[i].UnlockedAt = &at
		}
	}
	return out
}
