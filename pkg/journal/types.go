package journal

import (
	"slices"
	"sort"
	"time"
)

// Frequency is how often an owner wants reminder notifications.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
	FrequencyNone   Frequency = "none"
)

// Valid reports whether f is one of the known frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyNone:
		return true
	}
	return false
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// EntityKind names a replicated entity type.
type EntityKind string

const (
	KindTheme   EntityKind = "theme"
	KindInsight EntityKind = "insight"
	KindProfile EntityKind = "profile"
)

// ChangeOp is the remote operation a pending change mirrors.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Fields holds a partial set of entity fields for remote updates, keyed by
// their wire (JSON) names.
type Fields map[string]any

// Owner is the single human identity the snapshot belongs to.
type Owner struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	NotificationFrequency Frequency `json:"notification_frequency"`
	NotificationTime      string    `json:"notification_time"`
	LoggedIn              bool      `json:"logged_in"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Established reports whether an owner identity has been set.
func (o Owner) Established() bool {
	return o.ID != ""
}

// Theme is a goal-tracking container for insights.
type Theme struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"user_id"`
	Name      string    `json:"name"`
	Goal      string    `json:"goal"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Insight is an atomic recorded note, optionally linked to other insights.
type Insight struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"user_id"`
	ThemeID     string    `json:"theme_id"`
	Body        string    `json:"body"`
	SessionID   string    `json:"session_id,omitempty"`
	LinkedToIDs LinkSet   `json:"linked_to_ids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (t Theme) entityID() string       { return t.ID }
func (t Theme) entityOwner() string    { return t.OwnerID }
func (t Theme) createdAt() time.Time   { return t.CreatedAt }
func (t Theme) updatedAt() time.Time   { return t.UpdatedAt }
func (i Insight) entityID() string     { return i.ID }
func (i Insight) entityOwner() string  { return i.OwnerID }
func (i Insight) createdAt() time.Time { return i.CreatedAt }
func (i Insight) updatedAt() time.Time { return i.UpdatedAt }

// ChatMessage is one entry of the active transcript.
type ChatMessage struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Transcript is the working memory of the current chat exchange. Generation
// increases every time the transcript is cleared so that in-flight streams
// can detect they have been abandoned.
type Transcript struct {
	SessionID  string        `json:"session_id"`
	Generation uint64        `json:"generation"`
	Messages   []ChatMessage `json:"messages"`
}

// PendingChange is an outbound replication intent that has not yet been
// confirmed by the remote store.
type PendingChange struct {
	ID        string     `json:"id"`
	Kind      EntityKind `json:"kind"`
	EntityID  string     `json:"entity_id"`
	Op        ChangeOp   `json:"op"`
	Fields    Fields     `json:"fields,omitempty"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	QueuedAt  time.Time  `json:"queued_at"`
	Stalled   bool       `json:"stalled,omitempty"`
}

// Snapshot is the aggregate root of the application state.
type Snapshot struct {
	Owner           Owner                `json:"owner"`
	Themes          []Theme              `json:"themes"`
	Insights        []Insight            `json:"insights"`
	Achievements    []Achievement        `json:"achievements"`
	SelectedThemeID string               `json:"selected_theme_id,omitempty"`
	Transcript      Transcript           `json:"transcript"`
	Outbox          []PendingChange      `json:"outbox,omitempty"`
	Tombstones      map[string]time.Time `json:"tombstones,omitempty"`
	InstallationID  string               `json:"installation_id,omitempty"`
}

// NewSnapshot returns the empty initial snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{
		Themes:       []Theme{},
		Insights:     []Insight{},
		Achievements: DefaultAchievements(),
		Transcript:   Transcript{Messages: []ChatMessage{}},
	}
}

// Clone returns a deep copy that shares no mutable state with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Themes = slices.Clone(s.Themes)
	if out.Themes == nil {
		out.Themes = []Theme{}
	}
	out.Insights = make([]Insight, len(s.Insights))
	for i, ins := range s.Insights {
		ins.LinkedToIDs = ins.LinkedToIDs.Clone()
		out.Insights[i] = ins
	}
	out.Achievements = make([]Achievement, len(s.Achievements))
	for i, a := range s.Achievements {
		if a.UnlockedAt != nil {
			t := *a.UnlockedAt
			a.UnlockedAt = &t
		}
		out.Achievements[i] = a
	}
	out.Transcript.Messages = slices.Clone(s.Transcript.Messages)
	if out.Transcript.Messages == nil {
		out.Transcript.Messages = []ChatMessage{}
	}
	if s.Outbox != nil {
		out.Outbox = make([]PendingChange, len(s.Outbox))
		for i, ch := range s.Outbox {
			ch.Fields = cloneFields(ch.Fields)
			out.Outbox[i] = ch
		}
	}
	if s.Tombstones != nil {
		out.Tombstones = make(map[string]time.Time, len(s.Tombstones))
		for k, v := range s.Tombstones {
			out.Tombstones[k] = v
		}
	}
	return out
}

func cloneFields(f Fields) Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		if ls, ok := v.(LinkSet); ok {
			v = ls.Clone()
		}
		out[k] = v
	}
	return out
}

// Theme returns the theme with the given id.
func (s Snapshot) Theme(id string) (Theme, bool) {
	if i := themeIndex(s.Themes, id); i >= 0 {
		return s.Themes[i], true
	}
	return Theme{}, false
}

// CurrentTheme returns the selected theme, if any.
func (s Snapshot) CurrentTheme() (Theme, bool) {
	if s.SelectedThemeID == "" {
		return Theme{}, false
	}
	return s.Theme(s.SelectedThemeID)
}

// Insight returns the insight with the given id.
func (s Snapshot) Insight(id string) (Insight, bool) {
	if i := insightIndex(s.Insights, id); i >= 0 {
		return s.Insights[i], true
	}
	return Insight{}, false
}

// InsightsForTheme returns the insights filed under themeID in creation order.
func (s Snapshot) InsightsForTheme(themeID string) []Insight {
	var out []Insight
	for _, ins := range s.Insights {
		if ins.ThemeID == themeID {
			out = append(out, ins)
		}
	}
	return out
}

// RecentInsights returns insights under themeID created at or after since,
// newest first.
func (s Snapshot) RecentInsights(themeID string, since time.Time) []Insight {
	var out []Insight
	for _, ins := range s.Insights {
		if ins.ThemeID == themeID && !ins.CreatedAt.Before(since) {
			out = append(out, ins)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Achievement returns the catalog entry for id.
func (s Snapshot) Achievement(id AchievementID) (Achievement, bool) {
	for _, a := range s.Achievements {
		if a.ID == id {
			return a, true
		}
	}
	return Achievement{}, false
}

// IsPending reports whether the entity has replication work outstanding.
func (s Snapshot) IsPending(kind EntityKind, id string) bool {
	for _, ch := range s.Outbox {
		if ch.Kind == kind && ch.EntityID == id {
			return true
		}
	}
	return false
}

func themeIndex(themes []Theme, id string) int {
	for i := range themes {
		if themes[i].ID == id {
			return i
		}
	}
	return -1
}

func insightIndex(insights []Insight, id string) int {
	for i := range insights {
		if insights[i].ID == id {
			return i
		}
	}
	return -1
}
