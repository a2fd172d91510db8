package journal

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	// DefaultNotificationTime is used when an owner registers without one.
	DefaultNotificationTime = "21:00"

	// ApologyMessage replaces an assistant reply whose stream failed.
	ApologyMessage = "Sorry, I couldn't finish that reply. Please try again."
)

// Env supplies the non-deterministic inputs of a transition.
type Env struct {
	Now   time.Time
	NewID func() string
}

// Result is the outcome of reducing one mutation.
type Result struct {
	Snapshot Snapshot
	Applied  bool
	Err      error
	EntityID string
	Changes  []PendingChange
	Unlocked []AchievementID
}

// Reduce computes the snapshot that follows prev after m. It never modifies
// prev. A rejected mutation returns prev unchanged with Applied false and Err
// describing the reason. Changes lists the replication work the transition
// appended to the outbox.
func Reduce(prev Snapshot, m Mutation, env Env) Result {
	next := prev.Clone()
	r := &reducer{snap: &next, env: env}

	var err error
	switch m := m.(type) {
	case EstablishOwner:
		err = r.establishOwner(m)
	case CreateTheme:
		err = r.createTheme(m)
	case UpdateThemeGoal:
		err = r.updateThemeGoal(m)
	case SelectTheme:
		err = r.selectTheme(m)
	case CreateInsight:
		err = r.createInsight(m)
	case UpdateInsightBody:
		err = r.updateInsightBody(m)
	case DeleteInsight:
		err = r.deleteInsight(m)
	case LinkInsights:
		err = r.linkInsights(m)
	case UpdateOwnerPreferences:
		err = r.updateOwnerPreferences(m)
	case ResetTranscript:
		r.resetTranscript()
		r.entityID = next.Transcript.SessionID
	case beginExchange:
		err = r.beginExchange(m)
	case streamChunk:
		err = r.settleAssistant(m.Generation, m.MessageID, m.Text)
	case failExchange:
		err = r.settleAssistant(m.Generation, m.MessageID, ApologyMessage)
	default:
		err = fmt.Errorf("unknown mutation %T", m)
	}
	if err != nil {
		return Result{Snapshot: prev, Err: err}
	}

	next.Outbox = append(next.Outbox, r.changes...)
	return Result{
		Snapshot: next,
		Applied:  true,
		EntityID: r.entityID,
		Changes:  r.changes,
		Unlocked: r.unlocked,
	}
}

type reducer struct {
	snap     *Snapshot
	env      Env
	entityID string
	changes  []PendingChange
	unlocked []AchievementID
}

func (r *reducer) requireOwner(ownerID string) error {
	if !r.snap.Owner.Established() {
		return ErrNoOwner
	}
	if ownerID != r.snap.Owner.ID {
		return fmt.Errorf("%w: %q", ErrOwnerMismatch, ownerID)
	}
	return nil
}

func (r *reducer) queue(kind EntityKind, id string, op ChangeOp, fields Fields) {
	r.changes = append(r.changes, PendingChange{
		ID:       r.env.NewID(),
		Kind:     kind,
		EntityID: id,
		Op:       op,
		Fields:   fields,
		QueuedAt: r.env.Now,
	})
}

func (r *reducer) evaluate(t Transition) {
	catalog, unlocked := EvaluateAchievements(r.snap.Achievements, t, r.env.Now)
	r.snap.Achievements = catalog
	r.unlocked = append(r.unlocked, unlocked...)
}

func (r *reducer) resetTranscript() {
	r.snap.Transcript = Transcript{
		SessionID:  r.env.NewID(),
		Generation: r.snap.Transcript.Generation + 1,
		Messages:   []ChatMessage{},
	}
}

func validClock(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil
}

func (r *reducer) establishOwner(m EstablishOwner) error {
	cur := r.snap.Owner
	if cur.Established() {
		if m.ID != "" && m.ID != cur.ID {
			return ErrOwnerExists
		}
		r.snap.Owner.LoggedIn = true
		r.entityID = cur.ID
		return nil
	}

	name := strings.TrimSpace(m.Name)
	if name == "" {
		return fmt.Errorf("%w: name", ErrRequiredField)
	}
	freq := m.Frequency
	if freq == "" {
		freq = FrequencyDaily
	}
	if !freq.Valid() {
		return fmt.Errorf("%w: frequency %q", ErrInvalidPreference, freq)
	}
	clock := m.Time
	if clock == "" {
		clock = DefaultNotificationTime
	}
	if !validClock(clock) {
		return fmt.Errorf("%w: time %q", ErrInvalidPreference, clock)
	}
	id := m.ID
	if id == "" {
		id = r.env.NewID()
	}

	r.snap.Owner = Owner{
		ID:                    id,
		Name:                  name,
		NotificationFrequency: freq,
		NotificationTime:      clock,
		LoggedIn:              true,
		UpdatedAt:             r.env.Now,
	}
	r.entityID = id
	r.queue(KindProfile, id, OpInsert, nil)
	return nil
}

func (r *reducer) createTheme(m CreateTheme) error {
	if err := r.requireOwner(m.OwnerID); err != nil {
		return err
	}
	name := strings.TrimSpace(m.Name)
	if name == "" {
		return fmt.Errorf("%w: name", ErrRequiredField)
	}

	theme := Theme{
		ID:        r.env.NewID(),
		OwnerID:   m.OwnerID,
		Name:      name,
		Goal:      strings.TrimSpace(m.Goal),
		CreatedAt: r.env.Now,
		UpdatedAt: r.env.Now,
	}
	r.snap.Themes = append(r.snap.Themes, theme)
	r.snap.SelectedThemeID = theme.ID
	r.resetTranscript()

	n := len(r.snap.Insights)
	r.evaluate(Transition{PrevInsightCount: n, InsightCount: n, ThemeCreated: true})
	r.entityID = theme.ID
	r.queue(KindTheme, theme.ID, OpInsert, nil)
	return nil
}

func (r *reducer) updateThemeGoal(m UpdateThemeGoal) error {
	if err := r.requireOwner(m.OwnerID); err != nil {
		return err
	}
	i := themeIndex(r.snap.Themes, m.ThemeID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrThemeNotFound, m.ThemeID)
	}
	goal := strings.TrimSpace(m.Goal)
	r.snap.Themes[i].Goal = goal
	r.snap.Themes[i].UpdatedAt = r.env.Now
	r.entityID = m.ThemeID
	r.queue(KindTheme, m.ThemeID, OpUpdate, Fields{"goal": goal, "updated_at": r.env.Now})
	return nil
}

func (r *reducer) selectTheme(m SelectTheme) error {
	if err := r.requireOwner(m.OwnerID); err != nil {
		return err
	}
	if themeIndex(r.snap.Themes, m.ThemeID) < 0 {
		return fmt.Errorf("%w: %s", ErrThemeNotFound, m.ThemeID)
	}
	r.snap.SelectedThemeID = m.ThemeID
	r.resetTranscript()
	r.entityID = m.ThemeID
	return nil
}

func (r *reducer) createInsight(m CreateInsight) error {
	if err := r.requireOwner(m.OwnerID); err != nil {
		return err
	}
	body := strings.TrimSpace(m.Body)
	if body == "" {
		return fmt.Errorf("%w: body", ErrRequiredField)
	}
	if themeIndex(r.snap.Themes, m.ThemeID) < 0 {
		return fmt.Errorf("%w: %s", ErrThemeNotFound, m.ThemeID)
	}

	insight := Insight{
		ID:          r.env.NewID(),
		OwnerID:     m.OwnerID,
		ThemeID:     m.ThemeID,
		Body:        body,
		SessionID:   m.SessionID,
		LinkedToIDs: LinkSet{},
		CreatedAt:   r.env.Now,
		UpdatedAt:   r.env.Now,
	}
	prev := len(r.snap.Insights)
	r.snap.Insights = append(r.snap.Insights, insight)
	r.evaluate(Transition{PrevInsightCount: prev, InsightCount: prev + 1})
	r.entityID = insight.ID
	r.queue(KindInsight, insight.ID, OpInsert, nil)
	return nil
}

func (r *reducer) updateInsightBody(m UpdateInsightBody) error {
	if err := r.requireOwner(m.OwnerID); err != nil {
		return err
	}
	body := strings.TrimSpace(m.Body)
	if body == "" {
		return fmt.Errorf("%w: body", ErrRequiredField)
	}
	i := insightIndex(r.snap.Insights, m.InsightID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrInsightNotFound, m.InsightID)
	}
	r.snap.Insights[i].Body = body
	r.snap.Insights[i].UpdatedAt = r.env.Now
	r.entityID = m.InsightID
	r.queue(KindInsight, m.InsightID, OpUpdate, Fields{"body": body, "updated_at": r.env.Now})
	return nil
}

func (r *reducer) deleteInsight(m DeleteInsight) error {
	if err := r.requireOwner(m.OwnerID); err != nil {
		return err
	}
	i := insightIndex(r.snap.Insights, m.InsightID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrInsightNotFound, m.InsightID)
	}
	r.snap.Insights = slices.Delete(r.snap.Insights, i, i+1)
	touched := unlinkAll(r.snap.Insights, m.InsightID, r.env.Now)

	if r.snap.Tombstones == nil {
		r.snap.Tombstones = make(map[string]time.Time)
	}
	r.snap.Tombstones[m.InsightID] = r.env.Now
	r.entityID = m.InsightID

	r.queue(KindInsight, m.InsightID, OpDelete, nil)
	for _, id := range touched {
		r.queueLinks(id)
	}
	return nil
}

func (r *reducer) linkInsights(m LinkInsights) error {
	if err := r.requireOwner(m.OwnerID); err != nil {
		return err
	}
	if m.A == m.B {
		return ErrSelfLink
	}
	for _, id := range []string{m.A, m.B} {
		if insightIndex(r.snap.Insights, id) < 0 {
			return fmt.Errorf("%w: %s", ErrInsightNotFound, id)
		}
	}
	if !linkPair(r.snap.Insights, m.A, m.B, r.env.Now) {
		return ErrAlreadyLinked
	}

	n := len(r.snap.Insights)
	r.evaluate(Transition{PrevInsightCount: n, InsightCount: n, LinkAdded: true})
	r.entityID = m.A
	r.queueLinks(m.A)
	r.queueLinks(m.B)
	return nil
}

func (r *reducer) queueLinks(insightID string) {
	ins := r.snap.Insights[insightIndex(r.snap.Insights, insightID)]
	r.queue(KindInsight, insightID, OpUpdate, Fields{
		"linked_to_ids": ins.LinkedToIDs.Clone(),
		"updated_at":    ins.UpdatedAt,
	})
}

func (r *reducer) updateOwnerPreferences(m UpdateOwnerPreferences) error {
	if err := r.requireOwner(m.OwnerID); err != nil {
		return err
	}
	owner := r.snap.Owner
	fields := Fields{}
	if m.Name != nil {
		name := strings.TrimSpace(*m.Name)
		if name == "" {
			return fmt.Errorf("%w: name", ErrRequiredField)
		}
		owner.Name = name
		fields["name"] = name
	}
	if m.Frequency != nil {
		if !m.Frequency.Valid() {
			return fmt.Errorf("%w: frequency %q", ErrInvalidPreference, *m.Frequency)
		}
		owner.NotificationFrequency = *m.Frequency
		fields["notification_frequency"] = string(*m.Frequency)
	}
	if m.Time != nil {
		if !validClock(*m.Time) {
			return fmt.Errorf("%w: time %q", ErrInvalidPreference, *m.Time)
		}
		owner.NotificationTime = *m.Time
		fields["notification_time"] = *m.Time
	}
	if len(fields) == 0 {
		return ErrNothingToUpdate
	}

	owner.UpdatedAt = r.env.Now
	fields["updated_at"] = r.env.Now
	r.snap.Owner = owner
	r.entityID = owner.ID
	r.queue(KindProfile, owner.ID, OpUpdate, fields)
	return nil
}

func (r *reducer) beginExchange(m beginExchange) error {
	if _, ok := r.snap.CurrentTheme(); !ok {
		return ErrNoThemeSelected
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return ErrEmptyMessage
	}
	if r.snap.Transcript.SessionID == "" {
		r.snap.Transcript.SessionID = r.env.NewID()
	}
	placeholder := ChatMessage{ID: r.env.NewID(), Role: RoleAssistant}
	r.snap.Transcript.Messages = append(r.snap.Transcript.Messages,
		ChatMessage{ID: r.env.NewID(), Role: RoleUser, Text: text},
		placeholder,
	)
	r.entityID = placeholder.ID
	return nil
}

// settleAssistant replaces the text of an assistant message, provided the
// transcript has not been cleared since the exchange started.
func (r *reducer) settleAssistant(generation uint64, messageID, text string) error {
	t := &r.snap.Transcript
	if t.Generation != generation {
		return ErrStaleExchange
	}
	for i := range t.Messages {
		if t.Messages[i].ID == messageID && t.Messages[i].Role == RoleAssistant {
			t.Messages[i].Text = text
			r.entityID = messageID
			return nil
		}
	}
	return ErrStaleExchange
}
