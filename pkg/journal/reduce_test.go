package journal

import (
	"errors"
	"testing"
)

func reduceOK(t *testing.T, s Snapshot, m Mutation, env Env) Result {
	t.Helper()
	res := Reduce(s, m, env)
	if !res.Applied {
		t.Fatalf("Reduce(%s) rejected: %v", m.Kind(), res.Err)
	}
	return res
}

func ownedSnapshot(t *testing.T, env Env) (Snapshot, string) {
	t.Helper()
	res := reduceOK(t, NewSnapshot(), EstablishOwner{Name: "Yuki"}, env)
	return res.Snapshot, res.EntityID
}

func TestReduce_EstablishOwner(t *testing.T) {
	env := testEnv()
	res := reduceOK(t, NewSnapshot(), EstablishOwner{Name: "  Yuki "}, env)

	o := res.Snapshot.Owner
	if o.ID == "" || o.Name != "Yuki" || !o.LoggedIn {
		t.Errorf("owner = %+v", o)
	}
	if o.NotificationFrequency != FrequencyDaily || o.NotificationTime != DefaultNotificationTime {
		t.Errorf("defaults not applied: %+v", o)
	}
	if len(res.Changes) != 1 || res.Changes[0].Kind != KindProfile || res.Changes[0].Op != OpInsert {
		t.Errorf("changes = %+v", res.Changes)
	}

	// Logging in again with the same id keeps the owner.
	again := reduceOK(t, res.Snapshot, EstablishOwner{ID: o.ID, Name: "ignored"}, env)
	if again.Snapshot.Owner.Name != "Yuki" || len(again.Changes) != 0 {
		t.Errorf("re-login changed owner: %+v", again.Snapshot.Owner)
	}

	other := Reduce(res.Snapshot, EstablishOwner{ID: "someone-else", Name: "Ken"}, env)
	if other.Applied || !errors.Is(other.Err, ErrOwnerExists) {
		t.Errorf("foreign login: applied=%v err=%v", other.Applied, other.Err)
	}
}

func TestReduce_EstablishOwnerValidation(t *testing.T) {
	tests := []struct {
		name string
		m    EstablishOwner
		want error
	}{
		{"empty name", EstablishOwner{Name: " "}, ErrRequiredField},
		{"bad frequency", EstablishOwner{Name: "Yuki", Frequency: "hourly"}, ErrInvalidPreference},
		{"bad time", EstablishOwner{Name: "Yuki", Time: "25:99"}, ErrInvalidPreference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Reduce(NewSnapshot(), tt.m, testEnv())
			if res.Applied || !errors.Is(res.Err, tt.want) {
				t.Errorf("applied=%v err=%v, want %v", res.Applied, res.Err, tt.want)
			}
		})
	}
}

func TestReduce_CreateThemeOptimistic(t *testing.T) {
	env := testEnv()
	s, owner := ownedSnapshot(t, env)
	s.Transcript.Messages = []ChatMessage{{ID: "m1", Role: RoleUser, Text: "hello"}}

	res := reduceOK(t, s, CreateTheme{OwnerID: owner, Name: "English", Goal: "Speak fluently"}, env)
	next := res.Snapshot

	th, ok := next.CurrentTheme()
	if !ok || th.ID != res.EntityID || th.Name != "English" || th.Goal != "Speak fluently" {
		t.Fatalf("current theme = %+v, ok=%v", th, ok)
	}
	if th.OwnerID != owner {
		t.Errorf("theme owner = %q, want %q", th.OwnerID, owner)
	}
	if len(next.Transcript.Messages) != 0 {
		t.Errorf("transcript not cleared: %v", next.Transcript.Messages)
	}
	if next.Transcript.Generation != s.Transcript.Generation+1 {
		t.Errorf("generation = %d", next.Transcript.Generation)
	}
	if a, _ := next.Achievement(AchievementThemeCreator); !a.Unlocked() {
		t.Error("theme_creator not unlocked")
	}
	if !next.IsPending(KindTheme, th.ID) {
		t.Error("new theme should be pending replication")
	}
	if len(s.Themes) != 0 {
		t.Error("Reduce modified its input")
	}
}

func TestReduce_OwnerGuards(t *testing.T) {
	env := testEnv()

	res := Reduce(NewSnapshot(), CreateTheme{OwnerID: "x", Name: "Piano"}, env)
	if res.Applied || !errors.Is(res.Err, ErrNoOwner) {
		t.Errorf("no owner: applied=%v err=%v", res.Applied, res.Err)
	}

	s, _ := ownedSnapshot(t, env)
	res = Reduce(s, CreateTheme{OwnerID: "Yuki", Name: "Piano"}, env)
	if res.Applied || !errors.Is(res.Err, ErrOwnerMismatch) {
		t.Errorf("display name as owner id: applied=%v err=%v", res.Applied, res.Err)
	}
	if len(res.Snapshot.Themes) != 0 {
		t.Error("rejected mutation changed the snapshot")
	}
}

func TestReduce_InsightThreshold(t *testing.T) {
	env := testEnv()
	s, owner := ownedSnapshot(t, env)
	s = reduceOK(t, s, CreateTheme{OwnerID: owner, Name: "Piano"}, env).Snapshot
	theme := s.SelectedThemeID

	var ids []string
	for i := 1; i <= 9; i++ {
		res := reduceOK(t, s, CreateInsight{OwnerID: owner, ThemeID: theme, Body: "note"}, env)
		s = res.Snapshot
		ids = append(ids, res.EntityID)
		if i == 1 {
			if a, _ := s.Achievement(AchievementFirstInsight); !a.Unlocked() {
				t.Fatal("first_insight not unlocked after first insight")
			}
		}
	}
	if a, _ := s.Achievement(AchievementTenInsights); a.Unlocked() {
		t.Fatal("10_insights unlocked at 9")
	}

	res := reduceOK(t, s, CreateInsight{OwnerID: owner, ThemeID: theme, Body: "tenth"}, env)
	s = res.Snapshot
	if len(res.Unlocked) != 1 || res.Unlocked[0] != AchievementTenInsights {
		t.Fatalf("unlocked = %v, want [10_insights]", res.Unlocked)
	}
	unlockedAt := *mustAchievement(t, s, AchievementTenInsights).UnlockedAt

	s = reduceOK(t, s, DeleteInsight{OwnerID: owner, InsightID: ids[0]}, env).Snapshot
	if len(s.Insights) != 9 {
		t.Fatalf("insights = %d, want 9", len(s.Insights))
	}
	a := mustAchievement(t, s, AchievementTenInsights)
	if !a.Unlocked() || !a.UnlockedAt.Equal(unlockedAt) {
		t.Error("10_insights must stay unlocked with its original timestamp")
	}

	// Going back from 9 to 10 does not unlock anything new.
	res = reduceOK(t, s, CreateInsight{OwnerID: owner, ThemeID: theme, Body: "again"}, env)
	if len(res.Unlocked) != 0 {
		t.Errorf("unlocked again: %v", res.Unlocked)
	}
}

func mustAchievement(t *testing.T, s Snapshot, id AchievementID) Achievement {
	t.Helper()
	a, ok := s.Achievement(id)
	if !ok {
		t.Fatalf("achievement %s missing", id)
	}
	return a
}

func TestReduce_CreateInsightValidation(t *testing.T) {
	env := testEnv()
	s, owner := ownedSnapshot(t, env)
	s = reduceOK(t, s, CreateTheme{OwnerID: owner, Name: "Piano"}, env).Snapshot

	if res := Reduce(s, CreateInsight{OwnerID: owner, ThemeID: s.SelectedThemeID, Body: "   "}, env); !errors.Is(res.Err, ErrRequiredField) {
		t.Errorf("empty body err = %v", res.Err)
	}
	if res := Reduce(s, CreateInsight{OwnerID: owner, ThemeID: "nope", Body: "x"}, env); !errors.Is(res.Err, ErrThemeNotFound) {
		t.Errorf("unknown theme err = %v", res.Err)
	}
}

func TestReduce_YukiPianoScenario(t *testing.T) {
	env := testEnv()
	s, owner := ownedSnapshot(t, env)
	t1 := reduceOK(t, s, CreateTheme{OwnerID: owner, Name: "Piano", Goal: "Play Chopin"}, env)
	s = t1.Snapshot
	i1 := reduceOK(t, s, CreateInsight{OwnerID: owner, ThemeID: t1.EntityID, Body: "Relax the wrist"}, env)
	s = i1.Snapshot
	i2 := reduceOK(t, s, CreateInsight{OwnerID: owner, ThemeID: t1.EntityID, Body: "Slow practice pays"}, env)
	s = i2.Snapshot

	link := reduceOK(t, s, LinkInsights{OwnerID: owner, A: i1.EntityID, B: i2.EntityID}, env)
	s = link.Snapshot

	a, _ := s.Insight(i1.EntityID)
	b, _ := s.Insight(i2.EntityID)
	if len(a.LinkedToIDs) != 1 || a.LinkedToIDs[0] != b.ID {
		t.Errorf("I1 links = %v", a.LinkedToIDs)
	}
	if len(b.LinkedToIDs) != 1 || b.LinkedToIDs[0] != a.ID {
		t.Errorf("I2 links = %v", b.LinkedToIDs)
	}
	if fl := mustAchievement(t, s, AchievementFirstLink); !fl.Unlocked() {
		t.Error("first_link not unlocked")
	}

	del := reduceOK(t, s, DeleteInsight{OwnerID: owner, InsightID: i1.EntityID}, env)
	s = del.Snapshot
	if _, ok := s.Insight(i1.EntityID); ok {
		t.Error("I1 still present")
	}
	b, _ = s.Insight(i2.EntityID)
	if len(b.LinkedToIDs) != 0 {
		t.Errorf("I2 links after delete = %v", b.LinkedToIDs)
	}
	if _, ok := s.Tombstones[i1.EntityID]; !ok {
		t.Error("deleted insight not tombstoned")
	}

	var deletes, updates int
	for _, ch := range del.Changes {
		switch {
		case ch.Op == OpDelete && ch.EntityID == i1.EntityID:
			deletes++
		case ch.Op == OpUpdate && ch.EntityID == i2.EntityID:
			updates++
		}
	}
	if deletes != 1 || updates != 1 {
		t.Errorf("delete changes = %+v", del.Changes)
	}
}

func TestReduce_LinkGuards(t *testing.T) {
	env := testEnv()
	s, owner := ownedSnapshot(t, env)
	th := reduceOK(t, s, CreateTheme{OwnerID: owner, Name: "Piano"}, env)
	s = th.Snapshot
	i1 := reduceOK(t, s, CreateInsight{OwnerID: owner, ThemeID: th.EntityID, Body: "a"}, env)
	s = i1.Snapshot
	i2 := reduceOK(t, s, CreateInsight{OwnerID: owner, ThemeID: th.EntityID, Body: "b"}, env)
	s = i2.Snapshot

	if res := Reduce(s, LinkInsights{OwnerID: owner, A: i1.EntityID, B: i1.EntityID}, env); !errors.Is(res.Err, ErrSelfLink) {
		t.Errorf("self link err = %v", res.Err)
	}
	if res := Reduce(s, LinkInsights{OwnerID: owner, A: i1.EntityID, B: "ghost"}, env); !errors.Is(res.Err, ErrInsightNotFound) {
		t.Errorf("missing link err = %v", res.Err)
	}

	once := reduceOK(t, s, LinkInsights{OwnerID: owner, A: i1.EntityID, B: i2.EntityID}, env).Snapshot
	twice := Reduce(once, LinkInsights{OwnerID: owner, A: i2.EntityID, B: i1.EntityID}, env)
	if twice.Applied || !errors.Is(twice.Err, ErrAlreadyLinked) {
		t.Errorf("relink: applied=%v err=%v", twice.Applied, twice.Err)
	}
	a, _ := twice.Snapshot.Insight(i1.EntityID)
	if len(a.LinkedToIDs) != 1 {
		t.Errorf("links after relink = %v", a.LinkedToIDs)
	}
}

func TestReduce_UpdatesQueueFields(t *testing.T) {
	env := testEnv()
	s, owner := ownedSnapshot(t, env)
	th := reduceOK(t, s, CreateTheme{OwnerID: owner, Name: "Piano"}, env)
	s = th.Snapshot
	ins := reduceOK(t, s, CreateInsight{OwnerID: owner, ThemeID: th.EntityID, Body: "a"}, env)
	s = ins.Snapshot

	goal := reduceOK(t, s, UpdateThemeGoal{OwnerID: owner, ThemeID: th.EntityID, Goal: "Nocturnes"}, env)
	if got := goal.Changes[0].Fields["goal"]; got != "Nocturnes" {
		t.Errorf("goal field = %v", got)
	}
	if res := Reduce(s, UpdateThemeGoal{OwnerID: owner, ThemeID: "nope", Goal: "x"}, env); !errors.Is(res.Err, ErrThemeNotFound) {
		t.Errorf("unknown theme err = %v", res.Err)
	}

	body := reduceOK(t, goal.Snapshot, UpdateInsightBody{OwnerID: owner, InsightID: ins.EntityID, Body: "b"}, env)
	if got, _ := body.Snapshot.Insight(ins.EntityID); got.Body != "b" {
		t.Errorf("body = %q", got.Body)
	}
	if res := Reduce(s, UpdateInsightBody{OwnerID: owner, InsightID: "nope", Body: "x"}, env); !errors.Is(res.Err, ErrInsightNotFound) {
		t.Errorf("unknown insight err = %v", res.Err)
	}
}

func TestReduce_UpdateOwnerPreferences(t *testing.T) {
	env := testEnv()
	s, owner := ownedSnapshot(t, env)

	weekly := FrequencyWeekly
	clock := "07:30"
	res := reduceOK(t, s, UpdateOwnerPreferences{OwnerID: owner, Frequency: &weekly, Time: &clock}, env)
	o := res.Snapshot.Owner
	if o.NotificationFrequency != FrequencyWeekly || o.NotificationTime != "07:30" || o.Name != "Yuki" {
		t.Errorf("owner = %+v", o)
	}
	f := res.Changes[0].Fields
	if f["notification_frequency"] != "weekly" || f["notification_time"] != "07:30" {
		t.Errorf("fields = %v", f)
	}
	if _, ok := f["name"]; ok {
		t.Error("unchanged name should not be sent")
	}

	if r := Reduce(s, UpdateOwnerPreferences{OwnerID: owner}, env); !errors.Is(r.Err, ErrNothingToUpdate) {
		t.Errorf("empty update err = %v", r.Err)
	}
	bad := Frequency("hourly")
	if r := Reduce(s, UpdateOwnerPreferences{OwnerID: owner, Frequency: &bad}, env); !errors.Is(r.Err, ErrInvalidPreference) {
		t.Errorf("bad frequency err = %v", r.Err)
	}
}

func TestReduce_SelectThemeClearsTranscript(t *testing.T) {
	env := testEnv()
	s, owner := ownedSnapshot(t, env)
	first := reduceOK(t, s, CreateTheme{OwnerID: owner, Name: "Piano"}, env)
	second := reduceOK(t, first.Snapshot, CreateTheme{OwnerID: owner, Name: "English"}, env)
	s = reduceOK(t, second.Snapshot, beginExchange{Text: "hi"}, env).Snapshot

	res := reduceOK(t, s, SelectTheme{OwnerID: owner, ThemeID: first.EntityID}, env)
	if res.Snapshot.SelectedThemeID != first.EntityID {
		t.Errorf("selected = %s", res.Snapshot.SelectedThemeID)
	}
	if len(res.Snapshot.Transcript.Messages) != 0 {
		t.Error("transcript not cleared")
	}
	if len(res.Changes) != 0 {
		t.Error("selection is local state and should not replicate")
	}
	if r := Reduce(s, SelectTheme{OwnerID: owner, ThemeID: "nope"}, env); !errors.Is(r.Err, ErrThemeNotFound) {
		t.Errorf("unknown theme err = %v", r.Err)
	}
}

func TestReduce_ExchangeGenerationGuard(t *testing.T) {
	env := testEnv()
	if r := Reduce(NewSnapshot(), beginExchange{Text: "hi"}, env); !errors.Is(r.Err, ErrNoThemeSelected) {
		t.Fatalf("begin without theme err = %v", r.Err)
	}

	s, owner := ownedSnapshot(t, env)
	s = reduceOK(t, s, CreateTheme{OwnerID: owner, Name: "Piano"}, env).Snapshot
	begin := reduceOK(t, s, beginExchange{Text: "How do I relax?"}, env)
	s = begin.Snapshot
	gen := s.Transcript.Generation

	if n := len(s.Transcript.Messages); n != 2 {
		t.Fatalf("messages = %d, want 2", n)
	}
	if s.Transcript.Messages[1].ID != begin.EntityID || s.Transcript.Messages[1].Text != "" {
		t.Errorf("placeholder = %+v", s.Transcript.Messages[1])
	}

	s = reduceOK(t, s, streamChunk{Generation: gen, MessageID: begin.EntityID, Text: "Breathe"}, env).Snapshot
	if got := s.Transcript.Messages[1].Text; got != "Breathe" {
		t.Errorf("text = %q", got)
	}

	s = reduceOK(t, s, ResetTranscript{}, env).Snapshot
	late := Reduce(s, streamChunk{Generation: gen, MessageID: begin.EntityID, Text: "Breathe out"}, env)
	if late.Applied || !errors.Is(late.Err, ErrStaleExchange) {
		t.Errorf("stale chunk: applied=%v err=%v", late.Applied, late.Err)
	}
	if r := Reduce(s, failExchange{Generation: gen, MessageID: begin.EntityID}, env); r.Applied {
		t.Error("stale failure applied")
	}
}
