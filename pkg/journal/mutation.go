package journal

// MutationKind names a mutation variant for logging.
type MutationKind string

const (
	MutationEstablishOwner         MutationKind = "establish_owner"
	MutationCreateTheme            MutationKind = "create_theme"
	MutationUpdateThemeGoal        MutationKind = "update_theme_goal"
	MutationSelectTheme            MutationKind = "select_theme"
	MutationCreateInsight          MutationKind = "create_insight"
	MutationUpdateInsightBody      MutationKind = "update_insight_body"
	MutationDeleteInsight          MutationKind = "delete_insight"
	MutationLinkInsights           MutationKind = "link_insights"
	MutationUpdateOwnerPreferences MutationKind = "update_owner_preferences"
	MutationResetTranscript        MutationKind = "reset_transcript"
	mutationBeginExchange          MutationKind = "begin_exchange"
	mutationStreamChunk            MutationKind = "stream_chunk"
	mutationFailExchange           MutationKind = "fail_exchange"
)

// Mutation is one of the closed set of state transitions accepted by the
// store. The unexported method keeps the set closed to this package.
type Mutation interface {
	Kind() MutationKind
	mutation()
}

// EstablishOwner logs in or registers the owner. An empty ID registers a new
// owner with a generated id.
type EstablishOwner struct {
	ID        string
	Name      string
	Frequency Frequency
	Time      string
}

// CreateTheme adds a theme and selects it.
type CreateTheme struct {
	OwnerID string
	Name    string
	Goal    string
}

type UpdateThemeGoal struct {
	OwnerID string
	ThemeID string
	Goal    string
}

// SelectTheme switches the selected theme and clears the transcript.
type SelectTheme struct {
	OwnerID string
	ThemeID string
}

// CreateInsight records a note under ThemeID. SessionID ties insights
// extracted from a chat to that chat.
type CreateInsight struct {
	OwnerID   string
	ThemeID   string
	Body      string
	SessionID string
}

type UpdateInsightBody struct {
	OwnerID   string
	InsightID string
	Body      string
}

// DeleteInsight removes an insight and every link pointing at it.
type DeleteInsight struct {
	OwnerID   string
	InsightID string
}

// LinkInsights links A and B in both directions.
type LinkInsights struct {
	OwnerID string
	A       string
	B       string
}

// UpdateOwnerPreferences merges the non-nil fields into the owner profile.
type UpdateOwnerPreferences struct {
	OwnerID   string
	Name      *string
	Frequency *Frequency
	Time      *string
}

// ResetTranscript starts a new chat session for the selected theme.
type ResetTranscript struct{}

type beginExchange struct {
	Text string
}

type streamChunk struct {
	Generation uint64
	MessageID  string
	Text       string
}

type failExchange struct {
	Generation uint64
	MessageID  string
}

func (EstablishOwner) Kind() MutationKind         { return MutationEstablishOwner }
func (CreateTheme) Kind() MutationKind            { return MutationCreateTheme }
func (UpdateThemeGoal) Kind() MutationKind        { return MutationUpdateThemeGoal }
func (SelectTheme) Kind() MutationKind            { return MutationSelectTheme }
func (CreateInsight) Kind() MutationKind          { return MutationCreateInsight }
func (UpdateInsightBody) Kind() MutationKind      { return MutationUpdateInsightBody }
func (DeleteInsight) Kind() MutationKind          { return MutationDeleteInsight }
func (LinkInsights) Kind() MutationKind           { return MutationLinkInsights }
func (UpdateOwnerPreferences) Kind() MutationKind { return MutationUpdateOwnerPreferences }
func (ResetTranscript) Kind() MutationKind        { return MutationResetTranscript }
func (beginExchange) Kind() MutationKind          { return mutationBeginExchange }
func (streamChunk) Kind() MutationKind            { return mutationStreamChunk }
func (failExchange) Kind() MutationKind           { return mutationFailExchange }

func (EstablishOwner) mutation()         {}
func (CreateTheme) mutation()            {}
func (UpdateThemeGoal) mutation()        {}
func (SelectTheme) mutation()            {}
func (CreateInsight) mutation()          {}
func (UpdateInsightBody) mutation()      {}
func (DeleteInsight) mutation()          {}
func (LinkInsights) mutation()           {}
func (UpdateOwnerPreferences) mutation() {}
func (ResetTranscript) mutation()        {}
func (beginExchange) mutation()          {}
func (streamChunk) mutation()            {}
func (failExchange) mutation()           {}
