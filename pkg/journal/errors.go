package journal

import "errors"

// Reasons a mutation is rejected. Rejections are no-ops: they are reported in
// Outcome.Err and never returned from Store.Apply as a failure.
var (
	ErrNoOwner           = errors.New("no owner established")
	ErrOwnerMismatch     = errors.New("mutation owner does not match established owner")
	ErrOwnerExists       = errors.New("a different owner is already established")
	ErrRequiredField     = errors.New("required field is empty")
	ErrInvalidPreference = errors.New("invalid notification preference")
	ErrThemeNotFound     = errors.New("theme not found")
	ErrInsightNotFound   = errors.New("insight not found")
	ErrSelfLink          = errors.New("an insight cannot link to itself")
	ErrAlreadyLinked     = errors.New("insights already linked")
	ErrStaleExchange     = errors.New("exchange no longer active")
	ErrNothingToUpdate   = errors.New("no fields to update")
)

// Operational errors.
var (
	ErrStoreClosed        = errors.New("store is closed")
	ErrOffline            = errors.New("no remote store configured")
	ErrChangeNotFound     = errors.New("pending change not found")
	ErrChangeInFlight     = errors.New("pending change is already being replicated")
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
	ErrNotLoaded          = errors.New("stored snapshot could not be read")
)

// Chat errors.
var (
	ErrNoThemeSelected    = errors.New("no theme selected")
	ErrExchangeInProgress = errors.New("an exchange is already in progress")
	ErrEmptyMessage       = errors.New("message is empty")
	ErrStreamFailed       = errors.New("reply stream failed")
	ErrNothingToExtract   = errors.New("transcript has nothing to extract")
)
