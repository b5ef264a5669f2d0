package eventsourcing

import errorspkg "github.com/abdoElHodaky/eventcore/pkg/errors"

// Kind and SyncError are re-exported from pkg/errors so collaborators
// and adapters share one error taxonomy with the core.
type Kind = errorspkg.Kind

const (
	KindInvalidInput          = errorspkg.KindInvalidInput
	KindUnauthorized          = errorspkg.KindUnauthorized
	KindNotFound              = errorspkg.KindNotFound
	KindStorage               = errorspkg.KindStorage
	KindConflict              = errorspkg.KindConflict
	KindNetwork               = errorspkg.KindNetwork
	KindAggregateTypeMismatch = errorspkg.KindAggregateTypeMismatch
)

// SyncError is the error type returned by every core operation.
type SyncError = errorspkg.SyncError

// NewError builds a SyncError for the given operation and kind.
var NewError = errorspkg.New

// KindOf returns the Kind carried by err if it is (or wraps) a
// *SyncError, and false otherwise.
var KindOf = errorspkg.KindOf
