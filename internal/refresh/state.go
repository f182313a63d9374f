package refresh

import (
	"errors"
	"time"

	"greenwallet/internal/transport/api"
)

// ErrLogical reports a refresh that "succeeded" without changing the expiry
// state. Treated as fatal for the run to prevent an infinite silent refresh
// loop.
var ErrLogical = errors.New("refresh completed without changing expiry state")

// ExpiryKind classifies the wallet's aggregate credential coverage.
type ExpiryKind string

const (
	// ExpiryNoActionNeeded: no green card needs new credentials yet.
	ExpiryNoActionNeeded ExpiryKind = "no_action_needed"
	// ExpiryExpiring: at least one card runs out of credentials soon; the
	// deadline is the earliest such expiry.
	ExpiryExpiring ExpiryKind = "expiring"
	// ExpiryExpired: at least one card already has no usable credential.
	// Takes precedence over expiring.
	ExpiryExpired ExpiryKind = "expired"
)

// ExpiryState is the aggregate over all green cards.
type ExpiryState struct {
	Kind     ExpiryKind
	Deadline time.Time // set for ExpiryExpiring
}

func (e ExpiryState) Equal(other ExpiryState) bool {
	return e.Kind == other.Kind && e.Deadline.Equal(other.Deadline)
}

// LoadingKind is the refresher's load-cycle state.
type LoadingKind string

const (
	LoadingIdle       LoadingKind = "idle"
	LoadingInProgress LoadingKind = "loading"
	LoadingFailed     LoadingKind = "failed"
	LoadingNoInternet LoadingKind = "no_internet"
)

// LoadingState carries the load cycle plus its failure, if any.
type LoadingState struct {
	Kind   LoadingKind
	Silent bool // only meaningful while LoadingInProgress
	Err    error
}

// State is the externally observable refresher state.
type State struct {
	Loading LoadingState
	Expiry  ExpiryState

	// HasLoadingEverFailed flips permanently on the first failure of any
	// kind; later loads are no longer silent.
	HasLoadingEverFailed bool

	// UserHasDismissedError: until the user dismisses a failure it is
	// presented modally; afterwards inline.
	UserHasDismissedError bool

	// ServerErrorOccurrenceCount counts failures other than connectivity
	// loss, so a first occurrence can be presented differently from repeats.
	ServerErrorOccurrenceCount int
}

// IsNonsilentlyLoading reports a load the user should see.
func (s State) IsNonsilentlyLoading() bool {
	return s.Loading.Kind == LoadingInProgress && !s.Loading.Silent
}

// beginLoading enters the loading state. The load stays silent only while
// nothing has ever failed and the credentials have not actually lapsed.
func (s *State) beginLoading() {
	s.Loading = LoadingState{
		Kind:   LoadingInProgress,
		Silent: !s.HasLoadingEverFailed && s.Expiry.Kind != ExpiryExpired,
	}
}

func (s *State) endLoading() {
	s.Loading = LoadingState{Kind: LoadingIdle}
}

// endLoadingWithError classifies a load failure: connectivity loss parks the
// refresher in LoadingNoInternet awaiting a reachability edge; everything
// else surfaces as LoadingFailed. Only genuine server failures count an
// occurrence; a logical failure is the refresher's own verdict, not the
// backend's.
func (s *State) endLoadingWithError(err error) {
	s.HasLoadingEverFailed = true

	if api.IsNoInternet(err) {
		s.Loading = LoadingState{Kind: LoadingNoInternet, Err: err}
		return
	}
	if !errors.Is(err, ErrLogical) {
		s.ServerErrorOccurrenceCount++
	}
	s.Loading = LoadingState{Kind: LoadingFailed, Err: err}
}
