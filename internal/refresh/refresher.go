// Package refresh keeps at least one valid credential available per green
// card without user action: it watches how much credential coverage remains,
// re-runs issuance when a card is close to running out, and retries the
// moment connectivity returns.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"greenwallet/internal/issuance"
	"greenwallet/internal/platform/metrics"
	"greenwallet/internal/reachability"
	"greenwallet/internal/scheduler"
	"greenwallet/internal/wallet"
	"greenwallet/pkg/requestcontext"
)

// GreenCardLoader is the issuance surface the refresher drives.
type GreenCardLoader interface {
	Run(ctx context.Context) (*issuance.Result, error)
}

// Refresher is the background credential-refresh state machine.
type Refresher struct {
	store         wallet.Store
	loader        GreenCardLoader
	thresholdDays int
	logger        *slog.Logger
	metrics       *metrics.Metrics
	sched         scheduler.Scheduler

	mu          sync.Mutex
	state       State
	onUpdate    func(old, new State)
	wakeup      scheduler.Handle
	unsubscribe func()
}

type Option func(*Refresher)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Refresher) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Refresher) {
		r.metrics = m
	}
}

func WithScheduler(s scheduler.Scheduler) Option {
	return func(r *Refresher) {
		r.sched = s
	}
}

// WithOnUpdate registers the state observer. Called outside the refresher's
// lock with the previous and new state whenever they differ.
func WithOnUpdate(fn func(old, new State)) Option {
	return func(r *Refresher) {
		r.onUpdate = fn
	}
}

// NewRefresher computes the initial expiry state and starts listening for
// reachability edges. thresholdDays: cards whose latest credential expires
// within this many days qualify for refresh.
func NewRefresher(ctx context.Context, store wallet.Store, loader GreenCardLoader, reach reachability.Subscriber, thresholdDays int, opts ...Option) *Refresher {
	r := &Refresher{
		store:         store,
		loader:        loader,
		thresholdDays: thresholdDays,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.state = State{
		Loading: LoadingState{Kind: LoadingIdle},
		Expiry:  r.calculateExpiryState(ctx),
	}

	if reach != nil {
		// Edge-triggered: retry exactly once per transition to reachable,
		// and only while parked waiting for connectivity.
		r.unsubscribe = reach.Subscribe(func(reachable bool) {
			if !reachable {
				return
			}
			r.mu.Lock()
			waiting := r.state.Loading.Kind == LoadingNoInternet
			r.mu.Unlock()
			if waiting {
				r.Load(context.Background())
			}
		})
	}
	return r
}

// State returns a copy of the current state.
func (r *Refresher) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Load runs one refresh cycle if the expiry state warrants it. A cycle
// already in progress is never raced: the call is ignored.
func (r *Refresher) Load(ctx context.Context) {
	r.mu.Lock()
	if r.state.Loading.Kind == LoadingInProgress {
		r.mu.Unlock()
		r.logger.Debug("refresh load already in progress, skipping")
		return
	}
	if r.state.Expiry.Kind == ExpiryNoActionNeeded {
		r.mu.Unlock()
		r.logger.Debug("no green cards within refresh threshold, skipping")
		return
	}
	old := r.state
	r.state.beginLoading()
	current := r.state
	r.mu.Unlock()
	r.notify(old, current)

	_, err := r.loader.Run(ctx)
	if err != nil {
		r.transition(func(s *State) {
			s.endLoadingWithError(err)
		})
		if r.metrics != nil {
			r.metrics.ObserveRefreshLoad("failed")
		}
		return
	}

	newExpiry := r.calculateExpiryState(ctx)
	r.transition(func(s *State) {
		// A successful load must move the expiry state; an identical state
		// would re-trigger the same load forever.
		if newExpiry.Equal(s.Expiry) {
			s.endLoadingWithError(ErrLogical)
			return
		}
		s.Expiry = newExpiry
		s.endLoading()
	})
	if r.metrics != nil {
		r.metrics.ObserveRefreshLoad("success")
	}
}

// UserDismissedError records that the failure was shown to the user.
func (r *Refresher) UserDismissedError() {
	r.transition(func(s *State) {
		s.UserHasDismissedError = true
	})
}

// Suspend cancels the pending wakeup. Timers are unreliable while the app is
// backgrounded; the caller resumes with Resume on foreground.
func (r *Refresher) Suspend() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wakeup != nil {
		r.wakeup.Cancel()
		r.wakeup = nil
	}
}

// Resume recomputes the expiry state, kicks a load if one is due, and
// schedules the next wakeup at the expiring deadline.
func (r *Refresher) Resume(ctx context.Context) {
	newExpiry := r.calculateExpiryState(ctx)
	r.transition(func(s *State) {
		s.Expiry = newExpiry
	})

	if newExpiry.Kind != ExpiryNoActionNeeded {
		r.Load(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wakeup != nil {
		r.wakeup.Cancel()
		r.wakeup = nil
	}
	if r.sched != nil && newExpiry.Kind == ExpiryExpiring {
		deadline := newExpiry.Deadline
		r.wakeup = r.sched.ScheduleAt(deadline, func() {
			r.Load(context.Background())
		})
	}
}

// Close stops reachability delivery and cancels the pending wakeup.
func (r *Refresher) Close() {
	r.Suspend()
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

func (r *Refresher) transition(mutate func(*State)) {
	r.mu.Lock()
	old := r.state
	mutate(&r.state)
	current := r.state
	r.mu.Unlock()
	r.notify(old, current)
}

func (r *Refresher) notify(old, current State) {
	if r.onUpdate != nil && !statesEqual(old, current) {
		r.onUpdate(old, current)
	}
}

func statesEqual(a, b State) bool {
	return a.Loading.Kind == b.Loading.Kind &&
		a.Loading.Silent == b.Loading.Silent &&
		a.Expiry.Equal(b.Expiry) &&
		a.HasLoadingEverFailed == b.HasLoadingEverFailed &&
		a.UserHasDismissedError == b.UserHasDismissedError &&
		a.ServerErrorOccurrenceCount == b.ServerErrorOccurrenceCount
}

// calculateExpiryState classifies every green card that still has unexpired
// origins. A card qualifies when its origins outlast its credentials (there
// is more claim validity than credential coverage) and the last credential
// expires within the threshold. A card with no credentials at all but with
// origins active now or within the threshold counts as expired: it never had
// coverage to begin with.
func (r *Refresher) calculateExpiryState(ctx context.Context) ExpiryState {
	now := requestcontext.Now(ctx)
	cards, err := r.store.GreenCardsWithUnexpiredOrigins(ctx, now, nil)
	if err != nil {
		r.logger.Error("failed to list green cards for expiry classification", "error", err)
		return ExpiryState{Kind: ExpiryNoActionNeeded}
	}

	expired := 0
	var expiringDeadlines []time.Time

	for _, card := range cards {
		latestOriginExpiry, ok := card.LatestOriginExpiry()
		if !ok {
			continue
		}

		if len(card.Credentials) == 0 {
			// Issued with zero credentials: can still become valid later,
			// beyond the signer horizon. Refresh once an origin is active or
			// about to be.
			if len(card.OriginsActiveWithinDays(now, r.thresholdDays)) > 0 {
				expired++
			}
			continue
		}

		latestCredentialExpiry, ok := card.LatestCredentialExpiry()
		if !ok {
			continue
		}

		// No refresh when the card itself is ending: the user needs a new
		// card, not new credentials.
		if !latestCredentialExpiry.Before(latestOriginExpiry) {
			continue
		}

		if !latestCredentialExpiry.After(now) {
			expired++
			continue
		}
		threshold := now.Add(time.Duration(r.thresholdDays) * 24 * time.Hour)
		if latestCredentialExpiry.After(threshold) {
			continue
		}
		expiringDeadlines = append(expiringDeadlines, latestCredentialExpiry)
	}

	switch {
	case expired > 0:
		return ExpiryState{Kind: ExpiryExpired}
	case len(expiringDeadlines) > 0:
		earliest := expiringDeadlines[0]
		for _, d := range expiringDeadlines[1:] {
			if d.Before(earliest) {
				earliest = d
			}
		}
		return ExpiryState{Kind: ExpiryExpiring, Deadline: earliest}
	default:
		return ExpiryState{Kind: ExpiryNoActionNeeded}
	}
}
