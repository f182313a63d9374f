// Package validity classifies origin windows against a point in time and
// decides what expiry information is worth presenting for a green card.
package validity

import (
	"time"

	"greenwallet/internal/wallet"
)

// Phase describes where an origin window sits relative to now.
type Phase string

const (
	PhaseNotYetBegun Phase = "not_yet_begun"
	PhaseBegun       Phase = "begun"
	PhaseExpired     Phase = "expired"
)

// Window is one origin's evaluated validity.
type Window struct {
	Origin wallet.Origin
	Phase  Phase

	// ShowCountdown is set when the window ends soon enough that a live
	// countdown is more useful than a date.
	ShowCountdown bool

	// ExpiryIsDistant hides the expiry line entirely for windows so far out
	// that the date is meaningless to the user.
	ExpiryIsDistant bool
}

// distantExpiryHorizon is the cutoff beyond which an expiry date is not
// shown. Some recovery origins are issued with administrative end dates far
// in the future.
const distantExpiryHorizon = 3 * 365 * 24 * time.Hour

// PhaseOf classifies a single origin at the given time. Expiry wins over the
// not-yet-begun check so a malformed inverted window reads as expired.
func PhaseOf(o wallet.Origin, now time.Time) Phase {
	if o.ExpirationTime.Before(now) {
		return PhaseExpired
	}
	if o.ValidFrom.After(now) {
		return PhaseNotYetBegun
	}
	return PhaseBegun
}

// countdownThreshold returns how close to expiry an origin must be before a
// countdown replaces the expiry date, or false when that origin kind never
// shows one.
func countdownThreshold(scope wallet.CardScope, originType wallet.OriginType) (time.Duration, bool) {
	switch originType {
	case wallet.OriginTypeTest:
		return 6 * time.Hour, true
	case wallet.OriginTypeRecovery:
		return 21 * 24 * time.Hour, true
	}
	if scope == wallet.ScopeDomestic {
		return 24 * time.Hour, true
	}
	return 0, false
}

// Evaluate classifies every origin of the card at the given time.
func Evaluate(card wallet.GreenCard, now time.Time) []Window {
	windows := make([]Window, 0, len(card.Origins))
	for _, o := range card.Origins {
		w := Window{
			Origin:          o,
			Phase:           PhaseOf(o, now),
			ExpiryIsDistant: o.ExpirationTime.Sub(now) > distantExpiryHorizon,
		}
		if w.Phase == PhaseBegun {
			if threshold, ok := countdownThreshold(card.Scope, o.Type); ok {
				w.ShowCountdown = o.ExpirationTime.Sub(now) <= threshold
			}
		}
		windows = append(windows, w)
	}
	return windows
}

// NextTransition returns the soonest future moment at which any origin of
// any given card changes phase, either by becoming valid or by expiring.
// Callers use it to schedule a re-render or a refresh wakeup.
func NextTransition(cards []wallet.GreenCard, now time.Time) (time.Time, bool) {
	var next time.Time
	consider := func(t time.Time) {
		if !t.After(now) {
			return
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	for _, card := range cards {
		for _, o := range card.Origins {
			consider(o.ValidFrom)
			consider(o.ExpirationTime)
		}
	}
	return next, !next.IsZero()
}
