package wallet

import (
	"context"
	"strconv"
	"time"
)

// Store is the persistence contract for the wallet. Every mutating operation
// is atomic with respect to concurrent readers: a reader observes either the
// pre- or post-mutation state, never a partial one.
type Store interface {
	// StoreEventGroup persists a new event group for the wallet. The store
	// assigns the insertion-order sequence backing UniqueIdentifier.
	StoreEventGroup(ctx context.Context, kind GroupKind, providerIdentifier string, payload []byte, expiresAt *time.Time, draft bool) (EventGroup, error)

	// RemoveExistingEventGroups deletes all groups matching kind and provider
	// (provider match is case-insensitive) and returns how many were removed.
	RemoveExistingEventGroups(ctx context.Context, kind GroupKind, providerIdentifier string) (int, error)

	// RemoveAllEventGroups deletes every event group in the wallet.
	RemoveAllEventGroups(ctx context.Context) error

	// RemoveDraftEventGroups deletes groups still marked draft. Used to clean
	// up after a failed issuance run.
	RemoveDraftEventGroups(ctx context.Context) error

	// CommitDraftEventGroups clears the draft flag on all draft groups,
	// confirming them after a successful issuance run.
	CommitDraftEventGroups(ctx context.Context) error

	// UpdateEventGroupExpiry sets the expiry date of the group with the given
	// unique identifier. Unknown identifiers are ignored.
	UpdateEventGroupExpiry(ctx context.Context, uniqueIdentifier string, expiresAt time.Time) error

	// ExpireEventGroups deletes groups whose expiry date has passed.
	ExpireEventGroups(ctx context.Context, now time.Time) error

	// FetchSignedEvents returns the raw signed payloads to submit for
	// issuance, in insertion order.
	FetchSignedEvents(ctx context.Context) ([][]byte, error)

	ListEventGroups(ctx context.Context) ([]EventGroup, error)
	ListGreenCards(ctx context.Context) ([]GreenCard, error)

	// GreenCardsWithUnexpiredOrigins returns cards that still have at least
	// one unexpired origin, optionally of one origin type.
	GreenCardsWithUnexpiredOrigins(ctx context.Context, now time.Time, originType *OriginType) ([]GreenCard, error)

	// StoreGreenCard persists one card with its origins and credentials in a
	// single atomic unit; on failure nothing of the card remains.
	StoreGreenCard(ctx context.Context, card GreenCard) error

	// ReplaceGreenCards atomically deletes all existing cards and persists the
	// given set. If any card fails validation or persistence the previous set
	// is left untouched.
	ReplaceGreenCards(ctx context.Context, cards []GreenCard) error

	// RemoveExistingGreenCards deletes every green card.
	RemoveExistingGreenCards(ctx context.Context) error

	// RemoveExpiredGreenCards deletes cards with no unexpired origins left and
	// returns a descriptor per deleted card.
	RemoveExpiredGreenCards(ctx context.Context, now time.Time) ([]ExpiredCard, error)

	// CreateRemovedEvent records a server-invalidated event.
	CreateRemovedEvent(ctx context.Context, kind GroupKind, eventDate time.Time, reason RemovalReason) (RemovedEvent, error)

	ListRemovedEvents(ctx context.Context) ([]RemovedEvent, error)

	// RemoveRemovedEvents deletes removed-event records with the given
	// reason, after the user has seen the corresponding notice.
	RemoveRemovedEvents(ctx context.Context, reason RemovalReason) error

	// Wipe deletes everything the wallet holds.
	Wipe(ctx context.Context) error
}

func formatSequence(seq int64) string {
	return strconv.FormatInt(seq, 10)
}
