package wallet

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	dErrors "greenwallet/pkg/domain-errors"
)

// InMemoryStore keeps the wallet in process memory. It is the reference
// implementation of the Store contract and backs most tests; the leveldb and
// postgres stores provide durable variants of the same semantics.
type InMemoryStore struct {
	mu            sync.RWMutex
	seq           int64
	eventGroups   []EventGroup
	greenCards    []GreenCard
	removedEvents []RemovedEvent
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) StoreEventGroup(_ context.Context, kind GroupKind, providerIdentifier string, payload []byte, expiresAt *time.Time, draft bool) (EventGroup, error) {
	if !kind.IsValid() {
		return EventGroup{}, dErrors.New(dErrors.CodeInvalidInput, "unknown event kind")
	}
	if providerIdentifier == "" {
		return EventGroup{}, dErrors.New(dErrors.CodeInvalidInput, "provider identifier required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	group := EventGroup{
		ID:                 uuid.New(),
		Kind:               kind,
		ProviderIdentifier: providerIdentifier,
		Payload:            append([]byte(nil), payload...),
		Draft:              draft,
		Sequence:           s.seq,
		CreatedAt:          time.Now(),
	}
	if expiresAt != nil {
		t := *expiresAt
		group.ExpiresAt = &t
	}
	s.eventGroups = append(s.eventGroups, group)
	return group, nil
}

func (s *InMemoryStore) RemoveExistingEventGroups(_ context.Context, kind GroupKind, providerIdentifier string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.eventGroups[:0]
	for _, g := range s.eventGroups {
		if g.Kind == kind && strings.EqualFold(g.ProviderIdentifier, providerIdentifier) {
			removed++
			continue
		}
		kept = append(kept, g)
	}
	s.eventGroups = kept
	return removed, nil
}

func (s *InMemoryStore) RemoveAllEventGroups(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventGroups = nil
	return nil
}

func (s *InMemoryStore) RemoveDraftEventGroups(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.eventGroups[:0]
	for _, g := range s.eventGroups {
		if !g.Draft {
			kept = append(kept, g)
		}
	}
	s.eventGroups = kept
	return nil
}

func (s *InMemoryStore) CommitDraftEventGroups(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.eventGroups {
		s.eventGroups[i].Draft = false
	}
	return nil
}

func (s *InMemoryStore) UpdateEventGroupExpiry(_ context.Context, uniqueIdentifier string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.eventGroups {
		if s.eventGroups[i].UniqueIdentifier() == uniqueIdentifier {
			t := expiresAt
			s.eventGroups[i].ExpiresAt = &t
		}
	}
	return nil
}

func (s *InMemoryStore) ExpireEventGroups(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.eventGroups[:0]
	for _, g := range s.eventGroups {
		if g.Expired(now) {
			continue
		}
		kept = append(kept, g)
	}
	s.eventGroups = kept
	return nil
}

func (s *InMemoryStore) FetchSignedEvents(_ context.Context) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payloads := make([][]byte, 0, len(s.eventGroups))
	for _, g := range s.eventGroups {
		payloads = append(payloads, append([]byte(nil), g.Payload...))
	}
	return payloads, nil
}

func (s *InMemoryStore) ListEventGroups(_ context.Context) ([]EventGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]EventGroup(nil), s.eventGroups...), nil
}

func (s *InMemoryStore) ListGreenCards(_ context.Context) ([]GreenCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyGreenCards(s.greenCards), nil
}

func (s *InMemoryStore) GreenCardsWithUnexpiredOrigins(_ context.Context, now time.Time, originType *OriginType) ([]GreenCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []GreenCard
	for _, c := range s.greenCards {
		if c.HasUnexpiredOrigins(now, originType) {
			result = append(result, copyGreenCard(c))
		}
	}
	return result, nil
}

func (s *InMemoryStore) StoreGreenCard(_ context.Context, card GreenCard) error {
	if err := card.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if card.ID == uuid.Nil {
		card.ID = uuid.New()
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now()
	}
	s.greenCards = append(s.greenCards, copyGreenCard(card))
	return nil
}

func (s *InMemoryStore) ReplaceGreenCards(_ context.Context, cards []GreenCard) error {
	// Validate everything before touching stored state so a failure cannot
	// leave the wallet with a partial (or empty) card set.
	replacement := make([]GreenCard, 0, len(cards))
	for _, card := range cards {
		if err := card.Validate(); err != nil {
			return err
		}
		if card.ID == uuid.Nil {
			card.ID = uuid.New()
		}
		if card.CreatedAt.IsZero() {
			card.CreatedAt = time.Now()
		}
		replacement = append(replacement, copyGreenCard(card))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.greenCards = replacement
	return nil
}

func (s *InMemoryStore) RemoveExistingGreenCards(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.greenCards = nil
	return nil
}

func (s *InMemoryStore) RemoveExpiredGreenCards(_ context.Context, now time.Time) ([]ExpiredCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []ExpiredCard
	kept := s.greenCards[:0]
	for _, c := range s.greenCards {
		if c.HasUnexpiredOrigins(now, nil) {
			kept = append(kept, c)
			continue
		}
		deleted = append(deleted, ExpiredCard{Scope: c.Scope, OriginType: lastExpiredOriginType(c)})
	}
	s.greenCards = kept
	return deleted, nil
}

func (s *InMemoryStore) CreateRemovedEvent(_ context.Context, kind GroupKind, eventDate time.Time, reason RemovalReason) (RemovedEvent, error) {
	if !kind.IsValid() {
		return RemovedEvent{}, dErrors.New(dErrors.CodeInvalidInput, "unknown event kind")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := RemovedEvent{
		ID:        uuid.New(),
		Kind:      kind,
		EventDate: eventDate,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	s.removedEvents = append(s.removedEvents, removed)
	return removed, nil
}

func (s *InMemoryStore) ListRemovedEvents(_ context.Context) ([]RemovedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RemovedEvent(nil), s.removedEvents...), nil
}

func (s *InMemoryStore) RemoveRemovedEvents(_ context.Context, reason RemovalReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.removedEvents[:0]
	for _, r := range s.removedEvents {
		if r.Reason != reason {
			kept = append(kept, r)
		}
	}
	s.removedEvents = kept
	return nil
}

func (s *InMemoryStore) Wipe(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventGroups = nil
	s.greenCards = nil
	s.removedEvents = nil
	return nil
}

// lastExpiredOriginType is the type of the origin that expired last, used to
// describe a deleted card. Assumes the card has at least one origin.
func lastExpiredOriginType(c GreenCard) OriginType {
	var last Origin
	for _, o := range c.Origins {
		if o.ExpirationTime.After(last.ExpirationTime) {
			last = o
		}
	}
	return last.Type
}

func copyGreenCard(c GreenCard) GreenCard {
	out := c
	out.Origins = append([]Origin(nil), c.Origins...)
	for i, o := range out.Origins {
		out.Origins[i].Hints = append([]string(nil), o.Hints...)
		if o.DoseNumber != nil {
			n := *o.DoseNumber
			out.Origins[i].DoseNumber = &n
		}
	}
	out.Credentials = make([]Credential, len(c.Credentials))
	for i, cr := range c.Credentials {
		out.Credentials[i] = cr
		out.Credentials[i].Data = append([]byte(nil), cr.Data...)
	}
	return out
}

func copyGreenCards(cards []GreenCard) []GreenCard {
	out := make([]GreenCard, 0, len(cards))
	for _, c := range cards {
		out = append(out, copyGreenCard(c))
	}
	return out
}
