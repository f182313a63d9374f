package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	dErrors "greenwallet/pkg/domain-errors"
	"greenwallet/pkg/requestcontext"
)

// Key layout: event groups under "eg:" with a zero-padded sequence so
// iteration order is insertion order, green cards under "gc:<uuid>", removed
// events under "re:<seq>", and the sequence counter under "seq".
const (
	prefixEventGroup   = "eg:"
	prefixGreenCard    = "gc:"
	prefixRemovedEvent = "re:"
	keySequence        = "seq"
)

// LevelDBStore persists the wallet in a local LevelDB database. Multi-key
// mutations go through a write batch so readers never observe a partial
// mutation; a mutex serializes read-modify-write sequences.
type LevelDBStore struct {
	mu sync.RWMutex
	db *leveldb.DB
}

func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open wallet database: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func (s *LevelDBStore) nextSequence() (int64, error) {
	var seq int64
	raw, err := s.db.Get([]byte(keySequence), nil)
	if err != nil && !errors.Is(err, ldberrors.ErrNotFound) {
		return 0, err
	}
	if err == nil {
		if _, err := fmt.Sscanf(string(raw), "%d", &seq); err != nil {
			return 0, err
		}
	}
	seq++
	if err := s.db.Put([]byte(keySequence), []byte(fmt.Sprintf("%d", seq)), nil); err != nil {
		return 0, err
	}
	return seq, nil
}

func eventGroupKey(sequence int64) []byte {
	return []byte(fmt.Sprintf("%s%016d", prefixEventGroup, sequence))
}

func (s *LevelDBStore) StoreEventGroup(ctx context.Context, kind GroupKind, providerIdentifier string, payload []byte, expiresAt *time.Time, draft bool) (EventGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !kind.IsValid() {
		return EventGroup{}, dErrors.New(dErrors.CodeInvalidInput, "unknown event group kind")
	}
	seq, err := s.nextSequence()
	if err != nil {
		return EventGroup{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to advance sequence")
	}

	group := EventGroup{
		ID:                 uuid.New(),
		Kind:               kind,
		ProviderIdentifier: providerIdentifier,
		Payload:            append([]byte(nil), payload...),
		ExpiresAt:          expiresAt,
		Draft:              draft,
		Sequence:           seq,
		CreatedAt:          requestcontext.Now(ctx),
	}
	raw, err := json.Marshal(group)
	if err != nil {
		return EventGroup{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode event group")
	}
	if err := s.db.Put(eventGroupKey(seq), raw, nil); err != nil {
		return EventGroup{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist event group")
	}
	return group, nil
}

// eventGroups iterates stored groups in insertion order.
func (s *LevelDBStore) eventGroups() ([]EventGroup, error) {
	var groups []EventGroup
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixEventGroup)), nil)
	defer iter.Release()
	for iter.Next() {
		var group EventGroup
		if err := json.Unmarshal(iter.Value(), &group); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode event group")
		}
		groups = append(groups, group)
	}
	if err := iter.Error(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to scan event groups")
	}
	return groups, nil
}

// removeEventGroupsWhere batches deletion of every group the predicate
// selects and returns how many were removed.
func (s *LevelDBStore) removeEventGroupsWhere(match func(EventGroup) bool) (int, error) {
	groups, err := s.eventGroups()
	if err != nil {
		return 0, err
	}
	batch := new(leveldb.Batch)
	removed := 0
	for _, group := range groups {
		if match(group) {
			batch.Delete(eventGroupKey(group.Sequence))
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove event groups")
	}
	return removed, nil
}

func (s *LevelDBStore) RemoveExistingEventGroups(ctx context.Context, kind GroupKind, providerIdentifier string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeEventGroupsWhere(func(g EventGroup) bool {
		return g.Kind == kind && strings.EqualFold(g.ProviderIdentifier, providerIdentifier)
	})
}

func (s *LevelDBStore) RemoveAllEventGroups(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.removeEventGroupsWhere(func(EventGroup) bool { return true })
	return err
}

func (s *LevelDBStore) RemoveDraftEventGroups(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.removeEventGroupsWhere(func(g EventGroup) bool { return g.Draft })
	return err
}

func (s *LevelDBStore) CommitDraftEventGroups(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups, err := s.eventGroups()
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	dirty := false
	for _, group := range groups {
		if !group.Draft {
			continue
		}
		group.Draft = false
		raw, err := json.Marshal(group)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode event group")
		}
		batch.Put(eventGroupKey(group.Sequence), raw)
		dirty = true
	}
	if !dirty {
		return nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit draft event groups")
	}
	return nil
}

func (s *LevelDBStore) UpdateEventGroupExpiry(ctx context.Context, uniqueIdentifier string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups, err := s.eventGroups()
	if err != nil {
		return err
	}
	for _, group := range groups {
		if group.UniqueIdentifier() != uniqueIdentifier {
			continue
		}
		expiry := expiresAt
		group.ExpiresAt = &expiry
		raw, err := json.Marshal(group)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode event group")
		}
		if err := s.db.Put(eventGroupKey(group.Sequence), raw, nil); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update event group expiry")
		}
		return nil
	}
	return nil
}

func (s *LevelDBStore) ExpireEventGroups(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.removeEventGroupsWhere(func(g EventGroup) bool { return g.Expired(now) })
	return err
}

func (s *LevelDBStore) FetchSignedEvents(ctx context.Context) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups, err := s.eventGroups()
	if err != nil {
		return nil, err
	}
	payloads := make([][]byte, 0, len(groups))
	for _, group := range groups {
		payloads = append(payloads, append([]byte(nil), group.Payload...))
	}
	return payloads, nil
}

func (s *LevelDBStore) ListEventGroups(ctx context.Context) ([]EventGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventGroups()
}

func greenCardKey(id uuid.UUID) []byte {
	return []byte(prefixGreenCard + id.String())
}

func (s *LevelDBStore) greenCards() ([]GreenCard, error) {
	var cards []GreenCard
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixGreenCard)), nil)
	defer iter.Release()
	for iter.Next() {
		var card GreenCard
		if err := json.Unmarshal(iter.Value(), &card); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode green card")
		}
		cards = append(cards, card)
	}
	if err := iter.Error(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to scan green cards")
	}
	return cards, nil
}

func (s *LevelDBStore) ListGreenCards(ctx context.Context) ([]GreenCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.greenCards()
}

func (s *LevelDBStore) GreenCardsWithUnexpiredOrigins(ctx context.Context, now time.Time, originType *OriginType) ([]GreenCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cards, err := s.greenCards()
	if err != nil {
		return nil, err
	}
	var result []GreenCard
	for _, card := range cards {
		if card.HasUnexpiredOrigins(now, originType) {
			result = append(result, card)
		}
	}
	return result, nil
}

func (s *LevelDBStore) StoreGreenCard(ctx context.Context, card GreenCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := card.Validate(); err != nil {
		return err
	}
	if card.ID == uuid.Nil {
		card.ID = uuid.New()
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = requestcontext.Now(ctx)
	}
	raw, err := json.Marshal(card)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode green card")
	}
	if err := s.db.Put(greenCardKey(card.ID), raw, nil); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist green card")
	}
	return nil
}

func (s *LevelDBStore) ReplaceGreenCards(ctx context.Context, cards []GreenCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate and encode everything before touching the database so a bad
	// card leaves the previous set in place.
	now := requestcontext.Now(ctx)
	encoded := make(map[uuid.UUID][]byte, len(cards))
	for i := range cards {
		card := cards[i]
		if err := card.Validate(); err != nil {
			return err
		}
		if card.ID == uuid.Nil {
			card.ID = uuid.New()
		}
		if card.CreatedAt.IsZero() {
			card.CreatedAt = now
		}
		raw, err := json.Marshal(card)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode green card")
		}
		encoded[card.ID] = raw
	}

	existing, err := s.greenCards()
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for _, card := range existing {
		batch.Delete(greenCardKey(card.ID))
	}
	for id, raw := range encoded {
		batch.Put(greenCardKey(id), raw)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to replace green cards")
	}
	return nil
}

func (s *LevelDBStore) RemoveExistingGreenCards(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.greenCards()
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for _, card := range existing {
		batch.Delete(greenCardKey(card.ID))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove green cards")
	}
	return nil
}

func (s *LevelDBStore) RemoveExpiredGreenCards(ctx context.Context, now time.Time) ([]ExpiredCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cards, err := s.greenCards()
	if err != nil {
		return nil, err
	}
	batch := new(leveldb.Batch)
	var expired []ExpiredCard
	for _, card := range cards {
		if card.HasUnexpiredOrigins(now, nil) {
			continue
		}
		batch.Delete(greenCardKey(card.ID))
		expired = append(expired, ExpiredCard{
			Scope:      card.Scope,
			OriginType: lastExpiredOriginType(card),
		})
	}
	if len(expired) == 0 {
		return nil, nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove expired green cards")
	}
	return expired, nil
}

func removedEventKey(id uuid.UUID) []byte {
	return []byte(prefixRemovedEvent + id.String())
}

func (s *LevelDBStore) CreateRemovedEvent(ctx context.Context, kind GroupKind, eventDate time.Time, reason RemovalReason) (RemovedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := RemovedEvent{
		ID:        uuid.New(),
		Kind:      kind,
		EventDate: eventDate,
		Reason:    reason,
		CreatedAt: requestcontext.Now(ctx),
	}
	raw, err := json.Marshal(removed)
	if err != nil {
		return RemovedEvent{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode removed event")
	}
	if err := s.db.Put(removedEventKey(removed.ID), raw, nil); err != nil {
		return RemovedEvent{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist removed event")
	}
	return removed, nil
}

func (s *LevelDBStore) ListRemovedEvents(ctx context.Context) ([]RemovedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listRemovedEventsLocked()
}

func (s *LevelDBStore) RemoveRemovedEvents(ctx context.Context, reason RemovalReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.listRemovedEventsLocked()
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for _, re := range removed {
		if re.Reason == reason {
			batch.Delete(removedEventKey(re.ID))
		}
	}
	if err := s.db.Write(batch, nil); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove removed events")
	}
	return nil
}

func (s *LevelDBStore) listRemovedEventsLocked() ([]RemovedEvent, error) {
	var result []RemovedEvent
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixRemovedEvent)), nil)
	defer iter.Release()
	for iter.Next() {
		var removed RemovedEvent
		if err := json.Unmarshal(iter.Value(), &removed); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode removed event")
		}
		result = append(result, removed)
	}
	if err := iter.Error(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to scan removed events")
	}
	return result, nil
}

func (s *LevelDBStore) Wipe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(nil, nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to scan wallet database")
	}
	if err := s.db.Write(batch, nil); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to wipe wallet database")
	}
	return nil
}
