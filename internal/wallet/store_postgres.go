package wallet

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	dErrors "greenwallet/pkg/domain-errors"
	txcontext "greenwallet/pkg/platform/tx"
	"greenwallet/pkg/requestcontext"
)

// PostgresStore persists the wallet in PostgreSQL. Origins and credentials
// are stored as JSONB on the card row; they are only ever read and written as
// a unit with their card.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the wallet tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS event_groups (
			sequence            BIGSERIAL PRIMARY KEY,
			id                  UUID        NOT NULL,
			kind                TEXT        NOT NULL,
			provider_identifier TEXT        NOT NULL,
			payload             BYTEA       NOT NULL,
			expires_at          TIMESTAMPTZ,
			draft               BOOLEAN     NOT NULL,
			created_at          TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS green_cards (
			id          UUID        PRIMARY KEY,
			scope       TEXT        NOT NULL,
			origins     JSONB       NOT NULL,
			credentials JSONB       NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS removed_events (
			id         UUID        PRIMARY KEY,
			kind       TEXT        NOT NULL,
			event_date TIMESTAMPTZ NOT NULL,
			reason     TEXT        NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure wallet schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) StoreEventGroup(ctx context.Context, kind GroupKind, providerIdentifier string, payload []byte, expiresAt *time.Time, draft bool) (EventGroup, error) {
	if !kind.IsValid() {
		return EventGroup{}, dErrors.New(dErrors.CodeInvalidInput, "unknown event group kind")
	}

	group := EventGroup{
		ID:                 uuid.New(),
		Kind:               kind,
		ProviderIdentifier: providerIdentifier,
		Payload:            append([]byte(nil), payload...),
		ExpiresAt:          expiresAt,
		Draft:              draft,
		CreatedAt:          requestcontext.Now(ctx),
	}
	const query = `
		INSERT INTO event_groups (id, kind, provider_identifier, payload, expires_at, draft, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING sequence
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		group.ID, string(group.Kind), group.ProviderIdentifier, group.Payload,
		group.ExpiresAt, group.Draft, group.CreatedAt,
	).Scan(&group.Sequence)
	if err != nil {
		return EventGroup{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist event group")
	}
	return group, nil
}

func (s *PostgresStore) RemoveExistingEventGroups(ctx context.Context, kind GroupKind, providerIdentifier string) (int, error) {
	const query = `
		DELETE FROM event_groups
		WHERE kind = $1 AND LOWER(provider_identifier) = LOWER($2)
	`
	result, err := s.execer(ctx).ExecContext(ctx, query, string(kind), providerIdentifier)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove event groups")
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count removed event groups")
	}
	return int(removed), nil
}

func (s *PostgresStore) RemoveAllEventGroups(ctx context.Context) error {
	if _, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM event_groups`); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove event groups")
	}
	return nil
}

func (s *PostgresStore) RemoveDraftEventGroups(ctx context.Context) error {
	if _, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM event_groups WHERE draft`); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove draft event groups")
	}
	return nil
}

func (s *PostgresStore) CommitDraftEventGroups(ctx context.Context) error {
	if _, err := s.execer(ctx).ExecContext(ctx, `UPDATE event_groups SET draft = FALSE WHERE draft`); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit draft event groups")
	}
	return nil
}

func (s *PostgresStore) UpdateEventGroupExpiry(ctx context.Context, uniqueIdentifier string, expiresAt time.Time) error {
	// The unique identifier is the stringified sequence.
	const query = `UPDATE event_groups SET expires_at = $1 WHERE sequence::TEXT = $2`
	if _, err := s.execer(ctx).ExecContext(ctx, query, expiresAt, uniqueIdentifier); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update event group expiry")
	}
	return nil
}

func (s *PostgresStore) ExpireEventGroups(ctx context.Context, now time.Time) error {
	const query = `DELETE FROM event_groups WHERE expires_at IS NOT NULL AND expires_at < $1`
	if _, err := s.execer(ctx).ExecContext(ctx, query, now); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire event groups")
	}
	return nil
}

func (s *PostgresStore) FetchSignedEvents(ctx context.Context) ([][]byte, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `SELECT payload FROM event_groups ORDER BY sequence`)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to fetch signed events")
	}
	defer rows.Close()

	var payloads [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to scan signed event")
		}
		payloads = append(payloads, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to iterate signed events")
	}
	return payloads, nil
}

func (s *PostgresStore) ListEventGroups(ctx context.Context) ([]EventGroup, error) {
	const query = `
		SELECT sequence, id, kind, provider_identifier, payload, expires_at, draft, created_at
		FROM event_groups ORDER BY sequence
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list event groups")
	}
	defer rows.Close()

	var groups []EventGroup
	for rows.Next() {
		var (
			group EventGroup
			kind  string
		)
		if err := rows.Scan(&group.Sequence, &group.ID, &kind, &group.ProviderIdentifier,
			&group.Payload, &group.ExpiresAt, &group.Draft, &group.CreatedAt); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to scan event group")
		}
		group.Kind = GroupKind(kind)
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to iterate event groups")
	}
	return groups, nil
}

func (s *PostgresStore) scanGreenCards(rows *sql.Rows) ([]GreenCard, error) {
	defer rows.Close()

	var cards []GreenCard
	for rows.Next() {
		var (
			card        GreenCard
			scope       string
			origins     []byte
			credentials []byte
		)
		if err := rows.Scan(&card.ID, &scope, &origins, &credentials, &card.CreatedAt); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to scan green card")
		}
		card.Scope = CardScope(scope)
		if err := json.Unmarshal(origins, &card.Origins); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode card origins")
		}
		if err := json.Unmarshal(credentials, &card.Credentials); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode card credentials")
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to iterate green cards")
	}
	return cards, nil
}

func (s *PostgresStore) ListGreenCards(ctx context.Context) ([]GreenCard, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, scope, origins, credentials, created_at FROM green_cards ORDER BY created_at
	`)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list green cards")
	}
	return s.scanGreenCards(rows)
}

func (s *PostgresStore) GreenCardsWithUnexpiredOrigins(ctx context.Context, now time.Time, originType *OriginType) ([]GreenCard, error) {
	cards, err := s.ListGreenCards(ctx)
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

func insertGreenCard(ctx context.Context, exec dbExecutor, card GreenCard) error {
	origins, err := json.Marshal(card.Origins)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode card origins")
	}
	credentials, err := json.Marshal(card.Credentials)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode card credentials")
	}
	const query = `
		INSERT INTO green_cards (id, scope, origins, credentials, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := exec.ExecContext(ctx, query, card.ID, string(card.Scope), origins, credentials, card.CreatedAt); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist green card")
	}
	return nil
}

func (s *PostgresStore) StoreGreenCard(ctx context.Context, card GreenCard) error {
	if err := card.Validate(); err != nil {
		return err
	}
	if card.ID == uuid.Nil {
		card.ID = uuid.New()
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = requestcontext.Now(ctx)
	}
	return insertGreenCard(ctx, s.execer(ctx), card)
}

func (s *PostgresStore) ReplaceGreenCards(ctx context.Context, cards []GreenCard) error {
	now := requestcontext.Now(ctx)
	prepared := make([]GreenCard, 0, len(cards))
	for _, card := range cards {
		if err := card.Validate(); err != nil {
			return err
		}
		if card.ID == uuid.Nil {
			card.ID = uuid.New()
		}
		if card.CreatedAt.IsZero() {
			card.CreatedAt = now
		}
		prepared = append(prepared, card)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM green_cards`); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear green cards")
	}
	for _, card := range prepared {
		if err := insertGreenCard(ctx, tx, card); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit green card replacement")
	}
	return nil
}

func (s *PostgresStore) RemoveExistingGreenCards(ctx context.Context) error {
	if _, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM green_cards`); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove green cards")
	}
	return nil
}

func (s *PostgresStore) RemoveExpiredGreenCards(ctx context.Context, now time.Time) ([]ExpiredCard, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, scope, origins, credentials, created_at FROM green_cards ORDER BY created_at
	`)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list green cards")
	}
	cards, err := s.scanGreenCards(rows)
	if err != nil {
		return nil, err
	}

	var expired []ExpiredCard
	for _, card := range cards {
		if card.HasUnexpiredOrigins(now, nil) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM green_cards WHERE id = $1`, card.ID); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove expired green card")
		}
		expired = append(expired, ExpiredCard{
			Scope:      card.Scope,
			OriginType: lastExpiredOriginType(card),
		})
	}
	if err := tx.Commit(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit expired card removal")
	}
	return expired, nil
}

func (s *PostgresStore) CreateRemovedEvent(ctx context.Context, kind GroupKind, eventDate time.Time, reason RemovalReason) (RemovedEvent, error) {
	removed := RemovedEvent{
		ID:        uuid.New(),
		Kind:      kind,
		EventDate: eventDate,
		Reason:    reason,
		CreatedAt: requestcontext.Now(ctx),
	}
	const query = `
		INSERT INTO removed_events (id, kind, event_date, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		removed.ID, string(removed.Kind), removed.EventDate, string(removed.Reason), removed.CreatedAt)
	if err != nil {
		return RemovedEvent{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist removed event")
	}
	return removed, nil
}

func (s *PostgresStore) ListRemovedEvents(ctx context.Context) ([]RemovedEvent, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, kind, event_date, reason, created_at FROM removed_events ORDER BY created_at
	`)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list removed events")
	}
	defer rows.Close()

	var result []RemovedEvent
	for rows.Next() {
		var (
			removed RemovedEvent
			kind    string
			reason  string
		)
		if err := rows.Scan(&removed.ID, &kind, &removed.EventDate, &reason, &removed.CreatedAt); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to scan removed event")
		}
		removed.Kind = GroupKind(kind)
		removed.Reason = RemovalReason(reason)
		result = append(result, removed)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to iterate removed events")
	}
	return result, nil
}

func (s *PostgresStore) RemoveRemovedEvents(ctx context.Context, reason RemovalReason) error {
	if _, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM removed_events WHERE reason = $1`, string(reason)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove removed events")
	}
	return nil
}

func (s *PostgresStore) Wipe(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"event_groups", "green_cards", "removed_events"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to wipe wallet tables")
		}
	}
	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit wallet wipe")
	}
	return nil
}
