// Package intake accepts provider-retrieved events into the wallet: it
// collapses duplicates for presentation, gates acceptance on the holder
// identity, and persists the signed payloads as draft event groups for the
// next issuance run.
package intake

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"greenwallet/internal/crypto"
	"greenwallet/internal/events"
	"greenwallet/internal/identity"
	"greenwallet/internal/platform/metrics"
	"greenwallet/internal/securestorage"
	"greenwallet/internal/wallet"
	dErrors "greenwallet/pkg/domain-errors"
	"greenwallet/pkg/platform/sentinel"
	pstrings "greenwallet/pkg/platform/strings"
	"greenwallet/pkg/requestcontext"
)

// ErrIdentityMismatch is returned when retrieved events carry a holder
// identity incompatible with what the wallet already stores. The caller
// decides whether to retry with ReplaceExisting after confirming with the
// user; nothing is removed automatically.
var ErrIdentityMismatch = dErrors.New(dErrors.CodeConflict, "retrieved events do not match the stored identity")

type Service struct {
	store   wallet.Store
	secrets securestorage.Store
	crypto  crypto.Manager
	matcher *identity.Matcher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(store wallet.Store, secrets securestorage.Store, cryptoManager crypto.Manager, matcher *identity.Matcher, opts ...Option) *Service {
	s := &Service{
		store:   store,
		secrets: secrets,
		crypto:  cryptoManager,
		matcher: matcher,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Presentable collapses the retrieved events across all providers into the
// rows shown to the user before they accept. Pure; nothing is persisted.
func (s *Service) Presentable(retrieved []events.Retrieved) []events.Row {
	var all []events.Event
	for _, r := range retrieved {
		all = append(all, r.Events...)
	}
	return events.Collapse(all)
}

// AcceptEvents persists the retrieved signed payloads as draft event groups
// of the given kind, one group per provider response.
//
// Acceptance is gated on identity: the identities embedded in the stored
// event groups must be compatible with the incoming ones, otherwise
// ErrIdentityMismatch is returned and nothing changes. With replaceExisting
// set the gate is skipped and every stored event group is removed first;
// callers set it only after explicit user confirmation.
//
// Groups of the same kind and provider are superseded: the wallet keeps at
// most one per (provider, kind) pair.
func (s *Service) AcceptEvents(ctx context.Context, kind wallet.GroupKind, retrieved []events.Retrieved, replaceExisting bool) ([]wallet.EventGroup, error) {
	if !kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown event group kind")
	}
	if len(retrieved) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "no retrieved events to accept")
	}

	if replaceExisting {
		if err := s.store.RemoveAllEventGroups(ctx); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear existing event groups")
		}
	} else {
		existing, err := s.store.ListEventGroups(ctx)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list existing event groups")
		}
		stored := events.GroupIdentities(existing, s.crypto)
		incoming := events.RetrievedIdentities(retrieved)
		if !s.matcher.Compare(stored, incoming) {
			s.logger.Warn("rejecting retrieved events, identity mismatch",
				"kind", kind,
				"providers", providerList(retrieved))
			return nil, ErrIdentityMismatch
		}
	}

	groups := make([]wallet.EventGroup, 0, len(retrieved))
	for _, r := range retrieved {
		if len(r.SignedPayload) == 0 {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "retrieved response has no signed payload")
		}
		removed, err := s.store.RemoveExistingEventGroups(ctx, kind, r.ProviderIdentifier)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to supersede existing event groups")
		}
		if removed > 0 && s.metrics != nil {
			s.metrics.EventGroupsRemoved.Add(float64(removed))
		}

		group, err := s.store.StoreEventGroup(ctx, kind, r.ProviderIdentifier, r.SignedPayload, r.Expiry, true)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store event group")
		}
		groups = append(groups, group)
	}

	s.logger.Info("accepted retrieved events as draft groups",
		"kind", kind,
		"groups", len(groups),
		"request_id", requestcontext.RequestID(ctx))
	return groups, nil
}

// RemoveProviderEvents deletes the stored event groups of one kind and
// provider, for a user-initiated removal.
func (s *Service) RemoveProviderEvents(ctx context.Context, kind wallet.GroupKind, providerIdentifier string) (int, error) {
	removed, err := s.store.RemoveExistingEventGroups(ctx, kind, providerIdentifier)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove event groups")
	}
	if removed > 0 && s.metrics != nil {
		s.metrics.EventGroupsRemoved.Add(float64(removed))
	}
	return removed, nil
}

// RemoveGreenCards deletes every green card and the holder secret key that
// signed for them. The key is only meaningful together with the cards it was
// committed against; a later issuance run generates a fresh one.
func (s *Service) RemoveGreenCards(ctx context.Context) error {
	if err := s.store.RemoveExistingGreenCards(ctx); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove green cards")
	}
	if err := s.secrets.Delete(securestorage.KeyHolderSecretKey); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear holder secret key")
	}
	return nil
}

// PendingRemovalNotices returns the removed-event records the user has not
// been told about yet. A record counts as unseen when it was created after
// the last MarkRemovalNoticesSeen call.
func (s *Service) PendingRemovalNotices(ctx context.Context) ([]wallet.RemovedEvent, error) {
	all, err := s.store.ListRemovedEvents(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list removed events")
	}

	seenAt, err := securestorage.GetTime(s.secrets, securestorage.KeyRemovedEventsSeen)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read removal notice marker")
		}
		return all, nil
	}

	var pending []wallet.RemovedEvent
	for _, re := range all {
		if re.CreatedAt.After(seenAt) {
			pending = append(pending, re)
		}
	}
	return pending, nil
}

// MarkRemovalNoticesSeen records that every current removed-event record has
// been shown and deletes the acknowledged records; the notice is not raised
// again on the next app open.
func (s *Service) MarkRemovalNoticesSeen(ctx context.Context) error {
	all, err := s.store.ListRemovedEvents(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list removed events")
	}

	now := requestcontext.Now(ctx)
	if err := securestorage.SetTime(s.secrets, securestorage.KeyRemovedEventsSeen, now, securestorage.ScopeInstall); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record removal notice marker")
	}

	seen := map[wallet.RemovalReason]bool{}
	for _, re := range all {
		if seen[re.Reason] {
			continue
		}
		seen[re.Reason] = true
		if err := s.store.RemoveRemovedEvents(ctx, re.Reason); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear acknowledged removed events")
		}
	}
	return nil
}

// RemoveExpiredWalletData prunes stored data that no longer serves the
// wallet: event groups past their expiry date, committed groups that never
// received one and outlived the retention bound, and green cards whose
// origins have all lapsed. Runs at process start.
func (s *Service) RemoveExpiredWalletData(ctx context.Context, retention time.Duration) ([]wallet.ExpiredCard, error) {
	now := requestcontext.Now(ctx)

	if err := s.store.ExpireEventGroups(ctx, now); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire event groups")
	}

	groups, err := s.store.ListEventGroups(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list event groups")
	}
	cutoff := now.Add(-retention)
	for _, g := range groups {
		if g.ExpiresAt != nil || g.Draft || !g.CreatedAt.Before(cutoff) {
			continue
		}
		removed, err := s.store.RemoveExistingEventGroups(ctx, g.Kind, g.ProviderIdentifier)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove stale event groups")
		}
		if removed > 0 && s.metrics != nil {
			s.metrics.EventGroupsRemoved.Add(float64(removed))
		}
	}

	expired, err := s.store.RemoveExpiredGreenCards(ctx, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove expired green cards")
	}
	if len(expired) > 0 {
		s.logger.Info("removed green cards without unexpired origins", "cards", len(expired))
	}
	return expired, nil
}

func providerList(retrieved []events.Retrieved) string {
	providers := make([]string, 0, len(retrieved))
	for _, r := range retrieved {
		providers = append(providers, r.ProviderIdentifier)
	}
	return strings.Join(pstrings.DedupeAndTrimFold(providers), ",")
}
