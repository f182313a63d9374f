package intake

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"greenwallet/internal/events"
	"greenwallet/internal/identity"
	"greenwallet/internal/securestorage"
	"greenwallet/internal/wallet"
	dErrors "greenwallet/pkg/domain-errors"
	"greenwallet/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	store   *wallet.InMemoryStore
	secrets *securestorage.InMemoryStore
	service *Service
	ctx     context.Context
	now     time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = wallet.NewInMemoryStore()
	s.secrets = securestorage.NewInMemoryStore()
	s.service = NewService(s.store, s.secrets, nil, identity.NewMatcher())
	s.now = time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

// signedPayload builds the stored shape of a provider response embedding the
// given holder identity.
func (s *ServiceSuite) signedPayload(provider string, holder identity.Identity) []byte {
	wrapper, err := json.Marshal(map[string]any{
		"providerIdentifier": provider,
		"holder":             holder,
	})
	s.Require().NoError(err)
	payload, err := json.Marshal(events.SignedResponse{
		Payload:   base64.StdEncoding.EncodeToString(wrapper),
		Signature: "signature",
	})
	s.Require().NoError(err)
	return payload
}

func (s *ServiceSuite) retrieved(provider string, holder identity.Identity) events.Retrieved {
	return events.Retrieved{
		ProviderIdentifier: provider,
		Identity:           &holder,
		SignedPayload:      s.signedPayload(provider, holder),
	}
}

var (
	corrie = identity.Identity{FirstName: "Corrie", LastName: "Jansen", BirthDate: "1960-01-12"}
	dirk   = identity.Identity{FirstName: "Dirk", LastName: "Pietersen", BirthDate: "1990-06-30"}
)

func (s *ServiceSuite) TestAcceptEventsValidation() {
	s.Run("unknown kind is rejected", func() {
		_, err := s.service.AcceptEvents(s.ctx, wallet.GroupKind("bogus"), []events.Retrieved{s.retrieved("GGD", corrie)}, false)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("empty retrieval is rejected", func() {
		_, err := s.service.AcceptEvents(s.ctx, wallet.GroupKindVaccination, nil, false)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("a response without a signed payload is rejected", func() {
		_, err := s.service.AcceptEvents(s.ctx, wallet.GroupKindVaccination, []events.Retrieved{
			{ProviderIdentifier: "GGD", Identity: &corrie},
		}, false)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestAcceptEventsStoresDrafts() {
	groups, err := s.service.AcceptEvents(s.ctx, wallet.GroupKindVaccination, []events.Retrieved{
		s.retrieved("GGD", corrie),
		s.retrieved("RIVM", corrie),
	}, false)
	s.Require().NoError(err)
	s.Require().Len(groups, 2)
	for _, g := range groups {
		s.True(g.Draft, "accepted groups stay drafts until issuance commits them")
		s.Equal(wallet.GroupKindVaccination, g.Kind)
	}
}

func (s *ServiceSuite) TestAcceptEventsSupersedes() {
	_, err := s.service.AcceptEvents(s.ctx, wallet.GroupKindVaccination, []events.Retrieved{s.retrieved("GGD", corrie)}, false)
	s.Require().NoError(err)
	_, err = s.service.AcceptEvents(s.ctx, wallet.GroupKindVaccination, []events.Retrieved{s.retrieved("GGD", corrie)}, false)
	s.Require().NoError(err)

	groups, err := s.store.ListEventGroups(s.ctx)
	s.Require().NoError(err)
	s.Len(groups, 1, "at most one group per provider and kind")
}

func (s *ServiceSuite) TestAcceptEventsIdentityGate() {
	_, err := s.service.AcceptEvents(s.ctx, wallet.GroupKindVaccination, []events.Retrieved{s.retrieved("GGD", corrie)}, false)
	s.Require().NoError(err)

	s.Run("a different holder is rejected and nothing changes", func() {
		_, err := s.service.AcceptEvents(s.ctx, wallet.GroupKindRecovery, []events.Retrieved{s.retrieved("GGD", dirk)}, false)
		s.Require().ErrorIs(err, ErrIdentityMismatch)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		groups, err := s.store.ListEventGroups(s.ctx)
		s.Require().NoError(err)
		s.Len(groups, 1)
	})

	s.Run("the same holder passes", func() {
		_, err := s.service.AcceptEvents(s.ctx, wallet.GroupKindRecovery, []events.Retrieved{s.retrieved("GGD", corrie)}, false)
		s.Require().NoError(err)
	})

	s.Run("replaceExisting skips the gate and clears the wallet first", func() {
		groups, err := s.service.AcceptEvents(s.ctx, wallet.GroupKindVaccination, []events.Retrieved{s.retrieved("GGD", dirk)}, true)
		s.Require().NoError(err)
		s.Require().Len(groups, 1)

		all, err := s.store.ListEventGroups(s.ctx)
		s.Require().NoError(err)
		s.Len(all, 1, "existing groups are removed before accepting")
	})
}

func (s *ServiceSuite) TestAcceptEventsUndecodablePayloadsNeverBlock() {
	_, err := s.store.StoreEventGroup(s.ctx, wallet.GroupKindVaccination, "GGD", []byte("not json at all"), nil, false)
	s.Require().NoError(err)

	_, err = s.service.AcceptEvents(s.ctx, wallet.GroupKindRecovery, []events.Retrieved{s.retrieved("RIVM", dirk)}, false)
	s.NoError(err, "undecodable stored identities are skipped, not treated as a mismatch")
}

func (s *ServiceSuite) TestRemoveProviderEvents() {
	_, err := s.service.AcceptEvents(s.ctx, wallet.GroupKindVaccination, []events.Retrieved{s.retrieved("GGD", corrie)}, false)
	s.Require().NoError(err)

	removed, err := s.service.RemoveProviderEvents(s.ctx, wallet.GroupKindVaccination, "ggd")
	s.Require().NoError(err)
	s.Equal(1, removed)
}

func (s *ServiceSuite) TestRemoveGreenCards() {
	card := wallet.GreenCard{
		Scope: wallet.ScopeDomestic,
		Origins: []wallet.Origin{{
			Type:           wallet.OriginTypeVaccination,
			EventDate:      s.now.AddDate(0, -1, 0),
			ValidFrom:      s.now.AddDate(0, -1, 0),
			ExpirationTime: s.now.AddDate(1, 0, 0),
		}},
	}
	s.Require().NoError(s.store.StoreGreenCard(s.ctx, card))
	s.Require().NoError(s.secrets.Set(securestorage.KeyHolderSecretKey, []byte("secret"), securestorage.ScopeInstall))

	s.Require().NoError(s.service.RemoveGreenCards(s.ctx))

	cards, err := s.store.ListGreenCards(s.ctx)
	s.Require().NoError(err)
	s.Empty(cards)
	_, err = s.secrets.Get(securestorage.KeyHolderSecretKey)
	s.Error(err, "the holder secret key goes with the cards it signed for")
}

func (s *ServiceSuite) TestRemovalNotices() {
	first, err := s.store.CreateRemovedEvent(s.ctx, wallet.GroupKindVaccination, s.now.AddDate(0, -2, 0), wallet.RemovalReasonBlockedEvent)
	s.Require().NoError(err)

	s.Run("everything is pending before the first acknowledgement", func() {
		pending, err := s.service.PendingRemovalNotices(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(pending, 1)
		s.Equal(first.ID, pending[0].ID)
	})

	s.Run("acknowledged notices stop being pending and are deleted", func() {
		seenCtx := requestcontext.WithTime(context.Background(), time.Now())
		s.Require().NoError(s.service.MarkRemovalNoticesSeen(seenCtx))

		pending, err := s.service.PendingRemovalNotices(s.ctx)
		s.Require().NoError(err)
		s.Empty(pending)

		remaining, err := s.store.ListRemovedEvents(s.ctx)
		s.Require().NoError(err)
		s.Empty(remaining, "acknowledged records do not linger in the store")
	})

	s.Run("later removals are pending again", func() {
		_, err := s.store.CreateRemovedEvent(s.ctx, wallet.GroupKindRecovery, s.now.AddDate(0, -1, 0), wallet.RemovalReasonBlockedEvent)
		s.Require().NoError(err)

		pending, err := s.service.PendingRemovalNotices(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(pending, 1)
		s.Equal(wallet.GroupKindRecovery, pending[0].Kind)
	})
}

func (s *ServiceSuite) TestRemoveExpiredWalletData() {
	// The store stamps CreatedAt from the wall clock, so the sweep time sits
	// one retention period past it to make undated committed groups stale.
	retention := 90 * 24 * time.Hour
	sweepAt := time.Now().Add(retention + time.Hour)
	sweepCtx := requestcontext.WithTime(context.Background(), sweepAt)

	pastExpiry := sweepAt.Add(-time.Hour)
	futureExpiry := sweepAt.AddDate(1, 0, 0)

	_, err := s.store.StoreEventGroup(s.ctx, wallet.GroupKindVaccination, "GGD", s.signedPayload("GGD", corrie), &pastExpiry, false)
	s.Require().NoError(err)
	_, err = s.store.StoreEventGroup(s.ctx, wallet.GroupKindRecovery, "RIVM", s.signedPayload("RIVM", corrie), &futureExpiry, false)
	s.Require().NoError(err)
	_, err = s.store.StoreEventGroup(s.ctx, wallet.GroupKindPositiveTest, "GGD", s.signedPayload("GGD", corrie), nil, false)
	s.Require().NoError(err)
	_, err = s.store.StoreEventGroup(s.ctx, wallet.GroupKindNegativeTest, "GGD", s.signedPayload("GGD", corrie), nil, true)
	s.Require().NoError(err)

	lapsed := wallet.GreenCard{
		Scope: wallet.ScopeDomestic,
		Origins: []wallet.Origin{{
			Type:           wallet.OriginTypeTest,
			EventDate:      s.now,
			ValidFrom:      s.now,
			ExpirationTime: s.now.Add(40 * time.Hour),
		}},
	}
	covered := wallet.GreenCard{
		Scope: wallet.ScopeInternational,
		Origins: []wallet.Origin{{
			Type:           wallet.OriginTypeVaccination,
			EventDate:      s.now,
			ValidFrom:      s.now,
			ExpirationTime: futureExpiry,
		}},
	}
	s.Require().NoError(s.store.StoreGreenCard(s.ctx, lapsed))
	s.Require().NoError(s.store.StoreGreenCard(s.ctx, covered))

	expired, err := s.service.RemoveExpiredWalletData(sweepCtx, retention)
	s.Require().NoError(err)

	s.Run("cards without unexpired origins are pruned and reported", func() {
		s.Require().Len(expired, 1)
		s.Equal(wallet.ScopeDomestic, expired[0].Scope)
		s.Equal(wallet.OriginTypeTest, expired[0].OriginType)

		cards, err := s.store.ListGreenCards(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(cards, 1)
		s.Equal(wallet.ScopeInternational, cards[0].Scope)
	})

	s.Run("dated expiry and retention both prune, drafts survive", func() {
		groups, err := s.store.ListEventGroups(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(groups, 2)

		kinds := map[wallet.GroupKind]bool{}
		for _, g := range groups {
			kinds[g.Kind] = true
		}
		s.True(kinds[wallet.GroupKindRecovery], "a future expiry date keeps the group")
		s.True(kinds[wallet.GroupKindNegativeTest], "drafts belong to the issuance run, not the sweep")
	})
}

func (s *ServiceSuite) TestPresentable() {
	dose := 2
	rows := s.service.Presentable([]events.Retrieved{
		{
			ProviderIdentifier: "GGD",
			Events: []events.Event{
				events.NewVaccination("GGD", "a", events.Vaccination{Date: s.now.AddDate(0, -6, 0), HPKCode: "2924528", DoseNumber: &dose}),
			},
		},
		{
			ProviderIdentifier: "RIVM",
			Events: []events.Event{
				events.NewVaccination("RIVM", "b", events.Vaccination{Date: s.now.AddDate(0, -6, 0), HPKCode: "2924528", DoseNumber: &dose}),
			},
		},
	})
	s.Require().Len(rows, 1)
	s.Equal([]string{"GGD", "RIVM"}, rows[0].Providers)
}
