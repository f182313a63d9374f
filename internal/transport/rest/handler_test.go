package rest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"greenwallet/internal/identity"
	"greenwallet/internal/intake"
	"greenwallet/internal/issuance"
	"greenwallet/internal/refresh"
	"greenwallet/internal/securestorage"
	"greenwallet/internal/wallet"
	dErrors "greenwallet/pkg/domain-errors"
	"greenwallet/pkg/testutil"
)

type stubIssuance struct {
	result *issuance.Result
	err    error
	calls  int
}

func (s *stubIssuance) Run(context.Context) (*issuance.Result, error) {
	s.calls++
	return s.result, s.err
}

type stubRefresh struct {
	state     refresh.State
	loads     int
	dismissed bool
}

func (s *stubRefresh) Load(context.Context) { s.loads++ }

func (s *stubRefresh) State() refresh.State { return s.state }

func (s *stubRefresh) UserDismissedError() { s.dismissed = true }

type HandlerSuite struct {
	suite.Suite
	store    *wallet.InMemoryStore
	secrets  *securestorage.InMemoryStore
	issuance *stubIssuance
	refresh  *stubRefresh
	router   chi.Router
	now      time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = wallet.NewInMemoryStore()
	s.secrets = securestorage.NewInMemoryStore()
	s.issuance = &stubIssuance{}
	s.refresh = &stubRefresh{state: refresh.State{
		Loading: refresh.LoadingState{Kind: refresh.LoadingIdle},
		Expiry:  refresh.ExpiryState{Kind: refresh.ExpiryNoActionNeeded},
	}}
	// Fixtures are laid out around the wall clock: the request time
	// middleware pins each request to time.Now().
	s.now = time.Now().UTC()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	intakeService := intake.NewService(s.store, s.secrets, nil, identity.NewMatcher(), intake.WithLogger(logger))
	handler := New(s.store, s.secrets, intakeService, s.issuance, s.refresh, logger, nil)

	s.router = chi.NewRouter()
	handler.Register(s.router)
}

func (s *HandlerSuite) signedPayload(provider string) []byte {
	wrapper, err := json.Marshal(map[string]any{
		"providerIdentifier": provider,
		"holder":             identity.Identity{FirstName: "Corrie", LastName: "Jansen", BirthDate: "1960-01-12"},
	})
	s.Require().NoError(err)
	payload, err := json.Marshal(map[string]string{
		"payload":   base64.StdEncoding.EncodeToString(wrapper),
		"signature": "signature",
	})
	s.Require().NoError(err)
	return payload
}

func (s *HandlerSuite) acceptBody(provider string) map[string]any {
	return map[string]any{
		"kind": "vaccination",
		"responses": []map[string]any{{
			"provider":      provider,
			"signedPayload": s.signedPayload(provider),
			"holder":        identity.Identity{FirstName: "Corrie", LastName: "Jansen", BirthDate: "1960-01-12"},
		}},
	}
}

func (s *HandlerSuite) storeCard() {
	card := wallet.GreenCard{
		Scope: wallet.ScopeDomestic,
		Origins: []wallet.Origin{{
			Type:           wallet.OriginTypeVaccination,
			EventDate:      s.now.AddDate(0, -1, 0),
			ValidFrom:      s.now.AddDate(0, -1, 0),
			ExpirationTime: s.now.AddDate(1, 0, 0),
		}},
		Credentials: []wallet.Credential{{
			Data:           []byte("credential"),
			ValidFrom:      s.now.Add(-time.Hour),
			ExpirationTime: s.now.Add(24 * time.Hour),
			Version:        2,
		}},
	}
	s.Require().NoError(s.store.StoreGreenCard(context.Background(), card))
}

func (s *HandlerSuite) TestListCards() {
	s.storeCard()

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/wallet/cards"))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)

	type response struct {
		Cards []struct {
			Scope               string `json:"scope"`
			Credentials         int    `json:"credentials"`
			HasActiveCredential bool   `json:"hasActiveCredential"`
			Origins             []struct {
				Type  string `json:"type"`
				Phase string `json:"phase"`
			} `json:"origins"`
		} `json:"cards"`
	}
	resp := testutil.UnmarshalResponse[response](s.T(), rr)
	s.Require().Len(resp.Cards, 1)
	s.Equal("domestic", resp.Cards[0].Scope)
	s.Equal(1, resp.Cards[0].Credentials)
	s.True(resp.Cards[0].HasActiveCredential)
	s.Require().Len(resp.Cards[0].Origins, 1)
	s.Equal("begun", resp.Cards[0].Origins[0].Phase)
}

func (s *HandlerSuite) TestRemoveCards() {
	s.storeCard()
	s.Require().NoError(s.secrets.Set(securestorage.KeyHolderSecretKey, []byte("secret"), securestorage.ScopeInstall))

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodDelete, "/wallet/cards"))
	testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

	cards, err := s.store.ListGreenCards(context.Background())
	s.Require().NoError(err)
	s.Empty(cards)
}

func (s *HandlerSuite) TestAcceptEvents() {
	s.Run("valid submission stores draft groups", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/wallet/events", s.acceptBody("GGD"))
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		testutil.AssertJSONHasKey(s.T(), rr, "eventGroups")

		groups, err := s.store.ListEventGroups(context.Background())
		s.Require().NoError(err)
		s.Require().Len(groups, 1)
		s.True(groups[0].Draft)
	})

	s.Run("unknown kind maps to bad request", func() {
		body := s.acceptBody("GGD")
		body["kind"] = "bogus"
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/wallet/events", body)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
	})

	s.Run("malformed body maps to bad request", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/wallet/events", "not an object")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})

	s.Run("identity mismatch maps to conflict", func() {
		body := map[string]any{
			"kind": "recovery",
			"responses": []map[string]any{{
				"provider":      "RIVM",
				"signedPayload": s.signedPayload("RIVM"),
				"holder":        identity.Identity{FirstName: "Dirk", LastName: "Pietersen", BirthDate: "1990-06-30"},
			}},
		}
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/wallet/events", body)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, string(dErrors.CodeConflict))
	})
}

func (s *HandlerSuite) TestListEventGroups() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/wallet/events", s.acceptBody("GGD"))
	testutil.DoRequest(s.router, req)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/wallet/events"))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)

	type response struct {
		EventGroups []struct {
			UniqueIdentifier   string `json:"uniqueIdentifier"`
			Kind               string `json:"kind"`
			ProviderIdentifier string `json:"providerIdentifier"`
			Draft              bool   `json:"draft"`
		} `json:"eventGroups"`
	}
	resp := testutil.UnmarshalResponse[response](s.T(), rr)
	s.Require().Len(resp.EventGroups, 1)
	s.Equal("vaccination", resp.EventGroups[0].Kind)
	s.Equal("GGD", resp.EventGroups[0].ProviderIdentifier)
	s.NotEmpty(resp.EventGroups[0].UniqueIdentifier)
}

func (s *HandlerSuite) TestRemoveProviderEvents() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/wallet/events", s.acceptBody("GGD"))
	testutil.DoRequest(s.router, req)

	s.Run("removal is case insensitive on the provider", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodDelete, "/wallet/events/vaccination/ggd"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[map[string]int](s.T(), rr)
		s.Equal(1, (*resp)["removed"])
	})

	s.Run("unknown kind maps to bad request", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodDelete, "/wallet/events/bogus/ggd"))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})
}

func (s *HandlerSuite) TestIssue() {
	s.Run("success reports stored cards", func() {
		s.issuance.result = &issuance.Result{StoredCards: 2}
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/wallet/issuance"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		testutil.AssertJSONHasKey(s.T(), rr, "storedCards")
		s.Equal(1, s.issuance.calls)
	})

	s.Run("an empty wallet maps to bad request", func() {
		s.issuance.result = nil
		s.issuance.err = &issuance.Error{Reason: issuance.ReasonNoSignedEvents}
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/wallet/issuance"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
	})

	s.Run("a busy backend maps to service unavailable", func() {
		s.issuance.err = &issuance.Error{Reason: issuance.ReasonServerBusy}
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/wallet/issuance"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, string(dErrors.CodeUnavailable))
	})

	s.Run("other failures map to internal", func() {
		s.issuance.err = &issuance.Error{Reason: issuance.ReasonFailedToSave}
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/wallet/issuance"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, string(dErrors.CodeInternal))
	})
}

func (s *HandlerSuite) TestRefresh() {
	s.Run("state is reported", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/wallet/refresh"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[refreshStateView](s.T(), rr)
		s.Equal(refresh.LoadingIdle, resp.Loading)
		s.Equal(refresh.ExpiryNoActionNeeded, resp.Expiry)
	})

	s.Run("a deadline is reported when expiring", func() {
		deadline := s.now.Add(2 * time.Hour)
		s.refresh.state.Expiry = refresh.ExpiryState{Kind: refresh.ExpiryExpiring, Deadline: deadline}
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/wallet/refresh"))
		resp := testutil.UnmarshalResponse[refreshStateView](s.T(), rr)
		s.Require().NotNil(resp.Deadline)
		s.True(resp.Deadline.Equal(deadline))
	})

	s.Run("posting triggers a load", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/wallet/refresh"))
		testutil.AssertStatus(s.T(), rr, http.StatusAccepted)
		s.Equal(1, s.refresh.loads)
	})

	s.Run("dismissing the error is recorded", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/wallet/refresh/dismiss-error"))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
		s.True(s.refresh.dismissed)
	})
}

func (s *HandlerSuite) TestRemovalNotices() {
	_, err := s.store.CreateRemovedEvent(context.Background(), wallet.GroupKindVaccination, s.now.AddDate(0, -2, 0), wallet.RemovalReasonBlockedEvent)
	s.Require().NoError(err)

	s.Run("pending notices are listed", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/wallet/removed-events"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		type response struct {
			RemovedEvents []removedEventView `json:"removedEvents"`
		}
		resp := testutil.UnmarshalResponse[response](s.T(), rr)
		s.Require().Len(resp.RemovedEvents, 1)
		s.Equal(wallet.RemovalReasonBlockedEvent, resp.RemovedEvents[0].Reason)
	})

	s.Run("acknowledging clears the pending list", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/wallet/removed-events/seen"))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

		rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/wallet/removed-events"))
		type response struct {
			RemovedEvents []removedEventView `json:"removedEvents"`
		}
		resp := testutil.UnmarshalResponse[response](s.T(), rr)
		s.Empty(resp.RemovedEvents)
	})
}

func (s *HandlerSuite) TestWipe() {
	s.storeCard()
	s.Require().NoError(s.secrets.Set(securestorage.KeyHolderSecretKey, []byte("secret"), securestorage.ScopeInstall))

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodDelete, "/wallet"))
	testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

	cards, err := s.store.ListGreenCards(context.Background())
	s.Require().NoError(err)
	s.Empty(cards)
	_, err = s.secrets.Get(securestorage.KeyHolderSecretKey)
	s.Error(err)
}

func (s *HandlerSuite) TestContentTypeGuard() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/wallet/events", s.acceptBody("GGD"))
	req.Header.Set("Content-Type", "text/xml")
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusUnsupportedMediaType)
}
