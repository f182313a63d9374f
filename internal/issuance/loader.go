// Package issuance drives the exchange of locally held signed events for
// freshly signed green cards: request a nonce, commit to it locally, submit
// the signed events, and swap the issued cards into the wallet.
package issuance

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"greenwallet/internal/crypto"
	"greenwallet/internal/platform/metrics"
	"greenwallet/internal/securestorage"
	"greenwallet/internal/transport/api"
	"greenwallet/internal/wallet"
	"greenwallet/pkg/requestcontext"
)

// State is the coordinator's run state, for observability. Terminal states
// are StateSuccess and StateFailed.
type State string

const (
	StateIdle                State = "idle"
	StateRequestingNonce     State = "requesting_nonce"
	StateCommittingEvents    State = "committing_events"
	StateFetchingCredentials State = "fetching_credentials"
	StateStoringCredentials  State = "storing_credentials"
	StateSuccess             State = "success"
	StateFailed              State = "failed"
)

// Network is the backend surface the coordinator consumes.
type Network interface {
	PrepareIssue(ctx context.Context) (*api.PrepareIssueEnvelope, error)
	FetchGreenCards(ctx context.Context, req api.GreenCardsRequest) (*api.GreenCardsResponse, error)
}

// Result is a successful run: the backend response plus what was recorded.
type Result struct {
	Response      *api.GreenCardsResponse
	StoredCards   int
	RemovedEvents []wallet.RemovedEvent
}

// Loader is the issuance coordinator. At most one run is in flight per
// wallet; concurrent triggers coalesce onto the running exchange.
type Loader struct {
	network Network
	crypto  crypto.Manager
	store   wallet.Store
	secrets securestorage.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	flows   []string

	group singleflight.Group

	mu    sync.Mutex
	state State
}

type Option func(*Loader)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) {
		l.metrics = m
	}
}

// WithFlows sets the event flows submitted with the credential fetch.
func WithFlows(flows []string) Option {
	return func(l *Loader) {
		l.flows = flows
	}
}

func NewLoader(network Network, cryptoManager crypto.Manager, store wallet.Store, secrets securestorage.Store, opts ...Option) *Loader {
	l := &Loader{
		network: network,
		crypto:  cryptoManager,
		store:   store,
		secrets: secrets,
		logger:  slog.Default(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current run state.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loader) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run signs the wallet's events into green cards and credentials. Concurrent
// calls share one exchange: the second caller receives the first run's
// result instead of racing a second run.
func (l *Loader) Run(ctx context.Context) (*Result, error) {
	v, err, _ := l.group.Do("run", func() (any, error) {
		start := requestcontext.Now(ctx)
		result, err := l.run(ctx)
		if l.metrics != nil {
			outcome := "success"
			if err != nil {
				outcome = string(StateFailed)
				if reason, ok := ReasonOf(err); ok {
					outcome = string(reason)
				}
			}
			l.metrics.ObserveIssuanceRun(outcome, requestcontext.Now(ctx).Sub(start).Seconds())
		}
		return result, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (l *Loader) run(ctx context.Context) (*Result, error) {
	// Step 1: issuance nonce and one-time session token.
	l.setState(StateRequestingNonce)
	envelope, err := l.network.PrepareIssue(ctx)
	if err != nil {
		if api.IsServerBusy(err) {
			return nil, l.fail(ctx, ReasonServerBusy, err)
		}
		return nil, l.fail(ctx, ReasonPreparingIssueFailed, err)
	}

	// Step 2: local commitment over the nonce.
	nonce, err := base64.StdEncoding.DecodeString(envelope.PrepareIssueMessage)
	if err != nil {
		return nil, l.fail(ctx, ReasonFailedToPrepareIssue, err)
	}
	secretKey, err := l.crypto.GenerateSecretKey()
	if err != nil {
		return nil, l.fail(ctx, ReasonFailedToPrepareIssue, err)
	}
	commitment, err := l.crypto.GenerateCommitmentMessage(nonce, secretKey)
	if err != nil || commitment == "" {
		return nil, l.fail(ctx, ReasonFailedToPrepareIssue, err)
	}

	// Step 3: everything the wallet holds, or nothing to do.
	l.setState(StateCommittingEvents)
	signedEvents, err := l.store.FetchSignedEvents(ctx)
	if err != nil {
		return nil, l.fail(ctx, ReasonFailedToSave, err)
	}
	if len(signedEvents) == 0 {
		// Not a failure of any collaborator: the caller should prompt the
		// user to add events rather than show a server error. The fetch call
		// is never made.
		return nil, l.fail(ctx, ReasonNoSignedEvents, nil)
	}

	events := make([]string, len(signedEvents))
	for i, raw := range signedEvents {
		events[i] = string(raw)
	}

	// Step 4: exchange events + commitment for green cards.
	l.setState(StateFetchingCredentials)
	response, err := l.network.FetchGreenCards(ctx, api.GreenCardsRequest{
		SessionToken:           envelope.SessionToken,
		Events:                 events,
		IssueCommitmentMessage: base64.StdEncoding.EncodeToString([]byte(commitment)),
		Flows:                  l.flows,
	})
	if err != nil {
		if api.IsServerBusy(err) {
			return nil, l.fail(ctx, ReasonServerBusy, err)
		}
		return nil, l.fail(ctx, ReasonFetchingCredentialsFailed, err)
	}

	// Step 5: build every replacement card in memory first, then swap. The
	// old cards are only deleted as part of a swap that is known to succeed,
	// so a failure can never leave the wallet empty.
	l.setState(StateStoringCredentials)
	cards, err := l.buildGreenCards(response)
	if err != nil {
		return nil, l.fail(ctx, ReasonFailedToSave, err)
	}
	if err := l.store.ReplaceGreenCards(ctx, cards); err != nil {
		return nil, l.fail(ctx, ReasonFailedToSave, err)
	}
	if err := l.secrets.Set(securestorage.KeyHolderSecretKey, secretKey, securestorage.ScopeInstall); err != nil {
		return nil, l.fail(ctx, ReasonFailedToSave, err)
	}

	// Server-invalidated events are a successful-but-partial result, never a
	// run failure.
	removed := l.applyBlobExpiries(ctx, response)

	if err := l.store.CommitDraftEventGroups(ctx); err != nil {
		return nil, l.fail(ctx, ReasonFailedToSave, err)
	}
	if err := securestorage.SetTime(l.secrets, securestorage.KeyLastIssuanceSuccess, requestcontext.Now(ctx), securestorage.ScopeInstall); err != nil {
		l.logger.Warn("failed to record issuance success time", "error", err)
	}

	l.setState(StateSuccess)
	if l.metrics != nil {
		l.metrics.GreenCardsStored.Add(float64(len(cards)))
	}
	l.logger.Info("issuance run succeeded",
		"cards", len(cards),
		"blocked", len(removed),
	)
	return &Result{Response: response, StoredCards: len(cards), RemovedEvents: removed}, nil
}

// fail records the terminal state and rolls back draft event groups so no
// half-committed state survives the run.
func (l *Loader) fail(ctx context.Context, reason Reason, cause error) error {
	l.setState(StateFailed)
	if err := l.store.RemoveDraftEventGroups(ctx); err != nil {
		l.logger.Error("draft cleanup failed after issuance error", "error", err)
	}
	l.logger.Warn("issuance run failed", "reason", string(reason), "error", cause)
	return newError(reason, cause)
}

// buildGreenCards converts the backend descriptors into wallet cards. Any
// unparsable card aborts the whole build; partial card sets are never stored.
func (l *Loader) buildGreenCards(response *api.GreenCardsResponse) ([]wallet.GreenCard, error) {
	var cards []wallet.GreenCard

	if response.Domestic != nil {
		card, err := l.buildDomesticCard(*response.Domestic)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	for _, remote := range response.International {
		card, err := l.buildInternationalCard(remote)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, nil
}

func (l *Loader) buildDomesticCard(remote api.RemoteGreenCard) (wallet.GreenCard, error) {
	card := wallet.GreenCard{Scope: wallet.ScopeDomestic}

	origins, err := convertOrigins(remote.Origins)
	if err != nil {
		return wallet.GreenCard{}, err
	}
	card.Origins = origins

	attrs, err := l.crypto.CreateCredential([]byte(remote.CreateCredentialMessages))
	if err != nil {
		return wallet.GreenCard{}, fmt.Errorf("create domestic credentials: %w", err)
	}
	for _, a := range attrs {
		card.Credentials = append(card.Credentials, wallet.Credential{
			Data:           a.Credential,
			ValidFrom:      a.ValidFrom,
			ExpirationTime: a.ExpirationTime,
			Version:        a.Version,
		})
	}
	return card, nil
}

func (l *Loader) buildInternationalCard(remote api.RemoteGreenCard) (wallet.GreenCard, error) {
	card := wallet.GreenCard{Scope: wallet.ScopeInternational}

	origins, err := convertOrigins(remote.Origins)
	if err != nil {
		return wallet.GreenCard{}, err
	}
	card.Origins = origins

	// An international card carries exactly one credential; its expiry comes
	// from the credential attributes, and it is valid immediately.
	blob := []byte(remote.Credential)
	attrs, err := l.crypto.ReadCredentialAttributes(blob)
	if err != nil || attrs == nil {
		return wallet.GreenCard{}, fmt.Errorf("read international credential: %w", err)
	}
	card.Credentials = []wallet.Credential{{
		Data:           blob,
		ValidFrom:      attrs.ValidFrom,
		ExpirationTime: attrs.ExpirationTime,
		Version:        attrs.Version,
	}}
	return card, nil
}

func convertOrigins(remotes []api.RemoteOrigin) ([]wallet.Origin, error) {
	origins := make([]wallet.Origin, 0, len(remotes))
	for _, r := range remotes {
		originType, err := wallet.ParseOriginType(r.Type)
		if err != nil {
			return nil, err
		}
		origin := wallet.Origin{
			Type:           originType,
			EventDate:      r.EventTime,
			ValidFrom:      r.ValidFrom,
			ExpirationTime: r.ExpirationTime,
			DoseNumber:     r.DoseNumber,
			Hints:          r.Hints,
		}
		if err := origin.Validate(); err != nil {
			return nil, err
		}
		origins = append(origins, origin)
	}
	return origins, nil
}

// applyBlobExpiries applies the server's expiry updates to stored event
// groups and records a RemovedEvent for every blocked identifier that
// references a group the wallet holds.
func (l *Loader) applyBlobExpiries(ctx context.Context, response *api.GreenCardsResponse) []wallet.RemovedEvent {
	if len(response.BlobExpireDates) == 0 {
		return nil
	}

	groups, err := l.store.ListEventGroups(ctx)
	if err != nil {
		l.logger.Error("failed to list event groups for expiry update", "error", err)
		groups = nil
	}
	byIdentifier := make(map[string]wallet.EventGroup, len(groups))
	for _, g := range groups {
		byIdentifier[g.UniqueIdentifier()] = g
	}

	var removed []wallet.RemovedEvent
	for _, expiry := range response.BlobExpireDates {
		if err := l.store.UpdateEventGroupExpiry(ctx, expiry.Identifier, expiry.ExpirationDate); err != nil {
			l.logger.Error("failed to update event group expiry",
				"identifier", expiry.Identifier,
				"error", err,
			)
		}
		if expiry.Reason == "" {
			continue
		}
		group, ok := byIdentifier[expiry.Identifier]
		if !ok {
			continue
		}
		event, err := l.store.CreateRemovedEvent(ctx, group.Kind, l.eventDateOf(group), wallet.RemovalReasonBlockedEvent)
		if err != nil {
			l.logger.Error("failed to record removed event", "error", err)
			continue
		}
		if l.metrics != nil {
			l.metrics.RemovedEventsRecorded.Inc()
		}
		removed = append(removed, event)
	}
	return removed
}

// eventDateOf recovers the event date from a group payload when the crypto
// library can read it, falling back to the group's creation time.
func (l *Loader) eventDateOf(group wallet.EventGroup) time.Time {
	if attrs, err := l.crypto.ReadCredentialAttributes(group.Payload); err == nil && attrs != nil && attrs.EventDate != nil {
		return *attrs.EventDate
	}
	return group.CreatedAt
}
