// Package rest is the wallet's HTTP surface. Handlers stay thin: decode,
// delegate to a service, encode. Business rules live in the services.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"greenwallet/internal/events"
	"greenwallet/internal/identity"
	"greenwallet/internal/intake"
	"greenwallet/internal/issuance"
	"greenwallet/internal/platform/metrics"
	"greenwallet/internal/platform/middleware"
	"greenwallet/internal/refresh"
	"greenwallet/internal/securestorage"
	"greenwallet/internal/validity"
	"greenwallet/internal/wallet"
	dErrors "greenwallet/pkg/domain-errors"
	"greenwallet/pkg/platform/middleware/requesttime"
	"greenwallet/pkg/requestcontext"
)

// IntakeService accepts retrieved events into the wallet.
type IntakeService interface {
	AcceptEvents(ctx context.Context, kind wallet.GroupKind, retrieved []events.Retrieved, replaceExisting bool) ([]wallet.EventGroup, error)
	RemoveProviderEvents(ctx context.Context, kind wallet.GroupKind, providerIdentifier string) (int, error)
	RemoveGreenCards(ctx context.Context) error
	PendingRemovalNotices(ctx context.Context) ([]wallet.RemovedEvent, error)
	MarkRemovalNoticesSeen(ctx context.Context) error
}

// IssuanceService exchanges stored events for credentials.
type IssuanceService interface {
	Run(ctx context.Context) (*issuance.Result, error)
}

// RefreshService exposes the background refresher to the API.
type RefreshService interface {
	Load(ctx context.Context)
	State() refresh.State
	UserDismissedError()
}

// Handler handles wallet endpoints.
type Handler struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	store    wallet.Store
	secrets  securestorage.Store
	intake   IntakeService
	issuance IssuanceService
	refresh  RefreshService
}

func New(
	store wallet.Store,
	secrets securestorage.Store,
	intakeService IntakeService,
	issuanceService IssuanceService,
	refreshService RefreshService,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		logger:   logger,
		metrics:  m,
		store:    store,
		secrets:  secrets,
		intake:   intakeService,
		issuance: issuanceService,
		refresh:  refreshService,
	}
}

// Register mounts the wallet routes with the shared middleware chain.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(requesttime.Middleware)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.Latency(h.metrics))

	router.Get("/wallet/cards", h.handleListCards)
	router.Delete("/wallet/cards", h.handleRemoveCards)
	router.Get("/wallet/events", h.handleListEventGroups)
	router.Post("/wallet/events", h.handleAcceptEvents)
	router.Delete("/wallet/events/{kind}/{provider}", h.handleRemoveProviderEvents)
	router.Post("/wallet/issuance", h.handleIssue)
	router.Get("/wallet/refresh", h.handleRefreshState)
	router.Post("/wallet/refresh", h.handleRefreshLoad)
	router.Post("/wallet/refresh/dismiss-error", h.handleRefreshDismissError)
	router.Get("/wallet/removed-events", h.handleRemovalNotices)
	router.Post("/wallet/removed-events/seen", h.handleRemovalNoticesSeen)
	router.Delete("/wallet", h.handleWipe)

	r.Mount("/", router)
}

type originView struct {
	Type            wallet.OriginType `json:"type"`
	EventDate       time.Time         `json:"eventDate"`
	ValidFrom       time.Time         `json:"validFrom"`
	ExpirationTime  time.Time         `json:"expirationTime"`
	DoseNumber      *int              `json:"doseNumber,omitempty"`
	Phase           validity.Phase    `json:"phase"`
	ShowCountdown   bool              `json:"showCountdown"`
	ExpiryIsDistant bool              `json:"expiryIsDistant"`
}

type cardView struct {
	ID                  string           `json:"id"`
	Scope               wallet.CardScope `json:"scope"`
	Origins             []originView     `json:"origins"`
	Credentials         int              `json:"credentials"`
	HasActiveCredential bool             `json:"hasActiveCredential"`
}

func (h *Handler) handleListCards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := requestcontext.Now(ctx)

	cards, err := h.store.ListGreenCards(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list green cards", "error", err)
		writeError(w, err)
		return
	}

	views := make([]cardView, 0, len(cards))
	for _, card := range cards {
		windows := validity.Evaluate(card, now)
		origins := make([]originView, 0, len(windows))
		for _, win := range windows {
			origins = append(origins, originView{
				Type:            win.Origin.Type,
				EventDate:       win.Origin.EventDate,
				ValidFrom:       win.Origin.ValidFrom,
				ExpirationTime:  win.Origin.ExpirationTime,
				DoseNumber:      win.Origin.DoseNumber,
				Phase:           win.Phase,
				ShowCountdown:   win.ShowCountdown,
				ExpiryIsDistant: win.ExpiryIsDistant,
			})
		}
		_, active := card.ActiveCredential(now)
		views = append(views, cardView{
			ID:                  card.ID.String(),
			Scope:               card.Scope,
			Origins:             origins,
			Credentials:         len(card.Credentials),
			HasActiveCredential: active,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": views})
}

func (h *Handler) handleRemoveCards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.intake.RemoveGreenCards(ctx); err != nil {
		h.logger.ErrorContext(ctx, "failed to remove green cards", "error", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type eventGroupView struct {
	UniqueIdentifier   string           `json:"uniqueIdentifier"`
	Kind               wallet.GroupKind `json:"kind"`
	ProviderIdentifier string           `json:"providerIdentifier"`
	Draft              bool             `json:"draft"`
	ExpiresAt          *time.Time       `json:"expiresAt,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
}

func (h *Handler) handleListEventGroups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groups, err := h.store.ListEventGroups(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list event groups", "error", err)
		writeError(w, err)
		return
	}
	views := make([]eventGroupView, 0, len(groups))
	for _, group := range groups {
		views = append(views, eventGroupView{
			UniqueIdentifier:   group.UniqueIdentifier(),
			Kind:               group.Kind,
			ProviderIdentifier: group.ProviderIdentifier,
			Draft:              group.Draft,
			ExpiresAt:          group.ExpiresAt,
			CreatedAt:          group.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"eventGroups": views})
}

type providerResponse struct {
	Provider      string             `json:"provider"`
	SignedPayload []byte             `json:"signedPayload"`
	ExpiresAt     *time.Time         `json:"expiresAt,omitempty"`
	Holder        *identity.Identity `json:"holder,omitempty"`
}

type acceptEventsRequest struct {
	Kind            string             `json:"kind"`
	ReplaceExisting bool               `json:"replaceExisting"`
	Responses       []providerResponse `json:"responses"`
}

func (h *Handler) handleAcceptEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req acceptEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	kind, err := wallet.ParseGroupKind(req.Kind)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown event group kind"))
		return
	}

	retrieved := make([]events.Retrieved, 0, len(req.Responses))
	for _, resp := range req.Responses {
		retrieved = append(retrieved, events.Retrieved{
			ProviderIdentifier: resp.Provider,
			Identity:           resp.Holder,
			SignedPayload:      resp.SignedPayload,
			Expiry:             resp.ExpiresAt,
		})
	}

	groups, err := h.intake.AcceptEvents(ctx, kind, retrieved, req.ReplaceExisting)
	if err != nil {
		if !errors.Is(err, intake.ErrIdentityMismatch) && !dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			h.logger.ErrorContext(ctx, "failed to accept events",
				"kind", kind,
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		writeError(w, err)
		return
	}

	views := make([]eventGroupView, 0, len(groups))
	for _, group := range groups {
		views = append(views, eventGroupView{
			UniqueIdentifier:   group.UniqueIdentifier(),
			Kind:               group.Kind,
			ProviderIdentifier: group.ProviderIdentifier,
			Draft:              group.Draft,
			ExpiresAt:          group.ExpiresAt,
			CreatedAt:          group.CreatedAt,
		})
	}
	writeJSON(w, http.StatusCreated, map[string]any{"eventGroups": views})
}

func (h *Handler) handleRemoveProviderEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	kind, err := wallet.ParseGroupKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown event group kind"))
		return
	}
	provider := chi.URLParam(r, "provider")

	removed, err := h.intake.RemoveProviderEvents(ctx, kind, provider)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to remove provider events", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.issuance.Run(ctx)
	if err != nil {
		reason, _ := issuance.ReasonOf(err)
		switch reason {
		case issuance.ReasonNoSignedEvents:
			writeError(w, dErrors.New(dErrors.CodeInvalidInput, "no signed events to issue"))
		case issuance.ReasonServerBusy:
			writeError(w, dErrors.New(dErrors.CodeUnavailable, "issuance backend busy"))
		default:
			h.logger.ErrorContext(ctx, "issuance run failed",
				"reason", reason,
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			writeError(w, dErrors.Wrap(err, dErrors.CodeInternal, "issuance failed"))
		}
		return
	}

	removed := make([]removedEventView, 0, len(result.RemovedEvents))
	for _, re := range result.RemovedEvents {
		removed = append(removed, newRemovedEventView(re))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"storedCards":   result.StoredCards,
		"removedEvents": removed,
	})
}

type refreshStateView struct {
	Loading                    refresh.LoadingKind `json:"loading"`
	Silent                     bool                `json:"silent"`
	Expiry                     refresh.ExpiryKind  `json:"expiry"`
	Deadline                   *time.Time          `json:"deadline,omitempty"`
	HasLoadingEverFailed       bool                `json:"hasLoadingEverFailed"`
	UserHasDismissedError      bool                `json:"userHasDismissedError"`
	ServerErrorOccurrenceCount int                 `json:"serverErrorOccurrenceCount"`
}

func newRefreshStateView(s refresh.State) refreshStateView {
	view := refreshStateView{
		Loading:                    s.Loading.Kind,
		Silent:                     s.Loading.Silent,
		Expiry:                     s.Expiry.Kind,
		HasLoadingEverFailed:       s.HasLoadingEverFailed,
		UserHasDismissedError:      s.UserHasDismissedError,
		ServerErrorOccurrenceCount: s.ServerErrorOccurrenceCount,
	}
	if !s.Expiry.Deadline.IsZero() {
		deadline := s.Expiry.Deadline
		view.Deadline = &deadline
	}
	return view
}

func (h *Handler) handleRefreshState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newRefreshStateView(h.refresh.State()))
}

func (h *Handler) handleRefreshLoad(w http.ResponseWriter, r *http.Request) {
	h.refresh.Load(r.Context())
	writeJSON(w, http.StatusAccepted, newRefreshStateView(h.refresh.State()))
}

func (h *Handler) handleRefreshDismissError(w http.ResponseWriter, r *http.Request) {
	h.refresh.UserDismissedError()
	w.WriteHeader(http.StatusNoContent)
}

type removedEventView struct {
	Kind      wallet.GroupKind     `json:"kind"`
	EventDate time.Time            `json:"eventDate"`
	Reason    wallet.RemovalReason `json:"reason"`
}

func newRemovedEventView(re wallet.RemovedEvent) removedEventView {
	return removedEventView{Kind: re.Kind, EventDate: re.EventDate, Reason: re.Reason}
}

func (h *Handler) handleRemovalNotices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pending, err := h.intake.PendingRemovalNotices(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list removal notices", "error", err)
		writeError(w, err)
		return
	}
	views := make([]removedEventView, 0, len(pending))
	for _, re := range pending {
		views = append(views, newRemovedEventView(re))
	}
	writeJSON(w, http.StatusOK, map[string]any{"removedEvents": views})
}

func (h *Handler) handleRemovalNoticesSeen(w http.ResponseWriter, r *http.Request) {
	if err := h.intake.MarkRemovalNoticesSeen(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWipe clears the wallet store and all secrets, including entries that
// survive reinstalls.
func (h *Handler) handleWipe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.store.Wipe(ctx); err != nil {
		h.logger.ErrorContext(ctx, "failed to wipe wallet store", "error", err)
		writeError(w, err)
		return
	}
	if err := h.secrets.Wipe(securestorage.ScopePersistent); err != nil {
		h.logger.ErrorContext(ctx, "failed to wipe secure storage", "error", err)
		writeError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to wipe secure storage"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
