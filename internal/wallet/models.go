// Package wallet holds the persisted data model for the single logical wallet
// on a device: provider-signed event groups, signed green cards with their
// origins and credentials, and records of server-invalidated events.
package wallet

import (
	"time"

	"github.com/google/uuid"

	dErrors "greenwallet/pkg/domain-errors"
)

// Name is the label of the singleton wallet, created on first open.
const Name = "main"

// GroupKind labels the kind of source events carried by an EventGroup.
//
// Usage: construct via ParseGroupKind at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type GroupKind string

const (
	GroupKindVaccination           GroupKind = "vaccination"
	GroupKindNegativeTest          GroupKind = "negativetest"
	GroupKindPositiveTest          GroupKind = "positivetest"
	GroupKindRecovery              GroupKind = "recovery"
	GroupKindVaccinationAssessment GroupKind = "vaccinationassessment"
	GroupKindPaperCredential       GroupKind = "paperflow"
)

var validGroupKinds = map[GroupKind]bool{
	GroupKindVaccination:           true,
	GroupKindNegativeTest:          true,
	GroupKindPositiveTest:          true,
	GroupKindRecovery:              true,
	GroupKindVaccinationAssessment: true,
	GroupKindPaperCredential:       true,
}

// ParseGroupKind constructs a GroupKind from external input.
func ParseGroupKind(s string) (GroupKind, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "event kind cannot be empty")
	}
	k := GroupKind(s)
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown event kind")
	}
	return k, nil
}

func (k GroupKind) IsValid() bool {
	return validGroupKinds[k]
}

func (k GroupKind) String() string {
	return string(k)
}

// CardScope is the region a green card applies to.
type CardScope string

const (
	ScopeDomestic      CardScope = "domestic"
	ScopeInternational CardScope = "international"
)

func (s CardScope) IsValid() bool {
	return s == ScopeDomestic || s == ScopeInternational
}

// OriginType is the kind of claim backing an origin.
type OriginType string

const (
	OriginTypeVaccination OriginType = "vaccination"
	OriginTypeTest        OriginType = "test"
	OriginTypeRecovery    OriginType = "recovery"
	OriginTypeAssessment  OriginType = "vaccinationassessment"
)

var validOriginTypes = map[OriginType]bool{
	OriginTypeVaccination: true,
	OriginTypeTest:        true,
	OriginTypeRecovery:    true,
	OriginTypeAssessment:  true,
}

// ParseOriginType constructs an OriginType from external input.
func ParseOriginType(s string) (OriginType, error) {
	t := OriginType(s)
	if !validOriginTypes[t] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown origin type")
	}
	return t, nil
}

// RemovalReason labels why the server invalidated an event.
type RemovalReason string

const (
	RemovalReasonBlockedEvent       RemovalReason = "blocked_event"
	RemovalReasonMismatchedIdentity RemovalReason = "mismatched_identity"
)

// EventGroup is an opaque, provider-signed bundle of source events. The
// payload is stored as received; decoding happens at the edges (identity
// matching, signed-event submission).
type EventGroup struct {
	ID                 uuid.UUID
	Kind               GroupKind
	ProviderIdentifier string
	Payload            []byte
	ExpiresAt          *time.Time // nil: unbounded until the server supplies one
	Draft              bool
	Sequence           int64 // insertion order, assigned by the store
	CreatedAt          time.Time
}

// UniqueIdentifier is the stable identifier clients and the backend use to
// reference this group (the backend's blocked/expiry lists carry it).
func (g EventGroup) UniqueIdentifier() string {
	return formatSequence(g.Sequence)
}

// Expired reports whether the group's expiry date has passed. Groups without
// an expiry never expire.
func (g EventGroup) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && g.ExpiresAt.Before(now)
}

// Origin is one claim backing a green card, with its own validity window.
// Invariant: ValidFrom <= ExpirationTime.
type Origin struct {
	Type           OriginType
	EventDate      time.Time
	ValidFrom      time.Time
	ExpirationTime time.Time
	DoseNumber     *int
	Hints          []string
}

// Validate enforces the window invariant.
func (o Origin) Validate() error {
	if !validOriginTypes[o.Type] {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown origin type")
	}
	if o.ValidFrom.After(o.ExpirationTime) {
		return dErrors.New(dErrors.CodeInvalidInput, "origin validFrom after expirationTime")
	}
	return nil
}

// IsNotYetExpired reports whether the origin's expiration lies in the future.
func (o Origin) IsNotYetExpired(now time.Time) bool {
	return o.ExpirationTime.After(now)
}

// IsCurrentlyValid reports whether now falls within the origin's window.
func (o Origin) IsCurrentlyValid(now time.Time) bool {
	return !o.ValidFrom.After(now) && !o.ExpirationTime.Before(now)
}

// Credential is a short-lived signed proof bound to a green card. Credentials
// rotate more frequently than the origins they support.
type Credential struct {
	Data           []byte
	ValidFrom      time.Time
	ExpirationTime time.Time
	Version        int
}

// GreenCard is a signed-credential container of one scope, holding the
// origins (claims) and the rotating credentials that prove them.
type GreenCard struct {
	ID          uuid.UUID
	Scope       CardScope
	Origins     []Origin
	Credentials []Credential
	CreatedAt   time.Time
}

// Validate checks the card is well formed enough to persist: a known scope,
// at least one origin, and every origin window intact.
func (c GreenCard) Validate() error {
	if !c.Scope.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown green card scope")
	}
	if len(c.Origins) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "green card has no origins")
	}
	for _, o := range c.Origins {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// HasUnexpiredOrigins reports whether any origin is not yet expired,
// optionally restricted to one origin type.
func (c GreenCard) HasUnexpiredOrigins(now time.Time, originType *OriginType) bool {
	for _, o := range c.Origins {
		if !o.IsNotYetExpired(now) {
			continue
		}
		if originType != nil && o.Type != *originType {
			continue
		}
		return true
	}
	return false
}

// LatestOriginExpiry returns the furthest origin expiration time.
func (c GreenCard) LatestOriginExpiry() (time.Time, bool) {
	var latest time.Time
	for _, o := range c.Origins {
		if o.ExpirationTime.After(latest) {
			latest = o.ExpirationTime
		}
	}
	return latest, !latest.IsZero()
}

// LatestCredentialExpiry returns the furthest credential expiration time.
func (c GreenCard) LatestCredentialExpiry() (time.Time, bool) {
	var latest time.Time
	for _, cr := range c.Credentials {
		if cr.ExpirationTime.After(latest) {
			latest = cr.ExpirationTime
		}
	}
	return latest, !latest.IsZero()
}

// ActiveCredential returns the credential whose window contains now, if any.
func (c GreenCard) ActiveCredential(now time.Time) (Credential, bool) {
	for _, cr := range c.Credentials {
		if !cr.ValidFrom.After(now) && !cr.ExpirationTime.Before(now) {
			return cr, true
		}
	}
	return Credential{}, false
}

// OriginsActiveWithinDays returns origins that are already valid, or become
// valid within the given number of days from now, and are not yet expired.
func (c GreenCard) OriginsActiveWithinDays(now time.Time, days int) []Origin {
	horizon := now.AddDate(0, 0, days)
	var result []Origin
	for _, o := range c.Origins {
		if !o.IsNotYetExpired(now) {
			continue
		}
		if o.ValidFrom.After(horizon) {
			continue
		}
		result = append(result, o)
	}
	return result
}

// RemovedEvent records that the server invalidated an event group or origin.
// Never mutated; used only to surface a one-time notice to the user.
type RemovedEvent struct {
	ID        uuid.UUID
	Kind      GroupKind
	EventDate time.Time
	Reason    RemovalReason
	CreatedAt time.Time
}

// ExpiredCard describes a green card deleted because all of its origins had
// expired, for caller-side notification.
type ExpiredCard struct {
	Scope      CardScope
	OriginType OriginType
}
