// Package events models the source health events retrieved from providers,
// and the collapsing of duplicate reports into single display rows.
package events

import (
	"time"

	"greenwallet/internal/identity"
	"greenwallet/internal/wallet"
	dErrors "greenwallet/pkg/domain-errors"
)

// Event is a tagged union over the closed set of source event kinds. Exactly
// one variant is populated, matching Kind; use the New* constructors so the
// invariant holds by construction.
type Event struct {
	Kind               wallet.GroupKind
	ProviderIdentifier string
	Unique             string // provider-assigned identifier, used to drop repeated test reports

	vaccination *Vaccination
	test        *Test
	recovery    *Recovery
	assessment  *Assessment
	paper       *PaperCredential
}

// Vaccination is one administered dose reported by a provider.
type Vaccination struct {
	Date         time.Time
	HPKCode      string // full product code; takes precedence over Manufacturer
	Manufacturer string
	DoseNumber   *int
}

// Test is a negative or positive test result; Kind disambiguates.
type Test struct {
	SampleDate time.Time
	TestType   string
	Negative   bool
}

// Recovery is a recovery claim with its own validity bounds.
type Recovery struct {
	SampleDate time.Time
	ValidFrom  time.Time
	ValidUntil time.Time
}

// Assessment is a vaccination assessment performed at a validation desk.
type Assessment struct {
	AssessmentDate time.Time
}

// PaperCredential is an externally issued paper credential scanned into the
// wallet; the raw credential is interpreted by the crypto library.
type PaperCredential struct {
	Credential []byte
}

func NewVaccination(provider, unique string, v Vaccination) Event {
	return Event{Kind: wallet.GroupKindVaccination, ProviderIdentifier: provider, Unique: unique, vaccination: &v}
}

func NewNegativeTest(provider, unique string, t Test) Event {
	t.Negative = true
	return Event{Kind: wallet.GroupKindNegativeTest, ProviderIdentifier: provider, Unique: unique, test: &t}
}

func NewPositiveTest(provider, unique string, t Test) Event {
	t.Negative = false
	return Event{Kind: wallet.GroupKindPositiveTest, ProviderIdentifier: provider, Unique: unique, test: &t}
}

func NewRecovery(provider, unique string, r Recovery) Event {
	return Event{Kind: wallet.GroupKindRecovery, ProviderIdentifier: provider, Unique: unique, recovery: &r}
}

func NewAssessment(provider, unique string, a Assessment) Event {
	return Event{Kind: wallet.GroupKindVaccinationAssessment, ProviderIdentifier: provider, Unique: unique, assessment: &a}
}

func NewPaperCredential(provider, unique string, p PaperCredential) Event {
	return Event{Kind: wallet.GroupKindPaperCredential, ProviderIdentifier: provider, Unique: unique, paper: &p}
}

// Vaccination returns the vaccination variant, if this event is one.
func (e Event) Vaccination() (Vaccination, bool) {
	if e.vaccination == nil {
		return Vaccination{}, false
	}
	return *e.vaccination, true
}

// Test returns the test variant for negative and positive test events.
func (e Event) Test() (Test, bool) {
	if e.test == nil {
		return Test{}, false
	}
	return *e.test, true
}

func (e Event) Recovery() (Recovery, bool) {
	if e.recovery == nil {
		return Recovery{}, false
	}
	return *e.recovery, true
}

func (e Event) Assessment() (Assessment, bool) {
	if e.assessment == nil {
		return Assessment{}, false
	}
	return *e.assessment, true
}

func (e Event) PaperCredential() (PaperCredential, bool) {
	if e.paper == nil {
		return PaperCredential{}, false
	}
	return *e.paper, true
}

// Date returns the date that orders this event: vaccination date, sample
// date, or assessment date.
func (e Event) Date() time.Time {
	switch {
	case e.vaccination != nil:
		return e.vaccination.Date
	case e.test != nil:
		return e.test.SampleDate
	case e.recovery != nil:
		return e.recovery.SampleDate
	case e.assessment != nil:
		return e.assessment.AssessmentDate
	}
	return time.Time{}
}

// Validate checks the variant matches the kind tag.
func (e Event) Validate() error {
	var want bool
	switch e.Kind {
	case wallet.GroupKindVaccination:
		want = e.vaccination != nil
	case wallet.GroupKindNegativeTest, wallet.GroupKindPositiveTest:
		want = e.test != nil
	case wallet.GroupKindRecovery:
		want = e.recovery != nil
	case wallet.GroupKindVaccinationAssessment:
		want = e.assessment != nil
	case wallet.GroupKindPaperCredential:
		want = e.paper != nil
	default:
		return dErrors.New(dErrors.CodeInvalidInput, "unknown event kind")
	}
	if !want {
		return dErrors.New(dErrors.CodeInvalidInput, "event variant does not match kind")
	}
	return nil
}

// Retrieved is one provider response: the events plus the holder identity the
// provider reported them for, and the signed payload to persist.
type Retrieved struct {
	ProviderIdentifier string
	Identity           *identity.Identity
	Events             []Event
	SignedPayload      []byte
	Expiry             *time.Time
}
