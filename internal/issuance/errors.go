package issuance

import (
	"errors"
	"fmt"
)

// Reason is the closed error set the coordinator reports. Collaborator
// failures are mapped here; raw network or store errors never leak upward.
type Reason string

const (
	// ReasonNoSignedEvents: the wallet holds nothing to submit. An input
	// condition, not a network failure; callers prompt instead of retrying.
	ReasonNoSignedEvents Reason = "no_signed_events"

	// ReasonServerBusy: the backend is shedding load; retry later.
	ReasonServerBusy Reason = "server_busy"

	// ReasonPreparingIssueFailed: the prepare-issue call failed.
	ReasonPreparingIssueFailed Reason = "preparing_issue_failed"

	// ReasonFailedToPrepareIssue: the nonce could not be decoded or the
	// crypto library could not produce a commitment.
	ReasonFailedToPrepareIssue Reason = "failed_to_prepare_issue"

	// ReasonFetchingCredentialsFailed: the credential-fetch call failed.
	ReasonFetchingCredentialsFailed Reason = "fetching_credentials_failed"

	// ReasonFailedToSave: the issued cards could not be parsed or persisted.
	// Always fatal for the run; drafts are cleaned up.
	ReasonFailedToSave Reason = "failed_to_save"
)

// Error is a coordinator failure with its mapped reason and original cause.
type Error struct {
	Reason Reason
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("issuance: %s: %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("issuance: %s", e.Reason)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(reason Reason, cause error) *Error {
	return &Error{Reason: reason, cause: cause}
}

// ReasonOf extracts the coordinator reason from an error chain.
func ReasonOf(err error) (Reason, bool) {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Reason, true
	}
	return "", false
}
