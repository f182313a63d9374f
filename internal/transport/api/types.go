package api

import "time"

// PrepareIssueEnvelope is the backend's answer to a prepare-issue call: the
// base64 issuance nonce and a one-time session token.
type PrepareIssueEnvelope struct {
	PrepareIssueMessage string `json:"prepareIssueMessage"`
	SessionToken        string `json:"stoken"`
}

// GreenCardsRequest is the credential-fetch submission: the session token,
// every signed event payload the wallet holds, and the base64 commitment.
type GreenCardsRequest struct {
	SessionToken           string   `json:"stoken"`
	Events                 []string `json:"events"`
	IssueCommitmentMessage string   `json:"issueCommitmentMessage"`
	Flows                  []string `json:"flows"`
}

// RemoteOrigin is one claim in a green-card descriptor.
type RemoteOrigin struct {
	Type           string    `json:"type"`
	EventTime      time.Time `json:"eventTime"`
	ValidFrom      time.Time `json:"validFrom"`
	ExpirationTime time.Time `json:"expirationTime"`
	DoseNumber     *int      `json:"doseNumber,omitempty"`
	Hints          []string  `json:"hints,omitempty"`
}

// RemoteGreenCard is one issued card: its origins plus the credential blobs
// covering them.
type RemoteGreenCard struct {
	Origins                  []RemoteOrigin `json:"origins"`
	CreateCredentialMessages string         `json:"createCredentialMessages,omitempty"`
	Credential               string         `json:"credential,omitempty"`
}

// BlobExpiry references a stored event group by its unique identifier,
// either to move its expiry date or to report it blocked (Reason set).
type BlobExpiry struct {
	Identifier     string    `json:"id"`
	ExpirationDate time.Time `json:"expiry"`
	Reason         string    `json:"reason,omitempty"`
}

// GreenCardsResponse is the full issuance result.
type GreenCardsResponse struct {
	Domestic        *RemoteGreenCard  `json:"domesticGreencard,omitempty"`
	International   []RemoteGreenCard `json:"euGreencards,omitempty"`
	BlobExpireDates []BlobExpiry      `json:"blobExpireDates,omitempty"`
	Hints           []string          `json:"hints,omitempty"`
}

// Blocked returns the expiry entries the server flagged with a reason.
func (r GreenCardsResponse) Blocked() []BlobExpiry {
	var blocked []BlobExpiry
	for _, b := range r.BlobExpireDates {
		if b.Reason != "" {
			blocked = append(blocked, b)
		}
	}
	return blocked
}
