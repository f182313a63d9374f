// Package crypto defines the contract with the credential crypto library.
// The wallet core never performs signing or credential math itself; it only
// consumes the opaque results.
package crypto

import (
	"time"

	"greenwallet/internal/identity"
	"greenwallet/internal/wallet"
)

// CredentialAttributes are the fields the crypto library can disclose from a
// credential blob without presenting it.
type CredentialAttributes struct {
	Identity       identity.Identity
	Kind           wallet.GroupKind
	EventDate      *time.Time
	ValidFrom      time.Time
	ExpirationTime time.Time
	Version        int
	DoseNumber     int
	TotalDoses     int

	// Credential is the presentable blob, populated by CreateCredential.
	Credential []byte
}

// Manager is the crypto collaborator consumed by the issuance coordinator and
// the identity extraction path.
type Manager interface {
	// GenerateSecretKey produces a fresh holder secret key for one issuance
	// run. The key is stored in secure storage alongside the resulting cards.
	GenerateSecretKey() ([]byte, error)

	// GenerateCommitmentMessage builds the commitment for the issuance nonce
	// using the holder secret key.
	GenerateCommitmentMessage(nonce []byte, secretKey []byte) (string, error)

	// ReadCredentialAttributes discloses the attributes of a credential blob,
	// or an error when the blob cannot be read.
	ReadCredentialAttributes(blob []byte) (*CredentialAttributes, error)

	// CreateCredential deserializes the credential blobs issued by the
	// backend into attribute sets, one per credential.
	CreateCredential(blob []byte) ([]CredentialAttributes, error)
}
