package events

import (
	"encoding/base64"
	"encoding/json"

	"greenwallet/internal/crypto"
	"greenwallet/internal/identity"
	"greenwallet/internal/wallet"
)

// SignedResponse is the stored shape of a provider-signed event bundle: the
// base64 payload plus its signature. The signature is verified elsewhere; the
// wallet only needs the payload to recover the embedded identity.
type SignedResponse struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// payloadWrapper is the decoded payload of a SignedResponse.
type payloadWrapper struct {
	ProviderIdentifier string             `json:"providerIdentifier"`
	Identity           *identity.Identity `json:"holder"`
}

// dccEnvelope is the stored shape of a scanned paper credential.
type dccEnvelope struct {
	Credential string `json:"credential"`
}

// GroupIdentities decodes the identity embedded in each stored event group.
// Groups whose payload fails to decode are skipped, never treated as a
// mismatch; a wallet of only undecodable groups yields an empty slice.
func GroupIdentities(groups []wallet.EventGroup, cryptoManager crypto.Manager) []identity.Identity {
	var identities []identity.Identity
	for _, group := range groups {
		if id, ok := decodeGroupIdentity(group, cryptoManager); ok {
			identities = append(identities, id)
		}
	}
	return identities
}

func decodeGroupIdentity(group wallet.EventGroup, cryptoManager crypto.Manager) (identity.Identity, bool) {
	var signed SignedResponse
	if err := json.Unmarshal(group.Payload, &signed); err == nil && signed.Payload != "" {
		decoded, err := base64.StdEncoding.DecodeString(signed.Payload)
		if err != nil {
			return identity.Identity{}, false
		}
		var wrapper payloadWrapper
		if err := json.Unmarshal(decoded, &wrapper); err != nil || wrapper.Identity == nil {
			return identity.Identity{}, false
		}
		return *wrapper.Identity, true
	}

	// Paper credentials store the credential directly; the crypto library
	// discloses the holder identity.
	var dcc dccEnvelope
	if err := json.Unmarshal(group.Payload, &dcc); err != nil || dcc.Credential == "" || cryptoManager == nil {
		return identity.Identity{}, false
	}
	attrs, err := cryptoManager.ReadCredentialAttributes([]byte(dcc.Credential))
	if err != nil || attrs == nil {
		return identity.Identity{}, false
	}
	return attrs.Identity, true
}

// RetrievedIdentities collects the identities reported with newly retrieved
// events, skipping responses without one.
func RetrievedIdentities(retrieved []Retrieved) []identity.Identity {
	var identities []identity.Identity
	for _, r := range retrieved {
		if r.Identity != nil {
			identities = append(identities, *r.Identity)
		}
	}
	return identities
}
