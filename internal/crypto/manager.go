package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"greenwallet/internal/identity"
	"greenwallet/internal/wallet"
)

// attributeBlob is the JSON shape the backend uses for disclosed credential
// attributes.
type attributeBlob struct {
	Holder         identity.Identity `json:"holder"`
	Kind           string            `json:"kind"`
	EventDate      *time.Time        `json:"eventDate,omitempty"`
	ValidFrom      time.Time         `json:"validFrom"`
	ExpirationTime time.Time         `json:"expirationTime"`
	Version        int               `json:"version"`
	DoseNumber     int               `json:"doseNumber,omitempty"`
	TotalDoses     int               `json:"totalDoses,omitempty"`
}

// HMACManager implements Manager with an HMAC commitment scheme over JSON
// attribute blobs. It covers the wallet's needs end to end when the real
// attribute-based credential library is not linked in; the wallet core only
// depends on the Manager contract.
type HMACManager struct {
	secretKeySize int
}

func NewHMACManager() *HMACManager {
	return &HMACManager{secretKeySize: 32}
}

func (m *HMACManager) GenerateSecretKey() ([]byte, error) {
	key := make([]byte, m.secretKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}
	return key, nil
}

func (m *HMACManager) GenerateCommitmentMessage(nonce []byte, secretKey []byte) (string, error) {
	if len(nonce) == 0 {
		return "", fmt.Errorf("generate commitment: empty nonce")
	}
	if len(secretKey) == 0 {
		return "", fmt.Errorf("generate commitment: empty secret key")
	}
	mac := hmac.New(sha256.New, secretKey)
	mac.Write(nonce)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (m *HMACManager) ReadCredentialAttributes(blob []byte) (*CredentialAttributes, error) {
	var decoded attributeBlob
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return nil, fmt.Errorf("read credential attributes: %w", err)
	}
	return toAttributes(decoded, blob), nil
}

func (m *HMACManager) CreateCredential(blob []byte) ([]CredentialAttributes, error) {
	var decoded []attributeBlob
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return nil, fmt.Errorf("create credential: %w", err)
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("create credential: no credentials in message")
	}
	attrs := make([]CredentialAttributes, 0, len(decoded))
	for _, d := range decoded {
		raw, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("create credential: %w", err)
		}
		attrs = append(attrs, *toAttributes(d, raw))
	}
	return attrs, nil
}

func toAttributes(d attributeBlob, credential []byte) *CredentialAttributes {
	return &CredentialAttributes{
		Identity:       d.Holder,
		Kind:           wallet.GroupKind(d.Kind),
		EventDate:      d.EventDate,
		ValidFrom:      d.ValidFrom,
		ExpirationTime: d.ExpirationTime,
		Version:        d.Version,
		DoseNumber:     d.DoseNumber,
		TotalDoses:     d.TotalDoses,
		Credential:     append([]byte(nil), credential...),
	}
}
