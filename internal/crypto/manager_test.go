package crypto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greenwallet/internal/identity"
	"greenwallet/internal/wallet"
	"greenwallet/pkg/testutil"
)

func TestGenerateSecretKey(t *testing.T) {
	m := NewHMACManager()

	first, err := m.GenerateSecretKey()
	require.NoError(t, err)
	assert.Len(t, first, 32)

	second, err := m.GenerateSecretKey()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestGenerateCommitmentMessage(t *testing.T) {
	m := NewHMACManager()
	nonce := []byte("issuance-nonce")
	key := []byte("holder-secret-key")

	t.Run("is deterministic for the same inputs", func(t *testing.T) {
		a, err := m.GenerateCommitmentMessage(nonce, key)
		require.NoError(t, err)
		b, err := m.GenerateCommitmentMessage(nonce, key)
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.NotEmpty(t, a)
	})

	t.Run("binds the nonce", func(t *testing.T) {
		a, err := m.GenerateCommitmentMessage(nonce, key)
		require.NoError(t, err)
		b, err := m.GenerateCommitmentMessage([]byte("other-nonce"), key)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("binds the secret key", func(t *testing.T) {
		a, err := m.GenerateCommitmentMessage(nonce, key)
		require.NoError(t, err)
		b, err := m.GenerateCommitmentMessage(nonce, []byte("other-key"))
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("rejects empty inputs", func(t *testing.T) {
		_, err := m.GenerateCommitmentMessage(nil, key)
		assert.Error(t, err)
		_, err = m.GenerateCommitmentMessage(nonce, nil)
		assert.Error(t, err)
	})
}

func TestCredentialAttributeRoundTrip(t *testing.T) {
	m := NewHMACManager()
	now := time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)
	eventDate := now.AddDate(0, -1, 0)

	blob := attributeBlob{
		Holder:         identity.Identity{FirstName: "Corrie", LastName: "Jansen", BirthDate: "1960-01-12"},
		Kind:           "vaccination",
		EventDate:      &eventDate,
		ValidFrom:      now,
		ExpirationTime: now.Add(24 * time.Hour),
		Version:        2,
		DoseNumber:     2,
		TotalDoses:     2,
	}

	testutil.Given(t, "a single serialized attribute blob", func(t *testing.T) {
		raw, err := json.Marshal(blob)
		require.NoError(t, err)

		testutil.Then(t, "its attributes can be disclosed", func(t *testing.T) {
			attrs, err := m.ReadCredentialAttributes(raw)
			require.NoError(t, err)
			assert.Equal(t, "Corrie", attrs.Identity.FirstName)
			assert.Equal(t, wallet.GroupKindVaccination, attrs.Kind)
			require.NotNil(t, attrs.EventDate)
			assert.True(t, attrs.EventDate.Equal(eventDate))
			assert.Equal(t, 2, attrs.Version)
		})
	})

	testutil.Given(t, "a create-credential message with two blobs", func(t *testing.T) {
		later := blob
		later.ValidFrom = now.Add(24 * time.Hour)
		later.ExpirationTime = now.Add(48 * time.Hour)
		raw, err := json.Marshal([]attributeBlob{blob, later})
		require.NoError(t, err)

		testutil.Then(t, "one credential per blob is produced", func(t *testing.T) {
			attrs, err := m.CreateCredential(raw)
			require.NoError(t, err)
			require.Len(t, attrs, 2)
			assert.True(t, attrs[1].ValidFrom.After(attrs[0].ValidFrom))

			testutil.Then(t, "each credential discloses its own attributes", func(t *testing.T) {
				reread, err := m.ReadCredentialAttributes(attrs[0].Credential)
				require.NoError(t, err)
				assert.True(t, reread.ValidFrom.Equal(blob.ValidFrom))
			})
		})
	})

	t.Run("malformed blobs are rejected", func(t *testing.T) {
		_, err := m.ReadCredentialAttributes([]byte("not json"))
		assert.Error(t, err)
		_, err = m.CreateCredential([]byte("{}"))
		assert.Error(t, err)
	})

	t.Run("an empty message is rejected", func(t *testing.T) {
		_, err := m.CreateCredential([]byte("[]"))
		assert.Error(t, err)
	})
}
