package api

import (
	"strings"
	"testing"

	"github.com/Rrens/chat-sessions/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptionKeyFromSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{"short secret is padded", "short"},
		{"exact length", strings.Repeat("a", 32)},
		{"long secret is truncated", strings.Repeat("b", 64)},
		{"empty secret", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := encryptionKeyFromSecret(tt.secret)
			assert.Len(t, key, 32)

			// Any derived key must be acceptable to the encryptor.
			enc, err := security.NewEncryptor(key)
			require.NoError(t, err)

			ciphertext, err := enc.EncryptString("round trip")
			require.NoError(t, err)
			plaintext, err := enc.DecryptString(ciphertext)
			require.NoError(t, err)
			assert.Equal(t, "round trip", plaintext)
		})
	}
}
