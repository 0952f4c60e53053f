package domain_test

import (
	"encoding/hex"
	"testing"

	"github.com/crosslock/swapd/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestSecretCommitment(t *testing.T) {
	commitment, err := domain.NewSecretCommitment()
	require.NoError(t, err)
	require.NotNil(t, commitment)
	require.Len(t, commitment.Secret, domain.SecretLength)
	require.True(t, domain.IsValidCommitmentHash(commitment.Hash))
	require.True(t, domain.VerifySecret(commitment.Secret, commitment.Hash))

	other, err := domain.NewSecretCommitment()
	require.NoError(t, err)
	require.NotEqual(t, commitment.Hash, other.Hash)
	require.False(t, domain.VerifySecret(other.Secret, commitment.Hash))
}

func TestVerifySecret(t *testing.T) {
	commitment, err := domain.NewSecretCommitment()
	require.NoError(t, err)

	fixtures := []struct {
		name   string
		secret []byte
		hash   string
		valid  bool
	}{
		{
			name:   "matching_secret",
			secret: commitment.Secret,
			hash:   commitment.Hash,
			valid:  true,
		},
		{
			name:   "wrong_secret",
			secret: make([]byte, domain.SecretLength),
			hash:   commitment.Hash,
			valid:  false,
		},
		{
			name:   "truncated_secret",
			secret: commitment.Secret[:16],
			hash:   commitment.Hash,
			valid:  false,
		},
		{
			name:   "oversized_secret",
			secret: append(append([]byte{}, commitment.Secret...), 0x00),
			hash:   commitment.Hash,
			valid:  false,
		},
		{
			name:   "empty_secret",
			secret: nil,
			hash:   commitment.Hash,
			valid:  false,
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			require.Equal(t, f.valid, domain.VerifySecret(f.secret, f.hash))
		})
	}
}

func TestIsValidCommitmentHash(t *testing.T) {
	require.True(t, domain.IsValidCommitmentHash(domain.HashSecret([]byte("whatever"))))
	require.False(t, domain.IsValidCommitmentHash(""))
	require.False(t, domain.IsValidCommitmentHash("not hex at all"))
	require.False(t, domain.IsValidCommitmentHash(hex.EncodeToString(make([]byte, 20))))
}
