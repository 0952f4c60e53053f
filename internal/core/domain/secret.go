package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SecretLength is the fixed size of a swap pre-image in bytes.
const SecretLength = 32

// SecretCommitment binds a swap to the SHA-256 digest of a random secret.
// The hash is the only value shared between ledgers before the reveal phase;
// the secret itself must never be persisted or logged until then.
type SecretCommitment struct {
	Secret []byte
	Hash   string
}

func NewSecretCommitment() (*SecretCommitment, error) {
	secret := make([]byte, SecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	return &SecretCommitment{
		Secret: secret,
		Hash:   HashSecret(secret),
	}, nil
}

func HashSecret(secret []byte) string {
	digest := sha256.Sum256(secret)
	return hex.EncodeToString(digest[:])
}

// VerifySecret recomputes the digest of a pre-image observed on a ledger and
// compares it with the expected commitment hash. Ledgers may expose
// adversarial or malformed data, so nothing is trusted before this passes.
func VerifySecret(secret []byte, hash string) bool {
	if len(secret) != SecretLength {
		return false
	}
	return HashSecret(secret) == hash
}

func IsValidCommitmentHash(hash string) bool {
	buf, err := hex.DecodeString(hash)
	return err == nil && len(buf) == sha256.Size
}
