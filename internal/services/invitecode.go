package services

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/tyler-smith/go-bip39/wordlists"
)

// wordlist is the BIP39 English wordlist (2048 words).
// Two words plus a number give 2048 × 2048 × 100 = 419 million combinations.
var wordlist = wordlists.English

// InviteCodeStore is the registry lookup the generator needs for
// uniqueness checks.
type InviteCodeStore interface {
	InviteCodeExists(ctx context.Context, code string) (int64, error)
}

// InviteCodeService generates unique, human-shareable room invite codes.
// Codes follow the pattern "word-word-number" (e.g., "ember-canyon-17").
type InviteCodeService struct {
	store InviteCodeStore
	rng   *rand.Rand
}

// NewInviteCodeService creates an InviteCodeService with its own random source.
func NewInviteCodeService(store InviteCodeStore) *InviteCodeService {
	return &InviteCodeService{
		store: store,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Generate creates a unique invite code, retrying if collisions occur.
// Returns an error if no unique code can be found after 100 attempts.
func (s *InviteCodeService) Generate(ctx context.Context) (string, error) {
	maxAttempts := 100
	for i := 0; i < maxAttempts; i++ {
		word1 := wordlist[s.rng.Intn(len(wordlist))]
		word2 := wordlist[s.rng.Intn(len(wordlist))]
		num := s.rng.Intn(100)
		code := fmt.Sprintf("%s-%s-%d", word1, word2, num)

		exists, err := s.store.InviteCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check code existence: %w", err)
		}

		if exists == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique code after %d attempts", maxAttempts)
}
