// Package crypto provides cryptographic utilities for invite-code hashing.
package crypto

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/scrypt"
)

// inviteCodeHashCache caches HashInviteCode results keyed by "code:utcDay".
// Old entries for previous days stay in memory harmlessly (bounded by roomCount * 31).
var inviteCodeHashCache sync.Map

// Scrypt parameters matching the frontend implementation.
// N=16384 (2^14), r=8, p=1 are recommended for interactive logins.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// HashWithScrypt hashes an input string using scrypt with the given salt.
// The salt is lowercased before use. Returns hex-encoded hash.
// Parameters match the frontend: N=16384, r=8, p=1, keyLen=32.
func HashWithScrypt(input, salt string) (string, error) {
	saltBytes := []byte(strings.ToLower(salt))
	dk, err := scrypt.Key([]byte(input), saltBytes, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("scrypt key derivation failed: %w", err)
	}
	return hex.EncodeToString(dk), nil
}

// HashInviteCode hashes a room invite code for comparison with the
// client-provided hash. Normalizes the code (lowercase, trim) and uses the
// UTC day as salt so an intercepted hash goes stale within a day.
// Results are cached per code+day to avoid repeated scrypt computation.
func HashInviteCode(code string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(code))
	utcDay := strconv.Itoa(time.Now().UTC().Day())
	cacheKey := normalized + ":" + utcDay

	if cached, ok := inviteCodeHashCache.Load(cacheKey); ok {
		return cached.(string), nil
	}

	hash, err := HashWithScrypt(normalized, utcDay)
	if err != nil {
		return "", err
	}

	inviteCodeHashCache.Store(cacheKey, hash)
	return hash, nil
}
