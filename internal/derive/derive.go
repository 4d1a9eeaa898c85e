// Package derive provides the pure hash-derivation functions used for idempotency
// keys and content deduplication hashes.
//
// Derivation never fails: if hash input canonicalization errors, IdempotencyKey falls
// back to a random UUID string. This is a deliberate availability-over-strictness
// choice; an auto-generated key is unique per call anyway, so losing determinism in
// the fallback costs nothing, while refusing the event would.
package derive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/finsight/eventgate/internal/util"
	"github.com/google/uuid"
)

const (
	// autoKeyNonceLength is the hex length of the random nonce mixed into
	// auto-generated key values.
	autoKeyNonceLength = 16
	// bodyHashTruncation is the number of body hash bytes folded into the
	// deduplication hash input.
	bodyHashTruncation = 16
)

// IdempotencyKey derives a key value and its stable hash for an operation that did
// not supply its own idempotency key. The derivation mixes a wall-clock timestamp and
// a random nonce, so auto-generated keys are unique per call: callers wanting true
// at-most-once semantics must supply their own key (see HashCallerKey) or rely on
// content-based deduplication instead.
func IdempotencyKey(operationType, entityType, entityID, callerID string, extra map[string]any) (keyValue, keyHash string) {
	nonce := util.GenerateRandomHex(autoKeyNonceLength)
	keyValue = fmt.Sprintf("auto:%s:%s:%s:%d:%s", operationType, entityType, entityID, time.Now().UnixNano(), nonce)

	input := []string{operationType, entityType, entityID, callerID, keyValue}
	if len(extra) > 0 {
		// json.Marshal sorts map keys, so the serialization is canonical.
		extraJSON, err := json.Marshal(extra)
		if err != nil {
			slog.Error("IdempotencyKey: extra metadata not serializable, falling back to random UUID", "error", err, "operationType", operationType)
			return keyValue, uuid.NewString()
		}
		input = append(input, string(extraJSON))
	}

	return keyValue, hashFields(input...)
}

// HashCallerKey returns the stable hash of a caller-supplied idempotency key, scoped
// by operation type so the same raw key may be reused across different operations.
func HashCallerKey(operationType, key string) string {
	return hashFields(operationType, key)
}

// DeduplicationHash derives the content hash used for deduplication. It is a purely
// deterministic function of its inputs: the stable identity fields plus a truncated
// hash of the full event body. Byte-identical redeliveries always yield the same hash.
func DeduplicationHash(eventType, entityType, entityID string, eventBody []byte) string {
	bodySum := sha256.Sum256(eventBody)
	bodyHash := hex.EncodeToString(bodySum[:bodyHashTruncation])
	return hashFields(eventType, entityType, entityID, bodyHash)
}

// hashFields hashes the given fields with an unambiguous separator so that adjacent
// fields cannot collide by concatenation.
func hashFields(fields ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}
