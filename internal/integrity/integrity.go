// Package integrity provides tamper-evident hashing and Merkle tree construction
// for decision audit trails. All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Hash version prefix. Length-prefixed binary encoding; the prefix leaves
// room to evolve the canonical form without invalidating stored hashes.
const hashV1Prefix = "v1:"

// ComputeContentHash produces a versioned SHA-256 hex digest over the
// canonical decision fields: id, work item, primary, ordered backups,
// confidence, and creation time.
func ComputeContentHash(id, workItemID, primaryHumanID string, backups []string, confidence float64, createdAt time.Time) string {
	return hashV1Prefix + computeHash(id, workItemID, primaryHumanID, backups, confidence, createdAt)
}

// VerifyContentHash checks whether a stored hash matches the recomputed one.
func VerifyContentHash(stored, id, workItemID, primaryHumanID string, backups []string, confidence float64, createdAt time.Time) bool {
	if !strings.HasPrefix(stored, hashV1Prefix) {
		return false
	}
	return stored == hashV1Prefix+computeHash(id, workItemID, primaryHumanID, backups, confidence, createdAt)
}

// computeHash produces a length-prefixed SHA-256 hex digest. Each field is
// encoded as a 4-byte big-endian length prefix followed by the field bytes,
// which avoids delimiter collisions in freeform fields.
func computeHash(id, workItemID, primaryHumanID string, backups []string, confidence float64, createdAt time.Time) string {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // field lengths are bounded by HTTP request body limits (~1MB)
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeField(id)
	writeField(workItemID)
	writeField(primaryHumanID)
	writeField(strconv.Itoa(len(backups)))
	for _, b := range backups {
		writeField(b)
	}
	writeField(strconv.FormatFloat(confidence, 'f', 10, 64))
	writeField(createdAt.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}

// HashCandidateRow produces the Merkle leaf hash for one candidate audit row.
func HashCandidateRow(decisionID, humanID string, score float64, rank int, filtered bool, filterReason string) string {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // bounded fields
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeField(decisionID)
	writeField(humanID)
	writeField(strconv.FormatFloat(score, 'f', 10, 64))
	writeField(strconv.Itoa(rank))
	writeField(strconv.FormatBool(filtered))
	writeField(filterReason)
	return hex.EncodeToString(h.Sum(nil))
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string.
// The 0x01 prefix is a domain separator for internal Merkle tree nodes (per RFC 6962),
// ensuring internal node hashes can never collide with leaf content hashes.
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01}) // internal node domain separator
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot constructs a Merkle tree from leaf hashes and returns the root.
// Leaves must be sorted lexicographically by the caller for determinism.
// If leaves is empty, returns an empty string.
// If leaves has one element, the root is that element.
// Odd-length levels hash the last node with itself for structural binding.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	// Build tree bottom-up.
	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				// Odd node: hash with itself for structural binding to tree position.
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0]
}
