package integrity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var refTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestContentHashRoundTrip(t *testing.T) {
	hash := ComputeContentHash("dec-abc", "wi-1", "h1", []string{"h2", "h3"}, 0.91, refTime)
	assert.True(t, VerifyContentHash(hash, "dec-abc", "wi-1", "h1", []string{"h2", "h3"}, 0.91, refTime))
}

func TestContentHashDetectsTampering(t *testing.T) {
	hash := ComputeContentHash("dec-abc", "wi-1", "h1", []string{"h2"}, 0.91, refTime)

	assert.False(t, VerifyContentHash(hash, "dec-abc", "wi-1", "h2", []string{"h2"}, 0.91, refTime), "primary swap")
	assert.False(t, VerifyContentHash(hash, "dec-abc", "wi-1", "h1", []string{"h3"}, 0.91, refTime), "backup swap")
	assert.False(t, VerifyContentHash(hash, "dec-abc", "wi-1", "h1", []string{"h2"}, 0.90, refTime), "confidence change")
	assert.False(t, VerifyContentHash(hash, "dec-abc", "wi-2", "h1", []string{"h2"}, 0.91, refTime), "work item change")
}

func TestContentHashBackupOrderMatters(t *testing.T) {
	a := ComputeContentHash("dec-abc", "wi-1", "h1", []string{"h2", "h3"}, 0.91, refTime)
	b := ComputeContentHash("dec-abc", "wi-1", "h1", []string{"h3", "h2"}, 0.91, refTime)
	assert.NotEqual(t, a, b)
}

func TestContentHashNoFieldSmearing(t *testing.T) {
	// Length prefixing must keep adjacent fields from bleeding into each
	// other: ("ab","c") and ("a","bc") encode differently.
	a := ComputeContentHash("ab", "c", "h1", nil, 0.5, refTime)
	b := ComputeContentHash("a", "bc", "h1", nil, 0.5, refTime)
	assert.NotEqual(t, a, b)
}

func TestVerifyRejectsUnknownPrefix(t *testing.T) {
	assert.False(t, VerifyContentHash("deadbeef", "dec-abc", "wi-1", "h1", nil, 0.5, refTime))
}

func TestHashCandidateRowDeterministic(t *testing.T) {
	a := HashCandidateRow("dec-1", "h1", 0.82, 1, false, "")
	b := HashCandidateRow("dec-1", "h1", 0.82, 1, false, "")
	c := HashCandidateRow("dec-1", "h1", 0.82, 2, false, "")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestBuildMerkleRoot(t *testing.T) {
	assert.Empty(t, BuildMerkleRoot(nil))
	assert.Equal(t, "leaf", BuildMerkleRoot([]string{"leaf"}))

	two := BuildMerkleRoot([]string{"a", "b"})
	assert.NotEmpty(t, two)
	assert.Len(t, two, 64)

	// Order matters.
	assert.NotEqual(t, two, BuildMerkleRoot([]string{"b", "a"}))

	// Odd leaf counts bind the trailing node to its position.
	three := BuildMerkleRoot([]string{"a", "b", "c"})
	assert.NotEqual(t, two, three)

	// Any leaf change changes the root.
	assert.NotEqual(t, three, BuildMerkleRoot([]string{"a", "b", "d"}))
}
