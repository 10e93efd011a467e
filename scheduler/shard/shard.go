// Package shard divides the resource ID space into a fixed set of
// shards so that periodic maintenance scans can fan out across it.
//
// A shard is identified by a single lowercase hex digit, matching
// resource IDs by prefix. The shard set is fixed at sixteen; scans rely
// on every ID belonging to exactly one shard.
package shard

import (
	"hash/fnv"
	"strings"
)

const digits = "0123456789abcdef"

// All returns the full shard set, one prefix per shard.
func All() []string {
	prefixes := make([]string, len(digits))
	for i := range digits {
		prefixes[i] = digits[i : i+1]
	}

	return prefixes
}

// ForID returns the shard that contains the given resource ID.
func ForID(id string) string {
	id = strings.ToLower(id)

	if id != "" && strings.ContainsRune(digits, rune(id[0])) {
		return id[:1]
	}

	return ForKey(id)
}

// ForKey deterministically maps an arbitrary key to a shard.
//
// It is used to spread non-ID work, such as pool definitions, across
// the same shard set that resource IDs use.
func ForKey(k string) string {
	h := fnv.New32a()
	h.Write([]byte(k))

	i := int(h.Sum32()) % len(digits)
	return digits[i : i+1]
}

// Contains returns true if the resource ID falls in the shard
// identified by prefix.
func Contains(prefix, id string) bool {
	return ForID(id) == prefix
}

// Payload is the step payload carried by each per-shard continuation
// that a recurring job fans out.
type Payload struct {
	// Shard is the prefix identifying the shard to scan.
	Shard string
}
