package common

import (
	"bytes"
	"encoding/hex"
)

// NodeID is the 6-byte device identifier used both for transport addressing
// and as the deterministic tiebreak in role election.
type NodeID [6]byte

// String renders the id as colon-separated hex, e.g. "01:02:03:04:05:06".
func (id NodeID) String() string {
	enc := hex.EncodeToString(id[:])
	out := make([]byte, 0, len(enc)+len(id)-1)
	for i := 0; i < len(enc); i += 2 {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, enc[i], enc[i+1])
	}
	return string(out)
}

// Less reports whether id sorts lexicographically before other, byte by
// byte. Used by role election's battery tiebreak (spec.md §4.1).
func (id NodeID) Less(other NodeID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// Greater is the complement of Less, spelled out because the election rule
// reads naturally as "higher id wins".
func (id NodeID) Greater(other NodeID) bool {
	return bytes.Compare(id[:], other[:]) > 0
}

// IsZero reports whether id is the unset all-zero value.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}
