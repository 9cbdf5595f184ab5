// Package util provides logging, stats and small helpers shared by the call packages.
package util

import "hash/fnv"

// PeerTag computes a 4-byte hash of a participant id for log prefixes
// ("[%08x]"). Ids are user-visible tokens of varying length; the tag keeps
// interleaved per-peer log lines aligned.
func PeerTag(id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(id))
	return h.Sum32()
}
