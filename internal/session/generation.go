package session

import "sync/atomic"

// GenCounter hands out session generations. Retry tasks and peer callbacks
// carry the generation they were created for, so a late callback from a
// replaced connection can be recognised and ignored.
type GenCounter struct {
	val atomic.Uint64
}

// Next returns the next generation (monotonically increasing from 1).
func (g *GenCounter) Next() uint64 {
	return g.val.Add(1)
}
