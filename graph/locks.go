package graph

import (
	"bytes"
	"hash/fnv"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const lockStripes = 64

// pairLocks serializes mutations of the same unordered user pair within this
// process. Pairs hashing to the same stripe share a lock.
type pairLocks struct {
	stripes [lockStripes]sync.Mutex
}

func newPairLocks() *pairLocks {
	return &pairLocks{}
}

func (l *pairLocks) lock(a, b primitive.ObjectID) func() {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	h := fnv.New32a()
	h.Write(a[:])
	h.Write(b[:])
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
