package signal

import (
	"sync"

	"github.com/google/uuid"
)

const lockShards = 256

// KeyedMutex serialises writes per global customer without a global lock on
// the hot path. Customers hash onto a fixed shard table, so two customers may
// share a lock but one customer never races itself.
type KeyedMutex struct {
	shards [lockShards]sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{}
}

func (m *KeyedMutex) shardFor(key uuid.UUID) *sync.Mutex {
	var h uint32
	for _, b := range key {
		h = h*31 + uint32(b)
	}
	return &m.shards[h%lockShards]
}

func (m *KeyedMutex) Lock(key uuid.UUID)   { m.shardFor(key).Lock() }
func (m *KeyedMutex) Unlock(key uuid.UUID) { m.shardFor(key).Unlock() }
