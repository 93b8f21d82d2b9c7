package ingest

import (
	"context"
	"sync"

	"github.com/patternos/patternos-backend/internal/repos"
)

// sequencer hands out gapless per-tenant sequence numbers. Each tenant's
// counter is seeded once from the highest persisted sequence, so restarts
// continue the series instead of reusing it.
type sequencer struct {
	mu     sync.Mutex
	events repos.EventRepo
	next   map[string]int64
}

func newSequencer(events repos.EventRepo) *sequencer {
	return &sequencer{events: events, next: map[string]int64{}}
}

func (s *sequencer) Next(ctx context.Context, tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.next[tenantID]
	if !ok {
		max, err := s.events.MaxSequence(ctx, nil, tenantID)
		if err != nil {
			return 0, err
		}
		n = max
	}
	n++
	s.next[tenantID] = n
	return n, nil
}
