package recon

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nbasil/medledger/internal/metrics"
)

// lockTable tracks which session owns which ledger records. Acquisition is
// all-or-nothing and never blocks: a session that cannot take every lock it
// needs fails immediately with the conflicting key, rather than waiting on
// the holder.
type lockTable struct {
	mu     sync.Mutex
	owners map[string]string // resource key -> session ID
}

func newLockTable() *lockTable {
	return &lockTable{owners: make(map[string]string)}
}

// tryAcquire takes every key for sessionID, or none of them. Keys the
// session already holds are fine; a key held by another session fails the
// whole acquisition.
func (t *lockTable) tryAcquire(sessionID string, keys []string) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, key := range sorted {
		if owner, held := t.owners[key]; held && owner != sessionID {
			return fmt.Errorf("%w: %s held by session %s", ErrSessionConflict, key, owner)
		}
	}
	taken := 0
	for _, key := range sorted {
		if _, held := t.owners[key]; !held {
			t.owners[key] = sessionID
			taken++
		}
	}
	metrics.ActiveSessionLocks.Add(float64(taken))
	return nil
}

// release frees every key held by sessionID.
func (t *lockTable) release(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	released := 0
	for key, owner := range t.owners {
		if owner == sessionID {
			delete(t.owners, key)
			released++
		}
	}
	metrics.ActiveSessionLocks.Sub(float64(released))
}

// held reports how many keys are currently locked, across all sessions.
func (t *lockTable) held() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.owners)
}

func paymentKey(id string) string { return "pay:" + id }
func claimKey(id string) string   { return "clm:" + id }
