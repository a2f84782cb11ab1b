package services

import (
	"sync"

	"github.com/imyashkale/hera/internal/models"
)

// progressTracker holds the live progress of running and parked deployments.
// Entries are removed when a deployment reaches a terminal state.
type progressTracker struct {
	mu      sync.RWMutex
	entries map[string]models.Progress
}

func newProgressTracker() *progressTracker {
	return &progressTracker{entries: make(map[string]models.Progress)}
}

// set stores p. Percent never goes down for a deployment.
func (t *progressTracker) set(p models.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.entries[p.DeploymentID]; ok && prev.PercentComplete > p.PercentComplete {
		p.PercentComplete = prev.PercentComplete
	}
	t.entries[p.DeploymentID] = p
}

func (t *progressTracker) get(id string) (models.Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.entries[id]
	return p, ok
}

func (t *progressTracker) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}
