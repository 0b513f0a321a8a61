package jobengine

import "sync"

// gate is a process-wide exclusive slot: at most one job runs at a time.
// TryReserve acquires without waiting (the HTTP dispatch path uses this and
// returns 409 on failure); HandleJob is the waiting variant used only in
// tests, matching spec.md §4.6.1.
type gate struct {
	mu sync.Mutex
}

func (g *gate) TryReserve() bool {
	return g.mu.TryLock()
}

func (g *gate) Release() {
	g.mu.Unlock()
}

func (g *gate) HandleJob() {
	g.mu.Lock()
}
