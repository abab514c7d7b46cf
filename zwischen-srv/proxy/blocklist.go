package proxy

import "sync"

// BlockList is a concurrency-safe set of request-line targets the
// proxy refuses to serve. The control surface mutates it while
// connection handlers read it.
type BlockList struct {
	mu      sync.RWMutex
	targets map[string]struct{}
}

// NewBlockList creates an empty block list, optionally pre-populated
// with initial targets.
func NewBlockList(initial ...string) *BlockList {
	bl := &BlockList{
		targets: make(map[string]struct{}, len(initial)),
	}
	for _, t := range initial {
		bl.targets[t] = struct{}{}
	}
	return bl
}

// Add inserts a target into the block list.
func (bl *BlockList) Add(target string) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	bl.targets[target] = struct{}{}
}

// Remove deletes a target from the block list. Removing an absent
// target is a no-op.
func (bl *BlockList) Remove(target string) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	delete(bl.targets, target)
}

// Contains reports whether the target is blocked.
func (bl *BlockList) Contains(target string) bool {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	_, ok := bl.targets[target]
	return ok
}

// Snapshot returns a copy of all blocked targets.
func (bl *BlockList) Snapshot() []string {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	out := make([]string, 0, len(bl.targets))
	for t := range bl.targets {
		out = append(out, t)
	}
	return out
}

// Len returns the number of blocked targets.
func (bl *BlockList) Len() int {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	return len(bl.targets)
}
