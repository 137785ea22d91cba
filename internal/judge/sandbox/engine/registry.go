package engine

import "sync"

// runRegistry tracks live resources (cgroup paths or container ids) per submission.
type runRegistry struct {
	mu      sync.Mutex
	entries map[string][]string
}

func newRunRegistry() *runRegistry {
	return &runRegistry{entries: make(map[string][]string)}
}

func (r *runRegistry) add(submissionID, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[submissionID] = append(r.entries[submissionID], value)
}

func (r *runRegistry) remove(submissionID, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	values := r.entries[submissionID]
	updated := values[:0]
	for _, v := range values {
		if v != value {
			updated = append(updated, v)
		}
	}
	if len(updated) == 0 {
		delete(r.entries, submissionID)
		return
	}
	r.entries[submissionID] = updated
}

func (r *runRegistry) snapshot(submissionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	values := r.entries[submissionID]
	out := make([]string, len(values))
	copy(out, values)
	return out
}
