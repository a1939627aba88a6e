package session

import (
	"context"
	"sort"
	"sync"
)

// Registry is the process-wide index of live sessions. It is the only state
// shared between calls.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	wg       sync.WaitGroup
}

type entry struct {
	session *VoiceSession
	once    sync.Once
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*entry)}
}

// Register adds s and returns a func that removes it. The returned func is
// safe to call more than once. Registering an id that is already present
// evicts the previous session.
func (r *Registry) Register(s *VoiceSession) (unregister func()) {
	e := &entry{session: s}

	r.mu.Lock()
	old := r.sessions[s.ID]
	r.sessions[s.ID] = e
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		old.session.Cancel()
		r.unregister(s.ID, old)
	}
	return func() { r.unregister(s.ID, e) }
}

func (r *Registry) unregister(id string, e *entry) {
	e.once.Do(func() {
		r.mu.Lock()
		if r.sessions[id] == e {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

func (r *Registry) Get(id string) (*VoiceSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshots returns the state of every live session ordered by start time.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	sessions := make([]*VoiceSession, 0, len(r.sessions))
	for _, e := range r.sessions {
		sessions = append(sessions, e.session)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (r *Registry) CancelAll() (canceled int) {
	r.mu.Lock()
	sessions := make([]*VoiceSession, 0, len(r.sessions))
	for _, e := range r.sessions {
		sessions = append(sessions, e.session)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered or ctx ends.
func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
