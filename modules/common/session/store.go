package session

import (
	"log"
	"sync"
	"time"

	"labubufy-server/modules/common/model"
)

// Store is the process-wide keyed storage for generation sessions.
// Set always replaces the whole record; partial patches are not supported.
// Absence of an id means "not a multi-step job" to callers.
type Store interface {
	Set(id string, sess *model.GenerationSession)
	Get(id string) (*model.GenerationSession, bool)
	Delete(id string)
	Sweep() int
	List() []*model.GenerationSession
}

// MemoryStore keeps sessions in a process-local map. Records older than the
// retention window are removed by Sweep regardless of terminal status; this
// is memory-bound cleanup, not a business rule.
type MemoryStore struct {
	mutex     sync.RWMutex
	sessions  map[string]*model.GenerationSession
	retention time.Duration
}

// NewMemoryStore creates an in-memory store with the given retention window.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*model.GenerationSession),
		retention: retention,
	}
}

// Set upserts a whole-record replacement.
func (s *MemoryStore) Set(id string, sess *model.GenerationSession) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sessions[id] = sess.Clone()
}

// Get returns a copy of the record, or false when the id is unknown.
func (s *MemoryStore) Get(id string) (*model.GenerationSession, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// Delete removes a record.
func (s *MemoryStore) Delete(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.sessions, id)
}

// Sweep removes every record older than the retention window and returns the
// number of evicted sessions.
func (s *MemoryStore) Sweep() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	cleaned := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.CreatedAt) > s.retention {
			delete(s.sessions, id)
			cleaned++
			log.Printf("🧹 [Session] Cleaned up expired session: %s (age: %v, status: %s)",
				id, now.Sub(sess.CreatedAt), sess.Status)
		}
	}
	return cleaned
}

// List returns copies of all live sessions.
func (s *MemoryStore) List() []*model.GenerationSession {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]*model.GenerationSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	return out
}

// StartSweeper runs Sweep on a recurring timer until stop is closed.
func StartSweeper(store Store, interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if cleaned := store.Sweep(); cleaned > 0 {
					log.Printf("🗑️  [Session] Swept %d expired sessions", cleaned)
				}
			case <-stop:
				return
			}
		}
	}()
	log.Printf("🔄 [Session] Started sweep routine (interval: %v)", interval)
}
