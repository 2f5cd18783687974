package speech

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type pending struct {
	r       io.ReadCloser
	created time.Time
}

// Store holds synthesized streams until a client fetches them. Each stream
// can be opened once.
type Store struct {
	mu      sync.Mutex
	streams map[string]pending
	ttl     time.Duration
	now     func() time.Time
}

// NewStore creates a store whose unclaimed streams expire after ttl.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{streams: make(map[string]pending), ttl: ttl, now: time.Now}
}

// Put registers r and returns its id.
func (s *Store) Put(r io.ReadCloser) string {
	id := uuid.New().String()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[id] = pending{r: r, created: s.now()}
	return id
}

// Open hands the stream over to the caller and forgets it. The caller must
// close it.
func (s *Store) Open(id string) (io.ReadCloser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.streams[id]
	if !ok {
		return nil, false
	}
	delete(s.streams, id)
	return p.r, true
}

// Sweep closes and removes streams nobody claimed within the ttl. It
// returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	var expired []pending
	cutoff := s.now().Add(-s.ttl)
	for id, p := range s.streams {
		if p.created.Before(cutoff) {
			expired = append(expired, p)
			delete(s.streams, id)
		}
	}
	s.mu.Unlock()

	for _, p := range expired {
		if err := p.r.Close(); err != nil {
			slog.Debug("close expired speech stream", "error", err)
		}
	}
	return len(expired)
}

// Len returns the number of unclaimed streams.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// Close releases every unclaimed stream.
func (s *Store) Close() {
	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[string]pending)
	s.mu.Unlock()
	for _, p := range streams {
		p.r.Close()
	}
}
