// Package objstore keeps rendered artifacts (PDFs, banners, QR codes)
// in memory for a limited time and serves them over HTTP so LINE can
// fetch them by URL.
package objstore

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long an uploaded object stays retrievable.
const DefaultTTL = 24 * time.Hour

// ErrEmpty is returned when an upload carries no content.
var ErrEmpty = errors.New("missing content")

// Object is one stored artifact.
type Object struct {
	ID          string
	Filename    string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// Path is the server-relative URL the object is served at.
func (o *Object) Path() string {
	return "/api/object/" + o.ID + "/" + url.PathEscape(o.Filename)
}

// Store is a TTL-bounded in-memory object store.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	items map[string]*Object
}

// New creates a Store. Zero ttl uses DefaultTTL; nil now uses time.Now.
func New(ttl time.Duration, now func() time.Time) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Store{ttl: ttl, now: now, items: make(map[string]*Object)}
}

// Put stores data and returns the new object. Expired objects are
// swept on every write.
func (s *Store) Put(filename, contentType string, data []byte) (*Object, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if filename == "" {
		filename = "file"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	obj := &Object{
		ID:          newID(),
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
		CreatedAt:   s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.items[obj.ID] = obj
	return obj, nil
}

// Get returns the object if it exists and has not expired.
func (s *Store) Get(id string) (*Object, bool) {
	s.mu.RLock()
	obj, ok := s.items[id]
	s.mu.RUnlock()
	if !ok || s.expired(obj) {
		return nil, false
	}
	return obj, true
}

// Len returns the number of live objects.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.items)
}

func (s *Store) expired(o *Object) bool {
	return s.now().Sub(o.CreatedAt) >= s.ttl
}

func (s *Store) sweepLocked() {
	for id, o := range s.items {
		if s.expired(o) {
			delete(s.items, id)
		}
	}
}

// newID returns a 12 character hex id.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
