package sseresume

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// CursorStore is a durable key-value store for resumption cursors. The
// client records the last observed sequence number under a key derived from
// the subscription URL and reads it back when building the resume request.
//
// Store failures are never fatal to a subscription, the client degrades to
// connecting without resumption instead.
type CursorStore interface {
	// Load returns the cursor stored under key. Absent cursor is
	// reported as an empty string with a nil error.
	Load(key string) (string, error)

	// Save records id as the cursor for key, replacing any previous
	// value.
	Save(key, id string) error
}

// EndpointKey derives the cursor storage key for a subscription URL. The
// digest is deterministic so the same endpoint reliably resumes across
// sessions, and distinct endpoints never collide.
func EndpointKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// MemoryCursorStore is an in-process CursorStore. Cursors do not survive a
// process restart, but do survive any number of reconnects within one
// process. Useful as a default and in tests, applications that need
// resumption across restarts should provide their own CursorStore backed by
// durable storage.
type MemoryCursorStore struct {
	c *cache.Cache
}

// NewMemoryCursorStore creates an in-memory cursor store. Cursors expire
// after the expiration duration and expired entries are removed every
// cleanup interval. Passing zero values disables expiration.
func NewMemoryCursorStore(expiration, cleanup time.Duration) *MemoryCursorStore {
	if expiration <= 0 {
		expiration = cache.NoExpiration
	}
	return &MemoryCursorStore{c: cache.New(expiration, cleanup)}
}

func (s *MemoryCursorStore) Load(key string) (string, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return "", nil
	}
	return v.(string), nil
}

func (s *MemoryCursorStore) Save(key, id string) error {
	s.c.Set(key, id, cache.DefaultExpiration)
	return nil
}
