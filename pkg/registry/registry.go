// Package registry implements the document registry (C4): a
// concurrent map from document id to live session, with lazy creation
// (hydrating from durable storage on first touch), last-access
// tracking, and a background janitor that evicts documents idle past
// their expiry horizon.
package registry

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/cowrite/cowrite/pkg/database"
	"github.com/cowrite/cowrite/pkg/logger"
	"github.com/cowrite/cowrite/pkg/metrics"
	"github.com/cowrite/cowrite/pkg/session"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const idLength = 6

// entry is a registry-owned record pairing a session with the last
// time any request touched it.
type entry struct {
	mu           sync.Mutex
	lastAccessed time.Time
	session      *session.Session
}

// Registry is the concurrent id -> session map. The zero value is not
// usable; construct with New.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	db *database.Database

	maxDocumentSize     int
	broadcastBufferSize int
	log                 *logger.Logger
}

// New builds a Registry. db may be nil, disabling persistence and
// hydration entirely — documents then live only as long as the
// process and the janitor's expiry horizon.
func New(db *database.Database, maxDocumentSize, broadcastBufferSize int, log *logger.Logger) *Registry {
	return &Registry{
		entries:             make(map[string]*entry),
		db:                  db,
		maxDocumentSize:     maxDocumentSize,
		broadcastBufferSize: broadcastBufferSize,
		log:                 log,
	}
}

// Get returns the live session for id, creating and (if a durable
// store is configured) hydrating one if this is the first touch.
// last_accessed is refreshed on every call, per spec.md §4.4. created
// reports whether this call materialized the document, so a caller
// can spawn exactly one persistence worker per document lifetime.
func (r *Registry) Get(id string) (sess *session.Session, created bool, err error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()

	if ok {
		e.mu.Lock()
		e.lastAccessed = time.Now()
		e.mu.Unlock()
		return e.session, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		e.mu.Lock()
		e.lastAccessed = time.Now()
		e.mu.Unlock()
		return e.session, false, nil
	}

	sess, err = r.hydrate(id)
	if err != nil {
		return nil, false, err
	}
	r.entries[id] = &entry{lastAccessed: time.Now(), session: sess}
	metrics.ActiveDocuments.Set(float64(len(r.entries)))
	return sess, true, nil
}

// CreateWithText materializes a brand-new session seeded with text and
// language under id (used by document creation, which allocates the id
// up front via AllocateID), built with the registry's own size and
// buffer settings so a created document behaves identically whether it
// arrived via AllocateID+CreateWithText or lazy hydration through Get.
// created is false only if another request raced and won; the caller
// should then use the session that won instead.
func (r *Registry) CreateWithText(id, text string, language *string) (sess *session.Session, created bool, err error) {
	sessLog := r.log
	if sessLog != nil {
		sessLog = sessLog.With("doc_id", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		return e.session, false, nil
	}
	sess = session.FromPersisted(text, language, nil, r.maxDocumentSize, r.broadcastBufferSize, sessLog)
	r.entries[id] = &entry{lastAccessed: time.Now(), session: sess}
	metrics.ActiveDocuments.Set(float64(len(r.entries)))
	return sess, true, nil
}

// Lookup returns the session for id only if it is already resident in
// memory, without creating or hydrating one. Used by the read-only
// text endpoint (C6), which falls back to a direct durable-store read
// instead of materializing a session for a document nobody has opened
// a connection to yet.
func (r *Registry) Lookup(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

func (r *Registry) hydrate(id string) (*session.Session, error) {
	sessLog := r.log
	if sessLog != nil {
		sessLog = sessLog.With("doc_id", id)
	}

	if r.db != nil {
		persisted, err := r.db.Load(id)
		if err != nil {
			return nil, fmt.Errorf("registry: load %s: %w", id, err)
		}
		if persisted != nil {
			if sessLog != nil {
				sessLog.Info("hydrated document from durable store")
			}
			return session.FromPersisted(persisted.Text, persisted.Language, nil, r.maxDocumentSize, r.broadcastBufferSize, sessLog), nil
		}
	}
	return session.New(r.maxDocumentSize, r.broadcastBufferSize, sessLog), nil
}

// NumDocuments returns the number of resident (in-memory) documents,
// for /api/stats.
func (r *Registry) NumDocuments() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// AllocateID returns a fresh 6-character alphanumeric id unused by
// both the in-memory registry and (if configured) the durable store,
// retrying on collision.
func (r *Registry) AllocateID() (string, error) {
	for attempt := 0; attempt < 64; attempt++ {
		id, err := randomID()
		if err != nil {
			return "", err
		}

		r.mu.RLock()
		_, inMemory := r.entries[id]
		r.mu.RUnlock()
		if inMemory {
			continue
		}

		if r.db != nil {
			exists, err := r.db.Exists(id)
			if err != nil {
				return "", fmt.Errorf("registry: check id collision: %w", err)
			}
			if exists {
				continue
			}
		}
		return id, nil
	}
	return "", fmt.Errorf("registry: could not allocate a unique id after 64 attempts")
}

func randomID() (string, error) {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("registry: generate id: %w", err)
	}
	out := make([]byte, idLength)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out), nil
}

// KillAll tears down every resident session, waking every connection
// loop so it can exit cleanly. Used during graceful shutdown.
func (r *Registry) KillAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.session.Kill()
	}
}

// StartJanitor runs the background eviction loop until ctx is
// cancelled: every interval, every entry idle longer than expiry is
// killed and removed. Killing a session is cooperative — its
// persistence worker observes Killed() and exits at its next tick.
func (r *Registry) StartJanitor(ctx context.Context, interval, expiry time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictExpired(expiry)
		}
	}
}

func (r *Registry) evictExpired(expiry time.Duration) {
	now := time.Now()
	var expired []string

	r.mu.RLock()
	for id, e := range r.entries {
		e.mu.Lock()
		idle := now.Sub(e.lastAccessed)
		e.mu.Unlock()
		if idle > expiry {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range expired {
		e, ok := r.entries[id]
		if !ok {
			continue
		}
		e.session.Kill()
		delete(r.entries, id)
	}
	metrics.ActiveDocuments.Set(float64(len(r.entries)))
	metrics.DocumentsEvicted.Add(float64(len(expired)))
	if r.log != nil {
		r.log.Info("janitor evicted idle documents", "count", len(expired))
	}
}
