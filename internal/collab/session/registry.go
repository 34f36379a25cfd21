// Package session owns one collaboration session per document. Every
// mutating call on a Session holds that session's lock, so edits to one
// document are serialized while different documents proceed in parallel.
package session

import (
	"sort"
	"sync"
	"time"

	"naskahcollab/internal/collab/conflict"
	"naskahcollab/internal/collab/model"
	"naskahcollab/internal/collab/presence"
	"naskahcollab/internal/collab/version"
	"naskahcollab/pkg/idgen"
	"naskahcollab/pkg/logger"
)

type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ids      idgen.Generator
	detector conflict.Detector
	resolver conflict.Resolver
	presence presence.Tracker
}

type Option func(*Registry)

func WithIDGenerator(ids idgen.Generator) Option {
	return func(r *Registry) { r.ids = ids }
}

func WithConflictWindow(window time.Duration) Option {
	return func(r *Registry) { r.detector = conflict.NewDetector(window) }
}

func WithInactiveThreshold(threshold time.Duration) Option {
	return func(r *Registry) { r.presence = presence.NewTracker(threshold) }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		ids:      idgen.Default,
		detector: conflict.NewDetector(0),
		presence: presence.NewTracker(0),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.resolver = conflict.NewResolver(r.ids)
	return r
}

// GetOrCreate returns the session for documentID, creating it with an empty
// root version authored by creatorID when absent.
func (r *Registry) GetOrCreate(documentID, creatorID string, now time.Time) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[documentID]; ok {
		return s, false
	}
	s := &Session{
		id:           r.ids.New(),
		documentID:   documentID,
		users:        make(map[string]model.User),
		chain:        version.NewChain(version.Root(r.ids.New(), "", creatorID, now)),
		changes:      []model.Change{},
		seen:         make(map[string]struct{}),
		imported:     make(map[string]struct{}),
		presenceAt:   make(map[string]time.Time),
		active:       true,
		createdAt:    now,
		lastActivity: now,
		ids:          r.ids,
		detector:     r.detector,
		resolver:     r.resolver,
		presence:     r.presence,
	}
	r.sessions[documentID] = s
	logger.Sugar.Infof("Created collaboration session %s for document %s", s.id, documentID)
	return s, true
}

func (r *Registry) Get(documentID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[documentID]
	return s, ok
}

// DocumentIDs lists every document with a session, active or not.
func (r *Registry) DocumentIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
