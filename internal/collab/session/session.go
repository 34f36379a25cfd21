package session

import (
	"fmt"
	"sync"
	"time"

	"naskahcollab/internal/collab/conflict"
	"naskahcollab/internal/collab/content"
	"naskahcollab/internal/collab/model"
	"naskahcollab/internal/collab/presence"
	"naskahcollab/internal/collab/version"
	"naskahcollab/pkg/idgen"
)

// Session is the live state of one document. Use Snapshot for a copy that is
// safe to hand out.
type Session struct {
	mu sync.RWMutex

	id           string
	documentID   string
	users        map[string]model.User
	chain        *version.Chain
	changes      []model.Change      // cleared on every snapshot and rollback
	seen         map[string]struct{} // every change id ever folded in
	imported     map[string]struct{} // remote snapshot ids already imported
	presenceAt   map[string]time.Time
	active       bool
	createdAt    time.Time
	lastActivity time.Time

	ids      idgen.Generator
	detector conflict.Detector
	resolver conflict.Resolver
	presence presence.Tracker
}

// Applied is the outcome of folding one change into a session.
type Applied struct {
	Change   model.Change
	Version  model.Version
	Conflict *model.ConflictResolution
}

func (s *Session) ID() string         { return s.id }
func (s *Session) DocumentID() string { return s.documentID }

// Join adds or replaces u and reactivates the session.
func (s *Session) Join(u model.User, now time.Time) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	joined := s.presence.Join(s.users, u, now)
	s.markPresence(u.ID, now)
	s.active = true
	s.lastActivity = now
	return joined
}

// Leave removes userID. The session is marked inactive once empty but keeps
// its history.
func (s *Session) Leave(userID string) (removed, empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return false, len(s.users) == 0
	}
	delete(s.users, userID)
	if len(s.users) == 0 {
		s.active = false
	}
	return true, len(s.users) == 0
}

// LeaveAt is Leave with the departure time recorded, so presence events
// older than it are ignored by the Remote* methods.
func (s *Session) LeaveAt(userID string, now time.Time) (removed, empty bool) {
	removed, empty = s.Leave(userID)
	s.mu.Lock()
	s.markPresence(userID, now)
	s.mu.Unlock()
	return removed, empty
}

func (s *Session) MoveCursor(userID string, cursor model.Cursor, now time.Time) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.presence.MoveCursor(s.users, userID, cursor, now)
	if ok {
		s.markPresence(userID, now)
	}
	return u, ok
}

func (s *Session) markPresence(userID string, at time.Time) {
	if at.After(s.presenceAt[userID]) {
		s.presenceAt[userID] = at
	}
}

// stale reports whether a replicated presence event at `at` is not newer
// than what the session already knows about userID.
func (s *Session) stale(userID string, at time.Time) bool {
	return !at.After(s.presenceAt[userID])
}

// RemoteJoin applies a join seen on another replica. Out of order events are
// dropped so a late join cannot resurrect a user who already left.
func (s *Session) RemoteJoin(u model.User, at time.Time) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale(u.ID, at) {
		return model.User{}, false
	}
	joined := s.presence.Join(s.users, u, at)
	s.markPresence(u.ID, at)
	s.active = true
	return joined, true
}

func (s *Session) RemoteLeave(userID string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale(userID, at) {
		return false
	}
	s.markPresence(userID, at)
	if _, ok := s.users[userID]; !ok {
		return false
	}
	delete(s.users, userID)
	if len(s.users) == 0 {
		s.active = false
	}
	return true
}

func (s *Session) RemoteCursor(userID string, cursor model.Cursor, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale(userID, at) {
		return false
	}
	if _, ok := s.presence.MoveCursor(s.users, userID, cursor, at); !ok {
		return false
	}
	s.markPresence(userID, at)
	return true
}

func (s *Session) Touch(userID string, now time.Time) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence.Touch(s.users, userID, now)
}

// CheckActivity flags idle users offline and returns their ids.
func (s *Session) CheckActivity(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence.CheckActivity(s.users, now)
}

// Apply runs conflict detection for change against the recent change buffer,
// records it, and folds it into a new head version authored by authorID.
// Detection and resolution see the head content from before the change.
func (s *Session) Apply(change model.Change, authorID string) Applied {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := change.Timestamp
	head := s.chain.Current()
	res := Applied{Change: change}

	if matches := s.detector.Detect(s.changes, change, now); len(matches) > 0 {
		r := s.resolver.Resolve(head.Content, matches, change, authorID, now)
		res.Conflict = &r
	}

	s.changes = append(s.changes, change)
	s.seen[change.ID] = struct{}{}
	s.lastActivity = now

	res.Version = s.chain.Next(s.ids.New(), content.Apply(head.Content, change), authorID, []model.Change{change}, now, "")
	return res
}

// ApplyRemote folds a change that was already accepted by another replica.
// It skips conflict detection and reports false if the change is already known.
// A remote rollback clears the change buffer as a local Rollback does.
func (s *Session) ApplyRemote(change model.Change) (model.Version, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[change.ID]; ok {
		return model.Version{}, false
	}
	head := s.chain.Current()
	if change.IsRollback() {
		s.changes = []model.Change{}
	} else {
		s.changes = append(s.changes, change)
	}
	s.seen[change.ID] = struct{}{}
	if change.Timestamp.After(s.lastActivity) {
		s.lastActivity = change.Timestamp
	}
	v := s.chain.Next(s.ids.New(), content.Apply(head.Content, change), change.UserID, []model.Change{change}, change.Timestamp, "")
	return v, true
}

// CreateVersion snapshots body together with every buffered change, then
// clears the buffer so conflict detection starts over.
func (s *Session) CreateVersion(body, description, authorID string, now time.Time) model.Version {
	s.mu.Lock()
	defer s.mu.Unlock()

	folded := make([]model.Change, len(s.changes))
	copy(folded, s.changes)
	v := s.chain.Next(s.ids.New(), body, authorID, folded, now, description)
	s.changes = []model.Change{}
	return v
}

// ImportSnapshot records a snapshot created on another replica under a new
// local version. It reports false when remoteID is already part of the chain
// or was imported before.
func (s *Session) ImportSnapshot(remote model.Version, description string) (model.Version, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chain.Find(remote.ID); ok {
		return model.Version{}, false
	}
	if _, ok := s.imported[remote.ID]; ok {
		return model.Version{}, false
	}
	s.imported[remote.ID] = struct{}{}
	folded := make([]model.Change, len(s.changes))
	copy(folded, s.changes)
	v := s.chain.Next(s.ids.New(), remote.Content, remote.UserID, folded, remote.Timestamp, description)
	s.changes = []model.Change{}
	return v, true
}

// Rollback restores the content of versionID as a new head. History is never
// rewritten: the new version's parent is the current head.
func (s *Session) Rollback(versionID, authorID string, now time.Time) (model.Change, model.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.chain.Find(versionID)
	if !ok {
		return model.Change{}, model.Version{}, fmt.Errorf("rollback document %s to %s: %w", s.documentID, versionID, model.ErrVersionNotFound)
	}
	head := s.chain.Current()
	change := model.Change{
		ID:         s.ids.New(),
		UserID:     authorID,
		Timestamp:  now,
		Type:       model.ChangeReplace,
		Position:   0,
		Length:     content.Len(head.Content),
		Content:    target.Content,
		OldContent: head.Content,
		Metadata:   &model.ChangeMetadata{Source: model.SourceSystem},
	}
	s.seen[change.ID] = struct{}{}
	v := s.chain.Next(s.ids.New(), content.Apply(head.Content, change), authorID, []model.Change{change}, now, "")
	s.changes = []model.Change{}
	return change, v, nil
}

func (s *Session) Current() model.Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chain.Current()
}

func (s *Session) Versions() []model.Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chain.Versions()
}

// Version looks up an appended version by id.
func (s *Session) Version(id string) (model.Version, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chain.Find(id)
}

func (s *Session) Changes() []model.Change {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Change, len(s.changes))
	copy(out, s.changes)
	return out
}

// Users returns the current users ordered by id.
func (s *Session) Users() []model.User {
	return s.Snapshot().UserList()
}

func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Verify checks the integrity of the version chain.
func (s *Session) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chain.Verify()
}

func (s *Session) Snapshot() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make(map[string]model.User, len(s.users))
	for id, u := range s.users {
		users[id] = u.Clone()
	}
	changes := make([]model.Change, len(s.changes))
	copy(changes, s.changes)

	return model.Session{
		ID:             s.id,
		DocumentID:     s.documentID,
		Users:          users,
		CurrentVersion: s.chain.Current(),
		Versions:       s.chain.Versions(),
		Changes:        changes,
		IsActive:       s.active,
		CreatedAt:      s.createdAt,
		LastActivity:   s.lastActivity,
	}
}
