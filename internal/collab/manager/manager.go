// Package manager is the collaboration facade used by one local user. It
// joins a session in a shared registry, turns edits into versions, fans
// events out through a broadcaster, and routes incoming events to listeners.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"naskahcollab/internal/collab/broadcast"
	"naskahcollab/internal/collab/listener"
	"naskahcollab/internal/collab/model"
	"naskahcollab/internal/collab/presence"
	"naskahcollab/internal/collab/session"
	"naskahcollab/pkg/clock"
	"naskahcollab/pkg/idgen"
	"naskahcollab/pkg/logger"
)

type Manager struct {
	registry  *session.Registry
	broadcast *broadcast.Broadcaster
	clock     clock.Clock
	ids       idgen.Generator
	origin    string
	heartbeat time.Duration

	mu      sync.RWMutex
	current *session.Session
	user    *model.User

	users     listener.Set[[]model.User]
	changes   listener.Set[model.Change]
	versions  listener.Set[model.Version]
	conflicts listener.Set[model.ConflictResolution]

	cancel      context.CancelFunc
	done        chan struct{}
	destroyOnce sync.Once
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithIDGenerator(ids idgen.Generator) Option {
	return func(m *Manager) { m.ids = ids }
}

// WithOrigin names this replica on the wire. Events carrying the same origin
// are treated as echoes of local operations.
func WithOrigin(origin string) Option {
	return func(m *Manager) { m.origin = origin }
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Manager) { m.heartbeat = d }
}

// New wires a manager to registry and b, starts connecting b and starts the
// heartbeat. Both stop on Destroy or when ctx is done.
func New(ctx context.Context, registry *session.Registry, b *broadcast.Broadcaster, opts ...Option) *Manager {
	m := &Manager{
		registry:  registry,
		broadcast: b,
		clock:     clock.System{},
		ids:       idgen.Default,
		heartbeat: presence.DefaultHeartbeatInterval,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.origin == "" {
		m.origin = m.ids.New()
	}

	ctx, m.cancel = context.WithCancel(ctx)
	b.OnEvent(m.handleEvent)
	b.Start(ctx)

	go func() {
		defer close(m.done)
		presence.RunHeartbeat(ctx, m.heartbeat, m.Heartbeat)
	}()
	return m
}

func (m *Manager) Origin() string { return m.origin }

func (m *Manager) active() (*session.Session, *model.User) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.user
}

func (m *Manager) require() (*session.Session, model.User, error) {
	s, u := m.active()
	if s == nil || u == nil {
		return nil, model.User{}, model.ErrNoActiveSession
	}
	return s, *u, nil
}

func (m *Manager) setUser(s *session.Session, u model.User) {
	m.mu.Lock()
	if m.current == s {
		m.user = &u
	}
	m.mu.Unlock()
}

// JoinSession enters the session for documentID, creating it if needed, and
// leaves any other session first.
func (m *Manager) JoinSession(ctx context.Context, documentID string, user model.User) (model.Session, error) {
	if documentID == "" || user.ID == "" {
		return model.Session{}, fmt.Errorf("join session: document and user id are required: %w", model.ErrInvalidInput)
	}
	if s, _ := m.active(); s != nil && s.DocumentID() != documentID {
		m.LeaveSession(ctx)
	}

	now := m.clock.Now()
	s, _ := m.registry.GetOrCreate(documentID, user.ID, now)
	joined := s.Join(user, now)

	m.mu.Lock()
	m.current = s
	m.user = &joined
	m.mu.Unlock()

	logger.Sugar.Infof("User %s joined collaboration session %s", joined.ID, s.ID())
	m.emit(ctx, s, model.EventUserJoin, joined.ID, now, joined)
	m.notifyUsers(s)
	return s.Snapshot(), nil
}

// LeaveSession is a no-op when nothing is joined.
func (m *Manager) LeaveSession(ctx context.Context) {
	m.mu.Lock()
	s, u := m.current, m.user
	m.current, m.user = nil, nil
	m.mu.Unlock()
	if s == nil || u == nil {
		return
	}

	now := m.clock.Now()
	s.LeaveAt(u.ID, now)
	logger.Sugar.Infof("User %s left collaboration session %s", u.ID, s.ID())
	m.emit(ctx, s, model.EventUserLeave, u.ID, now, *u)
	m.users.Notify(s.Users())
}

// ApplyChange stamps draft, checks it for conflicts against the recent edits
// of the session and records it as a new head version.
func (m *Manager) ApplyChange(ctx context.Context, draft model.ChangeDraft) (model.Change, error) {
	s, u, err := m.require()
	if err != nil {
		return model.Change{}, fmt.Errorf("apply change: %w", err)
	}
	if draft.UserID == "" {
		draft.UserID = u.ID
	}
	if draft.Metadata != nil && draft.Metadata.Source == model.SourceSystem {
		// only Rollback authors system changes
		md := *draft.Metadata
		md.Source = model.SourceUser
		draft.Metadata = &md
	}

	now := m.clock.Now()
	change := draft.Stamp(m.ids.New(), now)
	res := s.Apply(change, u.ID)

	if res.Conflict != nil {
		m.emit(ctx, s, model.EventConflictDetected, u.ID, now, *res.Conflict)
		m.broadcast.IncConflictsResolved()
		m.conflicts.Notify(*res.Conflict)
	}
	m.emit(ctx, s, model.EventContentChange, u.ID, now, change)
	m.emit(ctx, s, model.EventVersionCreate, u.ID, now, model.VersionPayload{Version: res.Version})
	m.changes.Notify(change)
	m.versions.Notify(res.Version)
	return change, nil
}

// UpdateCursor is a no-op when nothing is joined.
func (m *Manager) UpdateCursor(ctx context.Context, position int, selection *model.Selection) {
	s, u := m.active()
	if s == nil || u == nil {
		return
	}
	now := m.clock.Now()
	cursor := model.Cursor{Position: position, Selection: selection}
	moved, ok := s.MoveCursor(u.ID, cursor, now)
	if !ok {
		return
	}
	m.setUser(s, moved)
	m.emit(ctx, s, model.EventCursorMove, u.ID, now, model.CursorPayload{Position: position, Selection: selection})
	m.notifyUsers(s)
}

func (m *Manager) CreateVersion(ctx context.Context, content, description string) (model.Version, error) {
	s, u, err := m.require()
	if err != nil {
		return model.Version{}, fmt.Errorf("create version: %w", err)
	}
	now := m.clock.Now()
	v := s.CreateVersion(content, description, u.ID, now)
	m.emit(ctx, s, model.EventVersionCreate, u.ID, now, model.VersionPayload{Version: v, Description: description, Snapshot: true})
	m.versions.Notify(v)
	return v, nil
}

// RollbackToVersion makes the content of versionID the new head through a
// synthesized replace change. The root version is not a rollback target.
func (m *Manager) RollbackToVersion(ctx context.Context, versionID string) (model.Version, error) {
	s, u := m.active()
	if s == nil {
		return model.Version{}, fmt.Errorf("rollback: %w", model.ErrNoActiveSession)
	}
	author := model.SystemUserID
	if u != nil {
		author = u.ID
	}

	now := m.clock.Now()
	change, v, err := s.Rollback(versionID, author, now)
	if err != nil {
		return model.Version{}, err
	}
	logger.Sugar.Infof("Rolled back document %s to version %s", s.DocumentID(), versionID)
	m.emit(ctx, s, model.EventContentChange, author, now, change)
	m.emit(ctx, s, model.EventVersionCreate, author, now, model.VersionPayload{Version: v})
	m.changes.Notify(change)
	m.versions.Notify(v)
	return v, nil
}

// CheckUserActivity marks idle users of the current session offline.
func (m *Manager) CheckUserActivity() {
	s, _ := m.active()
	if s == nil {
		return
	}
	if stale := s.CheckActivity(m.clock.Now()); len(stale) > 0 {
		logger.Sugar.Debugf("Marked %d idle users offline in session %s", len(stale), s.ID())
		m.notifyUsers(s)
	}
}

// SendHeartbeat refreshes the local user's activity.
func (m *Manager) SendHeartbeat() {
	s, u := m.active()
	if s == nil || u == nil {
		return
	}
	if touched, ok := s.Touch(u.ID, m.clock.Now()); ok {
		m.setUser(s, touched)
	}
}

// Heartbeat is one tick of the heartbeat loop.
func (m *Manager) Heartbeat() {
	m.CheckUserActivity()
	m.SendHeartbeat()
}

func (m *Manager) emit(ctx context.Context, s *session.Session, typ model.EventType, userID string, at time.Time, payload any) {
	e, err := model.NewEvent(m.ids.New(), typ, s.DocumentID(), userID, at, payload)
	if err != nil {
		logger.Sugar.Errorf("building %s event: %v", typ, err)
		return
	}
	e.Origin = m.origin
	m.broadcast.Broadcast(ctx, e)
}

func (m *Manager) notifyUsers(s *session.Session) {
	cur, _ := m.active()
	if cur != s {
		return
	}
	m.users.Notify(s.Users())
}

func (m *Manager) CurrentSession() (model.Session, bool) {
	s, _ := m.active()
	if s == nil {
		return model.Session{}, false
	}
	return s.Snapshot(), true
}

func (m *Manager) CurrentUser() (model.User, bool) {
	_, u := m.active()
	if u == nil {
		return model.User{}, false
	}
	return u.Clone(), true
}

// VersionHistory returns the appended versions of the current session, oldest
// first, without the root.
func (m *Manager) VersionHistory() []model.Version {
	s, _ := m.active()
	if s == nil {
		return nil
	}
	return s.Versions()
}

// ChangeHistory returns the changes buffered since the last snapshot or rollback.
func (m *Manager) ChangeHistory() []model.Change {
	s, _ := m.active()
	if s == nil {
		return nil
	}
	return s.Changes()
}

func (m *Manager) PerformanceMetrics() model.Metrics {
	return m.broadcast.Metrics()
}

func (m *Manager) ConnectionStatus() model.ConnectionState {
	return m.broadcast.ConnectionStatus()
}

func (m *Manager) AddUserListener(fn func([]model.User)) listener.ID { return m.users.Add(fn) }
func (m *Manager) RemoveUserListener(id listener.ID) bool         { return m.users.Remove(id) }

func (m *Manager) AddChangeListener(fn func(model.Change)) listener.ID { return m.changes.Add(fn) }
func (m *Manager) RemoveChangeListener(id listener.ID) bool           { return m.changes.Remove(id) }

func (m *Manager) AddVersionListener(fn func(model.Version)) listener.ID { return m.versions.Add(fn) }
func (m *Manager) RemoveVersionListener(id listener.ID) bool            { return m.versions.Remove(id) }

func (m *Manager) AddConflictListener(fn func(model.ConflictResolution)) listener.ID {
	return m.conflicts.Add(fn)
}
func (m *Manager) RemoveConflictListener(id listener.ID) bool { return m.conflicts.Remove(id) }

func (m *Manager) AddConnectionListener(fn func(model.ConnectionState)) listener.ID {
	return m.broadcast.AddConnectionListener(fn)
}
func (m *Manager) RemoveConnectionListener(id listener.ID) bool {
	return m.broadcast.RemoveConnectionListener(id)
}

// Destroy stops the heartbeat and the broadcaster and drops every listener.
// The joined session, if any, is left as is. Safe to call more than once.
func (m *Manager) Destroy() {
	m.destroyOnce.Do(func() {
		m.cancel()
		<-m.done
		if err := m.broadcast.Close(); err != nil {
			logger.Sugar.Warnf("closing broadcaster: %v", err)
		}
		m.users.Clear()
		m.changes.Clear()
		m.versions.Clear()
		m.conflicts.Clear()
	})
}

// FormatLatency renders a latency in milliseconds for display.
func FormatLatency(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.0fms", ms)
	}
	return fmt.Sprintf("%.1fs", ms/1000)
}
