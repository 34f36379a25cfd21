package manager

import (
	"naskahcollab/internal/collab/model"
	"naskahcollab/pkg/logger"
)

// handleEvent routes one delivered event. Echoes of local operations only
// refresh user listeners; events from other replicas are folded into the
// local copy of the session first.
func (m *Manager) handleEvent(e model.Event) {
	local := e.Origin == m.origin
	s, ok := m.registry.Get(e.DocumentID)
	if !ok {
		return
	}
	cur, _ := m.active()
	isCurrent := cur == s

	switch e.Type {
	case model.EventUserJoin:
		if !local {
			var u model.User
			if err := e.Decode(&u); err != nil {
				logger.Sugar.Warnf("ignoring %s from %s: %v", e.Type, e.Origin, err)
				return
			}
			s.RemoteJoin(u, e.Timestamp)
		}
		if isCurrent {
			m.users.Notify(s.Users())
		}

	case model.EventUserLeave:
		if !local {
			s.RemoteLeave(e.UserID, e.Timestamp)
		}
		if isCurrent {
			m.users.Notify(s.Users())
		}

	case model.EventCursorMove:
		if !local {
			var p model.CursorPayload
			if err := e.Decode(&p); err != nil {
				logger.Sugar.Warnf("ignoring %s from %s: %v", e.Type, e.Origin, err)
				return
			}
			s.RemoteCursor(e.UserID, model.Cursor{Position: p.Position, Selection: p.Selection}, e.Timestamp)
		}
		if isCurrent {
			m.users.Notify(s.Users())
		}

	case model.EventContentChange:
		if local {
			return
		}
		var c model.Change
		if err := e.Decode(&c); err != nil {
			logger.Sugar.Warnf("ignoring %s from %s: %v", e.Type, e.Origin, err)
			return
		}
		v, applied := s.ApplyRemote(c)
		if applied {
			logger.Sugar.Debugf("Applied remote change %s to document %s", c.ID, e.DocumentID)
		}
		if isCurrent {
			m.changes.Notify(c)
			if applied {
				m.versions.Notify(v)
			}
		}

	case model.EventVersionCreate:
		if local {
			return
		}
		var p model.VersionPayload
		if err := e.Decode(&p); err != nil {
			logger.Sugar.Warnf("ignoring %s from %s: %v", e.Type, e.Origin, err)
			return
		}
		if !isCurrent {
			if p.Snapshot {
				s.ImportSnapshot(p.Version, p.Description)
			}
			return
		}
		// a version already in the chain means the registry is shared with
		// the sender; otherwise edits were replayed from content-change and
		// only snapshots need importing
		if _, known := s.Version(p.Version.ID); known {
			m.versions.Notify(p.Version)
			return
		}
		if !p.Snapshot {
			return
		}
		if v, imported := s.ImportSnapshot(p.Version, p.Description); imported {
			m.versions.Notify(v)
		}

	case model.EventConflictDetected:
		if local || !isCurrent {
			return
		}
		var r model.ConflictResolution
		if err := e.Decode(&r); err != nil {
			logger.Sugar.Warnf("ignoring %s from %s: %v", e.Type, e.Origin, err)
			return
		}
		m.conflicts.Notify(r)

	default:
		logger.Sugar.Debugf("ignoring unknown event type %q", e.Type)
	}
}
