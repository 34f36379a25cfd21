// Package presence maintains who is in a session and where their cursor is.
// Records are replaced, never mutated in place, so snapshots handed to
// listeners stay stable.
package presence

import (
	"context"
	"time"

	"naskahcollab/internal/collab/model"
)

const (
	DefaultInactiveThreshold = 5 * time.Minute
	DefaultHeartbeatInterval = 30 * time.Second
)

type Tracker struct {
	InactiveThreshold time.Duration
}

func NewTracker(threshold time.Duration) Tracker {
	if threshold <= 0 {
		threshold = DefaultInactiveThreshold
	}
	return Tracker{InactiveThreshold: threshold}
}

// Join stores u as online and active at now, replacing any previous entry.
func (t Tracker) Join(users map[string]model.User, u model.User, now time.Time) model.User {
	u = u.Clone()
	u.IsOnline = true
	u.LastActivity = now
	users[u.ID] = u
	return u.Clone()
}

// MoveCursor records a new cursor for userID. It reports false if the user is unknown.
func (t Tracker) MoveCursor(users map[string]model.User, userID string, cursor model.Cursor, now time.Time) (model.User, bool) {
	u, ok := users[userID]
	if !ok {
		return model.User{}, false
	}
	u = u.Clone()
	c := cursor
	if c.Selection != nil {
		sel := *c.Selection
		c.Selection = &sel
	}
	u.Cursor = &c
	u.LastActivity = now
	users[userID] = u
	return u.Clone(), true
}

// Touch marks userID online and active at now.
func (t Tracker) Touch(users map[string]model.User, userID string, now time.Time) (model.User, bool) {
	u, ok := users[userID]
	if !ok {
		return model.User{}, false
	}
	u = u.Clone()
	u.IsOnline = true
	u.LastActivity = now
	users[userID] = u
	return u.Clone(), true
}

// CheckActivity flags every user idle for longer than the threshold as
// offline and returns their ids. Nobody is removed.
func (t Tracker) CheckActivity(users map[string]model.User, now time.Time) []string {
	var stale []string
	for id, u := range users {
		if now.Sub(u.LastActivity) > t.InactiveThreshold && u.IsOnline {
			u = u.Clone()
			u.IsOnline = false
			users[id] = u
			stale = append(stale, id)
		}
	}
	return stale
}

// RunHeartbeat calls tick every interval until ctx is done.
func RunHeartbeat(ctx context.Context, interval time.Duration, tick func()) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}
