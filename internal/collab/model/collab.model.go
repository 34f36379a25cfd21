package model

import (
	"errors"
	"math"
	"sort"
	"time"
)

var (
	ErrNoActiveSession = errors.New("no active collaboration session")
	ErrVersionNotFound = errors.New("version not found")
	ErrInvalidInput    = errors.New("invalid input")
)

type ChangeType string

const (
	ChangeInsert  ChangeType = "insert"
	ChangeDelete  ChangeType = "delete"
	ChangeFormat  ChangeType = "format"
	ChangeReplace ChangeType = "replace"
)

type ChangeSource string

const (
	SourceUser   ChangeSource = "user"
	SourceAI     ChangeSource = "ai"
	SourceSystem ChangeSource = "system"
)

// SystemUserID authors changes that have no joined user, such as a rollback
// issued after the local user left.
const SystemUserID = "system"

type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Cursor struct {
	Position  int        `json:"position"`
	Selection *Selection `json:"selection,omitempty"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Avatar       string    `json:"avatar,omitempty"`
	Color        string    `json:"color"`
	Cursor       *Cursor   `json:"cursor,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
	IsOnline     bool      `json:"isOnline"`
}

// Clone returns a copy that shares no pointers with u.
func (u User) Clone() User {
	if u.Cursor != nil {
		c := *u.Cursor
		if c.Selection != nil {
			sel := *c.Selection
			c.Selection = &sel
		}
		u.Cursor = &c
	}
	return u
}

type ChangeMetadata struct {
	Formatting map[string]any `json:"formatting,omitempty"`
	Source     ChangeSource   `json:"source,omitempty"`
}

// Change is one atomic edit. It is never mutated once stamped.
type Change struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	Timestamp  time.Time       `json:"timestamp"`
	Type       ChangeType      `json:"type"`
	Position   int             `json:"position"`
	Length     int             `json:"length,omitempty"`
	Content    string          `json:"content,omitempty"`
	OldContent string          `json:"oldContent,omitempty"`
	Metadata   *ChangeMetadata `json:"metadata,omitempty"`
}

// End is the exclusive end of the range the change touches. Negative lengths
// count as zero and the sum saturates at math.MaxInt.
func (c Change) End() int {
	n := max(c.Length, 0)
	if c.Position > 0 && n > math.MaxInt-c.Position {
		return math.MaxInt
	}
	return c.Position + n
}

// IsRollback reports whether c restores an earlier version: a system
// replace of the whole document.
func (c Change) IsRollback() bool {
	return c.Type == ChangeReplace && c.Position == 0 &&
		c.Metadata != nil && c.Metadata.Source == SourceSystem
}

// ChangeDraft is a change before it is given an id and timestamp.
type ChangeDraft struct {
	UserID     string          `json:"userId"`
	Type       ChangeType      `json:"type"`
	Position   int             `json:"position"`
	Length     int             `json:"length,omitempty"`
	Content    string          `json:"content,omitempty"`
	OldContent string          `json:"oldContent,omitempty"`
	Metadata   *ChangeMetadata `json:"metadata,omitempty"`
}

// Stamp turns the draft into a Change.
func (d ChangeDraft) Stamp(id string, at time.Time) Change {
	return Change{
		ID:         id,
		UserID:     d.UserID,
		Timestamp:  at,
		Type:       d.Type,
		Position:   d.Position,
		Length:     d.Length,
		Content:    d.Content,
		OldContent: d.OldContent,
		Metadata:   d.Metadata,
	}
}

type Version struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	UserID        string    `json:"userId"`
	Changes       []Change  `json:"changes"`
	Checksum      string    `json:"checksum"`
	ParentVersion string    `json:"parentVersion,omitempty"`
	Description   string    `json:"description,omitempty"`
}

type ResolutionStrategy string

// Only ResolutionMerge is produced today; override and manual are accepted on
// the wire but no code path emits them.
const (
	ResolutionMerge    ResolutionStrategy = "merge"
	ResolutionOverride ResolutionStrategy = "override"
	ResolutionManual   ResolutionStrategy = "manual"
)

type ConflictResolution struct {
	ConflictID   string             `json:"conflictId"`
	Changes      []Change           `json:"changes"`
	Resolution   ResolutionStrategy `json:"resolution"`
	ResolvedBy   string             `json:"resolvedBy"`
	ResolvedAt   time.Time          `json:"resolvedAt"`
	FinalContent string             `json:"finalContent"`
}

// Session is a point-in-time copy of a collaboration session.
type Session struct {
	ID             string          `json:"id"`
	DocumentID     string          `json:"documentId"`
	Users          map[string]User `json:"users"`
	CurrentVersion Version         `json:"currentVersion"`
	Versions       []Version       `json:"versions"`
	Changes        []Change        `json:"changes"`
	IsActive       bool            `json:"isActive"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastActivity   time.Time       `json:"lastActivity"`
}

// UserList returns the session's users ordered by id.
func (s Session) UserList() []User {
	users := make([]User, 0, len(s.Users))
	for _, u := range s.Users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

type Metrics struct {
	AverageLatency    float64   `json:"averageLatency"` // milliseconds
	MessagesSent      int64     `json:"messagesSent"`
	MessagesReceived  int64     `json:"messagesReceived"`
	ConflictsResolved int64     `json:"conflictsResolved"`
	LastLatencyCheck  time.Time `json:"lastLatencyCheck"`
}

type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateReconnecting ConnectionState = "reconnecting"
)
