// Package version keeps the append-only, parent-linked history of a document.
package version

import (
	"errors"
	"fmt"
	"time"

	"naskahcollab/internal/collab/model"
	"naskahcollab/pkg/checksum"
)

var ErrBrokenChain = errors.New("version chain is inconsistent")

// Chain is not safe for concurrent use; the owning session serializes access.
type Chain struct {
	root     model.Version
	current  model.Version
	versions []model.Version
}

// NewChain starts a history at root. The root is the initial head but is not
// part of Versions, so it cannot be a rollback target.
func NewChain(root model.Version) *Chain {
	return &Chain{root: root, current: root}
}

// Root creates the origin version of an empty or seeded document.
func Root(id, content, userID string, at time.Time) model.Version {
	return model.Version{
		ID:        id,
		Content:   content,
		Timestamp: at,
		UserID:    userID,
		Changes:   []model.Change{},
		Checksum:  checksum.Sum(content),
	}
}

func (c *Chain) Current() model.Version {
	return c.current
}

func (c *Chain) Versions() []model.Version {
	out := make([]model.Version, len(c.versions))
	copy(out, c.versions)
	return out
}

func (c *Chain) Len() int {
	return len(c.versions)
}

// Next appends a version holding content, parented on the current head, and
// makes it the head. Timestamps are forced to be strictly increasing.
func (c *Chain) Next(id, content, userID string, changes []model.Change, at time.Time, description string) model.Version {
	if !at.After(c.current.Timestamp) {
		at = c.current.Timestamp.Add(time.Nanosecond)
	}
	v := model.Version{
		ID:            id,
		Content:       content,
		Timestamp:     at,
		UserID:        userID,
		Changes:       changes,
		Checksum:      checksum.Sum(content),
		ParentVersion: c.current.ID,
		Description:   description,
	}
	c.versions = append(c.versions, v)
	c.current = v
	return v
}

// Find looks a version up among the appended versions.
func (c *Chain) Find(id string) (model.Version, bool) {
	for _, v := range c.versions {
		if v.ID == id {
			return v, true
		}
	}
	return model.Version{}, false
}

// Verify checks every checksum, that each version's parent is the version
// before it (the root for the first), and that timestamps strictly increase.
func (c *Chain) Verify() error {
	prev := c.root
	if !checksum.Verify(prev.Content, prev.Checksum) {
		return fmt.Errorf("%w: root %s checksum mismatch", ErrBrokenChain, prev.ID)
	}
	for _, v := range c.versions {
		if v.ParentVersion != prev.ID {
			return fmt.Errorf("%w: %s has parent %q, want %q", ErrBrokenChain, v.ID, v.ParentVersion, prev.ID)
		}
		if !v.Timestamp.After(prev.Timestamp) {
			return fmt.Errorf("%w: %s is not newer than %s", ErrBrokenChain, v.ID, prev.ID)
		}
		if !checksum.Verify(v.Content, v.Checksum) {
			return fmt.Errorf("%w: %s checksum mismatch", ErrBrokenChain, v.ID)
		}
		prev = v
	}
	return nil
}
