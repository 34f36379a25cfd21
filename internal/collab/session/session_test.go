package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"naskahcollab/internal/collab/model"
	"naskahcollab/pkg/checksum"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) New() string { return fmt.Sprintf("id-%d", s.n.Add(1)) }

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	r := NewRegistry(WithIDGenerator(&seqIDs{}))
	s, created := r.GetOrCreate("doc-1", "alice", t0)
	require.True(t, created)
	return s
}

func insert(id, user string, pos, length int, text string, at time.Time) model.Change {
	return model.Change{ID: id, UserID: user, Timestamp: at, Type: model.ChangeInsert, Position: pos, Length: length, Content: text}
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry()
	s1, created := r.GetOrCreate("doc-1", "alice", t0)
	require.True(t, created)
	s2, created := r.GetOrCreate("doc-1", "bob", t0)
	assert.False(t, created)
	assert.Same(t, s1, s2)

	head := s1.Current()
	assert.Empty(t, head.Content)
	assert.Equal(t, checksum.Sum(""), head.Checksum)
	assert.Equal(t, "alice", head.UserID)
	assert.Empty(t, s1.Versions(), "the root is not part of the history list")

	_, ok := r.Get("doc-2")
	assert.False(t, ok)
	assert.Equal(t, []string{"doc-1"}, r.DocumentIDs())
}

func TestSession_JoinLeave(t *testing.T) {
	s := newTestSession(t)
	s.Join(model.User{ID: "alice"}, t0)
	s.Join(model.User{ID: "bob"}, t0)

	removed, empty := s.Leave("alice")
	assert.True(t, removed)
	assert.False(t, empty)
	assert.True(t, s.IsActive())

	removed, empty = s.Leave("alice")
	assert.False(t, removed, "leaving twice is a no-op")
	assert.False(t, empty)

	_, empty = s.Leave("bob")
	assert.True(t, empty)
	assert.False(t, s.IsActive())

	s.Join(model.User{ID: "carol"}, t0.Add(time.Minute))
	assert.True(t, s.IsActive(), "rejoining reactivates the session")
}

func TestSession_ApplyScenario(t *testing.T) {
	s := newTestSession(t)

	a := s.Apply(insert("a", "alice", 0, 5, "Hello", t0), "alice")
	assert.Nil(t, a.Conflict)
	assert.Equal(t, "Hello", a.Version.Content)
	assert.Equal(t, checksum.Sum("Hello"), a.Version.Checksum)

	b := s.Apply(insert("b", "bob", 5, 6, " World", t0.Add(time.Second)), "bob")
	assert.Nil(t, b.Conflict, "touching ranges do not conflict")
	assert.Equal(t, "Hello World", b.Version.Content)

	c := s.Apply(model.Change{ID: "c", UserID: "carol", Timestamp: t0.Add(2 * time.Second), Type: model.ChangeReplace, Position: 0, Length: 5, Content: "Hi"}, "carol")
	require.NotNil(t, c.Conflict)
	assert.Equal(t, model.ResolutionMerge, c.Conflict.Resolution)
	require.Len(t, c.Conflict.Changes, 2)
	assert.Equal(t, "a", c.Conflict.Changes[0].ID)
	assert.Equal(t, "c", c.Conflict.Changes[1].ID)
	// The merge replays a and c over the pre-change head, so a's insert lands twice.
	assert.Equal(t, "HiHello World", c.Conflict.FinalContent)
	// The head itself only folds c.
	assert.Equal(t, "Hi World", c.Version.Content)

	assert.Len(t, s.Changes(), 3)
	assert.Len(t, s.Versions(), 3)
	require.NoError(t, s.Verify())
}

func TestSession_ConflictWindowExpires(t *testing.T) {
	s := newTestSession(t)
	s.Apply(insert("a", "alice", 0, 5, "Hello", t0), "alice")
	res := s.Apply(model.Change{ID: "c", UserID: "carol", Timestamp: t0.Add(6 * time.Second), Type: model.ChangeDelete, Position: 0, Length: 2}, "carol")
	assert.Nil(t, res.Conflict)
	assert.Equal(t, "llo", res.Version.Content)
}

func TestSession_ParentIsPreviousHead(t *testing.T) {
	s := newTestSession(t)
	prev := s.Current().ID
	for i := 0; i < 5; i++ {
		res := s.Apply(insert(fmt.Sprintf("c%d", i), "alice", i, 1, "x", t0.Add(time.Duration(i)*time.Second)), "alice")
		assert.Equal(t, prev, res.Version.ParentVersion)
		prev = res.Version.ID
	}
	v := s.CreateVersion("manual", "checkpoint", "alice", t0.Add(time.Minute))
	assert.Equal(t, prev, v.ParentVersion)
	require.NoError(t, s.Verify())
}

func TestSession_CreateVersionClearsBuffer(t *testing.T) {
	s := newTestSession(t)
	s.Apply(insert("a", "alice", 0, 5, "Hello", t0), "alice")
	s.Apply(insert("b", "bob", 5, 6, " World", t0.Add(time.Second)), "bob")

	v := s.CreateVersion("Hello World", "first draft", "alice", t0.Add(2*time.Second))
	assert.Len(t, v.Changes, 2)
	assert.Equal(t, "first draft", v.Description)
	assert.Equal(t, checksum.Sum("Hello World"), v.Checksum)
	assert.Empty(t, s.Changes())

	// A change that would have conflicted with "a" no longer does.
	res := s.Apply(model.Change{ID: "c", UserID: "carol", Timestamp: t0.Add(3 * time.Second), Type: model.ChangeReplace, Position: 0, Length: 5, Content: "Hi"}, "carol")
	assert.Nil(t, res.Conflict)
}

func TestSession_Rollback(t *testing.T) {
	s := newTestSession(t)
	first := s.Apply(insert("a", "alice", 0, 5, "Hello", t0), "alice").Version
	s.Apply(insert("b", "bob", 5, 6, " World", t0.Add(time.Second)), "bob")
	headBefore := s.Current()

	change, v, err := s.Rollback(first.ID, "alice", t0.Add(2*time.Second))
	require.NoError(t, err)

	assert.Equal(t, "Hello", v.Content)
	assert.Equal(t, first.Checksum, v.Checksum)
	assert.Equal(t, headBefore.ID, v.ParentVersion, "rollback moves forward from the current head")
	assert.Equal(t, model.ChangeReplace, change.Type)
	assert.Equal(t, 0, change.Position)
	assert.Equal(t, 11, change.Length)
	assert.Equal(t, "Hello World", change.OldContent)
	assert.Equal(t, model.SourceSystem, change.Metadata.Source)
	assert.Empty(t, s.Changes())
	assert.Len(t, s.Versions(), 3)
	require.NoError(t, s.Verify())
}

func TestSession_RollbackUnknownVersion(t *testing.T) {
	s := newTestSession(t)
	_, _, err := s.Rollback("nope", "alice", t0)
	assert.ErrorIs(t, err, model.ErrVersionNotFound)

	_, _, err = s.Rollback(s.Current().ID, "alice", t0)
	assert.ErrorIs(t, err, model.ErrVersionNotFound, "the root is not a rollback target")
}

func TestSession_ApplyRemoteIsIdempotent(t *testing.T) {
	s := newTestSession(t)
	c := insert("remote-1", "bob", 0, 3, "abc", t0)

	v, ok := s.ApplyRemote(c)
	require.True(t, ok)
	assert.Equal(t, "abc", v.Content)
	assert.Equal(t, "bob", v.UserID)

	_, ok = s.ApplyRemote(c)
	assert.False(t, ok)
	assert.Equal(t, "abc", s.Current().Content)
}

func TestSession_ApplyRemoteRollbackClearsBuffer(t *testing.T) {
	sender := newTestSession(t)
	replica := newTestSession(t)

	first := sender.Apply(insert("a", "alice", 0, 5, "Hello", t0), "alice")
	second := sender.Apply(insert("b", "alice", 5, 6, " World", t0.Add(time.Second)), "alice")
	for _, c := range []model.Change{first.Change, second.Change} {
		_, ok := replica.ApplyRemote(c)
		require.True(t, ok)
	}
	require.Len(t, replica.Changes(), 2)

	rollback, _, err := sender.Rollback(first.Version.ID, "alice", t0.Add(2*time.Second))
	require.NoError(t, err)
	require.True(t, rollback.IsRollback())

	v, ok := replica.ApplyRemote(rollback)
	require.True(t, ok)
	assert.Equal(t, "Hello", v.Content)
	assert.Empty(t, replica.Changes())
	assert.Equal(t, sender.Changes(), replica.Changes())

	// a later edit over the rolled back range conflicts on neither side
	edit := insert("c", "bob", 2, 3, "xyz", t0.Add(3*time.Second))
	assert.Nil(t, sender.Apply(edit, "bob").Conflict)
	assert.Nil(t, replica.Apply(edit, "bob").Conflict)
}

func TestSession_SnapshotIsDetached(t *testing.T) {
	s := newTestSession(t)
	s.Join(model.User{ID: "alice"}, t0)
	s.MoveCursor("alice", model.Cursor{Position: 1, Selection: &model.Selection{Start: 0, End: 1}}, t0)

	snap := s.Snapshot()
	u := snap.Users["alice"]
	u.Cursor.Selection.End = 42

	assert.Equal(t, 1, s.Snapshot().Users["alice"].Cursor.Selection.End)
}

func TestSession_ConcurrentApplyKeepsChainConsistent(t *testing.T) {
	s := newTestSession(t)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				s.Apply(insert(fmt.Sprintf("w%d-%d", w, i), fmt.Sprintf("user-%d", w), 0, 1, "x", time.Now()), fmt.Sprintf("user-%d", w))
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, s.Versions(), 200)
	assert.Equal(t, 200, len([]rune(s.Current().Content)))
	require.NoError(t, s.Verify())
}

func TestSession_RemotePresenceIgnoresOutOfOrderEvents(t *testing.T) {
	s := newTestSession(t)

	_, ok := s.RemoteJoin(model.User{ID: "bob", Name: "Bob"}, t0.Add(time.Second))
	require.True(t, ok)
	require.True(t, s.RemoteLeave("bob", t0.Add(3*time.Second)))

	// the join was delayed in transit and arrives after the leave
	_, ok = s.RemoteJoin(model.User{ID: "bob", Name: "Bob"}, t0.Add(2*time.Second))
	assert.False(t, ok)
	assert.Empty(t, s.Users())
	assert.False(t, s.IsActive())
}

func TestSession_RemoteEchoOfLocalJoinIsIgnored(t *testing.T) {
	s := newTestSession(t)
	s.Join(model.User{ID: "alice"}, t0)

	_, ok := s.RemoteJoin(model.User{ID: "alice", Name: "stale"}, t0)
	assert.False(t, ok)
	assert.Empty(t, s.Users()[0].Name)

	assert.False(t, s.RemoteCursor("alice", model.Cursor{Position: 3}, t0))
	assert.True(t, s.RemoteCursor("alice", model.Cursor{Position: 3}, t0.Add(time.Millisecond)))
	assert.Equal(t, 3, s.Users()[0].Cursor.Position)
}

func TestSession_ImportSnapshot(t *testing.T) {
	s := newTestSession(t)
	local := s.CreateVersion("local", "", "alice", t0.Add(time.Second))

	_, ok := s.ImportSnapshot(local, "")
	assert.False(t, ok, "versions already in the chain are not imported")

	remote := model.Version{ID: "remote-1", Content: "from afar", UserID: "bob", Timestamp: t0.Add(2 * time.Second)}
	v, ok := s.ImportSnapshot(remote, "peer snapshot")
	require.True(t, ok)
	assert.Equal(t, "from afar", v.Content)
	assert.Equal(t, local.ID, v.ParentVersion)
	assert.Equal(t, "peer snapshot", v.Description)

	_, ok = s.ImportSnapshot(remote, "peer snapshot")
	assert.False(t, ok)
	require.NoError(t, s.Verify())
}
