package conflict

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"naskahcollab/internal/collab/model"
)

type seqIDs struct{ n int }

func (s *seqIDs) New() string {
	s.n++
	return "conflict-" + string(rune('0'+s.n))
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func change(user string, pos, length int, at time.Time) model.Change {
	return model.Change{
		ID:        user + "-change",
		UserID:    user,
		Timestamp: at,
		Type:      model.ChangeReplace,
		Position:  pos,
		Length:    length,
		Content:   user,
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b model.Change
		want bool
	}{
		{"partial overlap", change("u1", 10, 10, t0), change("u2", 15, 10, t0), true},
		{"contained", change("u1", 0, 20, t0), change("u2", 5, 2, t0), true},
		{"touching endpoints", change("u1", 10, 10, t0), change("u2", 20, 5, t0), false},
		{"disjoint", change("u1", 10, 10, t0), change("u2", 30, 10, t0), false},
		{"zero length inside range", change("u1", 0, 5, t0), change("u2", 3, 0, t0), true},
		{"zero length at range start", change("u1", 0, 5, t0), change("u2", 0, 0, t0), false},
		{"both zero length", change("u1", 3, 0, t0), change("u2", 3, 0, t0), false},
		{"huge length reaches later range", change("u1", 10, math.MaxInt, t0), change("u2", 50, 5, t0), true},
		{"huge length starts after range", change("u1", 10, math.MaxInt, t0), change("u2", 0, 10, t0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(tt.a, tt.b))
			assert.Equal(t, tt.want, Overlaps(tt.b, tt.a), "overlap must be symmetric")
		})
	}
}

func TestDetector_Symmetry(t *testing.T) {
	d := NewDetector(0)
	a := change("user1", 10, 10, t0)
	b := change("user2", 15, 10, t0.Add(time.Second))
	c := change("user3", 30, 10, t0.Add(2*time.Second))

	matches := d.Detect([]model.Change{a}, b, b.Timestamp)
	require.Len(t, matches, 1)
	assert.Equal(t, a.ID, matches[0].ID)

	assert.Empty(t, d.Detect([]model.Change{a, b}, c, c.Timestamp))
}

func TestDetector_IgnoresSameUser(t *testing.T) {
	d := NewDetector(0)
	a := change("user1", 0, 10, t0)
	b := change("user1", 5, 10, t0.Add(time.Millisecond))
	assert.Empty(t, d.Detect([]model.Change{a}, b, b.Timestamp))
}

func TestDetector_Window(t *testing.T) {
	d := NewDetector(5 * time.Second)
	a := change("user1", 0, 10, t0)
	b := change("user2", 5, 10, t0)

	assert.Len(t, d.Detect([]model.Change{a}, b, t0.Add(4999*time.Millisecond)), 1)
	assert.Empty(t, d.Detect([]model.Change{a}, b, t0.Add(5*time.Second)), "window is exclusive")
}

func TestResolver_FoldsInTimestampOrder(t *testing.T) {
	r := NewResolver(&seqIDs{})
	base := "Hello World"

	// Submitted out of order: the later change is in the buffer.
	later := model.Change{ID: "later", UserID: "u1", Timestamp: t0.Add(2 * time.Second), Type: model.ChangeInsert, Position: 0, Length: 5, Content: "B"}
	earlier := model.Change{ID: "earlier", UserID: "u2", Timestamp: t0.Add(time.Second), Type: model.ChangeReplace, Position: 0, Length: 5, Content: "A"}

	res := r.Resolve(base, []model.Change{later}, earlier, "u2", t0.Add(3*time.Second))

	assert.Equal(t, model.ResolutionMerge, res.Resolution)
	assert.Equal(t, "u2", res.ResolvedBy)
	assert.Equal(t, "conflict-1", res.ConflictID)
	assert.Equal(t, "BA World", res.FinalContent)
	require.Len(t, res.Changes, 2)
	assert.Equal(t, "later", res.Changes[0].ID, "change set keeps conflicts first")
	assert.Equal(t, "earlier", res.Changes[1].ID)
}

func TestResolver_EqualTimestampsKeepInputOrder(t *testing.T) {
	r := NewResolver(nil)
	first := model.Change{UserID: "u1", Timestamp: t0, Type: model.ChangeInsert, Position: 0, Content: "1"}
	second := model.Change{UserID: "u2", Timestamp: t0, Type: model.ChangeInsert, Position: 0, Content: "2"}

	res := r.Resolve("", []model.Change{first}, second, "u2", t0)
	assert.Equal(t, "21", res.FinalContent)
}
