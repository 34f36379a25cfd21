package conflict

import (
	"time"

	"naskahcollab/internal/collab/model"
)

// DefaultWindow is how far back a new change looks for competing edits.
const DefaultWindow = 5 * time.Second

// Detector finds recent changes by other users whose ranges overlap a new change.
type Detector struct {
	Window time.Duration
}

func NewDetector(window time.Duration) Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	return Detector{Window: window}
}

// Detect scans recent for changes made strictly less than Window before now,
// by a user other than change.UserID, whose range overlaps change. Matches are
// returned in buffer order.
func (d Detector) Detect(recent []model.Change, change model.Change, now time.Time) []model.Change {
	var matches []model.Change
	for _, c := range recent {
		if now.Sub(c.Timestamp) >= d.Window {
			continue
		}
		if c.UserID == change.UserID {
			continue
		}
		if Overlaps(c, change) {
			matches = append(matches, c)
		}
	}
	return matches
}

// Overlaps reports whether the half-open ranges [Position, Position+Length)
// of a and b intersect. Ranges that only touch at an endpoint do not overlap,
// and a zero-length change overlaps only a range that strictly contains its position.
func Overlaps(a, b model.Change) bool {
	return !(a.End() <= b.Position || b.End() <= a.Position)
}
