// Package content holds the only string mutation logic of the collaboration
// core. Positions and lengths count runes.
package content

import (
	"strings"
	"unicode/utf8"

	"naskahcollab/internal/collab/model"
)

// Apply returns doc with change folded in. Format changes and unknown types
// leave the content untouched. Out-of-range positions are clamped to the
// document bounds, so an insert past the end appends.
func Apply(doc string, change model.Change) string {
	switch change.Type {
	case model.ChangeInsert:
		return splice(doc, change.Position, 0, change.Content)
	case model.ChangeDelete:
		return splice(doc, change.Position, change.Length, "")
	case model.ChangeReplace:
		return splice(doc, change.Position, change.Length, change.Content)
	default:
		return doc
	}
}

// Fold applies changes to doc in the given order.
func Fold(doc string, changes []model.Change) string {
	for _, c := range changes {
		doc = Apply(doc, c)
	}
	return doc
}

// Len is the rune length used for change positions.
func Len(doc string) int {
	return utf8.RuneCountInString(doc)
}

func splice(doc string, pos, n int, insert string) string {
	r := []rune(doc)
	if n < 0 {
		n = 0
	}
	start := clamp(pos, 0, len(r))
	end := len(r)
	if pos <= 0 || n <= len(r)-pos {
		end = clamp(pos+n, start, len(r))
	}

	var b strings.Builder
	b.Grow(len(doc) + len(insert))
	b.WriteString(string(r[:start]))
	b.WriteString(insert)
	b.WriteString(string(r[end:]))
	return b.String()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
