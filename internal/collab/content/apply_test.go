package content

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"naskahcollab/internal/collab/model"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		change model.Change
		want   string
	}{
		{"insert into empty", "", model.Change{Type: model.ChangeInsert, Position: 0, Content: "Hello"}, "Hello"},
		{"insert at end", "Hello", model.Change{Type: model.ChangeInsert, Position: 5, Content: " World"}, "Hello World"},
		{"insert in middle", "Hllo", model.Change{Type: model.ChangeInsert, Position: 1, Content: "e"}, "Hello"},
		{"insert past end appends", "abc", model.Change{Type: model.ChangeInsert, Position: 10, Content: "!"}, "abc!"},
		{"delete range", "Hello World", model.Change{Type: model.ChangeDelete, Position: 5, Length: 6}, "Hello"},
		{"delete without length is noop", "Hello", model.Change{Type: model.ChangeDelete, Position: 2}, "Hello"},
		{"delete past end truncates", "Hello", model.Change{Type: model.ChangeDelete, Position: 3, Length: 100}, "Hel"},
		{"delete huge length truncates", "Hello", model.Change{Type: model.ChangeDelete, Position: 1, Length: math.MaxInt}, "H"},
		{"replace huge length from middle", "Hello", model.Change{Type: model.ChangeReplace, Position: 3, Length: math.MaxInt, Content: "p!"}, "Help!"},
		{"replace prefix", "Hello World", model.Change{Type: model.ChangeReplace, Position: 0, Length: 5, Content: "Hi"}, "Hi World"},
		{"replace whole document", "old", model.Change{Type: model.ChangeReplace, Position: 0, Length: 3, Content: "new text"}, "new text"},
		{"format leaves content", "Hello", model.Change{Type: model.ChangeFormat, Position: 0, Length: 5}, "Hello"},
		{"unknown type leaves content", "Hello", model.Change{Type: "bold", Position: 0, Length: 5}, "Hello"},
		{"negative position clamps", "abc", model.Change{Type: model.ChangeInsert, Position: -4, Content: "x"}, "xabc"},
		{"runes not bytes", "héllo", model.Change{Type: model.ChangeDelete, Position: 1, Length: 1}, "hllo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Apply(tt.doc, tt.change))
		})
	}
}

func TestFold(t *testing.T) {
	changes := []model.Change{
		{Type: model.ChangeInsert, Position: 0, Content: "Hello"},
		{Type: model.ChangeInsert, Position: 5, Content: " World"},
		{Type: model.ChangeReplace, Position: 0, Length: 5, Content: "Hi"},
	}
	assert.Equal(t, "Hi World", Fold("", changes))
}

func TestLen(t *testing.T) {
	assert.Equal(t, 0, Len(""))
	assert.Equal(t, 5, Len("héllo"))
}
