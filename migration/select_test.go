package migration

import (
	"testing"

	"github.com/docschema/docschema"
	"github.com/stretchr/testify/assert"
)

func candidates(versions ...int) []docschema.DocumentMigration {
	var ms []docschema.DocumentMigration
	for _, v := range versions {
		ms = append(ms, docschema.NewDocumentMigration("user", v, docschema.OnAccess, nil, nil))
	}
	return ms
}

func TestSelectMigrations(t *testing.T) {
	tests := []struct {
		name      string
		stored    int
		target    int
		direction Direction
		expected  []int
	}{
		{name: "at target", stored: 2, target: 2, expected: []int{}},
		{name: "up from zero", stored: 0, target: 3, direction: Up, expected: []int{1, 2, 3}},
		{name: "up partial", stored: 1, target: 2, direction: Up, expected: []int{2}},
		{name: "down", stored: 3, target: 1, direction: Down, expected: []int{3, 2}},
		{name: "down to zero", stored: 3, target: 0, direction: Down, expected: []int{3, 2, 1}},
		{name: "beyond registered", stored: 3, target: Latest, direction: Up, expected: []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := SelectMigrations(tt.stored, tt.target, candidates(3, 1, 2))
			assert.Equal(t, tt.expected, plan.Versions())
			if !plan.Empty() {
				assert.Equal(t, tt.direction, plan.Direction)
			}
		})
	}
}

func TestSelectMigrations_DownIsReverseOfUp(t *testing.T) {
	cs := candidates(1, 2, 3, 5, 8)
	for from := 0; from <= 9; from++ {
		for to := 0; to < from; to++ {
			down := SelectMigrations(from, to, cs).Versions()
			up := SelectMigrations(to, from, cs).Versions()

			reversed := make([]int, len(up))
			for i, v := range up {
				reversed[len(up)-1-i] = v
			}
			assert.Equal(t, reversed, down, "from %d to %d", from, to)
		}
	}
}
