// Package migration runs database and document migrations.
package migration

import (
	"math"
	"sort"

	"github.com/docschema/docschema"
)

// Latest is the target version meaning "the highest registered version".
const Latest = math.MaxInt

// Direction is the way a plan moves a version.
type Direction int

const (
	// Up applies migrations in ascending order.
	Up Direction = iota
	// Down reverts migrations in descending order.
	Down
)

func (d Direction) String() string {
	if d == Down {
		return "down"
	}
	return "up"
}

type versioned interface {
	Version() int
}

// selectSteps returns the candidates between from and to. Going up they are
// the versions in (from, to] ascending; going down the versions in (to, from]
// descending.
func selectSteps[M versioned](from, to int, candidates []M) ([]M, Direction) {
	if from == to {
		return nil, Up
	}

	dir := Up
	lo, hi := from, to
	if from > to {
		dir = Down
		lo, hi = to, from
	}

	var steps []M
	for _, m := range candidates {
		if v := m.Version(); v > lo && v <= hi {
			steps = append(steps, m)
		}
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if dir == Down {
			return steps[i].Version() > steps[j].Version()
		}
		return steps[i].Version() < steps[j].Version()
	})
	return steps, dir
}

// Plan is an ordered list of document migrations to apply in one direction.
type Plan struct {
	Direction Direction
	Steps     []docschema.DocumentMigration
}

// Empty reports whether the plan has nothing to apply.
func (p Plan) Empty() bool {
	return len(p.Steps) == 0
}

// Versions returns the versions of the steps in order.
func (p Plan) Versions() []int {
	vs := make([]int, 0, len(p.Steps))
	for _, m := range p.Steps {
		vs = append(vs, m.Version())
	}
	return vs
}

// SelectMigrations returns the migrations that move a document stored at
// version stored to version target.
func SelectMigrations(stored, target int, candidates []docschema.DocumentMigration) Plan {
	steps, dir := selectSteps(stored, target, candidates)
	return Plan{Direction: dir, Steps: steps}
}
