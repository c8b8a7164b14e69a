// Package assignment implements AssignmentPolicy: picking the best worker
// for a SubTask given its required skills and the active worker pool.
package assignment

import (
	"errors"

	"github.com/google/uuid"

	"github.com/bazelment/swarmctl/internal/model"
)

// ErrNoAvailableWorkers is returned when the worker pool is empty.
var ErrNoAvailableWorkers = errors.New("assignment: no available workers")

// Policy picks a worker for a set of required skills. Stateless: concurrent
// calls may return the same worker for two different subtasks. Worker-side
// saturation is enforced at the AgentRuntime boundary, not here.
type Policy struct{}

// New returns the default AssignmentPolicy.
func New() Policy {
	return Policy{}
}

// Pick selects the best worker from pool for requiredSkills.
//
// If requiredSkills is empty, any active worker is returned, tie-broken by
// highest Priority then lowest ID. Otherwise each worker is scored by
// |requiredSkills ∩ worker.Skills|; the strictly-highest scorer wins (same
// tie-break). A zero-scoring worker is still returned — required-skill
// matching is advisory, not exclusionary — unless pool is empty, in which
// case ErrNoAvailableWorkers is returned.
//
// This deliberately does not mirror the >-starting-from-zero comparison
// found in some reference schedulers, which would silently refuse to
// return a zero-score worker; here the zero-score worker is explicitly the
// correct answer when it is the best available.
func (Policy) Pick(requiredSkills []string, pool []model.WorkerView) (model.WorkerView, error) {
	if len(pool) == 0 {
		return model.WorkerView{}, ErrNoAvailableWorkers
	}

	if len(requiredSkills) == 0 {
		return bestByTieBreak(pool), nil
	}

	var best model.WorkerView
	bestScore := -1
	haveBest := false

	for _, w := range pool {
		score := intersectionScore(requiredSkills, w.Skills)
		switch {
		case !haveBest:
			best, bestScore, haveBest = w, score, true
		case score > bestScore:
			best, bestScore = w, score
		case score == bestScore && isBetterTieBreak(w, best):
			best = w
		}
	}
	return best, nil
}

func intersectionScore(required []string, skills map[string]bool) int {
	score := 0
	for _, s := range required {
		if skills[s] {
			score++
		}
	}
	return score
}

func bestByTieBreak(pool []model.WorkerView) model.WorkerView {
	best := pool[0]
	for _, w := range pool[1:] {
		if isBetterTieBreak(w, best) {
			best = w
		}
	}
	return best
}

// isBetterTieBreak reports whether candidate outranks current under the
// priority-desc, id-asc tie-break.
func isBetterTieBreak(candidate, current model.WorkerView) bool {
	if candidate.Priority != current.Priority {
		return candidate.Priority > current.Priority
	}
	return idLess(candidate.ID, current.ID)
}

func idLess(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
