package state

import "github.com/j-veylop/antigravity-quota-hub/internal/models"

// ChangeKind tags one diff operation.
type ChangeKind int

const (
	// ChangeAdded means the account appeared in the current snapshot.
	ChangeAdded ChangeKind = iota
	// ChangeUpdated means the account exists in both snapshots with
	// differing fields.
	ChangeUpdated
	// ChangeRemoved means the account disappeared from the current snapshot.
	ChangeRemoved
)

// String returns the change kind name.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeUpdated:
		return "updated"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one diff operation. State is nil for removals; for updates
// it carries the full new state rather than a minimal field patch,
// matching what subscribers expect on the wire.
type Change struct {
	State *models.AccountState
	Email string
	Kind  ChangeKind
}

// Diff compares two state snapshots keyed by email (accounts may
// reorder between registry loads) and returns the operations that turn
// previous into current. Equality is full value equality including the
// nested rate-limit infos; an unchanged account emits nothing.
//
// Order guarantee: adds and updates follow the current snapshot order,
// so an account's add always precedes any later update about it within
// one pass. No cross-account ordering is promised.
func Diff(previous, current []models.AccountState) []Change {
	prevByEmail := make(map[string]*models.AccountState, len(previous))
	for i := range previous {
		prevByEmail[previous[i].Email] = &previous[i]
	}
	currByEmail := make(map[string]struct{}, len(current))

	var changes []Change

	for i := range current {
		curr := &current[i]
		currByEmail[curr.Email] = struct{}{}

		prev, ok := prevByEmail[curr.Email]
		if !ok {
			st := curr.Clone()
			changes = append(changes, Change{Kind: ChangeAdded, Email: curr.Email, State: &st})
			continue
		}
		if !prev.Equal(curr) {
			st := curr.Clone()
			changes = append(changes, Change{Kind: ChangeUpdated, Email: curr.Email, State: &st})
		}
	}

	for i := range previous {
		if _, ok := currByEmail[previous[i].Email]; !ok {
			changes = append(changes, Change{Kind: ChangeRemoved, Email: previous[i].Email})
		}
	}

	return changes
}

// Apply replays a diff onto a snapshot, returning the resulting state
// list. Used by tests to check the round-trip law and by consumers that
// mirror state from the event stream.
func Apply(states []models.AccountState, changes []Change) []models.AccountState {
	byEmail := make(map[string]models.AccountState, len(states))
	order := make([]string, 0, len(states)+len(changes))
	for i := range states {
		byEmail[states[i].Email] = states[i].Clone()
		order = append(order, states[i].Email)
	}

	for _, ch := range changes {
		switch ch.Kind {
		case ChangeAdded:
			if _, ok := byEmail[ch.Email]; !ok {
				order = append(order, ch.Email)
			}
			byEmail[ch.Email] = ch.State.Clone()
		case ChangeUpdated:
			byEmail[ch.Email] = ch.State.Clone()
		case ChangeRemoved:
			delete(byEmail, ch.Email)
		}
	}

	out := make([]models.AccountState, 0, len(byEmail))
	for _, email := range order {
		if st, ok := byEmail[email]; ok {
			out = append(out, st)
		}
	}
	return out
}
