package workflow

import (
	"fmt"

	"github.com/syllaflow/syllaflow/pkg/model"
)

// transitions is the full legal transition table. Anything absent is an
// illegal transition; the machine never silently no-ops. REJECTED is
// terminal: a rejected document re-enters the flow as a new version with a
// new workflow, not by reviving this one.
var transitions = map[model.WorkflowState]map[model.WorkflowEvent]model.WorkflowState{
	model.StateDraft: {
		model.EventSubmit: model.StateReview,
	},
	model.StateReview: {
		model.EventApprove:     model.StateApproved,
		model.EventReject:      model.StateRejected,
		model.EventRequireEdit: model.StateDraft,
	},
}

// Next is the pure decision function of the state machine: it holds no I/O
// and no mutable state, so it is safe to call from any number of goroutines.
// Serialization of concurrent transitions on one workflow is the store's job.
func Next(state model.WorkflowState, event model.WorkflowEvent) (model.WorkflowState, error) {
	to, ok := transitions[state][event]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrIllegalTransition, event, state)
	}
	return to, nil
}

// IsTerminal reports whether no event can move the workflow out of state.
func IsTerminal(state model.WorkflowState) bool {
	return len(transitions[state]) == 0
}

// Replay folds history rows over the initial state and returns the resulting
// state. It fails if any row does not describe a legal transition or does not
// chain onto the previous row's target.
func Replay(history []model.WorkflowHistory) (model.WorkflowState, error) {
	state := model.StateDraft
	for _, row := range history {
		if row.FromState != state {
			return "", fmt.Errorf("history row %s: from state %s does not match replayed state %s",
				row.ID, row.FromState, state)
		}
		next, err := Next(state, row.Event)
		if err != nil {
			return "", err
		}
		if next != row.ToState {
			return "", fmt.Errorf("history row %s: recorded to state %s, table says %s",
				row.ID, row.ToState, next)
		}
		state = next
	}
	return state, nil
}
