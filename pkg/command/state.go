// Package command implements the command queue and instance lifecycle
// from spec.md §4.2: JSON-parsed command instances routed to handlers
// by (component, trait.command), progressing through a fixed state
// machine to a terminal state.
//
// Grounded on the teacher's pkg/fleet.NodeManager watcher-list shape for
// the queue itself; the state machine and handler-dispatch table have
// no corpus analog and are new code written in the same terse,
// mutex-guarded style.
package command

import "github.com/weaveproject/weave/pkg/errs"

// State is a command's lifecycle state (spec.md §3).
type State int

const (
	Queued State = iota
	InProgress
	Paused
	Error
	Done
	Cancelled
	Aborted
	Expired
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case InProgress:
		return "inProgress"
	case Paused:
		return "paused"
	case Error:
		return "error"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	case Aborted:
		return "aborted"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s admits no further transitions.
func (s State) IsTerminal() bool {
	switch s {
	case Done, Cancelled, Aborted, Expired:
		return true
	default:
		return false
	}
}

// canTransition implements spec.md §3's transition table:
//
//	queued → inProgress → done
//	queued → inProgress → paused → inProgress → …
//	queued → inProgress → error → inProgress → …
//	queued|inProgress|paused|error → cancelled|aborted|expired
//
// Terminal states admit nothing further; queued is never re-enterable.
func canTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == Queued {
		return false
	}
	switch to {
	case Cancelled, Aborted, Expired:
		return true
	}
	switch from {
	case Queued:
		return to == InProgress
	case InProgress:
		return to == Done || to == Paused || to == Error
	case Paused, Error:
		return to == InProgress
	}
	return false
}

func transitionError(from, to State) error {
	return errs.New(errs.DomainCommand, errs.CodeInvalidTransition, "command.transition", "cannot move from "+from.String()+" to "+to.String())
}
