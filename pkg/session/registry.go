package session

import (
	"errors"
	"fmt"

	"overseer/pkg/proto"
)

// Registry errors.
var (
	// ErrUnknownAction is returned when a decision references an id the
	// registry has never seen.
	ErrUnknownAction = errors.New("unknown action id")

	// ErrStaleTransition is returned when an event or decision would move
	// an action backwards along its lifecycle. The registry ignores the
	// mutation; the caller decides whether to surface it.
	ErrStaleTransition = errors.New("stale action status transition")
)

// Registry is the authoritative, deduplicated mapping of action id to
// action state for one execution. Actions are only accumulated, never
// deleted; statuses move forward only. The registry is not safe for
// concurrent use on its own; the owning Session serializes access.
type Registry struct {
	actions map[string]*proto.Action
	order   []string // insertion order for stable iteration
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]*proto.Action),
	}
}

// Upsert applies one action event. Unseen ids insert a new action; seen ids
// merge only status and result, preserving the immutable type and params.
// Status and result are applied atomically together. A transition the
// lifecycle forbids returns ErrStaleTransition and leaves the action intact.
func (r *Registry) Upsert(ev proto.ActionEvent) (*proto.Action, error) {
	existing, ok := r.actions[ev.ID]
	if !ok {
		action := &proto.Action{
			ID:     ev.ID,
			Type:   ev.Action,
			Params: ev.Params,
			Status: ev.Status,
			Result: cloneResult(ev.Result),
		}
		r.actions[ev.ID] = action
		r.order = append(r.order, ev.ID)
		return action.Clone(), nil
	}

	if !existing.Status.CanTransitionTo(ev.Status) {
		return nil, fmt.Errorf("%w: action %s cannot move %s -> %s",
			ErrStaleTransition, ev.ID, existing.Status, ev.Status)
	}

	existing.Status = ev.Status
	if ev.Result != nil {
		existing.Result = cloneResult(ev.Result)
	}
	return existing.Clone(), nil
}

// MarkExecuting transitions the action to executing. An unknown id creates
// a placeholder action so that a lone execute-phase stream still yields a
// coherent view; the caller is told via the created flag.
func (r *Registry) MarkExecuting(actionID string) (action *proto.Action, created bool, err error) {
	existing, ok := r.actions[actionID]
	if !ok {
		placeholder := &proto.Action{
			ID:     actionID,
			Status: proto.ActionExecuting,
		}
		r.actions[actionID] = placeholder
		r.order = append(r.order, actionID)
		return placeholder.Clone(), true, nil
	}

	if !existing.Status.CanTransitionTo(proto.ActionExecuting) {
		return nil, false, fmt.Errorf("%w: action %s cannot move %s -> %s",
			ErrStaleTransition, actionID, existing.Status, proto.ActionExecuting)
	}
	existing.Status = proto.ActionExecuting
	return existing.Clone(), false, nil
}

// Complete records the executor's outcome for the action, moving it to
// completed or failed with the result applied in the same step. Unknown
// ids create a placeholder, mirroring MarkExecuting.
func (r *Registry) Complete(actionID string, success bool, result proto.ActionResult) (action *proto.Action, created bool, err error) {
	target := proto.ActionCompleted
	if !success {
		target = proto.ActionFailed
	}

	existing, ok := r.actions[actionID]
	if !ok {
		placeholder := &proto.Action{
			ID:     actionID,
			Status: target,
			Result: &result,
		}
		r.actions[actionID] = placeholder
		r.order = append(r.order, actionID)
		return placeholder.Clone(), true, nil
	}

	if !existing.Status.CanTransitionTo(target) {
		return nil, false, fmt.Errorf("%w: action %s cannot move %s -> %s",
			ErrStaleTransition, actionID, existing.Status, target)
	}
	existing.Status = target
	existing.Result = &result
	return existing.Clone(), false, nil
}

// Decide moves each listed action to the given decision status (approved or
// rejected). The mutation is all-or-nothing: if any id is unknown or any
// transition is forbidden, nothing changes. On success it returns a revert
// function that restores the previous statuses, for optimistic callers
// whose server call later fails.
func (r *Registry) Decide(ids []string, decision proto.ActionStatus) (revert func(), err error) {
	if decision != proto.ActionApproved && decision != proto.ActionRejected {
		return nil, fmt.Errorf("invalid decision status: %s", decision)
	}

	previous := make(map[string]proto.ActionStatus, len(ids))
	for _, id := range ids {
		action, ok := r.actions[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAction, id)
		}
		if !action.Status.CanTransitionTo(decision) {
			return nil, fmt.Errorf("%w: action %s cannot move %s -> %s",
				ErrStaleTransition, id, action.Status, decision)
		}
		previous[id] = action.Status
	}

	for _, id := range ids {
		r.actions[id].Status = decision
	}

	return func() {
		for id, status := range previous {
			r.actions[id].Status = status
		}
	}, nil
}

// Get returns a copy of the action with the given id, or nil.
func (r *Registry) Get(actionID string) *proto.Action {
	return r.actions[actionID].Clone()
}

// Len returns the number of actions accumulated so far.
func (r *Registry) Len() int {
	return len(r.actions)
}

// All returns copies of every action in insertion order.
func (r *Registry) All() []*proto.Action {
	result := make([]*proto.Action, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.actions[id].Clone())
	}
	return result
}

// ByStatus returns copies of every action currently in the given status,
// in insertion order.
func (r *Registry) ByStatus(status proto.ActionStatus) []*proto.Action {
	result := make([]*proto.Action, 0)
	for _, id := range r.order {
		if r.actions[id].Status == status {
			result = append(result, r.actions[id].Clone())
		}
	}
	return result
}

// FileMutating returns copies of every action whose type changes file
// contents (writeFile, editFile, deleteFile), in insertion order.
func (r *Registry) FileMutating() []*proto.Action {
	result := make([]*proto.Action, 0)
	for _, id := range r.order {
		if r.actions[id].Type.MutatesFiles() {
			result = append(result, r.actions[id].Clone())
		}
	}
	return result
}

// NonFile returns copies of every action whose type does not change file
// contents, in insertion order.
func (r *Registry) NonFile() []*proto.Action {
	result := make([]*proto.Action, 0)
	for _, id := range r.order {
		if !r.actions[id].Type.MutatesFiles() {
			result = append(result, r.actions[id].Clone())
		}
	}
	return result
}

func cloneResult(result *proto.ActionResult) *proto.ActionResult {
	if result == nil {
		return nil
	}
	clone := *result
	return &clone
}
