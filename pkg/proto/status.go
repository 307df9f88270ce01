package proto

// ExecutionStatus represents the phase of one agent execution as reported
// over the wire and mirrored by the session controller.
type ExecutionStatus string

const (
	// ExecutionPending is the initial phase before the first status event.
	ExecutionPending ExecutionStatus = "pending"

	// ExecutionAnalyzing means the agent is reasoning and proposing actions.
	ExecutionAnalyzing ExecutionStatus = "analyzing"

	// ExecutionAwaitingApproval means proposed actions are waiting for a
	// human (or automated caller) to approve or reject them.
	ExecutionAwaitingApproval ExecutionStatus = "awaiting_approval"

	// ExecutionAwaitingQuestion means the agent asked a clarifying question
	// and is suspended until it is answered.
	ExecutionAwaitingQuestion ExecutionStatus = "awaiting_question"

	// ExecutionExecuting means approved actions are being run.
	ExecutionExecuting ExecutionStatus = "executing"

	// ExecutionCompleted is the terminal success phase.
	ExecutionCompleted ExecutionStatus = "completed"

	// ExecutionFailed is the terminal failure phase.
	ExecutionFailed ExecutionStatus = "failed"

	// ExecutionCancelled is the terminal phase after a cancel request.
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// ValidExecutionTransitions defines allowed phase transitions. The server is
// authoritative for phases, so the table is permissive; its job is to stop
// regressions out of a terminal phase, not to second-guess the agent.
var ValidExecutionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionPending: {ExecutionAnalyzing, ExecutionAwaitingApproval, ExecutionAwaitingQuestion,
		ExecutionExecuting, ExecutionCompleted, ExecutionFailed, ExecutionCancelled},
	ExecutionAnalyzing: {ExecutionAwaitingApproval, ExecutionAwaitingQuestion, ExecutionExecuting,
		ExecutionCompleted, ExecutionFailed, ExecutionCancelled},
	ExecutionAwaitingApproval: {ExecutionAnalyzing, ExecutionAwaitingQuestion, ExecutionExecuting,
		ExecutionCompleted, ExecutionFailed, ExecutionCancelled},
	ExecutionAwaitingQuestion: {ExecutionAnalyzing, ExecutionAwaitingApproval, ExecutionExecuting,
		ExecutionCompleted, ExecutionFailed, ExecutionCancelled},
	ExecutionExecuting: {ExecutionAnalyzing, ExecutionAwaitingApproval, ExecutionAwaitingQuestion,
		ExecutionCompleted, ExecutionFailed, ExecutionCancelled},
	// Terminal phases allow nothing.
	ExecutionCompleted: {},
	ExecutionFailed:    {},
	ExecutionCancelled: {},
}

// IsValid checks if the execution status is a known phase.
func (s ExecutionStatus) IsValid() bool {
	_, ok := ValidExecutionTransitions[s]
	return ok
}

// IsTerminal reports whether the phase is final.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Same-status transitions are allowed (the server may re-emit a phase).
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range ValidExecutionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// String returns the string representation of the execution status.
func (s ExecutionStatus) String() string {
	return string(s)
}

// ActionStatus represents the lifecycle state of one proposed action.
type ActionStatus string

const (
	// ActionProposed means the agent suggested the action and it awaits a decision.
	ActionProposed ActionStatus = "proposed"

	// ActionApproved means a caller approved the action for execution.
	ActionApproved ActionStatus = "approved"

	// ActionRejected means a caller declined the action. Terminal.
	ActionRejected ActionStatus = "rejected"

	// ActionExecuting means the executor is running the action.
	ActionExecuting ActionStatus = "executing"

	// ActionCompleted means the action ran successfully. Terminal.
	ActionCompleted ActionStatus = "completed"

	// ActionFailed means the action ran and failed. Terminal.
	ActionFailed ActionStatus = "failed"
)

// ValidActionTransitions defines the forward-only action lifecycle.
// A downgrade (e.g. completed back to proposed) is a contract violation
// and is refused by the registry.
var ValidActionTransitions = map[ActionStatus][]ActionStatus{
	ActionProposed:  {ActionApproved, ActionRejected},
	ActionApproved:  {ActionExecuting, ActionCompleted, ActionFailed},
	ActionExecuting: {ActionCompleted, ActionFailed},
	ActionRejected:  {},
	ActionCompleted: {},
	ActionFailed:    {},
}

// IsValid checks if the action status is a known lifecycle state.
func (s ActionStatus) IsValid() bool {
	_, ok := ValidActionTransitions[s]
	return ok
}

// IsTerminal reports whether the action status is final.
func (s ActionStatus) IsTerminal() bool {
	return s == ActionRejected || s == ActionCompleted || s == ActionFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Re-asserting the current status is allowed so that a repeated event
// can still merge a late result.
func (s ActionStatus) CanTransitionTo(next ActionStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range ValidActionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// String returns the string representation of the action status.
func (s ActionStatus) String() string {
	return string(s)
}
