// Package proto defines the wire vocabulary of the agent execution protocol:
// the typed events carried by the streaming transport, the action and
// execution lifecycles, and the per-variant payload validation applied
// before any event reaches the session state machine.
package proto

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies one frame variant in the streaming protocol.
type EventType string

const (
	// EventStatus reports the execution phase (and execution id on first occurrence).
	EventStatus EventType = "status"
	// EventAction proposes or updates one action.
	EventAction EventType = "action"
	// EventText streams natural-language narration from the agent.
	EventText EventType = "text"
	// EventReasoning streams one structured reasoning step.
	EventReasoning EventType = "reasoning"
	// EventQuestion suspends the execution on a clarifying question.
	EventQuestion EventType = "question"
	// EventError reports a fatal domain error; terminal for the session.
	EventError EventType = "error"
	// EventDone marks the natural end of an agent turn.
	EventDone EventType = "done"
	// EventExecuting reports that a specific action started running.
	EventExecuting EventType = "executing"
	// EventActionComplete reports the outcome of one executed action.
	EventActionComplete EventType = "actionComplete"
	// EventTaskCompleted signals that the underlying task record changed.
	EventTaskCompleted EventType = "taskCompleted"
)

// ReasoningKind classifies one step in the agent's reasoning log.
type ReasoningKind string

const (
	ReasoningThinking    ReasoningKind = "thinking"
	ReasoningPlanning    ReasoningKind = "planning"
	ReasoningDecision    ReasoningKind = "decision"
	ReasoningObservation ReasoningKind = "observation"
	ReasoningReflection  ReasoningKind = "reflection"
)

// IsValid checks if the reasoning kind is a known variant.
func (k ReasoningKind) IsValid() bool {
	switch k {
	case ReasoningThinking, ReasoningPlanning, ReasoningDecision,
		ReasoningObservation, ReasoningReflection:
		return true
	default:
		return false
	}
}

// Event is the tagged union of all protocol frame payloads. Concrete
// variants are produced by ParseEvent after per-variant validation.
type Event interface {
	// Type returns the discriminant this event was decoded under.
	Type() EventType
}

// StatusEvent reports the execution phase. ExecutionID is populated on the
// first status event of a stream and may be empty afterwards.
type StatusEvent struct {
	ExecutionID string          `json:"executionId,omitempty"`
	Status      ExecutionStatus `json:"status"`
}

// Type returns EventStatus.
func (StatusEvent) Type() EventType { return EventStatus }

// ActionEvent proposes a new action or updates an existing one.
type ActionEvent struct {
	ID     string        `json:"id"`
	Action ActionType    `json:"type"`
	Params ActionParams  `json:"params"`
	Status ActionStatus  `json:"status"`
	Result *ActionResult `json:"result,omitempty"`
}

// Type returns EventAction.
func (ActionEvent) Type() EventType { return EventAction }

// TextEvent carries streamed narration. Observational only.
type TextEvent struct {
	Content string `json:"content"`
}

// Type returns EventText.
func (TextEvent) Type() EventType { return EventText }

// ReasoningStep is one entry in the agent's append-only reasoning log.
type ReasoningStep struct {
	ID        string        `json:"id"`
	Kind      ReasoningKind `json:"type"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
}

// ReasoningEvent carries one reasoning step. Observational only.
type ReasoningEvent struct {
	Step ReasoningStep `json:"step"`
}

// Type returns EventReasoning.
func (ReasoningEvent) Type() EventType { return EventReasoning }

// QuestionEvent suspends the execution on a clarifying question.
type QuestionEvent struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

// Type returns EventQuestion.
func (QuestionEvent) Type() EventType { return EventQuestion }

// ErrorEvent carries a fatal domain error from the agent or executor.
type ErrorEvent struct {
	Error string `json:"error"`
}

// Type returns EventError.
func (ErrorEvent) Type() EventType { return EventError }

// DoneEvent marks the natural end of an agent turn. It carries no payload
// and does not by itself determine success or failure.
type DoneEvent struct{}

// Type returns EventDone.
func (DoneEvent) Type() EventType { return EventDone }

// ExecutingEvent reports that the executor started running an action.
type ExecutingEvent struct {
	ActionID string `json:"actionId"`
}

// Type returns EventExecuting.
func (ExecutingEvent) Type() EventType { return EventExecuting }

// ActionCompleteEvent reports the outcome of one executed action.
type ActionCompleteEvent struct {
	ActionID string       `json:"actionId"`
	Success  bool         `json:"success"`
	Result   ActionResult `json:"result"`
}

// Type returns EventActionComplete.
func (ActionCompleteEvent) Type() EventType { return EventActionComplete }

// TaskCompletedEvent signals that the underlying task record changed and
// external collaborators should reload it. No local state mutation.
type TaskCompletedEvent struct{}

// Type returns EventTaskCompleted.
func (TaskCompletedEvent) Type() EventType { return EventTaskCompleted }

// ParseEvent decodes one frame payload under the given event name,
// validating the payload against the variant's schema before dispatch.
// Errors are droppable: a malformed frame must not abort the stream.
func ParseEvent(name string, data []byte) (Event, error) {
	switch EventType(name) {
	case EventStatus:
		var ev StatusEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed status payload: %w", err)
		}
		if !ev.Status.IsValid() {
			return nil, fmt.Errorf("unknown execution status: %q", ev.Status)
		}
		return ev, nil

	case EventAction:
		var ev ActionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed action payload: %w", err)
		}
		if ev.ID == "" {
			return nil, fmt.Errorf("action event missing id")
		}
		if !ev.Action.IsValid() {
			return nil, fmt.Errorf("unknown action type: %q", ev.Action)
		}
		if ev.Status == "" {
			ev.Status = ActionProposed
		}
		if !ev.Status.IsValid() {
			return nil, fmt.Errorf("unknown action status: %q", ev.Status)
		}
		if err := ev.Params.Validate(ev.Action); err != nil {
			return nil, fmt.Errorf("invalid action params: %w", err)
		}
		return ev, nil

	case EventText:
		var ev TextEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed text payload: %w", err)
		}
		return ev, nil

	case EventReasoning:
		var ev ReasoningEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed reasoning payload: %w", err)
		}
		if !ev.Step.Kind.IsValid() {
			return nil, fmt.Errorf("unknown reasoning kind: %q", ev.Step.Kind)
		}
		return ev, nil

	case EventQuestion:
		var ev QuestionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed question payload: %w", err)
		}
		if ev.ID == "" {
			return nil, fmt.Errorf("question event missing id")
		}
		return ev, nil

	case EventError:
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed error payload: %w", err)
		}
		return ev, nil

	case EventDone:
		var ev DoneEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed done payload: %w", err)
		}
		return ev, nil

	case EventExecuting:
		var ev ExecutingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed executing payload: %w", err)
		}
		if ev.ActionID == "" {
			return nil, fmt.Errorf("executing event missing actionId")
		}
		return ev, nil

	case EventActionComplete:
		var ev ActionCompleteEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed actionComplete payload: %w", err)
		}
		if ev.ActionID == "" {
			return nil, fmt.Errorf("actionComplete event missing actionId")
		}
		return ev, nil

	case EventTaskCompleted:
		var ev TaskCompletedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed taskCompleted payload: %w", err)
		}
		return ev, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", name)
	}
}
