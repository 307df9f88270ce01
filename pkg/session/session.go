// Package session implements the client-side state machine for one agent
// execution: the action registry, the execution phase, the transcript and
// reasoning log, and the suspend point for clarifying questions. Exactly
// one decode loop feeds a session at a time; all state moves forward by
// applying decoded protocol events in arrival order.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"overseer/pkg/logx"
	"overseer/pkg/proto"
)

// Session errors.
var (
	// ErrSessionTerminal is returned when an event or command arrives after
	// the execution reached a terminal phase. The registry is frozen.
	ErrSessionTerminal = errors.New("session is in a terminal phase")

	// ErrQuestionPending is returned when a second question arrives while
	// one is still unanswered. At most one question may be pending.
	ErrQuestionPending = errors.New("a question is already pending")

	// ErrNoQuestion is returned when clearing or answering a question that
	// is not pending.
	ErrNoQuestion = errors.New("no question is pending")

	// ErrQuestionMismatch is returned when a clear references a different
	// question id than the pending one.
	ErrQuestionMismatch = errors.New("question id does not match the pending question")

	// ErrStreamActive is returned when a second decode loop tries to
	// consume a stream for an execution that already has one open.
	ErrStreamActive = errors.New("a decode stream is already active for this execution")
)

// Question is one outstanding clarification request from the agent. While
// it is pending the execution is logically suspended.
type Question struct {
	ID       string
	Question string
	Context  string
}

// Session is the top-level state machine for one execution. It owns the
// action registry exclusively; no cross-execution sharing. All methods are
// safe for concurrent use, but events must be applied sequentially by a
// single decode loop.
type Session struct {
	mu sync.Mutex

	taskID      string
	executionID string
	status      proto.ExecutionStatus
	errMsg      string
	registry    *Registry
	question    *Question
	transcript  strings.Builder
	reasoning   []proto.ReasoningStep
	turnDone    bool
	streaming   bool

	observer Observer
	logger   *logx.Logger
}

// New creates a session for the given task in the pending phase.
// A nil observer is replaced with a no-op.
func New(taskID string, observer Observer) *Session {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Session{
		taskID:   taskID,
		status:   proto.ExecutionPending,
		registry: NewRegistry(),
		observer: observer,
		logger:   logx.NewLogger("session"),
	}
}

// TaskID returns the task this session runs against.
func (s *Session) TaskID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskID
}

// ExecutionID returns the server-assigned execution id, empty until the
// first status event arrives.
func (s *Session) ExecutionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executionID
}

// Status returns the current execution phase.
func (s *Session) Status() proto.ExecutionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the session error message, empty unless the phase is failed.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Transcript returns the accumulated narration text.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.String()
}

// Reasoning returns a copy of the append-only reasoning log.
func (s *Session) Reasoning() []proto.ReasoningStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := make([]proto.ReasoningStep, len(s.reasoning))
	copy(steps, s.reasoning)
	return steps
}

// TurnDone reports whether the agent signalled the end of its current turn.
func (s *Session) TurnDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnDone
}

// PendingQuestion returns a copy of the pending question, or nil.
func (s *Session) PendingQuestion() *Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.question == nil {
		return nil
	}
	q := *s.question
	return &q
}

// Actions returns copies of every registered action in proposal order.
func (s *Session) Actions() []*proto.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.All()
}

// ActionsByStatus returns copies of actions currently in the given status.
func (s *Session) ActionsByStatus(status proto.ActionStatus) []*proto.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.ByStatus(status)
}

// Action returns a copy of one action by id, or nil.
func (s *Session) Action(actionID string) *proto.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Get(actionID)
}

// FileMutatingActions returns copies of actions that change file contents.
func (s *Session) FileMutatingActions() []*proto.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.FileMutating()
}

// NonFileActions returns copies of actions that do not change file contents.
func (s *Session) NonFileActions() []*proto.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.NonFile()
}

// Apply consumes one decoded protocol event, mutating session state. Events
// must be applied in arrival order; multi-field merges are atomic. After a
// terminal phase every event except taskCompleted is refused with
// ErrSessionTerminal and causes no mutation. Errors from Apply are scoped:
// the decode loop reports them and continues.
func (s *Session) Apply(ev proto.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// taskCompleted is a pure side-channel and is honored even after the
	// session froze, so a late task reload is not lost.
	if _, ok := ev.(proto.TaskCompletedEvent); ok {
		s.observer.OnTaskChanged(s.executionID)
		return nil
	}

	if s.status.IsTerminal() {
		return fmt.Errorf("%w: dropping %s event", ErrSessionTerminal, ev.Type())
	}

	switch ev := ev.(type) {
	case proto.StatusEvent:
		return s.applyStatus(ev)
	case proto.ActionEvent:
		return s.applyAction(ev)
	case proto.TextEvent:
		s.transcript.WriteString(ev.Content)
		s.observer.OnText(s.executionID, ev.Content)
		return nil
	case proto.ReasoningEvent:
		s.reasoning = append(s.reasoning, ev.Step)
		s.observer.OnReasoning(s.executionID, ev.Step)
		return nil
	case proto.QuestionEvent:
		return s.applyQuestion(ev)
	case proto.ErrorEvent:
		s.errMsg = ev.Error
		s.setStatus(proto.ExecutionFailed)
		return nil
	case proto.DoneEvent:
		s.turnDone = true
		return nil
	case proto.ExecutingEvent:
		action, created, err := s.registry.MarkExecuting(ev.ActionID)
		if err != nil {
			return err
		}
		if created {
			s.logger.Warn("executing event for unknown action %s, created placeholder", ev.ActionID)
		}
		s.observer.OnActionUpsert(s.executionID, action)
		return nil
	case proto.ActionCompleteEvent:
		action, created, err := s.registry.Complete(ev.ActionID, ev.Success, ev.Result)
		if err != nil {
			return err
		}
		if created {
			s.logger.Warn("actionComplete event for unknown action %s, created placeholder", ev.ActionID)
		}
		s.observer.OnActionUpsert(s.executionID, action)
		return nil
	default:
		return fmt.Errorf("unhandled event type: %s", ev.Type())
	}
}

func (s *Session) applyStatus(ev proto.StatusEvent) error {
	if s.executionID == "" && ev.ExecutionID != "" {
		s.executionID = ev.ExecutionID
	}
	if !s.status.CanTransitionTo(ev.Status) {
		return fmt.Errorf("refusing execution phase transition %s -> %s", s.status, ev.Status)
	}
	s.setStatus(ev.Status)
	return nil
}

func (s *Session) applyAction(ev proto.ActionEvent) error {
	action, err := s.registry.Upsert(ev)
	if err != nil {
		return err
	}
	s.observer.OnActionUpsert(s.executionID, action)
	return nil
}

func (s *Session) applyQuestion(ev proto.QuestionEvent) error {
	if s.question != nil {
		return fmt.Errorf("%w: dropping question %s", ErrQuestionPending, ev.ID)
	}
	s.question = &Question{
		ID:       ev.ID,
		Question: ev.Question,
		Context:  ev.Context,
	}
	// The server normally emits a matching status event; suspend locally
	// either way so the pending question and the phase cannot disagree.
	if s.status != proto.ExecutionAwaitingQuestion {
		s.setStatus(proto.ExecutionAwaitingQuestion)
	}
	s.observer.OnQuestion(s.executionID, *s.question)
	return nil
}

// setStatus changes the phase and notifies the observer. Callers hold s.mu.
func (s *Session) setStatus(next proto.ExecutionStatus) {
	if s.status == next {
		return
	}
	from := s.status
	s.status = next
	s.logger.Debug("execution %s phase %s -> %s", s.executionID, from, next)
	s.observer.OnStatusChange(s.executionID, from, next)
}

// Fail forces the session into the failed phase with the given message.
// Used by the decode loop for transport-level failures. Failing an already
// terminal session is a no-op so the first terminal outcome wins.
func (s *Session) Fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsTerminal() {
		return
	}
	s.errMsg = message
	s.setStatus(proto.ExecutionFailed)
}

// MarkCancelled optimistically moves the session to cancelled after a
// cancel request was sent. It returns a revert function restoring the
// prior phase for callers whose cancel call fails.
func (s *Session) MarkCancelled() (revert func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot cancel", ErrSessionTerminal)
	}
	prior := s.status
	s.setStatus(proto.ExecutionCancelled)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.status = prior
		s.observer.OnStatusChange(s.executionID, proto.ExecutionCancelled, prior)
	}, nil
}

// DecideActions optimistically moves the listed actions to approved or
// rejected ahead of the server call, returning a revert function that
// undoes the whole batch if the call fails. The batch is all-or-nothing.
func (s *Session) DecideActions(ids []string, decision proto.ActionStatus) (revert func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot decide actions", ErrSessionTerminal)
	}

	undo, err := s.registry.Decide(ids, decision)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.observer.OnActionUpsert(s.executionID, s.registry.Get(id))
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		undo()
		for _, id := range ids {
			s.observer.OnActionUpsert(s.executionID, s.registry.Get(id))
		}
	}, nil
}

// ClearQuestion removes the pending question after its answer was accepted
// by the server. The id must match the pending question.
func (s *Session) ClearQuestion(questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.question == nil {
		return ErrNoQuestion
	}
	if s.question.ID != questionID {
		return fmt.Errorf("%w: pending %s, got %s", ErrQuestionMismatch, s.question.ID, questionID)
	}
	s.question = nil
	return nil
}

// AcquireStream claims the session's single decode-loop slot. At most one
// stream (start, execute-approved or resume) may be consumed at a time.
func (s *Session) AcquireStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return ErrStreamActive
	}
	s.streaming = true
	return nil
}

// ReleaseStream frees the decode-loop slot.
func (s *Session) ReleaseStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
}

// BeginTurn resets the turn-done marker before a new stream (start, resume
// or execute) is consumed.
func (s *Session) BeginTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnDone = false
}

// NoteFrameDropped forwards a protocol violation to the observer. The
// session itself is unaffected; malformed frames are non-fatal.
func (s *Session) NoteFrameDropped(reason string) {
	s.mu.Lock()
	executionID := s.executionID
	s.mu.Unlock()
	s.observer.OnFrameDropped(executionID, reason)
}
