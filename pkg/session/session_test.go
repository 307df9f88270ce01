package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overseer/pkg/proto"
)

// recordingObserver captures notifications for assertions.
type recordingObserver struct {
	NopObserver
	mu            sync.Mutex
	statusChanges []proto.ExecutionStatus
	upserts       []string
	texts         []string
	questions     []Question
	taskChanged   int
	dropped       []string
}

func (o *recordingObserver) OnStatusChange(_ string, _, to proto.ExecutionStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statusChanges = append(o.statusChanges, to)
}

func (o *recordingObserver) OnActionUpsert(_ string, action *proto.Action) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.upserts = append(o.upserts, action.ID+":"+string(action.Status))
}

func (o *recordingObserver) OnText(_ string, content string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.texts = append(o.texts, content)
}

func (o *recordingObserver) OnQuestion(_ string, question Question) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.questions = append(o.questions, question)
}

func (o *recordingObserver) OnTaskChanged(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.taskChanged++
}

func (o *recordingObserver) OnFrameDropped(_ string, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, reason)
}

func mustApply(t *testing.T, sess *Session, events ...proto.Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, sess.Apply(ev))
	}
}

func TestSession_StartTurn(t *testing.T) {
	// A minimal first turn: status, narration, one proposed action, done.
	observer := &recordingObserver{}
	sess := New("task-7", observer)
	assert.Equal(t, proto.ExecutionPending, sess.Status())

	mustApply(t, sess,
		proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionAnalyzing},
		proto.TextEvent{Content: "I will update the config loader."},
		proto.ActionEvent{
			ID:     "a1",
			Action: proto.ActionWriteFile,
			Params: proto.ActionParams{Path: "config.go", Content: "package config"},
			Status: proto.ActionProposed,
		},
		proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionAwaitingApproval},
		proto.DoneEvent{},
	)

	assert.Equal(t, "exec-1", sess.ExecutionID())
	assert.Equal(t, proto.ExecutionAwaitingApproval, sess.Status())
	assert.Equal(t, "I will update the config loader.", sess.Transcript())
	assert.True(t, sess.TurnDone())

	proposed := sess.ActionsByStatus(proto.ActionProposed)
	require.Len(t, proposed, 1)
	assert.Equal(t, "a1", proposed[0].ID)

	assert.Equal(t, []proto.ExecutionStatus{
		proto.ExecutionAnalyzing, proto.ExecutionAwaitingApproval,
	}, observer.statusChanges)
	assert.Equal(t, []string{"a1:proposed"}, observer.upserts)
}

func TestSession_ExecutionIDFixedByFirstStatus(t *testing.T) {
	sess := New("task-7", nil)
	mustApply(t, sess,
		proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionAnalyzing},
		proto.StatusEvent{ExecutionID: "exec-2", Status: proto.ExecutionExecuting},
	)
	assert.Equal(t, "exec-1", sess.ExecutionID())
}

func TestSession_TerminalPhaseRefusesStatusEvents(t *testing.T) {
	sess := New("task-7", nil)
	mustApply(t, sess, proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionCompleted})

	err := sess.Apply(proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionAnalyzing})
	assert.ErrorIs(t, err, ErrSessionTerminal)
	assert.Equal(t, proto.ExecutionCompleted, sess.Status())
}

func TestSession_TerminalFreezesRegistry(t *testing.T) {
	sess := New("task-7", nil)
	mustApply(t, sess,
		proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionAnalyzing},
		proto.ActionEvent{ID: "a1", Action: proto.ActionReadFile,
			Params: proto.ActionParams{Path: "go.mod"}, Status: proto.ActionProposed},
		proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionFailed},
	)

	err := sess.Apply(proto.ActionEvent{ID: "a1", Action: proto.ActionReadFile, Status: proto.ActionApproved})
	assert.ErrorIs(t, err, ErrSessionTerminal)
	assert.Equal(t, proto.ActionProposed, sess.Action("a1").Status)

	err = sess.Apply(proto.TextEvent{Content: "late narration"})
	assert.ErrorIs(t, err, ErrSessionTerminal)
	assert.Empty(t, sess.Transcript())

	_, err = sess.DecideActions([]string{"a1"}, proto.ActionApproved)
	assert.ErrorIs(t, err, ErrSessionTerminal)
}

func TestSession_TaskCompletedHonoredAfterTerminal(t *testing.T) {
	observer := &recordingObserver{}
	sess := New("task-7", observer)
	mustApply(t, sess,
		proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionCompleted},
		proto.TaskCompletedEvent{},
	)
	assert.Equal(t, 1, observer.taskChanged)
}

func TestSession_ErrorEventFailsSession(t *testing.T) {
	sess := New("task-7", nil)
	mustApply(t, sess,
		proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionAnalyzing},
		proto.ErrorEvent{Error: "model overloaded"},
	)
	assert.Equal(t, proto.ExecutionFailed, sess.Status())
	assert.Equal(t, "model overloaded", sess.Err())
}

func TestSession_QuestionSuspendsAndResumes(t *testing.T) {
	observer := &recordingObserver{}
	sess := New("task-7", observer)
	mustApply(t, sess,
		proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionAnalyzing},
		proto.QuestionEvent{ID: "q1", Question: "Which database?", Context: "storage layer"},
	)

	// The question event alone suspends the phase even before the server's
	// matching status event arrives.
	assert.Equal(t, proto.ExecutionAwaitingQuestion, sess.Status())
	question := sess.PendingQuestion()
	require.NotNil(t, question)
	assert.Equal(t, "q1", question.ID)

	// A second question while one is pending is refused.
	err := sess.Apply(proto.QuestionEvent{ID: "q2", Question: "And the cache?"})
	assert.ErrorIs(t, err, ErrQuestionPending)
	assert.Equal(t, "q1", sess.PendingQuestion().ID)

	// Clearing with the wrong id is refused; the right id resumes.
	assert.ErrorIs(t, sess.ClearQuestion("q2"), ErrQuestionMismatch)
	require.NoError(t, sess.ClearQuestion("q1"))
	assert.Nil(t, sess.PendingQuestion())
	assert.ErrorIs(t, sess.ClearQuestion("q1"), ErrNoQuestion)

	// After the answer round-trip the agent may ask again.
	require.NoError(t, sess.Apply(proto.QuestionEvent{ID: "q2", Question: "And the cache?"}))
	assert.Equal(t, "q2", sess.PendingQuestion().ID)
	assert.Len(t, observer.questions, 2)
}

func TestSession_DecideActionsOptimisticRevert(t *testing.T) {
	sess := New("task-7", nil)
	mustApply(t, sess,
		proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionAwaitingApproval},
		proto.ActionEvent{ID: "a1", Action: proto.ActionWriteFile,
			Params: proto.ActionParams{Path: "a.go", Content: "x"}, Status: proto.ActionProposed},
		proto.ActionEvent{ID: "a2", Action: proto.ActionExecuteCommand,
			Params: proto.ActionParams{Command: "go vet ./..."}, Status: proto.ActionProposed},
	)

	revert, err := sess.DecideActions([]string{"a1", "a2"}, proto.ActionApproved)
	require.NoError(t, err)
	assert.Equal(t, proto.ActionApproved, sess.Action("a1").Status)
	assert.Equal(t, proto.ActionApproved, sess.Action("a2").Status)

	// Server rejected the decision call: the whole batch rolls back.
	revert()
	assert.Equal(t, proto.ActionProposed, sess.Action("a1").Status)
	assert.Equal(t, proto.ActionProposed, sess.Action("a2").Status)
}

func TestSession_MarkCancelledRevert(t *testing.T) {
	sess := New("task-7", nil)
	mustApply(t, sess, proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionExecuting})

	revert, err := sess.MarkCancelled()
	require.NoError(t, err)
	assert.Equal(t, proto.ExecutionCancelled, sess.Status())

	revert()
	assert.Equal(t, proto.ExecutionExecuting, sess.Status())

	// Cancelling a terminal session is refused.
	mustApply(t, sess, proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionCompleted})
	_, err = sess.MarkCancelled()
	assert.ErrorIs(t, err, ErrSessionTerminal)
}

func TestSession_ExecutePhaseEvents(t *testing.T) {
	observer := &recordingObserver{}
	sess := New("task-7", observer)
	mustApply(t, sess,
		proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionAwaitingApproval},
		proto.ActionEvent{ID: "a1", Action: proto.ActionWriteFile,
			Params: proto.ActionParams{Path: "a.go", Content: "x"}, Status: proto.ActionProposed},
	)
	_, err := sess.DecideActions([]string{"a1"}, proto.ActionApproved)
	require.NoError(t, err)

	mustApply(t, sess,
		proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionExecuting},
		proto.ExecutingEvent{ActionID: "a1"},
		proto.ActionCompleteEvent{ActionID: "a1", Success: true,
			Result: proto.ActionResult{Success: true, Output: "wrote a.go"}},
		proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionCompleted},
	)

	action := sess.Action("a1")
	assert.Equal(t, proto.ActionCompleted, action.Status)
	require.NotNil(t, action.Result)
	assert.Equal(t, "wrote a.go", action.Result.Output)
}

func TestSession_UnknownExecuteIDsCreatePlaceholders(t *testing.T) {
	sess := New("task-7", nil)
	mustApply(t, sess,
		proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionExecuting},
		proto.ExecutingEvent{ActionID: "ghost"},
		proto.ActionCompleteEvent{ActionID: "ghost", Success: false,
			Result: proto.ActionResult{Error: "executor crashed"}},
	)

	action := sess.Action("ghost")
	require.NotNil(t, action)
	assert.Equal(t, proto.ActionFailed, action.Status)
	assert.Equal(t, "executor crashed", action.Result.Error)
}

func TestSession_StreamSlotIsExclusive(t *testing.T) {
	sess := New("task-7", nil)
	require.NoError(t, sess.AcquireStream())
	assert.ErrorIs(t, sess.AcquireStream(), ErrStreamActive)
	sess.ReleaseStream()
	assert.NoError(t, sess.AcquireStream())
}

func TestSession_BeginTurnResetsDoneMarker(t *testing.T) {
	sess := New("task-7", nil)
	mustApply(t, sess,
		proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionAnalyzing},
		proto.DoneEvent{},
	)
	assert.True(t, sess.TurnDone())
	sess.BeginTurn()
	assert.False(t, sess.TurnDone())
}

func TestSession_NoteFrameDroppedReachesObserver(t *testing.T) {
	observer := &recordingObserver{}
	sess := New("task-7", observer)
	sess.NoteFrameDropped("malformed")
	sess.NoteFrameDropped("orphaned_data")
	assert.Equal(t, []string{"malformed", "orphaned_data"}, observer.dropped)
}

func TestSession_FileMutatingSplit(t *testing.T) {
	sess := New("task-7", nil)
	mustApply(t, sess,
		proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionAnalyzing},
		proto.ActionEvent{ID: "a1", Action: proto.ActionWriteFile,
			Params: proto.ActionParams{Path: "a.go", Content: "x"}, Status: proto.ActionProposed},
		proto.ActionEvent{ID: "a2", Action: proto.ActionReadFile,
			Params: proto.ActionParams{Path: "go.mod"}, Status: proto.ActionProposed},
	)

	mutating := sess.FileMutatingActions()
	require.Len(t, mutating, 1)
	assert.Equal(t, "a1", mutating[0].ID)

	nonFile := sess.NonFileActions()
	require.Len(t, nonFile, 1)
	assert.Equal(t, "a2", nonFile[0].ID)
}
