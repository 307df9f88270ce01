package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overseer/pkg/proto"
	"overseer/pkg/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "overseer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_ExecutionRoundTrip(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.UpsertExecution("exec-1", "task-7", proto.ExecutionAnalyzing, ""))
	require.NoError(t, store.UpsertExecution("exec-1", "task-7", proto.ExecutionFailed, "model overloaded"))

	exec, err := store.GetExecution("exec-1")
	require.NoError(t, err)
	assert.Equal(t, "task-7", exec.TaskID)
	assert.Equal(t, proto.ExecutionFailed, exec.Status)
	assert.Equal(t, "model overloaded", exec.Error)
}

func TestStore_EnsureExecutionKeepsExistingStatus(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.UpsertExecution("exec-1", "task-7", proto.ExecutionExecuting, ""))
	require.NoError(t, store.EnsureExecution("exec-1", "task-7"))

	exec, err := store.GetExecution("exec-1")
	require.NoError(t, err)
	assert.Equal(t, proto.ExecutionExecuting, exec.Status)
}

func TestStore_ActionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.EnsureExecution("exec-1", "task-7"))

	action := &proto.Action{
		ID:     "a1",
		Type:   proto.ActionWriteFile,
		Params: proto.ActionParams{Path: "a.go", Content: "package a"},
		Status: proto.ActionProposed,
	}
	require.NoError(t, store.UpsertAction("exec-1", action))

	action.Status = proto.ActionCompleted
	action.Result = &proto.ActionResult{Success: true, Output: "wrote a.go"}
	require.NoError(t, store.UpsertAction("exec-1", action))

	actions, err := store.ListActions("exec-1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, proto.ActionCompleted, actions[0].Status)
	assert.Equal(t, "a.go", actions[0].Params.Path)
	require.NotNil(t, actions[0].Result)
	assert.Equal(t, "wrote a.go", actions[0].Result.Output)
}

func TestStore_ListExecutions(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.UpsertExecution("exec-1", "task-7", proto.ExecutionCompleted, ""))
	require.NoError(t, store.UpsertExecution("exec-2", "task-8", proto.ExecutionAnalyzing, ""))

	executions, err := store.ListExecutions()
	require.NoError(t, err)
	assert.Len(t, executions, 2)
}

func TestStore_GetExecutionMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetExecution("absent")
	assert.Error(t, err)
}

func TestSessionObserver_MirrorsSession(t *testing.T) {
	store := openTestStore(t)
	sess := session.New("task-7", NewSessionObserver(store, "task-7"))

	require.NoError(t, sess.Apply(proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionAnalyzing}))
	require.NoError(t, sess.Apply(proto.ActionEvent{
		ID:     "a1",
		Action: proto.ActionExecuteCommand,
		Params: proto.ActionParams{Command: "go test ./..."},
		Status: proto.ActionProposed,
	}))
	require.NoError(t, sess.Apply(proto.StatusEvent{ExecutionID: "exec-1", Status: proto.ExecutionAwaitingApproval}))

	exec, err := store.GetExecution("exec-1")
	require.NoError(t, err)
	assert.Equal(t, proto.ExecutionAwaitingApproval, exec.Status)

	actions, err := store.ListActions("exec-1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "a1", actions[0].ID)
	assert.Equal(t, proto.ActionProposed, actions[0].Status)
}

func TestSessionObserver_SkipsUnassignedExecution(t *testing.T) {
	store := openTestStore(t)
	observer := NewSessionObserver(store, "task-7")

	// Before the first status event there is no execution id to key on.
	observer.OnStatusChange("", proto.ExecutionPending, proto.ExecutionAnalyzing)
	observer.OnActionUpsert("", &proto.Action{ID: "a1", Type: proto.ActionReadFile})

	executions, err := store.ListExecutions()
	require.NoError(t, err)
	assert.Empty(t, executions)
}
