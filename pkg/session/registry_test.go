package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overseer/pkg/proto"
)

func proposeEvent(id string, actionType proto.ActionType) proto.ActionEvent {
	return proto.ActionEvent{
		ID:     id,
		Action: actionType,
		Params: proto.ActionParams{Path: "src/" + id + ".go", Content: "package main"},
		Status: proto.ActionProposed,
	}
}

func TestRegistry_UpsertInsertsAndMerges(t *testing.T) {
	registry := NewRegistry()

	inserted, err := registry.Upsert(proposeEvent("a1", proto.ActionWriteFile))
	require.NoError(t, err)
	assert.Equal(t, proto.ActionProposed, inserted.Status)

	// A later event for the same id merges status, preserving type/params.
	merged, err := registry.Upsert(proto.ActionEvent{
		ID:     "a1",
		Action: proto.ActionDeleteFile, // bogus change, must be ignored
		Params: proto.ActionParams{Path: "elsewhere"},
		Status: proto.ActionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, proto.ActionApproved, merged.Status)
	assert.Equal(t, proto.ActionWriteFile, merged.Type)
	assert.Equal(t, "src/a1.go", merged.Params.Path)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistry_IdempotentMerge(t *testing.T) {
	// Delivering every event twice must produce the same final state as
	// delivering each once: re-asserting the current status is a no-op.
	events := []proto.ActionEvent{
		proposeEvent("a1", proto.ActionEditFile),
		{ID: "a1", Action: proto.ActionEditFile, Status: proto.ActionApproved},
		{ID: "a1", Action: proto.ActionEditFile, Status: proto.ActionExecuting},
		{ID: "a1", Action: proto.ActionEditFile, Status: proto.ActionCompleted,
			Result: &proto.ActionResult{Success: true, Output: "edited"}},
	}

	once := NewRegistry()
	for _, ev := range events {
		_, err := once.Upsert(ev)
		require.NoError(t, err)
	}

	twice := NewRegistry()
	for _, ev := range events {
		for i := 0; i < 2; i++ {
			_, err := twice.Upsert(ev)
			require.NoError(t, err)
		}
	}

	assert.Equal(t, once.Get("a1"), twice.Get("a1"))
	assert.Equal(t, proto.ActionCompleted, twice.Get("a1").Status)
	assert.Equal(t, "edited", twice.Get("a1").Result.Output)
}

func TestRegistry_TerminalStatusNeverRegresses(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Upsert(proposeEvent("a1", proto.ActionWriteFile))
	require.NoError(t, err)
	_, err = registry.Upsert(proto.ActionEvent{ID: "a1", Action: proto.ActionWriteFile, Status: proto.ActionRejected})
	require.NoError(t, err)

	_, err = registry.Upsert(proto.ActionEvent{ID: "a1", Action: proto.ActionWriteFile, Status: proto.ActionProposed})
	assert.ErrorIs(t, err, ErrStaleTransition)
	assert.Equal(t, proto.ActionRejected, registry.Get("a1").Status)
}

func TestRegistry_MarkExecutingUnknownCreatesPlaceholder(t *testing.T) {
	registry := NewRegistry()
	action, created, err := registry.MarkExecuting("ghost")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, proto.ActionExecuting, action.Status)
}

func TestRegistry_CompleteAppliesResultAtomically(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Upsert(proposeEvent("a1", proto.ActionExecuteCommand))
	require.NoError(t, err)
	_, err = registry.Decide([]string{"a1"}, proto.ActionApproved)
	require.NoError(t, err)
	_, _, err = registry.MarkExecuting("a1")
	require.NoError(t, err)

	action, created, err := registry.Complete("a1", false, proto.ActionResult{Error: "permission denied"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, proto.ActionFailed, action.Status)
	require.NotNil(t, action.Result)
	assert.Equal(t, "permission denied", action.Result.Error)
}

func TestRegistry_DecideIsAllOrNothing(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Upsert(proposeEvent("a1", proto.ActionWriteFile))
	require.NoError(t, err)

	_, err = registry.Decide([]string{"a1", "missing"}, proto.ActionApproved)
	assert.ErrorIs(t, err, ErrUnknownAction)
	assert.Equal(t, proto.ActionProposed, registry.Get("a1").Status)
}

func TestRegistry_DecideRevertRestoresBatch(t *testing.T) {
	registry := NewRegistry()
	for _, id := range []string{"a1", "a2"} {
		_, err := registry.Upsert(proposeEvent(id, proto.ActionWriteFile))
		require.NoError(t, err)
	}

	revert, err := registry.Decide([]string{"a1", "a2"}, proto.ActionApproved)
	require.NoError(t, err)
	assert.Equal(t, proto.ActionApproved, registry.Get("a1").Status)

	revert()
	assert.Equal(t, proto.ActionProposed, registry.Get("a1").Status)
	assert.Equal(t, proto.ActionProposed, registry.Get("a2").Status)
}

func TestRegistry_Views(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Upsert(proposeEvent("a1", proto.ActionWriteFile))
	require.NoError(t, err)
	_, err = registry.Upsert(proto.ActionEvent{
		ID: "a2", Action: proto.ActionReadFile,
		Params: proto.ActionParams{Path: "go.mod"}, Status: proto.ActionProposed,
	})
	require.NoError(t, err)
	_, err = registry.Upsert(proto.ActionEvent{
		ID: "a3", Action: proto.ActionExecuteCommand,
		Params: proto.ActionParams{Command: "go test ./..."}, Status: proto.ActionProposed,
	})
	require.NoError(t, err)

	assert.Len(t, registry.ByStatus(proto.ActionProposed), 3)

	mutating := registry.FileMutating()
	require.Len(t, mutating, 1)
	assert.Equal(t, "a1", mutating[0].ID)

	nonFile := registry.NonFile()
	require.Len(t, nonFile, 2)
	assert.Equal(t, "a2", nonFile[0].ID)
	assert.Equal(t, "a3", nonFile[1].ID)
}

func TestRegistry_ViewsReturnCopies(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Upsert(proposeEvent("a1", proto.ActionWriteFile))
	require.NoError(t, err)

	registry.Get("a1").Status = proto.ActionCompleted
	assert.Equal(t, proto.ActionProposed, registry.Get("a1").Status)
}
