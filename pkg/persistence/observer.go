package persistence

import (
	"overseer/pkg/proto"
	"overseer/pkg/session"
)

// SessionObserver mirrors session state changes into the store. It is a
// session.Observer; write failures are logged and swallowed because the
// mirror must never affect the state machine.
type SessionObserver struct {
	session.NopObserver

	store  *Store
	taskID string
}

// NewSessionObserver creates an observer persisting into store for the
// given task.
func NewSessionObserver(store *Store, taskID string) *SessionObserver {
	return &SessionObserver{store: store, taskID: taskID}
}

// OnStatusChange persists the execution phase snapshot.
func (o *SessionObserver) OnStatusChange(executionID string, _, to proto.ExecutionStatus) {
	if executionID == "" {
		// No server-assigned id yet; nothing durable to key on.
		return
	}
	if err := o.store.UpsertExecution(executionID, o.taskID, to, ""); err != nil {
		o.store.logger.Error("failed to persist execution %s: %v", executionID, err)
	}
}

// OnActionUpsert persists the action snapshot.
func (o *SessionObserver) OnActionUpsert(executionID string, action *proto.Action) {
	if executionID == "" {
		return
	}
	if err := o.store.EnsureExecution(executionID, o.taskID); err != nil {
		o.store.logger.Error("failed to persist execution %s: %v", executionID, err)
		return
	}
	if err := o.store.UpsertAction(executionID, action); err != nil {
		o.store.logger.Error("failed to persist action %s: %v", action.ID, err)
	}
}

var _ session.Observer = (*SessionObserver)(nil)
