package client

import (
	"context"
	"fmt"
	"net/http"

	"overseer/pkg/proto"
	"overseer/pkg/session"
)

// decisionRequest is the batch approve/reject payload.
type decisionRequest struct {
	ActionIDs []string           `json:"actionIds"`
	Status    proto.ActionStatus `json:"status"`
}

// answerRequest is the question answer payload.
type answerRequest struct {
	Response string `json:"response"`
}

// ApproveActions approves the listed actions. The local registry is moved
// optimistically first; if the server call fails the batch is reverted and
// the error returned, so local state never drifts from the server's view.
func (c *Client) ApproveActions(ctx context.Context, sess *session.Session, ids ...string) error {
	return c.decideActions(ctx, sess, proto.ActionApproved, ids)
}

// RejectActions rejects the listed actions with the same optimistic
// apply-then-revert protocol as ApproveActions.
func (c *Client) RejectActions(ctx context.Context, sess *session.Session, ids ...string) error {
	return c.decideActions(ctx, sess, proto.ActionRejected, ids)
}

func (c *Client) decideActions(ctx context.Context, sess *session.Session,
	decision proto.ActionStatus, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("no action ids given")
	}

	revert, err := sess.DecideActions(ids, decision)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/api/executions/%s/actions/decision", sess.ExecutionID())
	body := decisionRequest{ActionIDs: ids, Status: decision}
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		revert()
		return fmt.Errorf("failed to %s actions: %w", decision, err)
	}
	return nil
}

// Cancel requests termination of the remote execution and optimistically
// moves the session to cancelled. It does not terminate an in-flight decode
// loop; that loop observes the ensuing stream close on its own. If the
// server call fails the optimistic transition is reverted.
func (c *Client) Cancel(ctx context.Context, sess *session.Session) error {
	revert, err := sess.MarkCancelled()
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/api/executions/%s/cancel", sess.ExecutionID())
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		revert()
		return fmt.Errorf("failed to cancel execution: %w", err)
	}
	return nil
}

// AnswerQuestion submits the free-text response to the pending question.
// The pending question is cleared locally only after the server accepted
// the answer; on failure it stays intact so the caller may retry. Callers
// follow a successful answer with Resume.
func (c *Client) AnswerQuestion(ctx context.Context, sess *session.Session, response string) error {
	question := sess.PendingQuestion()
	if question == nil {
		return ErrNoPendingQuestion
	}

	path := fmt.Sprintf("/api/executions/%s/questions/%s/answer", sess.ExecutionID(), question.ID)
	if err := c.doJSON(ctx, http.MethodPost, path, answerRequest{Response: response}, nil); err != nil {
		return fmt.Errorf("failed to answer question %s: %w", question.ID, err)
	}

	if err := sess.ClearQuestion(question.ID); err != nil {
		return fmt.Errorf("answer accepted but local clear failed: %w", err)
	}
	return nil
}
