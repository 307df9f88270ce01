package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"overseer/pkg/eventlog"
	"overseer/pkg/proto"
	"overseer/pkg/session"
	"overseer/pkg/stream"
)

// Per-phase event vocabularies. A well-formed event outside its stream's
// vocabulary is a protocol violation and is dropped like a malformed frame.
//
//nolint:gochecknoglobals // Immutable protocol tables.
var (
	startPhaseEvents = map[proto.EventType]bool{
		proto.EventStatus:    true,
		proto.EventAction:    true,
		proto.EventText:      true,
		proto.EventReasoning: true,
		proto.EventQuestion:  true,
		proto.EventError:     true,
		proto.EventDone:      true,
	}
	executePhaseEvents = map[proto.EventType]bool{
		proto.EventStatus:         true,
		proto.EventExecuting:      true,
		proto.EventActionComplete: true,
		proto.EventTaskCompleted:  true,
		proto.EventError:          true,
	}
)

// Start begins analysis of the session's task, consuming the start-phase
// event stream until it ends. Transport failures surface as a terminal
// failed phase on the session and as the returned error; nothing is
// retried automatically.
func (c *Client) Start(ctx context.Context, sess *session.Session) error {
	path := fmt.Sprintf("/api/tasks/%s/executions", sess.TaskID())
	return c.consumeStream(ctx, sess, PhaseStart, path, nil, startPhaseEvents)
}

// ExecuteApproved runs all currently-approved actions, consuming the
// execute-phase event stream against the same session registry.
func (c *Client) ExecuteApproved(ctx context.Context, sess *session.Session) error {
	path := fmt.Sprintf("/api/executions/%s/execute", sess.ExecutionID())
	return c.consumeStream(ctx, sess, PhaseExecute, path, nil, executePhaseEvents)
}

// Resume continues an execution after its pending question was answered.
// The resumed stream uses the start-phase vocabulary and event handling.
// Calling Resume while a question is still pending is refused.
func (c *Client) Resume(ctx context.Context, sess *session.Session) error {
	if sess.PendingQuestion() != nil {
		return fmt.Errorf("cannot resume: %w", session.ErrQuestionPending)
	}
	path := fmt.Sprintf("/api/executions/%s/resume", sess.ExecutionID())
	return c.consumeStream(ctx, sess, PhaseResume, path, nil, startPhaseEvents)
}

// consumeStream opens the stream and runs the decode loop. Exactly one
// decode loop may feed a session at a time.
func (c *Client) consumeStream(ctx context.Context, sess *session.Session, phase, path string,
	body any, vocabulary map[proto.EventType]bool) error {
	if err := sess.AcquireStream(); err != nil {
		return err
	}
	defer sess.ReleaseStream()

	started := time.Now()
	defer func() {
		c.recorder.ObserveStreamDuration(phase, time.Since(started))
	}()

	rc, err := c.openStream(ctx, path, body)
	if err != nil {
		c.recorder.RecordStreamFailure(phase)
		sess.Fail(err.Error())
		return err
	}
	defer rc.Close()

	return c.decodeLoop(sess, phase, rc, vocabulary)
}

// decodeLoop applies decoded events to the session strictly in arrival
// order. Malformed frames and out-of-vocabulary events are dropped and
// counted; a transport read error or a domain error event ends the stream.
func (c *Client) decodeLoop(sess *session.Session, phase string, rc io.Reader,
	vocabulary map[proto.EventType]bool) error {
	sess.BeginTurn()
	decoder := stream.NewDecoder(rc)
	orphanedData := 0

	for {
		frame, err := decoder.Next()
		if dropped := decoder.Dropped(); dropped > orphanedData {
			for ; orphanedData < dropped; orphanedData++ {
				c.recorder.RecordFrameDropped(phase, "orphaned_data")
				sess.NoteFrameDropped("data line with no preceding event line")
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			c.recorder.RecordStreamFailure(phase)
			message := fmt.Sprintf("stream read failed: %v", err)
			sess.Fail(message)
			return fmt.Errorf("stream read failed: %w", err)
		}

		c.journalFrame(sess, phase, frame)

		ev, err := proto.ParseEvent(frame.Event, frame.Data)
		if err != nil {
			c.logger.Warn("dropping malformed %s frame: %v", frame.Event, err)
			c.recorder.RecordFrameDropped(phase, "malformed")
			sess.NoteFrameDropped(err.Error())
			continue
		}
		if !vocabulary[ev.Type()] {
			c.logger.Warn("dropping %s event outside %s-phase vocabulary", ev.Type(), phase)
			c.recorder.RecordFrameDropped(phase, "out_of_phase")
			sess.NoteFrameDropped(fmt.Sprintf("%s event not valid in %s phase", ev.Type(), phase))
			continue
		}

		if err := sess.Apply(ev); err != nil {
			c.logger.Warn("session refused %s event: %v", ev.Type(), err)
			c.recorder.RecordFrameDropped(phase, "rejected")
			sess.NoteFrameDropped(err.Error())
			continue
		}
		c.recorder.RecordEvent(sess.ExecutionID(), phase, string(ev.Type()))
		c.observeApplied(sess, ev)

		// A domain error is terminal; the stream is finished regardless of
		// whether the transport closes it cleanly.
		if _, ok := ev.(proto.ErrorEvent); ok {
			c.recorder.RecordStreamFailure(phase)
			return nil
		}
	}
}

// observeApplied records event-specific metrics after a successful apply.
func (c *Client) observeApplied(sess *session.Session, ev proto.Event) {
	switch ev := ev.(type) {
	case proto.TextEvent:
		if c.counter != nil {
			tokens := c.counter.CountTokens(sess.Transcript())
			c.recorder.SetTranscriptTokens(sess.ExecutionID(), tokens)
		}
	case proto.ActionEvent:
		if ev.Status.IsTerminal() {
			c.recorder.RecordActionTerminal(string(ev.Action), string(ev.Status))
		}
	case proto.ActionCompleteEvent:
		if action := sess.Action(ev.ActionID); action != nil {
			c.recorder.RecordActionTerminal(string(action.Type), string(action.Status))
		}
	}
}

// journalFrame appends the raw frame to the journal, if one is configured.
func (c *Client) journalFrame(sess *session.Session, phase string, frame stream.Frame) {
	if c.journal == nil {
		return
	}
	record := &eventlog.Record{
		ExecutionID: sess.ExecutionID(),
		TaskID:      sess.TaskID(),
		Phase:       phase,
		Event:       frame.Event,
		Data:        json.RawMessage(frame.Data),
	}
	if err := c.journal.Write(record); err != nil {
		c.logger.Error("failed to journal frame: %v", err)
	}
}
